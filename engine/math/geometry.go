package math

// GenerateFaceNormals writes one flat normal per triangle corner. positions
// and normals are parallel arrays.
func GenerateFaceNormals(positions []Vec3, indices []uint32, normals []Vec3) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := positions[i1].Sub(positions[i0])
		edge2 := positions[i2].Sub(positions[i0])
		normal := edge1.Cross(edge2).Normalized()

		// NOTE: face normals only. Smoothing out should be done in a separate pass if desired.
		normals[i0] = normal
		normals[i1] = normal
		normals[i2] = normal
	}
}

// ExtentsOf returns the bounding box of positions.
func ExtentsOf(positions []Vec3) Extents3D {
	if len(positions) == 0 {
		return Extents3D{}
	}
	e := Extents3D{Min: positions[0], Max: positions[0]}
	for _, p := range positions[1:] {
		e.Min = Vec3{Min(e.Min.X, p.X), Min(e.Min.Y, p.Y), Min(e.Min.Z, p.Z)}
		e.Max = Vec3{Max(e.Max.X, p.X), Max(e.Max.Y, p.Y), Max(e.Max.Z, p.Z)}
	}
	return e
}

// Box builds an axis-aligned box centered on the origin with 24 vertices
// (four per face) and 36 indices.
func Box(width, height, depth, tileX, tileY float32) (positions []Vec3, normals []Vec3, texcoords []Vec2, indices []uint32) {
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}
	if depth == 0 {
		depth = 1
	}
	if tileX == 0 {
		tileX = 1
	}
	if tileY == 0 {
		tileY = 1
	}
	hw, hh, hd := width*0.5, height*0.5, depth*0.5
	minX, minY, minZ := -hw, -hh, -hd
	maxX, maxY, maxZ := hw, hh, hd

	positions = []Vec3{
		// front
		{minX, minY, maxZ}, {maxX, maxY, maxZ}, {minX, maxY, maxZ}, {maxX, minY, maxZ},
		// back
		{maxX, minY, minZ}, {minX, maxY, minZ}, {maxX, maxY, minZ}, {minX, minY, minZ},
		// left
		{minX, minY, minZ}, {minX, maxY, maxZ}, {minX, maxY, minZ}, {minX, minY, maxZ},
		// right
		{maxX, minY, maxZ}, {maxX, maxY, minZ}, {maxX, maxY, maxZ}, {maxX, minY, minZ},
		// bottom
		{maxX, minY, maxZ}, {minX, minY, minZ}, {maxX, minY, minZ}, {minX, minY, maxZ},
		// top
		{minX, maxY, maxZ}, {maxX, maxY, minZ}, {minX, maxY, minZ}, {maxX, maxY, maxZ},
	}
	faceUV := []Vec2{{0, tileY}, {tileX, 0}, {0, 0}, {tileX, tileY}}
	texcoords = make([]Vec2, 0, len(positions))
	for f := 0; f < 6; f++ {
		texcoords = append(texcoords, faceUV...)
	}
	indices = make([]uint32, 0, 36)
	for f := uint32(0); f < 6; f++ {
		o := f * 4
		indices = append(indices, o, o+1, o+2, o, o+3, o+1)
	}
	normals = make([]Vec3, len(positions))
	GenerateFaceNormals(positions, indices, normals)
	return positions, normals, texcoords, indices
}
