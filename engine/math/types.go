package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Quaternion represents rotational orientation.
type Quaternion Vec4

// Mat4 is a 4x4 row-major matrix, typically an object transformation.
type Mat4 struct {
	Data [16]float32
}

// Extents3D is an axis-aligned bounding box.
type Extents3D struct {
	Min Vec3
	Max Vec3
}

// Transform is the position, rotation and scale of an object in the world.
// Transforms can have a parent whose own transform is taken into account.
// Edit it through its methods so the local matrix is regenerated.
type Transform struct {
	Position Vec3
	Rotation Quaternion
	Scale    Vec3
	// IsDirty marks Local for recalculation.
	IsDirty bool
	Local   Mat4
	Parent  *Transform
}
