package metadata

import (
	"encoding/binary"
	"fmt"
	"math"

	m "github.com/spaghettifunk/anima-render/engine/math"
)

// The name of the default geometry.
const DefaultGeometryName string = "default"

// Per-element strides of the attribute streams in GeometryData.
const (
	IndexStride    = 4
	PositionStride = 12
	ColorStride    = 16
	TexCoordStride = 8
	NormalStride   = 12
)

// GeometryData is one mesh as produced by the import pipeline. Every stream
// is an opaque little-endian blob; Index holds uint32 indices and Position
// vec3 positions. Color, TexCoord, Normal and Animation are optional.
type GeometryData struct {
	Name      string
	Index     []byte
	Position  []byte
	Color     []byte
	TexCoord  []byte
	Normal    []byte
	Animation []byte
}

func (g *GeometryData) IndexCount() uint32 {
	return uint32(len(g.Index) / IndexStride)
}

func (g *GeometryData) VertexCount() uint32 {
	return uint32(len(g.Position) / PositionStride)
}

// Validate checks that every stream holds whole elements and that the
// optional attribute streams match the vertex count.
func (g *GeometryData) Validate() error {
	if len(g.Index) == 0 || len(g.Index)%IndexStride != 0 {
		return fmt.Errorf("geometry %q: index blob of %d bytes is not a whole number of uint32", g.Name, len(g.Index))
	}
	if len(g.Position) == 0 || len(g.Position)%PositionStride != 0 {
		return fmt.Errorf("geometry %q: position blob of %d bytes is not a whole number of vec3", g.Name, len(g.Position))
	}
	n := len(g.Position) / PositionStride
	streams := []struct {
		name   string
		data   []byte
		stride int
	}{
		{"color", g.Color, ColorStride},
		{"texcoord", g.TexCoord, TexCoordStride},
		{"normal", g.Normal, NormalStride},
	}
	for _, s := range streams {
		if len(s.data) != 0 && len(s.data) != n*s.stride {
			return fmt.Errorf("geometry %q: %s blob has %d bytes, expected %d", g.Name, s.name, len(s.data), n*s.stride)
		}
	}
	return nil
}

// ModelData is a set of meshes with optional skin and animation payloads.
type ModelData struct {
	Name      string
	Meshes    []GeometryData
	Skin      []byte
	Animation []byte
}

// NewGeometryData packs typed vertex attributes into the blob layout.
func NewGeometryData(name string, positions []m.Vec3, normals []m.Vec3, texcoords []m.Vec2, colors []m.Vec4, indices []uint32) GeometryData {
	g := GeometryData{
		Name:     name,
		Index:    make([]byte, len(indices)*IndexStride),
		Position: packVec3(positions),
		Normal:   packVec3(normals),
	}
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(g.Index[i*IndexStride:], idx)
	}
	if len(texcoords) > 0 {
		g.TexCoord = make([]byte, len(texcoords)*TexCoordStride)
		for i, t := range texcoords {
			putF32(g.TexCoord[i*8:], t.X)
			putF32(g.TexCoord[i*8+4:], t.Y)
		}
	}
	if len(colors) > 0 {
		g.Color = make([]byte, len(colors)*ColorStride)
		for i, c := range colors {
			putF32(g.Color[i*16:], c.X)
			putF32(g.Color[i*16+4:], c.Y)
			putF32(g.Color[i*16+8:], c.Z)
			putF32(g.Color[i*16+12:], c.W)
		}
	}
	return g
}

func packVec3(vs []m.Vec3) []byte {
	if len(vs) == 0 {
		return nil
	}
	out := make([]byte, len(vs)*12)
	for i, v := range vs {
		putF32(out[i*12:], v.X)
		putF32(out[i*12+4:], v.Y)
		putF32(out[i*12+8:], v.Z)
	}
	return out
}

// Positions decodes the position stream.
func (g *GeometryData) Positions() []m.Vec3 {
	out := make([]m.Vec3, g.VertexCount())
	for i := range out {
		o := i * PositionStride
		out[i] = m.Vec3{
			X: math.Float32frombits(binary.LittleEndian.Uint32(g.Position[o:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(g.Position[o+4:])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(g.Position[o+8:])),
		}
	}
	return out
}
