package metadata

import (
	"encoding/binary"
	"math"

	m "github.com/spaghettifunk/anima-render/engine/math"
)

// Sizes in bytes of the GPU-side structures. All structures are encoded
// little-endian and follow std430 packing.
const (
	ObjectDataSize      = 80
	CameraDataSize      = 208
	MaterialDataSize    = 32
	GeometryRegionSize  = 48
	IndirectCommandSize = 20
	Mat4Size            = 64
)

var le = binary.LittleEndian

func putF32(dst []byte, v float32) {
	le.PutUint32(dst, math.Float32bits(v))
}

func getF32(src []byte) float32 {
	return math.Float32frombits(le.Uint32(src))
}

func putMat4(dst []byte, mt m.Mat4) {
	for i, v := range mt.Data {
		putF32(dst[i*4:], v)
	}
}

func getMat4(src []byte) m.Mat4 {
	var mt m.Mat4
	for i := range mt.Data {
		mt.Data[i] = getF32(src[i*4:])
	}
	return mt
}

// EncodeMat4Palette packs bone matrices back to back.
func EncodeMat4Palette(palette []m.Mat4) []byte {
	out := make([]byte, len(palette)*Mat4Size)
	for i, mt := range palette {
		putMat4(out[i*Mat4Size:], mt)
	}
	return out
}

// ObjectData is the per-object row read by the cull and draw passes.
type ObjectData struct {
	Model          m.Mat4
	MaterialIndex  uint32
	AnimationIndex uint32
	GeometryIndex  uint32
}

func (o ObjectData) Encode(dst []byte) {
	_ = dst[ObjectDataSize-1]
	putMat4(dst, o.Model)
	le.PutUint32(dst[64:], o.MaterialIndex)
	le.PutUint32(dst[68:], o.AnimationIndex)
	le.PutUint32(dst[72:], o.GeometryIndex)
	le.PutUint32(dst[76:], 0)
}

func (o ObjectData) Bytes() []byte {
	out := make([]byte, ObjectDataSize)
	o.Encode(out)
	return out
}

func DecodeObjectData(src []byte) ObjectData {
	_ = src[ObjectDataSize-1]
	return ObjectData{
		Model:          getMat4(src),
		MaterialIndex:  le.Uint32(src[64:]),
		AnimationIndex: le.Uint32(src[68:]),
		GeometryIndex:  le.Uint32(src[72:]),
	}
}

// CameraData is uploaded once per frame.
type CameraData struct {
	View           m.Mat4
	Projection     m.Mat4
	ViewProjection m.Mat4
	Position       m.Vec4
}

// NewCameraData derives the view-projection matrix.
func NewCameraData(view, projection m.Mat4, position m.Vec3) CameraData {
	return CameraData{
		View:           view,
		Projection:     projection,
		ViewProjection: view.Mul(projection),
		Position:       position.ToVec4(1),
	}
}

func (c CameraData) Bytes() []byte {
	out := make([]byte, CameraDataSize)
	putMat4(out, c.View)
	putMat4(out[64:], c.Projection)
	putMat4(out[128:], c.ViewProjection)
	putF32(out[192:], c.Position.X)
	putF32(out[196:], c.Position.Y)
	putF32(out[200:], c.Position.Z)
	putF32(out[204:], c.Position.W)
	return out
}

type MaterialData struct {
	BaseColor     m.Vec4
	AlbedoTexture uint32
	NormalTexture uint32
	Metallic      float32
	Roughness     float32
}

func (md MaterialData) Bytes() []byte {
	out := make([]byte, MaterialDataSize)
	putF32(out, md.BaseColor.X)
	putF32(out[4:], md.BaseColor.Y)
	putF32(out[8:], md.BaseColor.Z)
	putF32(out[12:], md.BaseColor.W)
	le.PutUint32(out[16:], md.AlbedoTexture)
	le.PutUint32(out[20:], md.NormalTexture)
	putF32(out[24:], md.Metallic)
	putF32(out[28:], md.Roughness)
	return out
}

func DecodeMaterialData(src []byte) MaterialData {
	_ = src[MaterialDataSize-1]
	return MaterialData{
		BaseColor:     m.Vec4{X: getF32(src), Y: getF32(src[4:]), Z: getF32(src[8:]), W: getF32(src[12:])},
		AlbedoTexture: le.Uint32(src[16:]),
		NormalTexture: le.Uint32(src[20:]),
		Metallic:      getF32(src[24:]),
		Roughness:     getF32(src[28:]),
	}
}

// GeometryRegion locates one mesh inside the shared vertex and index arenas.
// Attribute offsets are byte offsets into the vertex arena; VertexOffset is
// the position offset expressed in vec3 positions.
type GeometryRegion struct {
	IndexCount      uint32
	FirstIndex      uint32
	VertexOffset    int32
	VertexCount     uint32
	PositionOffset  uint32
	ColorOffset     uint32
	TexCoordOffset  uint32
	NormalOffset    uint32
	AnimationOffset uint32
	InstanceCount   uint32
	FirstInstance   uint32
}

func (g GeometryRegion) Bytes() []byte {
	out := make([]byte, GeometryRegionSize)
	le.PutUint32(out, g.IndexCount)
	le.PutUint32(out[4:], g.FirstIndex)
	le.PutUint32(out[8:], uint32(g.VertexOffset))
	le.PutUint32(out[12:], g.VertexCount)
	le.PutUint32(out[16:], g.PositionOffset)
	le.PutUint32(out[20:], g.ColorOffset)
	le.PutUint32(out[24:], g.TexCoordOffset)
	le.PutUint32(out[28:], g.NormalOffset)
	le.PutUint32(out[32:], g.AnimationOffset)
	le.PutUint32(out[36:], g.InstanceCount)
	le.PutUint32(out[40:], g.FirstInstance)
	return out
}

func DecodeGeometryRegion(src []byte) GeometryRegion {
	_ = src[GeometryRegionSize-1]
	return GeometryRegion{
		IndexCount:      le.Uint32(src),
		FirstIndex:      le.Uint32(src[4:]),
		VertexOffset:    int32(le.Uint32(src[8:])),
		VertexCount:     le.Uint32(src[12:]),
		PositionOffset:  le.Uint32(src[16:]),
		ColorOffset:     le.Uint32(src[20:]),
		TexCoordOffset:  le.Uint32(src[24:]),
		NormalOffset:    le.Uint32(src[28:]),
		AnimationOffset: le.Uint32(src[32:]),
		InstanceCount:   le.Uint32(src[36:]),
		FirstInstance:   le.Uint32(src[40:]),
	}
}

// IndirectCommand matches VkDrawIndexedIndirectCommand.
type IndirectCommand struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

func (c IndirectCommand) Encode(dst []byte) {
	_ = dst[IndirectCommandSize-1]
	le.PutUint32(dst, c.IndexCount)
	le.PutUint32(dst[4:], c.InstanceCount)
	le.PutUint32(dst[8:], c.FirstIndex)
	le.PutUint32(dst[12:], uint32(c.VertexOffset))
	le.PutUint32(dst[16:], c.FirstInstance)
}

func DecodeIndirectCommand(src []byte) IndirectCommand {
	_ = src[IndirectCommandSize-1]
	return IndirectCommand{
		IndexCount:    le.Uint32(src),
		InstanceCount: le.Uint32(src[4:]),
		FirstIndex:    le.Uint32(src[8:]),
		VertexOffset:  int32(le.Uint32(src[12:])),
		FirstInstance: le.Uint32(src[16:]),
	}
}

// EncodeIndirectCommands packs commands back to back.
func EncodeIndirectCommands(cmds []IndirectCommand) []byte {
	out := make([]byte, len(cmds)*IndirectCommandSize)
	for i, c := range cmds {
		c.Encode(out[i*IndirectCommandSize:])
	}
	return out
}
