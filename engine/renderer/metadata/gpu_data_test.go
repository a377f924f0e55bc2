package metadata

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/spaghettifunk/anima-render/engine/math"
)

func TestIndirectCommandLayout(t *testing.T) {
	cmd := IndirectCommand{IndexCount: 36, InstanceCount: 1, FirstIndex: 6, VertexOffset: -2, FirstInstance: 9}
	buf := EncodeIndirectCommands([]IndirectCommand{cmd, cmd})
	require.Len(t, buf, 2*IndirectCommandSize)

	// VkDrawIndexedIndirectCommand field order
	assert.Equal(t, uint32(36), binary.LittleEndian.Uint32(buf[0:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[4:]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(buf[8:]))
	assert.Equal(t, int32(-2), int32(binary.LittleEndian.Uint32(buf[12:])))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(buf[16:]))
	assert.Equal(t, cmd, DecodeIndirectCommand(buf[IndirectCommandSize:]))
}

func TestObjectDataLayout(t *testing.T) {
	o := ObjectData{Model: m.NewMat4Translation(m.NewVec3(1, 2, 3)), MaterialIndex: 4, AnimationIndex: 5, GeometryIndex: 6}
	buf := o.Bytes()
	require.Len(t, buf, ObjectDataSize)
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(buf[64:]))
	assert.Equal(t, o, DecodeObjectData(buf))
}

func TestCameraDataSize(t *testing.T) {
	c := NewCameraData(m.NewMat4Identity(), m.NewMat4Identity(), m.NewVec3(0, 1, 2))
	assert.Len(t, c.Bytes(), CameraDataSize)
	assert.Equal(t, float32(1), c.Position.W)
}

func TestGeometryRegionLayout(t *testing.T) {
	g := GeometryRegion{IndexCount: 3, FirstIndex: 12, VertexOffset: 8, VertexCount: 3, PositionOffset: 96, InstanceCount: 1}
	buf := g.Bytes()
	require.Len(t, buf, GeometryRegionSize)
	assert.Equal(t, g, DecodeGeometryRegion(buf))
}

func TestMaterialDataLayout(t *testing.T) {
	md := MaterialData{BaseColor: m.NewVec4One(), AlbedoTexture: 2, NormalTexture: 3, Metallic: 0.5, Roughness: 0.25}
	buf := md.Bytes()
	require.Len(t, buf, MaterialDataSize)
	assert.Equal(t, md, DecodeMaterialData(buf))
}

func TestGeometryDataValidate(t *testing.T) {
	pos, normals, uvs, idx := m.Box(1, 1, 1, 1, 1)
	g := NewGeometryData("box", pos, normals, uvs, nil, idx)
	require.NoError(t, g.Validate())
	assert.Equal(t, uint32(36), g.IndexCount())
	assert.Equal(t, uint32(24), g.VertexCount())
	assert.Equal(t, pos, g.Positions())

	g.Normal = g.Normal[:12]
	assert.Error(t, g.Validate())

	assert.Error(t, (&GeometryData{Index: []byte{1, 2, 3}, Position: make([]byte, 12)}).Validate())
}

func TestSupportedAccess(t *testing.T) {
	tests := []struct {
		stage  StageFlags
		access AccessFlags
		ok     bool
	}{
		{StageDrawIndirect, AccessIndirectCommandRead, true},
		{StageComputeShader, AccessIndirectCommandRead, false},
		{StageComputeShader, AccessShaderRead | AccessShaderWrite, true},
		{StageTransfer, AccessTransferWrite, true},
		{StageVertexInput, AccessShaderRead, false},
		{StageAllGraphics, AccessIndirectCommandRead | AccessVertexAttributeRead, true},
		{StageAllGraphics, AccessTransferWrite, false},
		{StageAllCommands, AccessTransferWrite | AccessHostRead, true},
		{StageFragmentShader, AccessMemoryRead, true},
	}
	for _, tt := range tests {
		got := tt.access&^tt.stage.SupportedAccess() == 0
		assert.Equal(t, tt.ok, got, "%s with %s", tt.stage, tt.access)
	}
}

func TestAccessIsWrite(t *testing.T) {
	assert.True(t, AccessShaderWrite.IsWrite())
	assert.True(t, (AccessShaderRead | AccessTransferWrite).IsWrite())
	assert.False(t, (AccessShaderRead | AccessIndirectCommandRead).IsWrite())
	assert.Equal(t, "SHADER_READ|SHADER_WRITE", (AccessShaderRead | AccessShaderWrite).String())
}

func TestMemoryRangeOverlaps(t *testing.T) {
	a := MemoryRange{Offset: 0, Size: 16}
	assert.True(t, a.Overlaps(MemoryRange{Offset: 15, Size: 1}))
	assert.False(t, a.Overlaps(MemoryRange{Offset: 16, Size: 4}))
}
