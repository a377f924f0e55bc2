package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

func triangle(name string, offset float32) metadata.GeometryData {
	positions := []math.Vec3{{X: offset}, {X: offset + 1}, {X: offset, Y: 1}}
	normals := []math.Vec3{{Z: 1}, {Z: 1}, {Z: 1}}
	return metadata.NewGeometryData(name, positions, normals, nil, nil, []uint32{0, 1, 2})
}

func TestRegisterMeshRegion(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	gr := sm.Geometry

	h, err := gr.RegisterMesh(triangle("tri", 0))
	require.NoError(t, err)

	ref, err := gr.RegionFor(h)
	require.NoError(t, err)
	assert.False(t, ref.Pending)

	vr := sm.Arenas.Vertices
	ir := sm.Arenas.Indices
	assert.Equal(t, uint32(3), ref.Region.IndexCount)
	assert.Equal(t, uint32(3), ref.Region.VertexCount)
	assert.Equal(t, uint32(1), ref.Region.InstanceCount)
	assert.Equal(t, AttributeAbsent, ref.Region.ColorOffset)
	assert.Equal(t, AttributeAbsent, ref.Region.TexCoordOffset)
	assert.Equal(t, ref.Region.PositionOffset+3*metadata.PositionStride, ref.Region.NormalOffset)
	assert.Zero(t, ref.Region.PositionOffset%48)
	assert.Equal(t, int32(ref.Region.PositionOffset/metadata.PositionStride), ref.Region.VertexOffset)

	// positions are where the region says
	raw, err := vr.Buffer().Read(uint64(ref.Region.PositionOffset), 36)
	require.NoError(t, err)
	got := metadata.GeometryData{Position: raw}
	assert.Equal(t, []math.Vec3{{X: 0}, {X: 1}, {Y: 1}}, got.Positions())

	indices, err := ir.Buffer().Read(uint64(ref.Region.FirstIndex)*metadata.IndexStride, 12)
	require.NoError(t, err)
	assert.Equal(t, triangle("", 0).Index, indices)

	// the row in the region table matches the cached region
	row, err := sm.Arenas.Regions.Buffer().Read(uint64(ref.Row)*metadata.GeometryRegionSize, metadata.GeometryRegionSize)
	require.NoError(t, err)
	assert.Equal(t, ref.Region, metadata.DecodeGeometryRegion(row))

	found, ok := gr.Lookup("tri")
	assert.True(t, ok)
	assert.Equal(t, h, found)
}

func TestRegisterMeshRejectsDuplicatesAndBadData(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	gr := sm.Geometry

	_, err := gr.RegisterMesh(triangle("tri", 0))
	require.NoError(t, err)
	_, err = gr.RegisterMesh(triangle("tri", 1))
	assert.Error(t, err)

	bad := triangle("bad", 0)
	bad.Index = bad.Index[:5]
	_, err = gr.RegisterMesh(bad)
	assert.Error(t, err)
}

func TestReleasedGeometryIsStale(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	gr := sm.Geometry

	h, err := gr.RegisterMesh(triangle("tri", 0))
	require.NoError(t, err)
	count := gr.Count()
	require.NoError(t, gr.Release(h))
	assert.Equal(t, count-1, gr.Count())

	_, err = gr.RegionFor(h)
	assert.ErrorIs(t, err, core.ErrStaleHandle)
	assert.Error(t, gr.Release(gr.DefaultGeometry()))
}

func TestReplaceMeshCreatesNewRegion(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	gr := sm.Geometry

	h, err := gr.RegisterMesh(triangle("tri", 0))
	require.NoError(t, err)
	before, err := gr.RegionFor(h)
	require.NoError(t, err)

	quad := metadata.NewGeometryData("tri",
		[]math.Vec3{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}}, nil, nil, nil,
		[]uint32{0, 1, 2, 2, 3, 0})
	require.NoError(t, gr.ReplaceMesh(h, quad))

	after, err := gr.RegionFor(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), after.Region.IndexCount)
	assert.Equal(t, uint32(4), after.Region.VertexCount)
	assert.NotEqual(t, before.Region.PositionOffset, after.Region.PositionOffset)
	assert.NotEqual(t, before.Row, after.Row)
}

func TestMeshPendingUntilCompaction(t *testing.T) {
	sm, _ := newTestSystems(t, func(cfg *config.Config) {
		cfg.Arena.Vertex = config.ArenaConfig{Mode: config.ArenaModeArena, InitialSize: 1056, MaxSize: 1 << 20, Alignment: 48}
	})
	gr := sm.Geometry

	// the default box fills most of the vertex arena
	h, err := gr.CreateStaticMesh("crate", 2, 2, 2, 1, 1)
	require.NoError(t, err)
	ref, err := gr.RegionFor(h)
	require.NoError(t, err)
	assert.True(t, ref.Pending)

	gen := sm.Arenas.Vertices.Stats().Generation
	runFrame(t, sm)
	assert.Greater(t, sm.Arenas.Vertices.Stats().Generation, gen)

	ref, err = gr.RegionFor(h)
	require.NoError(t, err)
	assert.False(t, ref.Pending)

	positions, _, _, _ := math.Box(2, 2, 2, 1, 1)
	raw, err := sm.Arenas.Vertices.Buffer().Read(uint64(ref.Region.PositionOffset), uint64(len(positions)*metadata.PositionStride))
	require.NoError(t, err)
	got := metadata.GeometryData{Position: raw}
	assert.Equal(t, positions, got.Positions())

	row, err := sm.Arenas.Regions.Buffer().Read(uint64(ref.Row)*metadata.GeometryRegionSize, metadata.GeometryRegionSize)
	require.NoError(t, err)
	assert.Equal(t, ref.Region, metadata.DecodeGeometryRegion(row))

	// the default geometry keeps the front of the new buffer
	def, err := gr.RegionFor(gr.DefaultGeometry())
	require.NoError(t, err)
	assert.False(t, def.Pending)
	assert.NotEqual(t, def.Region.PositionOffset, ref.Region.PositionOffset)
}

func TestCreateModel(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	gr := sm.Geometry

	h, err := gr.CreateModel(metadata.ModelData{
		Name:   "pair",
		Meshes: []metadata.GeometryData{triangle("", 0), triangle("", 2)},
		Skin:   []byte{1, 2, 3},
	})
	require.NoError(t, err)

	model, err := gr.Model(h)
	require.NoError(t, err)
	require.Len(t, model.Meshes, 2)
	assert.Equal(t, []byte{1, 2, 3}, model.Skin)
	_, ok := gr.Lookup("pair/1")
	assert.True(t, ok)

	require.NoError(t, gr.ReleaseModel(h))
	_, err = gr.RegionFor(model.Meshes[0])
	assert.ErrorIs(t, err, core.ErrStaleHandle)

	_, err = gr.CreateModel(metadata.ModelData{Name: "empty"})
	assert.Error(t, err)
}
