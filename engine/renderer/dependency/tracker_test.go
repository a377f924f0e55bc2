package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

const (
	objects  metadata.ResourceID = "objects"
	indirect metadata.ResourceID = "indirect"
)

func TestWriteReadReadWriteYieldsTwoBarriers(t *testing.T) {
	tr := New()
	require.NoError(t, tr.RecordAccess(objects, 0, true, metadata.AccessTransferWrite, metadata.StageTransfer))
	require.NoError(t, tr.RecordAccess(objects, 1, false, metadata.AccessShaderRead, metadata.StageComputeShader))
	require.NoError(t, tr.RecordAccess(objects, 2, false, metadata.AccessShaderRead, metadata.StageVertexShader))
	require.NoError(t, tr.RecordAccess(objects, 3, true, metadata.AccessTransferWrite, metadata.StageTransfer))

	barriers, err := tr.ResolveBarriers()
	require.NoError(t, err)
	require.Len(t, barriers, 2)

	// write -> read group
	assert.Equal(t, 1, barriers[0].BeforePass)
	assert.Equal(t, metadata.AccessTransferWrite, barriers[0].SrcAccess)
	assert.Equal(t, metadata.StageTransfer, barriers[0].SrcStage)
	assert.Equal(t, metadata.AccessShaderRead, barriers[0].DstAccess)
	assert.Equal(t, metadata.StageComputeShader|metadata.StageVertexShader, barriers[0].DstStage)

	// read group -> write
	assert.Equal(t, 3, barriers[1].BeforePass)
	assert.Equal(t, metadata.AccessShaderRead, barriers[1].SrcAccess)
	assert.Equal(t, metadata.StageComputeShader|metadata.StageVertexShader, barriers[1].SrcStage)
	assert.Equal(t, metadata.AccessTransferWrite, barriers[1].DstAccess)
}

func TestReadReadNeedsNoBarrier(t *testing.T) {
	tr := New()
	require.NoError(t, tr.RecordAccess(objects, 0, false, metadata.AccessShaderRead, metadata.StageComputeShader))
	require.NoError(t, tr.RecordAccess(objects, 1, false, metadata.AccessShaderRead, metadata.StageVertexShader))
	barriers, err := tr.ResolveBarriers()
	require.NoError(t, err)
	assert.Empty(t, barriers)
}

func TestWriteWriteNeedsBarrier(t *testing.T) {
	tr := New()
	require.NoError(t, tr.RecordAccess(objects, 0, true, metadata.AccessTransferWrite, metadata.StageTransfer))
	require.NoError(t, tr.RecordAccess(objects, 1, true, metadata.AccessShaderWrite, metadata.StageComputeShader))
	barriers, err := tr.ResolveBarriers()
	require.NoError(t, err)
	require.Len(t, barriers, 1)
	assert.Equal(t, 1, barriers[0].BeforePass)
}

func TestOutOfOrderRecordingIsSortedByPass(t *testing.T) {
	tr := New()
	require.NoError(t, tr.RecordAccess(indirect, 2, false, metadata.AccessIndirectCommandRead, metadata.StageDrawIndirect))
	require.NoError(t, tr.RecordAccess(indirect, 0, true, metadata.AccessTransferWrite, metadata.StageTransfer))
	require.NoError(t, tr.RecordAccess(indirect, 1, true, metadata.AccessShaderRead|metadata.AccessShaderWrite, metadata.StageComputeShader))

	barriers, err := tr.ResolveBarriers()
	require.NoError(t, err)
	require.Len(t, barriers, 2)
	assert.Equal(t, 1, barriers[0].BeforePass)
	assert.Equal(t, 2, barriers[1].BeforePass)
	assert.Equal(t, metadata.AccessShaderRead|metadata.AccessShaderWrite, barriers[1].SrcAccess)
	assert.Equal(t, metadata.AccessIndirectCommandRead, barriers[1].DstAccess)
	assert.Equal(t, metadata.StageDrawIndirect, barriers[1].DstStage)
}

func TestSamePassAccessesMerge(t *testing.T) {
	tr := New()
	require.NoError(t, tr.RecordAccess(indirect, 0, false, metadata.AccessShaderRead, metadata.StageComputeShader))
	require.NoError(t, tr.RecordAccess(indirect, 0, true, metadata.AccessShaderWrite, metadata.StageComputeShader))
	barriers, err := tr.ResolveBarriers()
	require.NoError(t, err)
	assert.Empty(t, barriers)
}

func TestBarriersSortedAndBatched(t *testing.T) {
	tr := New()
	for _, res := range []metadata.ResourceID{"b", "a", "c"} {
		require.NoError(t, tr.RecordAccess(res, 0, true, metadata.AccessTransferWrite, metadata.StageTransfer))
		require.NoError(t, tr.RecordAccess(res, 1, false, metadata.AccessShaderRead, metadata.StageComputeShader))
	}
	require.NoError(t, tr.RecordAccess("d", 1, true, metadata.AccessShaderWrite, metadata.StageComputeShader))
	require.NoError(t, tr.RecordAccess("d", 2, false, metadata.AccessIndirectCommandRead, metadata.StageDrawIndirect))

	barriers, err := tr.ResolveBarriers()
	require.NoError(t, err)
	require.Len(t, barriers, 4)
	assert.Equal(t, metadata.ResourceID("a"), barriers[0].Resource)
	assert.Equal(t, metadata.ResourceID("b"), barriers[1].Resource)
	assert.Equal(t, metadata.ResourceID("c"), barriers[2].Resource)
	assert.Equal(t, metadata.ResourceID("d"), barriers[3].Resource)

	batch, err := tr.BarriersBefore(1)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	batch, err = tr.BarriersBefore(2)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	batch, err = tr.BarriersBefore(0)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestHazardUnresolved(t *testing.T) {
	tests := []struct {
		name    string
		isWrite bool
		access  metadata.AccessFlags
		stage   metadata.StageFlags
	}{
		{"no stage", false, metadata.AccessShaderRead, 0},
		{"no access", false, 0, metadata.StageComputeShader},
		{"indirect read without draw indirect stage", false, metadata.AccessIndirectCommandRead, metadata.StageComputeShader},
		{"transfer write from a shader stage", true, metadata.AccessTransferWrite, metadata.StageFragmentShader},
		{"read flagged as write", true, metadata.AccessShaderRead, metadata.StageComputeShader},
		{"write flagged as read", false, metadata.AccessShaderWrite, metadata.StageComputeShader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			err := tr.RecordAccess(objects, 0, tt.isWrite, tt.access, tt.stage)
			assert.ErrorIs(t, err, core.ErrHazardUnresolved)
		})
	}
}

func TestReset(t *testing.T) {
	tr := New()
	require.NoError(t, tr.RecordAccess(objects, 0, true, metadata.AccessTransferWrite, metadata.StageTransfer))
	require.NoError(t, tr.RecordAccess(objects, 1, false, metadata.AccessShaderRead, metadata.StageComputeShader))
	_, err := tr.ResolveBarriers()
	require.NoError(t, err)

	tr.Reset()
	assert.Empty(t, tr.Usages(objects))
	barriers, err := tr.BarriersBefore(1)
	require.NoError(t, err)
	assert.Empty(t, barriers)
}
