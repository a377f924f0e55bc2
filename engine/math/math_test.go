package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want uint64
	}{
		{0, 48, 0},
		{1, 48, 48},
		{48, 48, 48},
		{49, 48, 96},
		{13, 4, 16},
		{7, 0, 7},
		{7, 1, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignUp(tt.v, tt.align), "AlignUp(%d, %d)", tt.v, tt.align)
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, uint32(1), NextPowerOfTwo(uint32(0)))
	assert.Equal(t, uint32(64), NextPowerOfTwo(uint32(33)))
	assert.True(t, IsPowerOfTwo(uint64(256)))
	assert.False(t, IsPowerOfTwo(uint64(48)))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(9, 1, 3))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
}

func TestMat4IdentityMul(t *testing.T) {
	tr := NewMat4Translation(NewVec3(1, 2, 3))
	assert.Equal(t, tr, tr.Mul(NewMat4Identity()))
	assert.Equal(t, NewVec3(1, 2, 3), tr.Position())
	assert.True(t, NewVec3(2, 3, 4).Compare(NewVec3One().Transform(tr), 1e-6))
}

func TestTransformLocal(t *testing.T) {
	tf := NewTransform(NewVec3(5, 0, 0))
	assert.True(t, tf.IsDirty)
	assert.Equal(t, NewVec3(5, 0, 0), tf.GetLocal().Position())
	assert.False(t, tf.IsDirty)

	child := NewTransform(NewVec3(0, 1, 0))
	child.Parent = tf
	assert.True(t, NewVec3(5, 1, 0).Compare(child.GetWorld().Position(), 1e-6))
}

func TestBox(t *testing.T) {
	pos, normals, uvs, idx := Box(2, 2, 2, 1, 1)
	assert.Len(t, pos, 24)
	assert.Len(t, normals, 24)
	assert.Len(t, uvs, 24)
	assert.Len(t, idx, 36)
	e := ExtentsOf(pos)
	assert.Equal(t, NewVec3(-1, -1, -1), e.Min)
	assert.Equal(t, NewVec3(1, 1, 1), e.Max)
	for _, n := range normals {
		assert.InDelta(t, 1.0, n.Length(), 1e-5)
	}
}
