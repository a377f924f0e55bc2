package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTableAcquireGet(t *testing.T) {
	table := NewHandleTable[string](4)
	a := table.Acquire("a")
	b := table.Acquire("b")

	assert.True(t, a.IsValid())
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, table.Len())

	v, err := table.Get(b)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestHandleTableStaleAfterRelease(t *testing.T) {
	table := NewHandleTable[int](1)
	h := table.Acquire(7)
	v, err := table.Release(h)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = table.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)

	// The slot is reused with a new generation, the old handle stays stale.
	h2 := table.Acquire(9)
	assert.Equal(t, h.Index(), h2.Index())
	assert.NotEqual(t, h.Generation(), h2.Generation())
	_, err = table.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)

	_, err = table.Release(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestHandleTableInvalid(t *testing.T) {
	table := NewHandleTable[int](0)
	_, err := table.Get(InvalidHandle)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = table.Get(NewHandle(12, 1))
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestHandleTableEach(t *testing.T) {
	table := NewHandleTable[int](3)
	h0 := table.Acquire(0)
	h1 := table.Acquire(1)
	table.Acquire(2)
	_, err := table.Release(h1)
	require.NoError(t, err)

	var seen []Handle
	table.Each(func(h Handle, v *int) {
		seen = append(seen, h)
	})
	assert.Len(t, seen, 2)
	assert.Equal(t, h0, seen[0])
}
