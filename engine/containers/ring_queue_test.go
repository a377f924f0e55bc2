package containers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/core"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](3)
	assert.True(t, rq.IsEmpty())

	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	require.NoError(t, rq.Enqueue(3))
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue(4), core.ErrQueueFull)

	v, ok := rq.Peek()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = rq.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	// wraps around
	require.NoError(t, rq.Enqueue(4))
	assert.Equal(t, []int{2, 3, 4}, rq.DequeueAll(0))

	_, ok = rq.Dequeue()
	assert.False(t, ok)
	assert.Nil(t, rq.DequeueAll(0))
}

func TestRingQueueDequeueAllMax(t *testing.T) {
	rq := NewRingQueue[string](4)
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, rq.Enqueue(s))
	}
	assert.Equal(t, []string{"a", "b"}, rq.DequeueAll(2))
	assert.Equal(t, 1, rq.Len())
}

func TestRingQueueConcurrentSPSC(t *testing.T) {
	const total = 10000
	rq := NewRingQueue[int](16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if err := rq.Enqueue(i); err == nil {
				i++
			}
		}
	}()

	got := make([]int, 0, total)
	for len(got) < total {
		got = append(got, rq.DequeueAll(0)...)
	}
	wg.Wait()

	for i, v := range got {
		require.Equal(t, i, v)
	}
}
