package transition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/headless"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

func testImage(t *testing.T, name string) metadata.Image {
	t.Helper()
	img, err := headless.NewDevice().CreateImage(name, 1, 1, []byte{0, 0, 0, 255})
	require.NoError(t, err)
	return img
}

func TestDequeueEmptyBatch(t *testing.T) {
	q := NewQueue(4)
	batch := q.Dequeue()
	assert.NotNil(t, batch)
	assert.Empty(t, batch)
}

func TestBackPressure(t *testing.T) {
	q := NewQueue(2)
	img := testImage(t, "a")
	ts := metadata.UploadTransitions(img)

	require.NoError(t, q.EnqueueBatch(ts))
	assert.ErrorIs(t, q.Enqueue(ts[0]), core.ErrQueueFull)
	// all or nothing
	assert.ErrorIs(t, q.EnqueueBatch(ts), core.ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	batch := q.Dequeue()
	require.Len(t, batch, 2)
	assert.Equal(t, metadata.ImageLayoutTransferDstOptimal, batch[0].NewLayout)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnlyOptimal, batch[1].NewLayout)

	require.NoError(t, q.Enqueue(ts[0]))
}

func TestProducerConsumerLosesNothing(t *testing.T) {
	const total = 5000
	q := NewQueue(8)
	img := testImage(t, "stream")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			err := q.Enqueue(metadata.ImageTransition{Image: img, NewLayout: metadata.ImageLayout(i)})
			if err == nil {
				i++
			}
		}
	}()

	received := 0
	for received < total {
		for _, tr := range q.Dequeue() {
			require.Equal(t, metadata.ImageLayout(received), tr.NewLayout)
			received++
		}
	}
	wg.Wait()
	assert.Zero(t, q.Len())
}
