// Package transition hands image layout transitions from a producer
// goroutine to the frame's barrier insertion point.
package transition

import (
	"fmt"

	"github.com/spaghettifunk/anima-render/engine/containers"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Queue is a bounded single-producer single-consumer queue of image
// transitions. Several producers must serialize among themselves.
type Queue struct {
	ring *containers.RingQueue[metadata.ImageTransition]
}

func NewQueue(capacity int) *Queue {
	return &Queue{
		ring: containers.NewRingQueue[metadata.ImageTransition](capacity),
	}
}

// Enqueue never blocks. A full queue returns core.ErrQueueFull and the
// caller keeps ownership of the request.
func (q *Queue) Enqueue(t metadata.ImageTransition) error {
	if err := q.ring.Enqueue(t); err != nil {
		return fmt.Errorf("image transition %s: %w", imageName(t.Image), err)
	}
	return nil
}

// EnqueueBatch enqueues all transitions or none of them.
func (q *Queue) EnqueueBatch(ts []metadata.ImageTransition) error {
	if free := q.ring.Cap() - q.ring.Len(); free < len(ts) {
		return fmt.Errorf("%d image transitions with room for %d: %w", len(ts), free, core.ErrQueueFull)
	}
	for _, t := range ts {
		if err := q.ring.Enqueue(t); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue drains everything pending. It never blocks and returns an empty
// batch when nothing is queued.
func (q *Queue) Dequeue() []metadata.ImageTransition {
	batch := q.ring.DequeueAll(0)
	if batch == nil {
		return []metadata.ImageTransition{}
	}
	return batch
}

func (q *Queue) Len() int {
	return q.ring.Len()
}

func imageName(img metadata.Image) string {
	if img == nil {
		return "<nil>"
	}
	return img.Name()
}
