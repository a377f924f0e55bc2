package containers

import (
	"sync/atomic"

	"github.com/spaghettifunk/anima-render/engine/core"
)

// RingQueue is a bounded single-producer single-consumer queue. Enqueue and
// Dequeue never block and never take a lock: one goroutine may enqueue while
// another dequeues.
type RingQueue[T any] struct {
	data []T
	size uint64
	// readIndex is only advanced by the consumer, writeIndex by the producer.
	readIndex  atomic.Uint64
	writeIndex atomic.Uint64
}

// Create a new RingQueue
func NewRingQueue[T any](size int) *RingQueue[T] {
	if size < 1 {
		size = 1
	}
	return &RingQueue[T]{
		data: make([]T, size),
		size: uint64(size),
	}
}

// Enqueue adds an element to the queue. It returns core.ErrQueueFull when the
// consumer has fallen behind.
func (rq *RingQueue[T]) Enqueue(value T) error {
	w := rq.writeIndex.Load()
	if w-rq.readIndex.Load() == rq.size {
		return core.ErrQueueFull
	}
	rq.data[w%rq.size] = value
	rq.writeIndex.Store(w + 1)
	return nil
}

// Dequeue removes and returns the front element in the queue
func (rq *RingQueue[T]) Dequeue() (T, bool) {
	var zero T
	r := rq.readIndex.Load()
	if r == rq.writeIndex.Load() {
		return zero, false
	}
	value := rq.data[r%rq.size]
	rq.data[r%rq.size] = zero
	rq.readIndex.Store(r + 1)
	return value, true
}

// DequeueAll drains every element visible to the consumer, up to max when max > 0.
func (rq *RingQueue[T]) DequeueAll(max int) []T {
	r := rq.readIndex.Load()
	w := rq.writeIndex.Load()
	n := w - r
	if max > 0 && n > uint64(max) {
		n = uint64(max)
	}
	if n == 0 {
		return nil
	}
	var zero T
	out := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		idx := (r + i) % rq.size
		out = append(out, rq.data[idx])
		rq.data[idx] = zero
	}
	rq.readIndex.Store(r + n)
	return out
}

// Peek returns the front element without removing it. Consumer side only.
func (rq *RingQueue[T]) Peek() (T, bool) {
	var zero T
	r := rq.readIndex.Load()
	if r == rq.writeIndex.Load() {
		return zero, false
	}
	return rq.data[r%rq.size], true
}

func (rq *RingQueue[T]) Len() int {
	return int(rq.writeIndex.Load() - rq.readIndex.Load())
}

func (rq *RingQueue[T]) Cap() int {
	return int(rq.size)
}

// IsEmpty checks if the queue is empty
func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.Len() == 0
}

// IsFull checks if the queue is full
func (rq *RingQueue[T]) IsFull() bool {
	return rq.Len() == int(rq.size)
}
