package core

import "fmt"

// Handle is an opaque, stable identifier for a logical resource. The low 32
// bits are a slot index and the high 32 bits the slot's generation, so a
// handle to a released slot never matches the slot's next occupant.
type Handle uint64

// InvalidHandle is never issued: generations start at 1.
const InvalidHandle Handle = 0

func NewHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32 {
	return uint32(h)
}

func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) IsValid() bool {
	return h.Generation() != 0
}

func (h Handle) String() string {
	if !h.IsValid() {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(%d@%d)", h.Index(), h.Generation())
}

type handleEntry[T any] struct {
	generation uint32
	alive      bool
	value      T
}

// HandleTable issues generation-checked handles for values of type T. Freed
// slots are reused, with their generation bumped. It is not safe for
// concurrent use; owners guard it with their own lock.
type HandleTable[T any] struct {
	entries []handleEntry[T]
	free    []uint32
	live    int
}

func NewHandleTable[T any](capacity int) *HandleTable[T] {
	return &HandleTable[T]{
		entries: make([]handleEntry[T], 0, capacity),
	}
}

// Acquire stores value in a free slot (or a new one) and returns its handle.
func (t *HandleTable[T]) Acquire(value T) Handle {
	var index uint32
	if n := len(t.free); n > 0 {
		// Existing free spot. Take it.
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.entries = append(t.entries, handleEntry[T]{})
		index = uint32(len(t.entries) - 1)
	}

	e := &t.entries[index]
	e.generation++
	if e.generation == 0 {
		e.generation = 1
	}
	e.alive = true
	e.value = value
	t.live++
	return NewHandle(index, e.generation)
}

func (t *HandleTable[T]) lookup(h Handle) (*handleEntry[T], error) {
	if !h.IsValid() {
		return nil, fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	index := h.Index()
	if int(index) >= len(t.entries) {
		return nil, fmt.Errorf("%s: index out of range (max=%d): %w", h, len(t.entries), ErrStaleHandle)
	}
	e := &t.entries[index]
	if !e.alive || e.generation != h.Generation() {
		return nil, fmt.Errorf("%s: generation mismatch (current=%d): %w", h, e.generation, ErrStaleHandle)
	}
	return e, nil
}

func (t *HandleTable[T]) Get(h Handle) (T, error) {
	e, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return e.value, nil
}

// Ptr returns a pointer into the table; it is invalidated by the next Acquire.
func (t *HandleTable[T]) Ptr(h Handle) (*T, error) {
	e, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	return &e.value, nil
}

func (t *HandleTable[T]) Set(h Handle, value T) error {
	e, err := t.lookup(h)
	if err != nil {
		return err
	}
	e.value = value
	return nil
}

func (t *HandleTable[T]) Contains(h Handle) bool {
	_, err := t.lookup(h)
	return err == nil
}

// Release frees the slot and returns the value it held.
func (t *HandleTable[T]) Release(h Handle) (T, error) {
	e, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	value := e.value
	var zero T
	e.value = zero
	e.alive = false
	t.free = append(t.free, h.Index())
	t.live--
	return value, nil
}

func (t *HandleTable[T]) Len() int {
	return t.live
}

// Each visits live entries in slot order.
func (t *HandleTable[T]) Each(fn func(h Handle, value *T)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.alive {
			fn(NewHandle(uint32(i), e.generation), &e.value)
		}
	}
}
