package arena

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Mode selects how an arena reacts to exhaustion.
type Mode uint8

const (
	// ModeFixed never grows: allocations that do not fit fail.
	ModeFixed Mode = iota
	// ModeArena grows by doubling at the next compaction point.
	ModeArena
)

func (m Mode) String() string {
	if m == ModeFixed {
		return "fixed"
	}
	return "arena"
}

type Config struct {
	Name        string
	Usage       metadata.BufferUsage
	Mode        Mode
	InitialSize uint64
	MaxSize     uint64
	Alignment   uint64
}

// FromConfig builds an arena Config from its TOML section.
func FromConfig(name string, usage metadata.BufferUsage, c config.ArenaConfig) Config {
	mode := ModeArena
	if c.Mode == config.ArenaModeFixed {
		mode = ModeFixed
	}
	return Config{
		Name:        name,
		Usage:       usage,
		Mode:        mode,
		InitialSize: c.InitialSize,
		MaxSize:     c.MaxSize,
		Alignment:   c.Alignment,
	}
}

// Region is the current placement of an allocation.
type Region struct {
	Offset uint64
	Size   uint64
	// BufferID is the label of the backing buffer the offset refers to.
	BufferID string
	// Generation counts backing buffer replacements.
	Generation uint32
	Mode       Mode
	// Pending allocations are staged on the host until the next compaction
	// point and have no GPU placement yet.
	Pending bool
}

// Stats is a snapshot of the arena bookkeeping.
type Stats struct {
	Name            string
	Mode            Mode
	Capacity        uint64
	HighWater       uint64
	LiveBytes       uint64
	LiveAllocations int
	PendingBytes    uint64
	DeferredBytes   uint64
	FreeBytes       uint64
	Generation      uint32
	RetiredBuffers  int
}

type allocation struct {
	offset   uint64
	size     uint64
	reserved uint64
	pending  bool
	staged   []byte
	// lastWrite is the frame number of the most recent write.
	lastWrite atomic.Uint64
}

type span struct {
	offset uint64
	size   uint64
}

func (s span) end() uint64 {
	return s.offset + s.size
}

type deferredSpan struct {
	span
	// retireAt is the frame that must retire before the span is reused.
	retireAt uint64
}

type retiredBuffer struct {
	buffer   metadata.Buffer
	retireAt uint64
}

// RemapListener is told that outstanding offsets changed. It runs on the
// goroutine that called FrameBegin, after the arena lock is released.
type RemapListener func(a *Arena)

// Arena is a handle-indirected allocator over one GPU buffer.
//
// Released space is only reused after every frame that could still read it
// has retired. In ModeArena the buffer is replaced by a larger one only at
// FrameBegin, so offsets never move while a frame is recording.
type Arena struct {
	cfg    Config
	device metadata.BufferDevice

	mu          sync.RWMutex
	buffer      metadata.Buffer
	capacity    uint64
	generation  uint32
	highWater   uint64
	allocations *core.HandleTable[*allocation]
	liveBytes   uint64
	pendingSize uint64
	headroom    uint64
	free        []span
	deferred    []deferredSpan
	retired     []retiredBuffer

	currentFrame   uint64
	completedFrame uint64

	listeners []RemapListener
	destroyed bool
}

// New creates the arena and its initial backing buffer.
func New(device metadata.BufferDevice, cfg Config) (*Arena, error) {
	if cfg.Alignment == 0 {
		cfg.Alignment = 1
	}
	if cfg.InitialSize == 0 {
		return nil, fmt.Errorf("arena %s: initial size must be positive", cfg.Name)
	}
	cfg.InitialSize = math.AlignUp(cfg.InitialSize, cfg.Alignment)
	if cfg.Mode == ModeFixed || cfg.MaxSize < cfg.InitialSize {
		cfg.MaxSize = cfg.InitialSize
	}

	a := &Arena{
		cfg:         cfg,
		device:      device,
		allocations: core.NewHandleTable[*allocation](64),
	}
	buf, err := a.createBuffer(cfg.InitialSize)
	if err != nil {
		return nil, err
	}
	a.buffer = buf
	a.capacity = cfg.InitialSize
	core.LogDebug("arena %s created (%s, %d bytes, max %d)", cfg.Name, cfg.Mode, cfg.InitialSize, cfg.MaxSize)
	return a, nil
}

func (a *Arena) createBuffer(size uint64) (metadata.Buffer, error) {
	label := fmt.Sprintf("%s-%s", a.cfg.Name, uuid.NewString())
	buf, err := a.device.CreateBuffer(label, size, a.cfg.Usage)
	if err != nil {
		return nil, fmt.Errorf("arena %s: failed to create %d byte buffer: %w", a.cfg.Name, size, err)
	}
	return buf, nil
}

func (a *Arena) Name() string {
	return a.cfg.Name
}

// ID is the arena's identity in pass access declarations.
func (a *Arena) ID() metadata.ResourceID {
	return metadata.ResourceID(a.cfg.Name)
}

func (a *Arena) Mode() Mode {
	return a.cfg.Mode
}

// Buffer returns the current backing buffer. It only changes at FrameBegin.
func (a *Arena) Buffer() metadata.Buffer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buffer
}

// OnRemap registers a listener called after every compaction.
func (a *Arena) OnRemap(l RemapListener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, l)
	a.mu.Unlock()
}

// Allocate reserves size bytes. In ModeFixed an allocation that does not fit
// fails with core.ErrCapacityExceeded. In ModeArena it becomes pending
// until the next compaction point, unless the arena would have to grow past
// its MaxSize.
func (a *Arena) Allocate(size uint64) (metadata.AllocationHandle, error) {
	if size == 0 {
		return 0, fmt.Errorf("arena %s: zero byte allocation", a.cfg.Name)
	}
	reserved := math.AlignUp(size, a.cfg.Alignment)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return 0, fmt.Errorf("arena %s: %w", a.cfg.Name, core.ErrShutdown)
	}

	if offset, ok := a.takeFree(reserved); ok {
		return a.insert(offset, size, reserved, false), nil
	}
	if a.highWater+reserved <= a.capacity {
		offset := a.highWater
		a.highWater += reserved
		return a.insert(offset, size, reserved, false), nil
	}

	if a.cfg.Mode == ModeFixed {
		return 0, fmt.Errorf("arena %s: %d bytes requested, %d of %d in use: %w",
			a.cfg.Name, size, a.liveBytes, a.capacity, core.ErrCapacityExceeded)
	}
	if a.liveBytes+reserved > a.cfg.MaxSize {
		return 0, fmt.Errorf("arena %s: %d bytes requested with %d live would exceed max size %d: %w",
			a.cfg.Name, size, a.liveBytes, a.cfg.MaxSize, core.ErrCapacityExceeded)
	}
	a.pendingSize += reserved
	core.LogDebug("arena %s: %d byte allocation pending growth", a.cfg.Name, size)
	return a.insert(0, size, reserved, true), nil
}

func (a *Arena) insert(offset, size, reserved uint64, pending bool) metadata.AllocationHandle {
	alloc := &allocation{
		offset:   offset,
		size:     size,
		reserved: reserved,
		pending:  pending,
	}
	if pending {
		alloc.staged = make([]byte, size)
	}
	alloc.lastWrite.Store(a.currentFrame)
	a.liveBytes += reserved
	return metadata.AllocationHandle(a.allocations.Acquire(alloc))
}

// takeFree carves reserved bytes from the first free span large enough.
func (a *Arena) takeFree(reserved uint64) (uint64, bool) {
	for i, s := range a.free {
		if s.size < reserved {
			continue
		}
		offset := s.offset
		if s.size == reserved {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = span{offset: s.offset + reserved, size: s.size - reserved}
		}
		return offset, true
	}
	return 0, false
}

func (a *Arena) lookup(h metadata.AllocationHandle) (*allocation, error) {
	alloc, err := a.allocations.Get(core.Handle(h))
	if err != nil {
		return nil, fmt.Errorf("arena %s: %w", a.cfg.Name, err)
	}
	return alloc, nil
}

// Write copies data at offset within the allocation. Writers of disjoint
// ranges may run concurrently.
func (a *Arena) Write(h metadata.AllocationHandle, offset uint64, data []byte) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	alloc, err := a.lookup(h)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > alloc.size {
		return fmt.Errorf("arena %s: write of %d bytes at %d overflows %d byte allocation: %w",
			a.cfg.Name, len(data), offset, alloc.size, core.ErrCapacityExceeded)
	}
	alloc.lastWrite.Store(a.currentFrame)
	if alloc.pending {
		copy(alloc.staged[offset:], data)
		return nil
	}
	return a.buffer.Write(alloc.offset+offset, data)
}

// Read returns a copy of the allocation's bytes.
func (a *Arena) Read(h metadata.AllocationHandle) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	alloc, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	if alloc.pending {
		out := make([]byte, alloc.size)
		copy(out, alloc.staged)
		return out, nil
	}
	return a.buffer.Read(alloc.offset, alloc.size)
}

func (a *Arena) RegionOf(h metadata.AllocationHandle) (Region, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	alloc, err := a.lookup(h)
	if err != nil {
		return Region{}, err
	}
	return Region{
		Offset:     alloc.offset,
		Size:       alloc.size,
		BufferID:   a.buffer.Label(),
		Generation: a.generation,
		Mode:       a.cfg.Mode,
		Pending:    alloc.pending,
	}, nil
}

// Release frees the allocation. Its span is reused once the frame of its
// last write, and the frame current at release, have both retired.
func (a *Arena) Release(h metadata.AllocationHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, err := a.allocations.Release(core.Handle(h))
	if err != nil {
		return fmt.Errorf("arena %s: %w", a.cfg.Name, err)
	}
	a.liveBytes -= alloc.reserved
	if alloc.pending {
		// never placed, nothing on the GPU can read it
		a.pendingSize -= alloc.reserved
		alloc.staged = nil
		return nil
	}

	retireAt := alloc.lastWrite.Load()
	if a.currentFrame > retireAt {
		retireAt = a.currentFrame
	}
	s := span{offset: alloc.offset, size: alloc.reserved}
	if retireAt <= a.completedFrame {
		a.addFree(s)
		return nil
	}
	a.deferred = append(a.deferred, deferredSpan{span: s, retireAt: retireAt})
	return nil
}

// addFree inserts s keeping the list sorted and coalesced, and lowers the
// high-water mark when s touches it.
func (a *Arena) addFree(s span) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].offset >= s.offset })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = s

	if i+1 < len(a.free) && a.free[i].end() == a.free[i+1].offset {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].end() == a.free[i].offset {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
		i--
	}
	if last := len(a.free) - 1; last >= 0 && a.free[last].end() == a.highWater {
		a.highWater = a.free[last].offset
		a.free = a.free[:last]
	}
}

// RequestHeadroom asks the next compaction point to grow the buffer so that
// bytes more can be allocated without going pending.
func (a *Arena) RequestHeadroom(bytes uint64) {
	a.mu.Lock()
	if bytes > a.headroom {
		a.headroom = math.AlignUp(bytes, a.cfg.Alignment)
	}
	a.mu.Unlock()
}

// FrameBegin marks the start of frame recording. It is the arena's
// compaction point: pending allocations are placed into a larger buffer.
func (a *Arena) FrameBegin(frame uint64) {
	a.mu.Lock()
	a.currentFrame = frame
	remapped := false
	if a.cfg.Mode == ModeArena && (a.pendingSize > 0 || a.headroom > 0) {
		// frame is not submitted yet: only its predecessors read the old buffer
		retireAt := uint64(0)
		if frame > 0 {
			retireAt = frame - 1
		}
		var err error
		if remapped, err = a.compactLocked(retireAt); err != nil {
			core.LogError("arena %s: compaction failed: %s", a.cfg.Name, err.Error())
		}
	}
	listeners := append([]RemapListener(nil), a.listeners...)
	a.mu.Unlock()

	if remapped {
		for _, l := range listeners {
			l(a)
		}
	}
}

// FrameRetired reclaims everything stamped at or before completed.
func (a *Arena) FrameRetired(completed uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if completed < a.completedFrame {
		return
	}
	a.completedFrame = completed

	kept := a.deferred[:0]
	for _, d := range a.deferred {
		if d.retireAt <= completed {
			a.addFree(d.span)
			continue
		}
		kept = append(kept, d)
	}
	a.deferred = kept

	keptBuffers := a.retired[:0]
	for _, r := range a.retired {
		if r.retireAt <= completed {
			core.LogDebug("arena %s: destroying retired buffer %s", a.cfg.Name, r.buffer.Label())
			r.buffer.Destroy()
			continue
		}
		keptBuffers = append(keptBuffers, r)
	}
	a.retired = keptBuffers
}

// Compact forces a compaction. Call it only when no frame is recording. The
// current frame may already be submitted, so the old buffer outlives it.
func (a *Arena) Compact() error {
	a.mu.Lock()
	if a.cfg.Mode == ModeFixed {
		a.mu.Unlock()
		return nil
	}
	remapped, err := a.compactLocked(a.currentFrame)
	listeners := append([]RemapListener(nil), a.listeners...)
	a.mu.Unlock()

	if err != nil || !remapped {
		return err
	}
	for _, l := range listeners {
		l(a)
	}
	return nil
}

// compactLocked moves every live allocation into a new buffer, packed in
// offset order. The old buffer is kept until frame retireAt has retired. It
// reports whether offsets moved.
func (a *Arena) compactLocked(retireAt uint64) (bool, error) {
	if a.pendingSize == 0 && a.capacity-a.highWater >= a.headroom {
		a.headroom = 0
		return false, nil
	}
	need := a.liveBytes + a.headroom
	newCap := a.capacity
	for newCap < need || (a.pendingSize > 0 && newCap == a.capacity && newCap < a.cfg.MaxSize) {
		newCap *= 2
	}
	if newCap > a.cfg.MaxSize {
		newCap = a.cfg.MaxSize
	}
	if newCap < a.liveBytes {
		return false, fmt.Errorf("arena %s: %d live bytes exceed max size %d: %w", a.cfg.Name, a.liveBytes, a.cfg.MaxSize, core.ErrCapacityExceeded)
	}

	newBuf, err := a.createBuffer(newCap)
	if err != nil {
		return false, err
	}

	type entry struct {
		h     core.Handle
		alloc *allocation
	}
	var live []entry
	a.allocations.Each(func(h core.Handle, alloc **allocation) {
		live = append(live, entry{h: h, alloc: *alloc})
	})
	// placed allocations keep their relative order, pending ones go last
	sort.SliceStable(live, func(i, j int) bool {
		li, lj := live[i].alloc, live[j].alloc
		if li.pending != lj.pending {
			return !li.pending
		}
		return li.offset < lj.offset
	})

	cursor := uint64(0)
	for _, e := range live {
		var data []byte
		if e.alloc.pending {
			data = e.alloc.staged
		} else {
			data, err = a.buffer.Read(e.alloc.offset, e.alloc.size)
			if err != nil {
				newBuf.Destroy()
				return false, fmt.Errorf("arena %s: reading %s during compaction: %w", a.cfg.Name, e.h, err)
			}
		}
		if err := newBuf.Write(cursor, data); err != nil {
			newBuf.Destroy()
			return false, fmt.Errorf("arena %s: writing %s during compaction: %w", a.cfg.Name, e.h, err)
		}
		cursor += e.alloc.reserved
	}

	// Everything read fine, commit the new placement.
	cursor = 0
	for _, e := range live {
		e.alloc.offset = cursor
		e.alloc.pending = false
		e.alloc.staged = nil
		cursor += e.alloc.reserved
	}

	old := a.buffer
	if retireAt <= a.completedFrame {
		old.Destroy()
	} else {
		a.retired = append(a.retired, retiredBuffer{buffer: old, retireAt: retireAt})
	}

	core.LogInfo("arena %s: compacted %d allocations into %d byte buffer (was %d)", a.cfg.Name, len(live), newCap, a.capacity)

	a.buffer = newBuf
	a.capacity = newCap
	a.generation++
	a.highWater = cursor
	a.free = nil
	// deferred spans belong to the old buffer which is retired as a whole
	a.deferred = nil
	a.pendingSize = 0
	a.headroom = 0
	return true, nil
}

func (a *Arena) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Stats{
		Name:            a.cfg.Name,
		Mode:            a.cfg.Mode,
		Capacity:        a.capacity,
		HighWater:       a.highWater,
		LiveBytes:       a.liveBytes,
		LiveAllocations: a.allocations.Len(),
		PendingBytes:    a.pendingSize,
		Generation:      a.generation,
		RetiredBuffers:  len(a.retired),
	}
	for _, d := range a.deferred {
		s.DeferredBytes += d.size
	}
	for _, f := range a.free {
		s.FreeBytes += f.size
	}
	return s
}

// Destroy releases the backing buffers. Call it only after every frame in
// flight has retired.
func (a *Arena) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.destroyed = true
	for _, r := range a.retired {
		r.buffer.Destroy()
	}
	a.retired = nil
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	core.LogDebug("arena %s destroyed", a.cfg.Name)
}
