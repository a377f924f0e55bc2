// Package frame paces recording across a fixed ring of frame slots and
// tells the resource arenas when frames begin and retire.
package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-render/engine/renderer/transition"
)

// FrameListener is told when a frame begins recording and when frames
// retire. Arenas use FrameBegin as their compaction point.
type FrameListener interface {
	FrameBegin(frame uint64)
	FrameRetired(completed uint64)
}

// Presenter owns the swapchain and the queue. done must be called exactly
// once when the submitted work has completed on the GPU.
type Presenter interface {
	AcquireImage(slot int) (metadata.CommandRecorder, error)
	Submit(slot int, recorder metadata.CommandRecorder, done func()) error
	Present(slot int) error
}

type Config struct {
	FramesInFlight int
	AcquireTimeout time.Duration
}

type Manager struct {
	cfg         Config
	presenter   Presenter
	transitions *transition.Queue

	mu        sync.Mutex
	listeners []FrameListener
	slots     []*FrameSlot
	nextFrame uint64
	lastBegun uint64
	completed uint64
	busy      bool
	recording *FrameSlot
	shutdown  bool
	// carried holds transitions of an aborted frame.
	carried []metadata.ImageTransition

	clock   *core.Clock
	metrics *core.FrameMetrics
}

func NewManager(cfg Config, presenter Presenter, transitions *transition.Queue) (*Manager, error) {
	if cfg.FramesInFlight < 1 {
		return nil, fmt.Errorf("frames in flight must be at least 1, got %d", cfg.FramesInFlight)
	}
	if cfg.AcquireTimeout <= 0 {
		return nil, fmt.Errorf("acquire timeout must be positive")
	}
	m := &Manager{
		cfg:         cfg,
		presenter:   presenter,
		transitions: transitions,
		slots:       make([]*FrameSlot, cfg.FramesInFlight),
		nextFrame:   1,
		clock:       core.NewClock(),
		metrics:     core.NewFrameMetrics(),
	}
	for i := range m.slots {
		m.slots[i] = newFrameSlot(i)
	}
	return m, nil
}

// AddListener registers l. Listeners are notified in registration order.
func (m *Manager) AddListener(l FrameListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

func (m *Manager) FramesInFlight() int {
	return m.cfg.FramesInFlight
}

// CompletedFrame is the highest frame such that it and every frame before
// it have retired.
func (m *Manager) CompletedFrame() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed
}

func (m *Manager) Slot(index int) *FrameSlot {
	return m.slots[index]
}

func (m *Manager) Metrics() *core.FrameMetrics {
	return m.metrics
}

// AcquireFrame returns the next slot in Recording state. If the slot's
// previous submission has not retired it waits for it, up to the acquire
// timeout (core.ErrAcquireTimeout) or ctx cancellation. A stale surface
// yields core.ErrNeedsResize and the frame index does not advance.
func (m *Manager) AcquireFrame(ctx context.Context) (*FrameSlot, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, core.ErrShutdown
	}
	if m.busy || m.recording != nil {
		m.mu.Unlock()
		return nil, core.ErrFrameInProgress
	}
	frame := m.nextFrame
	slot := m.slots[int((frame-1)%uint64(len(m.slots)))]
	m.busy = true
	done := slot.done
	m.mu.Unlock()

	release := func(st SlotState) {
		m.mu.Lock()
		if st == SlotIdle && slot.State() == SlotAcquiring {
			slot.setState(SlotIdle)
		}
		m.busy = false
		m.mu.Unlock()
	}

	// Wait for the slot's previous submission to retire.
	select {
	case <-done:
	default:
		timer := time.NewTimer(m.cfg.AcquireTimeout)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			release(SlotSubmitted)
			err := fmt.Errorf("frame %d: slot %d still %s after %s: %w", frame, slot.Index, slot.State(), m.cfg.AcquireTimeout, core.ErrAcquireTimeout)
			core.LogWarn("%s", err)
			return nil, err
		case <-ctx.Done():
			timer.Stop()
			release(SlotSubmitted)
			return nil, fmt.Errorf("frame %d: waiting for slot %d: %w", frame, slot.Index, ctx.Err())
		}
	}

	slot.setState(SlotAcquiring)
	rec, err := m.presenter.AcquireImage(slot.Index)
	if err != nil {
		release(SlotIdle)
		if errors.Is(err, core.ErrNeedsResize) {
			return nil, err
		}
		return nil, fmt.Errorf("frame %d: acquire image for slot %d: %w", frame, slot.Index, err)
	}

	m.mu.Lock()
	slot.reset()
	slot.Frame = frame
	slot.Recorder = rec
	slot.token = RetirementToken{Slot: slot.Index, Frame: frame}
	slot.done = make(chan struct{})
	slot.setState(SlotRecording)
	m.recording = slot
	m.busy = false
	m.nextFrame++
	m.lastBegun = frame
	listeners := append([]FrameListener(nil), m.listeners...)
	m.mu.Unlock()

	m.tick(frame)
	for _, l := range listeners {
		l.FrameBegin(frame)
	}
	return slot, nil
}

func (m *Manager) tick(frame uint64) {
	if frame == 1 {
		m.clock.Start()
		return
	}
	m.clock.Update()
	m.metrics.Update(m.clock.Elapsed())
	m.clock.Start()
	if frame%600 == 0 {
		fps, ms := m.metrics.Frame()
		core.LogDebug("frame %d: %.0f fps, %.2f ms", frame, fps, ms)
	}
}

// Render records the slot's passes, inserting the image transitions queued
// since the last frame and the barriers derived from the passes' accesses,
// then submits it.
func (m *Manager) Render(slot *FrameSlot) error {
	m.mu.Lock()
	if m.recording != slot || slot.State() != SlotRecording {
		m.mu.Unlock()
		return fmt.Errorf("frame slot %d is %s, not the recording slot: %w", slot.Index, slot.State(), core.ErrFrameInProgress)
	}
	transitions := append(m.carried, m.transitions.Dequeue()...)
	m.carried = nil
	m.mu.Unlock()

	if err := m.record(slot, transitions); err != nil {
		m.abort(slot, transitions)
		core.LogError("frame %d aborted: %s", slot.Frame, err.Error())
		return err
	}

	m.mu.Lock()
	token := slot.token
	slot.setState(SlotSubmitted)
	m.recording = nil
	m.mu.Unlock()

	if err := m.presenter.Submit(slot.Index, slot.Recorder, func() { m.Complete(token) }); err != nil {
		// nothing reached the GPU
		m.mu.Lock()
		slot.setState(SlotIdle)
		close(slot.done)
		m.mu.Unlock()
		return fmt.Errorf("frame %d: submit: %w", slot.Frame, err)
	}
	return nil
}

func (m *Manager) record(slot *FrameSlot, transitions []metadata.ImageTransition) error {
	if _, err := slot.Tracker.ResolveBarriers(); err != nil {
		return err
	}
	rec := slot.Recorder
	if err := rec.Begin(); err != nil {
		return err
	}
	if len(transitions) > 0 {
		rec.TransitionImages(transitions)
	}
	for i, p := range slot.passes {
		barriers, err := slot.Tracker.BarriersBefore(i)
		if err != nil {
			return err
		}
		if len(barriers) > 0 {
			rec.PipelineBarrier(barriers)
		}
		if p.Record == nil {
			continue
		}
		if err := p.Record(rec); err != nil {
			return fmt.Errorf("pass %q: %w", p.Name, err)
		}
	}
	return rec.End()
}

// abort returns a recording slot to Idle. Its transitions are carried over
// to the next frame.
func (m *Manager) abort(slot *FrameSlot, transitions []metadata.ImageTransition) {
	m.mu.Lock()
	m.carried = append(transitions, m.carried...)
	slot.setState(SlotIdle)
	slot.reset()
	if m.recording == slot {
		m.recording = nil
	}
	close(slot.done)
	m.mu.Unlock()
}

// Abort discards the recording slot without submitting it.
func (m *Manager) Abort(slot *FrameSlot) {
	m.mu.Lock()
	if m.recording != slot {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.abort(slot, nil)
}

// Present hands the slot's image to the presentation engine.
func (m *Manager) Present(slot *FrameSlot) error {
	if st := slot.State(); st == SlotRecording || st == SlotAcquiring {
		return fmt.Errorf("frame slot %d: present while %s", slot.Index, st)
	}
	return m.presenter.Present(slot.Index)
}

// Complete is the external completion signal of a submission. Stale or
// duplicate tokens are ignored.
func (m *Manager) Complete(token RetirementToken) {
	m.mu.Lock()
	if token.Slot < 0 || token.Slot >= len(m.slots) {
		m.mu.Unlock()
		core.LogWarn("completion for unknown slot %d", token.Slot)
		return
	}
	slot := m.slots[token.Slot]
	if slot.Frame != token.Frame || slot.State() != SlotSubmitted {
		m.mu.Unlock()
		core.LogWarn("ignoring completion of frame %d on slot %d (%s, frame %d)", token.Frame, token.Slot, slot.State(), slot.Frame)
		return
	}
	slot.setState(SlotRetiring)
	completed := m.completedLocked()
	advanced := completed > m.completed
	if advanced {
		m.completed = completed
	}
	listeners := append([]FrameListener(nil), m.listeners...)
	m.mu.Unlock()

	if advanced {
		for _, l := range listeners {
			l.FrameRetired(completed)
		}
	}

	m.mu.Lock()
	slot.setState(SlotIdle)
	close(slot.done)
	m.mu.Unlock()
}

// completedLocked is one less than the oldest frame still recording or in
// flight, or the last frame begun when nothing is.
func (m *Manager) completedLocked() uint64 {
	oldest := uint64(0)
	for _, s := range m.slots {
		switch s.State() {
		case SlotRecording, SlotSubmitted:
			if oldest == 0 || s.Frame < oldest {
				oldest = s.Frame
			}
		}
	}
	if oldest == 0 {
		return m.lastBegun
	}
	return oldest - 1
}

// Shutdown waits for every in-flight slot to retire. If they do not within
// the acquire timeout or ctx, it returns core.ErrAcquireTimeout and the
// caller must leak, not release, GPU memory.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	recording := m.recording
	var waits []chan struct{}
	for _, s := range m.slots {
		if st := s.State(); st == SlotSubmitted || st == SlotRetiring {
			waits = append(waits, s.done)
		}
	}
	m.mu.Unlock()

	if recording != nil {
		m.abort(recording, nil)
	}

	timer := time.NewTimer(m.cfg.AcquireTimeout)
	defer timer.Stop()
	for _, done := range waits {
		select {
		case <-done:
		case <-timer.C:
			err := fmt.Errorf("frames still in flight at shutdown: %w", core.ErrAcquireTimeout)
			core.LogError("%s", err)
			return err
		case <-ctx.Done():
			err := fmt.Errorf("frames still in flight at shutdown (%s): %w", ctx.Err(), core.ErrAcquireTimeout)
			core.LogError("%s", err)
			return err
		}
	}
	core.LogInfo("frame manager drained after frame %d", m.CompletedFrame())
	return nil
}
