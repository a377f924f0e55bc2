package frame

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/anima-render/engine/renderer/dependency"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// SlotState is the lifecycle of a frame slot.
type SlotState int32

const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotRecording
	SlotSubmitted
	SlotRetiring
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotRetiring:
		return "retiring"
	}
	return "unknown"
}

// RetirementToken identifies one submission of a slot.
type RetirementToken struct {
	Slot  int
	Frame uint64
}

// Access is one resource access a pass declares.
type Access struct {
	Resource metadata.ResourceID
	IsWrite  bool
	Access   metadata.AccessFlags
	Stage    metadata.StageFlags
}

// Pass is a unit of recorded GPU work.
type Pass struct {
	Name     string
	Accesses []Access
	Record   func(rec metadata.CommandRecorder) error
}

// FrameSlot is one of the recyclable frame contexts.
type FrameSlot struct {
	Index    int
	Frame    uint64
	Recorder metadata.CommandRecorder
	Tracker  *dependency.Tracker

	state  atomic.Int32
	passes []Pass
	token  RetirementToken
	done   chan struct{}
}

func newFrameSlot(index int) *FrameSlot {
	s := &FrameSlot{
		Index:   index,
		Tracker: dependency.New(),
		done:    make(chan struct{}),
	}
	close(s.done)
	return s
}

func (s *FrameSlot) State() SlotState {
	return SlotState(s.state.Load())
}

func (s *FrameSlot) setState(st SlotState) {
	s.state.Store(int32(st))
}

func (s *FrameSlot) Token() RetirementToken {
	return s.token
}

// AddPass appends a pass and declares its accesses. It returns the pass
// index. A pass with any invalid access is rejected whole.
func (s *FrameSlot) AddPass(p Pass) (int, error) {
	if s.State() != SlotRecording {
		return -1, fmt.Errorf("frame slot %d: add pass %q while %s", s.Index, p.Name, s.State())
	}
	index := len(s.passes)
	for _, a := range p.Accesses {
		if err := dependency.ValidateAccess(a.Resource, index, a.IsWrite, a.Access, a.Stage); err != nil {
			return -1, fmt.Errorf("pass %q: %w", p.Name, err)
		}
	}
	for _, a := range p.Accesses {
		if err := s.Tracker.RecordAccess(a.Resource, index, a.IsWrite, a.Access, a.Stage); err != nil {
			return -1, fmt.Errorf("pass %q: %w", p.Name, err)
		}
	}
	s.passes = append(s.passes, p)
	return index, nil
}

func (s *FrameSlot) Passes() []Pass {
	return s.passes
}

func (s *FrameSlot) reset() {
	s.passes = s.passes[:0]
	s.Tracker.Reset()
	s.Recorder = nil
}
