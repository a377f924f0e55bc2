package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Presenter stands in for a swapchain and a GPU queue. With AutoComplete set
// every submission completes right away; otherwise the test drives
// completion through CompleteSlot.
type Presenter struct {
	AutoComplete bool

	mu        sync.Mutex
	lists     []*CommandList
	pending   map[int]func()
	stale     bool
	presented []int
	submitted int
}

func NewPresenter(frames int, autoComplete bool) *Presenter {
	p := &Presenter{
		AutoComplete: autoComplete,
		lists:        make([]*CommandList, frames),
		pending:      make(map[int]func()),
	}
	for i := range p.lists {
		p.lists[i] = &CommandList{}
	}
	return p
}

// MarkStale makes the next AcquireImage report core.ErrNeedsResize.
func (p *Presenter) MarkStale() {
	p.mu.Lock()
	p.stale = true
	p.mu.Unlock()
}

// Resize clears the stale flag.
func (p *Presenter) Resize(width, height uint32) error {
	p.mu.Lock()
	p.stale = false
	p.mu.Unlock()
	core.LogDebug("headless presenter resized to %dx%d", width, height)
	return nil
}

func (p *Presenter) AcquireImage(slot int) (metadata.CommandRecorder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stale {
		return nil, core.ErrNeedsResize
	}
	if slot < 0 || slot >= len(p.lists) {
		return nil, fmt.Errorf("headless presenter: slot %d out of range", slot)
	}
	return p.lists[slot], nil
}

func (p *Presenter) Submit(slot int, recorder metadata.CommandRecorder, done func()) error {
	p.mu.Lock()
	p.submitted++
	if p.AutoComplete {
		p.mu.Unlock()
		done()
		return nil
	}
	if _, busy := p.pending[slot]; busy {
		p.mu.Unlock()
		return fmt.Errorf("headless presenter: slot %d submitted twice", slot)
	}
	p.pending[slot] = done
	p.mu.Unlock()
	return nil
}

func (p *Presenter) Present(slot int) error {
	p.mu.Lock()
	p.presented = append(p.presented, slot)
	p.mu.Unlock()
	return nil
}

// CompleteSlot signals completion of the slot's outstanding submission.
func (p *Presenter) CompleteSlot(slot int) bool {
	p.mu.Lock()
	done, ok := p.pending[slot]
	delete(p.pending, slot)
	p.mu.Unlock()
	if ok {
		done()
	}
	return ok
}

// CompleteAll completes every outstanding submission in slot order.
func (p *Presenter) CompleteAll() {
	for slot := range p.lists {
		p.CompleteSlot(slot)
	}
}

// Pending reports whether the slot has an uncompleted submission.
func (p *Presenter) Pending(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[slot]
	return ok
}

func (p *Presenter) Commands(slot int) *CommandList {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lists[slot]
}

func (p *Presenter) Presented() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.presented...)
}

func (p *Presenter) Submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted
}
