package systems

import (
	"sync"

	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// RenderDataMailbox hands world snapshots to the render goroutine. Only the
// latest snapshot is kept; older unread ones are dropped.
type RenderDataMailbox struct {
	mu      sync.Mutex
	data    metadata.RenderData
	seq     uint64
	read    uint64
	dropped uint64
}

func NewRenderDataMailbox() *RenderDataMailbox {
	return &RenderDataMailbox{}
}

// Publish replaces the pending snapshot.
func (m *RenderDataMailbox) Publish(data metadata.RenderData) {
	m.mu.Lock()
	if m.seq > m.read {
		m.dropped++
	}
	m.data = data
	m.seq++
	m.mu.Unlock()
}

// Latest returns the most recent snapshot and whether it was published since
// the previous call. ok is false until the first Publish.
func (m *RenderDataMailbox) Latest() (data metadata.RenderData, fresh bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == 0 {
		return metadata.RenderData{}, false, false
	}
	fresh = m.seq > m.read
	m.read = m.seq
	return m.data, fresh, true
}

// Dropped counts snapshots replaced before the render goroutine read them.
func (m *RenderDataMailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
