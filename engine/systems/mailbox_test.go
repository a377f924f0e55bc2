package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

func TestMailboxKeepsLatest(t *testing.T) {
	m := NewRenderDataMailbox()
	_, _, ok := m.Latest()
	assert.False(t, ok)

	m.Publish(metadata.RenderData{DeltaTime: 1})
	m.Publish(metadata.RenderData{DeltaTime: 2})

	data, fresh, ok := m.Latest()
	assert.True(t, ok)
	assert.True(t, fresh)
	assert.Equal(t, 2.0, data.DeltaTime)
	assert.Equal(t, uint64(1), m.Dropped())

	// without a new publish the last snapshot is redrawn
	data, fresh, ok = m.Latest()
	assert.True(t, ok)
	assert.False(t, fresh)
	assert.Equal(t, 2.0, data.DeltaTime)
}
