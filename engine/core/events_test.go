package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusFire(t *testing.T) {
	bus := NewEventBus()
	var width, height uint32
	listener := &struct{}{}

	ok := bus.Register(EVENT_CODE_RESIZED, listener, func(code SystemEventCode, sender, l interface{}, data EventContext) bool {
		width, height = data.Data.U32[0], data.Data.U32[1]
		return true
	})
	assert.True(t, ok)
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, listener, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }))

	ctx := EventContext{}
	ctx.Data.U32[0] = 800
	ctx.Data.U32[1] = 600
	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, ctx))
	assert.Equal(t, uint32(800), width)
	assert.Equal(t, uint32(600), height)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, listener))
	assert.False(t, bus.Fire(EVENT_CODE_RESIZED, nil, ctx))
}

func TestEventBusHandledStopsPropagation(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	first, second := &struct{ a int }{}, &struct{ b int }{}
	bus.Register(EVENT_CODE_APPLICATION_QUIT, first, func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls++
		return true
	})
	bus.Register(EVENT_CODE_APPLICATION_QUIT, second, func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls++
		return true
	})
	bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{})
	assert.Equal(t, 1, calls)
}
