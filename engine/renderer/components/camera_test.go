package components

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-render/engine/math"
)

func TestCameraOrbitKeepsDistance(t *testing.T) {
	c := NewCamera()
	c.SetPosition(math.NewVec3(0, 2, 10))
	before := c.Position.Sub(c.Target).Length()

	c.Orbit(math.DegToRad(90))
	after := c.Position.Sub(c.Target).Length()
	assert.InDelta(t, before, after, 1e-4)
	assert.InDelta(t, 2, c.Position.Y, 1e-4)
	assert.True(t, c.IsDirty)
}

func TestCameraMoveForwardShiftsTarget(t *testing.T) {
	c := NewCamera()
	c.MoveForward(4)
	assert.InDelta(t, 6, c.Position.Z, 1e-4)
	assert.InDelta(t, -4, c.Target.Z, 1e-4)
}

func TestCameraDataCachesView(t *testing.T) {
	c := NewCamera()
	c.SetViewport(800, 400)
	assert.InDelta(t, 2, c.Aspect, 1e-6)
	c.SetViewport(800, 0)
	assert.InDelta(t, 2, c.Aspect, 1e-6)

	d := c.Data()
	assert.False(t, c.IsDirty)
	assert.Equal(t, c.ViewMatrix, d.View)
	assert.Equal(t, float32(1), d.Position.W)
}
