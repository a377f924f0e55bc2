package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 0.0001)
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	// 0.1s frames: the eleventh frame crosses the one second mark.
	for i := 0; i < 11; i++ {
		m.Update(0.1)
	}
	assert.Equal(t, 11.0, m.FPS())
}

func TestClockElapsed(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewClockWithSource(func() time.Time { return now })

	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	now = now.Add(1500 * time.Millisecond)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)
}
