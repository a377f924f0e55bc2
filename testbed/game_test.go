package testbed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine"
	"github.com/spaghettifunk/anima-render/engine/config"
)

func TestTestbedRunsHeadless(t *testing.T) {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendHeadless
	cfg.Assets = config.AssetsConfig{Root: t.TempDir()}

	tb := NewTestGame(&engine.ApplicationConfig{Config: cfg, MaxFrames: 3})
	e, err := engine.New(tb.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))

	state := tb.State.(*gameState)
	assert.Len(t, state.cubes, gridSize*gridSize)
	assert.Positive(t, state.elapsed)
	assert.Equal(t, gridSize*gridSize, tb.SystemManager.Draw.RenderableCount())

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Empty(t, state.cubes)
}
