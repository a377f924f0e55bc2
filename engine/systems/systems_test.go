package systems

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/renderer/frame"
	"github.com/spaghettifunk/anima-render/engine/renderer/headless"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendHeadless
	cfg.Renderer.MaxObjects = 64
	cfg.Renderer.MaxMaterials = 16
	cfg.Arena.Vertex = config.ArenaConfig{Mode: config.ArenaModeArena, InitialSize: 64 << 10, MaxSize: 1 << 20, Alignment: 48}
	cfg.Arena.Index = config.ArenaConfig{Mode: config.ArenaModeArena, InitialSize: 16 << 10, MaxSize: 1 << 20, Alignment: 4}
	cfg.Arena.Regions = config.ArenaConfig{Mode: config.ArenaModeArena, InitialSize: 4 << 10, MaxSize: 64 << 10, Alignment: 16}
	cfg.Arena.Indirect = config.ArenaConfig{Mode: config.ArenaModeArena, InitialSize: 4 << 10, MaxSize: 64 << 10, Alignment: 4}
	cfg.Arena.Uniform = config.ArenaConfig{Mode: config.ArenaModeArena, InitialSize: 4 << 10, MaxSize: 64 << 10, Alignment: 256}
	cfg.Textures.MaxTextures = 16
	cfg.Textures.Checkerboard = false
	cfg.Jobs = config.JobsConfig{Workers: 2, QueueSize: 8, ChunkSize: 4}
	return cfg
}

func newTestSystems(t *testing.T, mutate func(*config.Config)) (*SystemManager, *headless.Backend) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	b := headless.NewBackend(cfg.Renderer.FramesInFlight)
	sm, err := NewSystemManager(cfg, b)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.CompleteAll()
		_ = sm.Shutdown(context.Background())
	})
	return sm, b
}

// runFrame records and submits an empty frame.
func runFrame(t *testing.T, sm *SystemManager) *frame.FrameSlot {
	t.Helper()
	slot, err := sm.Frames.AcquireFrame(context.Background())
	require.NoError(t, err)
	require.NoError(t, sm.Frames.Render(slot))
	require.NoError(t, sm.Frames.Present(slot))
	return slot
}
