package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

func headlessConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendHeadless
	cfg.Renderer.MaxObjects = 64
	cfg.Renderer.MaxMaterials = 16
	cfg.Textures.MaxTextures = 16
	cfg.Textures.Checkerboard = false
	cfg.Jobs = config.JobsConfig{Workers: 2, QueueSize: 8, ChunkSize: 16}
	cfg.Assets = config.AssetsConfig{Root: t.TempDir(), Watch: false}
	return cfg
}

type counterGame struct {
	*Game
	updates    int
	resizes    int
	renderable metadata.RenderableHandle
}

func newCounterGame(t *testing.T, maxFrames uint64) *counterGame {
	g := &counterGame{Game: &Game{
		ApplicationConfig: &ApplicationConfig{Config: headlessConfig(t), MaxFrames: maxFrames},
	}}
	g.FnInitialize = func() error {
		sm := g.SystemManager
		geom, err := sm.Geometry.CreateStaticMesh("cube", 1, 1, 1, 1, 1)
		if err != nil {
			return err
		}
		mat, err := sm.Draw.CreateMaterial(metadata.MaterialData{BaseColor: math.NewVec4One()})
		if err != nil {
			return err
		}
		res, err := sm.Draw.RegisterRenderable(metadata.RenderableData{
			RenderConfig: sm.Draw.CreateRenderConfig("opaque"),
			Geometry:     geom,
			Material:     mat,
		})
		g.renderable = res.Handle
		return err
	}
	g.FnUpdate = func(delta float64) (metadata.RenderData, error) {
		g.updates++
		return metadata.RenderData{
			Objects: []metadata.ObjectSnapshot{{Renderable: g.renderable, Model: math.NewMat4Identity()}},
		}, nil
	}
	g.FnOnResize = func(w, h uint32) error {
		g.resizes++
		return nil
	}
	return g
}

func TestEngineRunsHeadlessFrames(t *testing.T) {
	g := newCounterGame(t, 5)
	e, err := New(g.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, 1, g.resizes)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(5), e.FrameCount())
	assert.Equal(t, 5, g.updates)
	assert.Len(t, e.systemManager.Renderer.LastDraw().Commands, 1)
	assert.Positive(t, e.CompletedFrame())

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestEngineStopsOnQuitEvent(t *testing.T) {
	g := newCounterGame(t, 0)
	e, err := New(g.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	update := g.FnUpdate
	g.FnUpdate = func(delta float64) (metadata.RenderData, error) {
		if g.updates == 2 {
			e.Events().Fire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
		}
		return update(delta)
	}

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(3), e.FrameCount())
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestEngineUpdateErrorStopsLoop(t *testing.T) {
	g := newCounterGame(t, 0)
	e, err := New(g.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	boom := errors.New("boom")
	g.FnUpdate = func(float64) (metadata.RenderData, error) {
		return metadata.RenderData{}, boom
	}
	assert.ErrorIs(t, e.Run(context.Background()), boom)
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestEngineResizeSuspendsWhenMinimized(t *testing.T) {
	g := newCounterGame(t, 1)
	e, err := New(g.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown(context.Background())

	ctx := core.EventContext{}
	e.Events().Fire(core.EVENT_CODE_RESIZED, nil, ctx)
	assert.True(t, e.isSuspended.Load())

	ctx.Data.U32[0], ctx.Data.U32[1] = 800, 600
	e.Events().Fire(core.EVENT_CODE_RESIZED, nil, ctx)
	assert.False(t, e.isSuspended.Load())
	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(800), w)
	assert.Equal(t, uint32(600), h)
	assert.Equal(t, 2, g.resizes)
}
