package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-render/engine/assets"
	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/platform"
	"github.com/spaghettifunk/anima-render/engine/renderer"
	"github.com/spaghettifunk/anima-render/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *config.Config
	maxFrames     uint64
	isRunning     atomic.Bool
	isSuspended   atomic.Bool
	events        *core.EventBus
	platform      *platform.Platform
	backend       renderer.Backend
	assetManager  *assets.AssetManager
	hotReloader   *systems.HotReloader
	systemManager *systems.SystemManager
	retired       *retireNotifier
	width         uint32
	height        uint32
	clock         *core.Clock
	lastTime      float64
	frameCount    uint64
}

// New boots every subsystem. The headless backend runs without a window.
func New(g *Game) (*Engine, error) {
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = &ApplicationConfig{}
	}
	cfg := g.ApplicationConfig.resolve()

	level, err := core.ParseLogLevel(cfg.Renderer.LogLevel)
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(level)

	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		config:       cfg,
		maxFrames:    g.ApplicationConfig.MaxFrames,
		events:       core.NewEventBus(),
		clock:        core.NewClock(),
		width:        uint32(cfg.Window.Width),
		height:       uint32(cfg.Window.Height),
	}

	if cfg.Renderer.Backend != config.BackendHeadless {
		p, err := platform.New(e.events)
		if err != nil {
			return nil, err
		}
		if err := p.Startup(cfg.Window.Title, cfg.Window.X, cfg.Window.Y, cfg.Window.Width, cfg.Window.Height); err != nil {
			return nil, err
		}
		e.platform = p
	}

	backend, err := renderer.New(cfg, e.platform)
	if err != nil {
		e.shutdownPlatform()
		return nil, err
	}
	e.backend = backend

	sm, err := systems.NewSystemManager(cfg, backend)
	if err != nil {
		core.LogError("%s", err)
		_ = backend.Shutdown()
		e.shutdownPlatform()
		return nil, err
	}
	e.systemManager = sm
	g.SystemManager = sm

	am, err := assets.NewAssetManager(cfg.Assets.Root, cfg.Assets.Watch)
	if err != nil {
		core.LogError("%s", err)
		_ = sm.Shutdown(context.Background())
		_ = backend.Shutdown()
		e.shutdownPlatform()
		return nil, err
	}
	e.assetManager = am
	e.hotReloader = systems.NewHotReloader(am, sm.Textures, systems.NewMeshLoaderSystem(am, sm.Geometry, sm.JobSystem))

	e.retired = &retireNotifier{events: e.events}
	sm.Frames.AddListener(e.retired)

	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_RESIZED, e.systemManager.Renderer, e.systemManager.Renderer.OnResized)
	e.events.Register(core.EVENT_CODE_ASSET_CHANGED, e.hotReloader, e.hotReloader.OnAssetChanged)

	loaded := e.hotReloader.LoadAll()
	core.LogInfo("%d assets loaded from %s", loaded, e.assetManager.Root())

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until a quit event, ctx cancellation or the
// configured frame limit.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var targetFrameSeconds float64 = 1.0 / 60.0
	// without a swapchain nothing paces the loop
	limitFrames := e.platform == nil

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		if e.platform != nil {
			e.platform.PumpMessages()
			if e.platform.ShouldClose() {
				e.isRunning.Store(false)
				break
			}
		}
		e.pumpAssets()

		if e.isSuspended.Load() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		if e.gameInstance.FnUpdate != nil {
			data, err := e.gameInstance.FnUpdate(delta)
			if err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				return err
			}
			data.DeltaTime = delta
			e.systemManager.Mailbox.Publish(data)
		}

		if err := e.systemManager.Renderer.DrawFrame(ctx); err != nil {
			switch {
			case errors.Is(err, core.ErrAcquireTimeout):
				core.LogWarn("%s", err)
			case ctx.Err() != nil:
				e.isRunning.Store(false)
			default:
				core.LogError("draw frame failed, shutting down: %s", err)
				return err
			}
		}
		e.frameCount++
		if e.maxFrames > 0 && e.frameCount >= e.maxFrames {
			e.isRunning.Store(false)
		}

		if limitFrames {
			remaining := time.Duration(targetFrameSeconds*float64(time.Second)) - time.Since(frameStart)
			if remaining > time.Millisecond {
				time.Sleep(remaining - time.Millisecond)
			}
		}
		e.lastTime = currentTime
	}
	return nil
}

// pumpAssets turns the files changed on disk since the last frame into
// asset events on the render goroutine.
func (e *Engine) pumpAssets() {
	for _, a := range e.assetManager.Changed() {
		ctx := core.EventContext{}
		ctx.Data.S = a.Name
		e.events.Fire(core.EVENT_CODE_ASSET_CHANGED, e.assetManager, ctx)
	}
}

// Shutdown waits for the frames in flight, bounded by ctx, then tears the
// subsystems down in reverse order.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.systemManager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.backend.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := e.assetManager.Close(); err != nil {
		errs = append(errs, err)
	}
	e.events.Shutdown()
	e.shutdownPlatform()
	return errors.Join(errs...)
}

func (e *Engine) shutdownPlatform() {
	if e.platform != nil {
		_ = e.platform.Shutdown()
		e.platform = nil
	}
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// FrameCount is the number of frames the loop has drawn.
func (e *Engine) FrameCount() uint64 {
	return e.frameCount
}

// CompletedFrame is the newest frame whose GPU work has retired.
func (e *Engine) CompletedFrame() uint64 {
	return e.retired.completed.Load()
}

func (e *Engine) Events() *core.EventBus {
	return e.events
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

// onResized suspends the loop while minimized and forwards the size to the
// game. The renderer gets the same event through its own registration.
func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	width, height := ctx.Data.U32[0], ctx.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended.Store(true)
		return false
	}
	if e.isSuspended.Load() {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended.Store(false)
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("%s", fmt.Errorf("game resize: %w", err))
		}
	}
	return false
}

// retireNotifier republishes frame retirement on the event bus. It fires
// from whichever goroutine observed the completion.
type retireNotifier struct {
	events    *core.EventBus
	completed atomic.Uint64
}

func (r *retireNotifier) FrameBegin(uint64) {}

func (r *retireNotifier) FrameRetired(completed uint64) {
	r.completed.Store(completed)
	ctx := core.EventContext{}
	ctx.Data.U64[0] = completed
	r.events.Fire(core.EVENT_CODE_FRAME_RETIRED, r, ctx)
}
