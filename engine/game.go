package engine

import (
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-render/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func() error

// Update advances the world by deltaTime and returns the snapshot to draw.
type Update func(deltaTime float64) (metadata.RenderData, error)
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
