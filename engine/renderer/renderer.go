// Package renderer selects and creates the graphics backend.
package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/platform"
	"github.com/spaghettifunk/anima-render/engine/renderer/headless"
	"github.com/spaghettifunk/anima-render/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	Headless
)

func (t RendererType) String() string {
	switch t {
	case Vulkan:
		return config.BackendVulkan
	case Headless:
		return config.BackendHeadless
	}
	return "unknown"
}

// ParseRendererType maps the renderer.backend config value.
func ParseRendererType(s string) (RendererType, error) {
	switch s {
	case config.BackendVulkan:
		return Vulkan, nil
	case config.BackendHeadless:
		return Headless, nil
	}
	return 0, fmt.Errorf("unknown renderer backend %q", s)
}

// New creates the configured backend. The Vulkan backend needs a window;
// the headless one ignores it.
func New(cfg *config.Config, p *platform.Platform) (Backend, error) {
	t, err := ParseRendererType(cfg.Renderer.Backend)
	if err != nil {
		return nil, err
	}
	switch t {
	case Headless:
		return headless.NewBackend(cfg.Renderer.FramesInFlight), nil
	case Vulkan:
		if p == nil {
			return nil, fmt.Errorf("the vulkan backend requires a window")
		}
		b, err := vulkan.NewBackend(cfg.Window.Title, cfg.Renderer, p)
		if err != nil {
			core.LogError("failed to initialize the vulkan backend: %s", err)
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported renderer backend %s", t)
}
