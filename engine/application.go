package engine

import (
	"github.com/spaghettifunk/anima-render/engine/config"
)

type ApplicationConfig struct {
	// The application name used in windowing. Empty keeps the configured title.
	Name string
	// Config is the engine configuration. Nil means config.Default().
	Config *config.Config
	// MaxFrames stops the loop after that many frames. Zero runs until quit.
	MaxFrames uint64
}

func (a *ApplicationConfig) resolve() *config.Config {
	cfg := a.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if a.Name != "" {
		cfg.Window.Title = a.Name
	}
	return cfg
}
