package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-render/engine/core"
)

const (
	ArenaModeFixed = "fixed"
	ArenaModeArena = "arena"

	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"

	// MaxFramesInFlight is the largest accepted frames_in_flight value.
	MaxFramesInFlight = 8
)

// Config is the full engine configuration, loaded from a TOML file.
type Config struct {
	Renderer RendererConfig `toml:"renderer"`
	Arena    ArenasConfig   `toml:"arena"`
	Textures TexturesConfig `toml:"textures"`
	Jobs     JobsConfig     `toml:"jobs"`
	Window   WindowConfig   `toml:"window"`
	Assets   AssetsConfig   `toml:"assets"`
}

type RendererConfig struct {
	// Backend is "vulkan" or "headless".
	Backend string `toml:"backend"`
	// FramesInFlight is how many frames the CPU may record ahead of the GPU.
	FramesInFlight int `toml:"frames_in_flight"`
	// AcquireTimeoutMS bounds how long AcquireFrame waits for a slot to retire.
	AcquireTimeoutMS int    `toml:"acquire_timeout_ms"`
	MaxObjects       int    `toml:"max_objects"`
	MaxMaterials     int    `toml:"max_materials"`
	MaxGeometries    int    `toml:"max_geometries"`
	TransitionQueue  int    `toml:"transition_queue_capacity"`
	LogLevel         string `toml:"log_level"`
	VSync            bool   `toml:"vsync"`
	Validation       bool   `toml:"validation"`
}

// AcquireTimeout returns the acquire timeout as a duration.
func (r RendererConfig) AcquireTimeout() time.Duration {
	return time.Duration(r.AcquireTimeoutMS) * time.Millisecond
}

type ArenaConfig struct {
	Mode        string `toml:"mode"`
	InitialSize uint64 `toml:"initial_size"`
	MaxSize     uint64 `toml:"max_size"`
	Alignment   uint64 `toml:"alignment"`
}

type ArenasConfig struct {
	Vertex   ArenaConfig `toml:"vertex"`
	Index    ArenaConfig `toml:"index"`
	Regions  ArenaConfig `toml:"regions"`
	Indirect ArenaConfig `toml:"indirect"`
	Uniform  ArenaConfig `toml:"uniform"`
}

type TexturesConfig struct {
	MaxTextures  int  `toml:"max_textures"`
	Checkerboard bool `toml:"checkerboard"`
}

type JobsConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
	// ChunkSize is the number of objects one upload job writes.
	ChunkSize int `toml:"chunk_size"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	X      int    `toml:"x"`
	Y      int    `toml:"y"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

type AssetsConfig struct {
	Root  string `toml:"root"`
	Watch bool   `toml:"watch"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Renderer: RendererConfig{
			Backend:          BackendVulkan,
			FramesInFlight:   3,
			AcquireTimeoutMS: 2000,
			MaxObjects:       16384,
			MaxMaterials:     1024,
			MaxGeometries:    4096,
			TransitionQueue:  256,
			LogLevel:         "info",
			VSync:            true,
		},
		Arena: ArenasConfig{
			Vertex:   ArenaConfig{Mode: ArenaModeArena, InitialSize: 16 << 20, MaxSize: 512 << 20, Alignment: 48},
			Index:    ArenaConfig{Mode: ArenaModeArena, InitialSize: 4 << 20, MaxSize: 256 << 20, Alignment: 4},
			Regions:  ArenaConfig{Mode: ArenaModeArena, InitialSize: 64 << 10, MaxSize: 16 << 20, Alignment: 16},
			Indirect: ArenaConfig{Mode: ArenaModeArena, InitialSize: 1 << 20, MaxSize: 64 << 20, Alignment: 4},
			Uniform:  ArenaConfig{Mode: ArenaModeArena, InitialSize: 256 << 10, MaxSize: 32 << 20, Alignment: 256},
		},
		Textures: TexturesConfig{
			MaxTextures:  4096,
			Checkerboard: true,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 256,
			ChunkSize: 1024,
		},
		Window: WindowConfig{
			Title:  "Anima Render",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Assets: AssetsConfig{
			Root:  "assets",
			Watch: true,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	fp, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			core.LogInfo("config file %s not found, using defaults", path)
			return Default(), nil
		}
		return nil, err
	}
	defer fp.Close()

	return Read(bufio.NewReader(fp))
}

// Read decodes TOML from r over the defaults and validates the result.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	d := toml.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("config: line %d column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	r := c.Renderer
	switch r.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return fmt.Errorf("config: renderer.backend %q is not one of vulkan, headless", r.Backend)
	}
	if r.FramesInFlight < 1 || r.FramesInFlight > MaxFramesInFlight {
		return fmt.Errorf("config: renderer.frames_in_flight must be within 1..%d, got %d", MaxFramesInFlight, r.FramesInFlight)
	}
	if r.FramesInFlight == 1 {
		core.LogWarn("frames_in_flight = 1 serializes CPU and GPU")
	}
	if r.AcquireTimeoutMS <= 0 {
		return fmt.Errorf("config: renderer.acquire_timeout_ms must be positive")
	}
	if r.MaxObjects <= 0 || r.MaxMaterials <= 0 || r.MaxGeometries <= 0 {
		return fmt.Errorf("config: renderer.max_objects, renderer.max_materials and renderer.max_geometries must be positive")
	}
	if r.TransitionQueue < 2 {
		return fmt.Errorf("config: renderer.transition_queue_capacity must be at least 2")
	}
	if _, err := core.ParseLogLevel(r.LogLevel); err != nil {
		return fmt.Errorf("config: renderer.log_level: %w", err)
	}

	arenas := map[string]ArenaConfig{
		"vertex":   c.Arena.Vertex,
		"index":    c.Arena.Index,
		"regions":  c.Arena.Regions,
		"indirect": c.Arena.Indirect,
		"uniform":  c.Arena.Uniform,
	}
	for name, a := range arenas {
		if err := a.validate(); err != nil {
			return fmt.Errorf("config: arena.%s: %w", name, err)
		}
	}
	if c.Arena.Vertex.Alignment%12 != 0 {
		return fmt.Errorf("config: arena.vertex.alignment must be a multiple of 12, got %d", c.Arena.Vertex.Alignment)
	}

	if c.Textures.MaxTextures <= 0 {
		return fmt.Errorf("config: textures.max_textures must be positive")
	}
	if c.Jobs.Workers <= 0 || c.Jobs.QueueSize <= 0 || c.Jobs.ChunkSize <= 0 {
		return fmt.Errorf("config: jobs.workers, jobs.queue_size and jobs.chunk_size must be positive")
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("config: window size must be positive")
	}
	return nil
}

func (a ArenaConfig) validate() error {
	switch a.Mode {
	case ArenaModeFixed, ArenaModeArena:
	default:
		return fmt.Errorf("mode %q is not one of fixed, arena", a.Mode)
	}
	if a.InitialSize == 0 {
		return fmt.Errorf("initial_size must be positive")
	}
	if a.MaxSize < a.InitialSize {
		return fmt.Errorf("max_size %d is below initial_size %d", a.MaxSize, a.InitialSize)
	}
	if a.Alignment == 0 {
		return fmt.Errorf("alignment must be positive")
	}
	return nil
}
