package systems

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer"
	"github.com/spaghettifunk/anima-render/engine/renderer/arena"
	"github.com/spaghettifunk/anima-render/engine/renderer/frame"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-render/engine/renderer/transition"
)

// Arena names, also used as resource ids in pass declarations.
const (
	ArenaVertices  = "vertices"
	ArenaIndices   = "indices"
	ArenaRegions   = "regions"
	ArenaObjects   = "objects"
	ArenaMaterials = "materials"
	ArenaIndirect  = "indirect"
	ArenaUniform   = "uniform"
)

type SystemManager struct {
	backend renderer.Backend

	Arenas      Arenas
	Transitions *transition.Queue
	Frames      *frame.Manager
	JobSystem   *JobSystem
	Geometry    *GeometryRegistry
	Textures    *TextureManager
	Draw        *DrawContext
	Mailbox     *RenderDataMailbox
	Renderer    *RendererSystem
}

func NewSystemManager(cfg *config.Config, backend renderer.Backend) (*SystemManager, error) {
	sm := &SystemManager{
		backend:     backend,
		Transitions: transition.NewQueue(cfg.Renderer.TransitionQueue),
		Mailbox:     NewRenderDataMailbox(),
	}

	frames, err := frame.NewManager(frame.Config{
		FramesInFlight: cfg.Renderer.FramesInFlight,
		AcquireTimeout: cfg.Renderer.AcquireTimeout(),
	}, backend, sm.Transitions)
	if err != nil {
		return nil, err
	}
	sm.Frames = frames

	if err := sm.createArenas(cfg); err != nil {
		sm.destroyArenas()
		return nil, err
	}

	js, err := NewJobSystem(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	if err != nil {
		sm.destroyArenas()
		return nil, err
	}
	sm.JobSystem = js

	gr, err := NewGeometryRegistry(GeometryRegistryConfig{
		MaxGeometryCount: uint32(cfg.Renderer.MaxGeometries),
	}, sm.Arenas.Vertices, sm.Arenas.Indices, sm.Arenas.Regions)
	if err != nil {
		sm.shutdownPartial()
		return nil, err
	}
	sm.Geometry = gr

	// with the checkerboard disabled the default texture is a single texel
	checker := uint32(256)
	if !cfg.Textures.Checkerboard {
		checker = 1
	}
	tm, err := NewTextureManager(TextureManagerConfig{
		MaxTextureCount:  uint32(cfg.Textures.MaxTextures),
		CheckerboardSize: checker,
	}, backend, sm.Transitions)
	if err != nil {
		sm.shutdownPartial()
		return nil, err
	}
	sm.Textures = tm

	dc, err := NewDrawContext(DrawContextConfig{
		MaxObjects:     uint32(cfg.Renderer.MaxObjects),
		MaxMaterials:   uint32(cfg.Renderer.MaxMaterials),
		FramesInFlight: cfg.Renderer.FramesInFlight,
		ChunkSize:      cfg.Jobs.ChunkSize,
	}, sm.Arenas, gr, tm, js)
	if err != nil {
		sm.shutdownPartial()
		return nil, err
	}
	sm.Draw = dc

	// Vertex and index arenas compact first so the region rows rebuilt by
	// their remap land in the region arena before it compacts.
	for _, a := range sm.arenaList() {
		frames.AddListener(a)
	}
	frames.AddListener(tm)
	frames.AddListener(dc)

	sm.Renderer = NewRendererSystem(backend, frames, dc, sm.Mailbox, uint32(cfg.Window.Width), uint32(cfg.Window.Height))
	core.LogInfo("systems initialized on the %s backend", backend.Name())
	return sm, nil
}

func (sm *SystemManager) createArenas(cfg *config.Config) error {
	const transfer = metadata.BufferUsageTransferDst | metadata.BufferUsageTransferSrc
	n := uint64(cfg.Renderer.FramesInFlight)
	specs := []struct {
		dst *(*arena.Arena)
		cfg arena.Config
	}{
		{&sm.Arenas.Vertices, arena.FromConfig(ArenaVertices, metadata.BufferUsageVertex|metadata.BufferUsageStorage|transfer, cfg.Arena.Vertex)},
		{&sm.Arenas.Indices, arena.FromConfig(ArenaIndices, metadata.BufferUsageIndex|transfer, cfg.Arena.Index)},
		{&sm.Arenas.Regions, arena.FromConfig(ArenaRegions, metadata.BufferUsageStorage|transfer, cfg.Arena.Regions)},
		{&sm.Arenas.Objects, arena.Config{
			Name:        ArenaObjects,
			Usage:       metadata.BufferUsageStorage | transfer,
			Mode:        arena.ModeFixed,
			InitialSize: ObjectArenaSize(uint32(cfg.Renderer.MaxObjects), cfg.Renderer.FramesInFlight),
			Alignment:   n * metadata.ObjectDataSize,
		}},
		{&sm.Arenas.Materials, arena.Config{
			Name:        ArenaMaterials,
			Usage:       metadata.BufferUsageStorage | transfer,
			Mode:        arena.ModeFixed,
			InitialSize: MaterialArenaSize(uint32(cfg.Renderer.MaxMaterials)),
			Alignment:   metadata.MaterialDataSize,
		}},
		{&sm.Arenas.Indirect, arena.FromConfig(ArenaIndirect, metadata.BufferUsageIndirect|metadata.BufferUsageStorage|transfer, cfg.Arena.Indirect)},
		{&sm.Arenas.Uniform, arena.FromConfig(ArenaUniform, metadata.BufferUsageUniform|transfer, cfg.Arena.Uniform)},
	}
	for _, s := range specs {
		a, err := arena.New(sm.backend, s.cfg)
		if err != nil {
			return err
		}
		*s.dst = a
	}
	return nil
}

// arenaList is the arenas in compaction order.
func (sm *SystemManager) arenaList() []*arena.Arena {
	all := []*arena.Arena{
		sm.Arenas.Vertices, sm.Arenas.Indices, sm.Arenas.Regions,
		sm.Arenas.Objects, sm.Arenas.Materials, sm.Arenas.Indirect, sm.Arenas.Uniform,
	}
	out := all[:0]
	for _, a := range all {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// ArenaStats snapshots every arena.
func (sm *SystemManager) ArenaStats() []arena.Stats {
	var out []arena.Stats
	for _, a := range sm.arenaList() {
		out = append(out, a.Stats())
	}
	return out
}

func (sm *SystemManager) destroyArenas() {
	for _, a := range sm.arenaList() {
		a.Destroy()
	}
}

func (sm *SystemManager) shutdownPartial() {
	if sm.JobSystem != nil {
		_ = sm.JobSystem.Shutdown()
	}
	if sm.Textures != nil {
		_ = sm.Textures.Shutdown()
	}
	sm.destroyArenas()
}

// Shutdown drains the frames in flight, then releases GPU memory. If frames
// never retire the memory is leaked instead of freed under the GPU.
func (sm *SystemManager) Shutdown(ctx context.Context) error {
	drainErr := sm.Frames.Shutdown(ctx)
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	if drainErr != nil {
		if errors.Is(drainErr, core.ErrAcquireTimeout) {
			core.LogError("leaking GPU memory: %s", drainErr)
		}
		return fmt.Errorf("systems shutdown: %w", drainErr)
	}
	sm.Draw.Shutdown()
	sm.Geometry.Shutdown()
	if err := sm.Textures.Shutdown(); err != nil {
		return err
	}
	sm.destroyArenas()
	return nil
}
