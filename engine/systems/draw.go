package systems

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/arena"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

type DrawContextConfig struct {
	MaxObjects     uint32
	MaxMaterials   uint32
	FramesInFlight int
	// ChunkSize is the number of objects written by one job.
	ChunkSize int
}

// Arenas groups the buffers a DrawContext draws from.
type Arenas struct {
	Vertices  *arena.Arena
	Indices   *arena.Arena
	Regions   *arena.Arena
	Objects   *arena.Arena
	Materials *arena.Arena
	Indirect  *arena.Arena
	Uniform   *arena.Arena
}

type renderableEntry struct {
	data        metadata.RenderableData
	allocation  metadata.AllocationHandle
	objectIndex uint32
}

type materialEntry struct {
	data       metadata.MaterialData
	allocation metadata.AllocationHandle
	index      uint32
	// textures are the slots held through the TextureManager.
	textures []metadata.TextureHandle
	// referenceCount counts the renderables using the material.
	referenceCount uint32
	autoRelease    bool
}

// DrawContext owns renderables, materials and render configs and turns
// them into per-frame object data and indirect draw commands.
type DrawContext struct {
	config     DrawContextConfig
	arenas     Arenas
	geometries *GeometryRegistry
	textures   *TextureManager
	jobs       *JobSystem

	mu            sync.RWMutex
	renderables   *core.HandleTable[*renderableEntry]
	byConfig      map[metadata.RenderConfigHandle][]metadata.RenderableHandle
	materials     *core.HandleTable[*materialEntry]
	renderConfigs *core.HandleTable[string]
	currentSlot   int
}

// ObjectArenaSize is the size of the Fixed object arena: one copy of every
// object row per frame in flight.
func ObjectArenaSize(maxObjects uint32, framesInFlight int) uint64 {
	return uint64(maxObjects) * uint64(framesInFlight) * metadata.ObjectDataSize
}

func MaterialArenaSize(maxMaterials uint32) uint64 {
	return uint64(maxMaterials) * metadata.MaterialDataSize
}

func NewDrawContext(config DrawContextConfig, arenas Arenas, geometries *GeometryRegistry, textures *TextureManager, jobs *JobSystem) (*DrawContext, error) {
	if config.FramesInFlight < 1 {
		return nil, fmt.Errorf("draw context: frames in flight must be at least 1")
	}
	if config.MaxObjects == 0 || config.MaxMaterials == 0 {
		return nil, fmt.Errorf("draw context: max objects and max materials must be > 0")
	}
	if arenas.Objects.Mode() != arena.ModeFixed || arenas.Materials.Mode() != arena.ModeFixed {
		return nil, fmt.Errorf("draw context: object and material arenas must be fixed")
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1024
	}
	return &DrawContext{
		config:        config,
		arenas:        arenas,
		geometries:    geometries,
		textures:      textures,
		jobs:          jobs,
		renderables:   core.NewHandleTable[*renderableEntry](1024),
		byConfig:      make(map[metadata.RenderConfigHandle][]metadata.RenderableHandle),
		materials:     core.NewHandleTable[*materialEntry](int(config.MaxMaterials)),
		renderConfigs: core.NewHandleTable[string](16),
	}, nil
}

// CreateRenderConfig registers a pipeline configuration draws are grouped by.
func (dc *DrawContext) CreateRenderConfig(name string) metadata.RenderConfigHandle {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return metadata.RenderConfigHandle(dc.renderConfigs.Acquire(name))
}

func (dc *DrawContext) RenderConfigName(h metadata.RenderConfigHandle) (string, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	name, err := dc.renderConfigs.Get(core.Handle(h))
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return name, nil
}

// CreateMaterial writes the material row into the material arena. The
// texture slots in data are taken as is and are not held.
func (dc *DrawContext) CreateMaterial(data metadata.MaterialData) (metadata.MaterialHandle, error) {
	return dc.createMaterial(data, nil)
}

func (dc *DrawContext) createMaterial(data metadata.MaterialData, textures []metadata.TextureHandle) (metadata.MaterialHandle, error) {
	alloc, err := dc.arenas.Materials.Allocate(metadata.MaterialDataSize)
	if err != nil {
		return 0, fmt.Errorf("material: %w", err)
	}
	if err := dc.arenas.Materials.Write(alloc, 0, data.Bytes()); err != nil {
		_ = dc.arenas.Materials.Release(alloc)
		return 0, fmt.Errorf("material: %w", err)
	}
	region, err := dc.arenas.Materials.RegionOf(alloc)
	if err != nil {
		return 0, err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	h := dc.materials.Acquire(&materialEntry{
		data:       data,
		allocation: alloc,
		index:      uint32(region.Offset / metadata.MaterialDataSize),
		textures:   textures,
	})
	return metadata.MaterialHandle(h), nil
}

// CreateTexturedMaterial resolves the texture handles to descriptor slots
// and holds them until the material is destroyed. Invalid handles sample
// the default texture.
func (dc *DrawContext) CreateTexturedMaterial(baseColor math.Vec4, albedo, normal metadata.TextureHandle, metallic, roughness float32) (metadata.MaterialHandle, error) {
	var held []metadata.TextureHandle
	albedoSlot, ok := dc.textures.acquireIndex(albedo)
	if ok {
		held = append(held, albedo)
	}
	normalSlot, ok := dc.textures.acquireIndex(normal)
	if ok {
		held = append(held, normal)
	}
	h, err := dc.createMaterial(metadata.MaterialData{
		BaseColor:     baseColor,
		AlbedoTexture: albedoSlot,
		NormalTexture: normalSlot,
		Metallic:      metallic,
		Roughness:     roughness,
	}, held)
	if err != nil {
		for _, t := range held {
			dc.textures.releaseIndex(t)
		}
		return 0, err
	}
	return h, nil
}

// DestroyMaterial releases the material. While renderables still use it,
// the row stays and is freed when the last of them is destroyed.
func (dc *DrawContext) DestroyMaterial(h metadata.MaterialHandle) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	e, err := dc.materials.Get(core.Handle(h))
	if err != nil {
		return fmt.Errorf("material: %w", err)
	}
	if e.autoRelease {
		return fmt.Errorf("%s is already being released: %w", h, core.ErrStaleHandle)
	}
	if e.referenceCount > 0 {
		e.autoRelease = true
		core.LogDebug("%s still used by %d renderables, release deferred", h, e.referenceCount)
		return nil
	}
	return dc.destroyMaterialLocked(h)
}

func (dc *DrawContext) destroyMaterialLocked(h metadata.MaterialHandle) error {
	e, err := dc.materials.Release(core.Handle(h))
	if err != nil {
		return fmt.Errorf("material: %w", err)
	}
	for _, t := range e.textures {
		dc.textures.releaseIndex(t)
	}
	return dc.arenas.Materials.Release(e.allocation)
}

// MaterialIndex is the material's row in the material arena.
func (dc *DrawContext) MaterialIndex(h metadata.MaterialHandle) (uint32, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	e, err := dc.materials.Get(core.Handle(h))
	if err != nil {
		return 0, fmt.Errorf("material: %w", err)
	}
	return e.index, nil
}

// RegisterRenderable reserves the renderable's object rows, one per frame in
// flight, and links it under its render config. The renderable holds its
// geometry and material until it is destroyed.
func (dc *DrawContext) RegisterRenderable(data metadata.RenderableData) (metadata.RenderableResources, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !dc.renderConfigs.Contains(core.Handle(data.RenderConfig)) {
		return metadata.RenderableResources{}, fmt.Errorf("renderable: render config: %w", core.ErrStaleHandle)
	}
	mat, err := dc.materials.Get(core.Handle(data.Material))
	if err != nil {
		return metadata.RenderableResources{}, fmt.Errorf("renderable: material: %w", err)
	}
	if mat.autoRelease {
		return metadata.RenderableResources{}, fmt.Errorf("renderable: %s is being released: %w", data.Material, core.ErrStaleHandle)
	}
	if err := dc.geometries.acquire(data.Geometry); err != nil {
		return metadata.RenderableResources{}, err
	}

	stride := uint64(dc.config.FramesInFlight) * metadata.ObjectDataSize
	alloc, err := dc.arenas.Objects.Allocate(stride)
	if err != nil {
		dc.geometries.unref(data.Geometry)
		return metadata.RenderableResources{}, fmt.Errorf("renderable for object %d: %w", data.ObjectID, err)
	}
	region, err := dc.arenas.Objects.RegionOf(alloc)
	if err != nil {
		_ = dc.arenas.Objects.Release(alloc)
		dc.geometries.unref(data.Geometry)
		return metadata.RenderableResources{}, err
	}
	mat.referenceCount++

	e := &renderableEntry{
		data:        data,
		allocation:  alloc,
		objectIndex: uint32(region.Offset / stride),
	}
	h := metadata.RenderableHandle(dc.renderables.Acquire(e))
	list := append(dc.byConfig[data.RenderConfig], h)
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	dc.byConfig[data.RenderConfig] = list

	return metadata.RenderableResources{Handle: h, ObjectIndex: e.objectIndex}, nil
}

// DestroyRenderable unlinks the renderable. Its object rows are reused only
// after the frames that read them retire.
func (dc *DrawContext) DestroyRenderable(h metadata.RenderableHandle) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	e, err := dc.renderables.Release(core.Handle(h))
	if err != nil {
		return fmt.Errorf("%s: %w", h, err)
	}
	list := dc.byConfig[e.data.RenderConfig]
	for i, other := range list {
		if other == h {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(dc.byConfig, e.data.RenderConfig)
	} else {
		dc.byConfig[e.data.RenderConfig] = list
	}
	dc.geometries.unref(e.data.Geometry)
	if err := dc.unrefMaterialLocked(e.data.Material); err != nil {
		core.LogWarn("%s: %s", h, err)
	}
	return dc.arenas.Objects.Release(e.allocation)
}

func (dc *DrawContext) unrefMaterialLocked(h metadata.MaterialHandle) error {
	mat, err := dc.materials.Get(core.Handle(h))
	if err != nil {
		return fmt.Errorf("material: %w", err)
	}
	if mat.referenceCount > 0 {
		mat.referenceCount--
	}
	if mat.referenceCount == 0 && mat.autoRelease {
		return dc.destroyMaterialLocked(h)
	}
	return nil
}

func (dc *DrawContext) RenderableCount() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.renderables.Len()
}

// objectData assembles the GPU row of a renderable. Callers hold dc.mu.
func (dc *DrawContext) objectData(e *renderableEntry, snapshot metadata.ObjectSnapshot) (metadata.ObjectData, error) {
	ref, err := dc.geometries.RegionFor(e.data.Geometry)
	if err != nil {
		return metadata.ObjectData{}, err
	}
	mat, err := dc.materials.Get(core.Handle(e.data.Material))
	if err != nil {
		return metadata.ObjectData{}, fmt.Errorf("material: %w", err)
	}
	return metadata.ObjectData{
		Model:          snapshot.Model,
		MaterialIndex:  mat.index,
		AnimationIndex: snapshot.AnimationIndex,
		GeometryIndex:  ref.Row,
	}, nil
}

// WriteObjectData writes the copy of the object row that belongs to the
// frame slot currently recording.
func (dc *DrawContext) WriteObjectData(h metadata.RenderableHandle, data metadata.ObjectData) error {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.writeObjectLocked(h, dc.currentSlot, data)
}

func (dc *DrawContext) writeObjectLocked(h metadata.RenderableHandle, slot int, data metadata.ObjectData) error {
	e, err := dc.renderables.Get(core.Handle(h))
	if err != nil {
		return fmt.Errorf("%s: %w", h, err)
	}
	return dc.arenas.Objects.Write(e.allocation, uint64(slot)*metadata.ObjectDataSize, data.Bytes())
}

// ReadObjectData returns the slot's copy of the object row.
func (dc *DrawContext) ReadObjectData(h metadata.RenderableHandle, slot int) (metadata.ObjectData, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	e, err := dc.renderables.Get(core.Handle(h))
	if err != nil {
		return metadata.ObjectData{}, fmt.Errorf("%s: %w", h, err)
	}
	raw, err := dc.arenas.Objects.Read(e.allocation)
	if err != nil {
		return metadata.ObjectData{}, err
	}
	return metadata.DecodeObjectData(raw[uint64(slot)*metadata.ObjectDataSize:]), nil
}

// BuildIndirectCommands emits one command per renderable, grouped by render
// config in handle order. A non-nil filter restricts each config to the
// listed renderables. Meshes still waiting for placement are skipped.
func (dc *DrawContext) BuildIndirectCommands(filter map[metadata.RenderConfigHandle][]metadata.RenderableHandle) ([]metadata.IndirectCommand, []metadata.DrawBatch, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.buildLocked(filter)
}

func (dc *DrawContext) buildLocked(filter map[metadata.RenderConfigHandle][]metadata.RenderableHandle) ([]metadata.IndirectCommand, []metadata.DrawBatch, error) {
	configs := make([]metadata.RenderConfigHandle, 0, len(dc.byConfig))
	for c := range dc.byConfig {
		configs = append(configs, c)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i] < configs[j] })

	var (
		cmds    []metadata.IndirectCommand
		batches []metadata.DrawBatch
	)
	for _, c := range configs {
		list := dc.byConfig[c]
		if filter != nil {
			allowed, ok := filter[c]
			if !ok {
				continue
			}
			list = intersect(list, allowed)
		}
		batch := metadata.DrawBatch{RenderConfig: c, FirstCommand: uint32(len(cmds))}
		for _, h := range list {
			e, err := dc.renderables.Get(core.Handle(h))
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", h, err)
			}
			ref, err := dc.geometries.RegionFor(e.data.Geometry)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", h, err)
			}
			if ref.Pending {
				core.LogDebug("%s: %s not placed yet, skipping draw", h, e.data.Geometry)
				continue
			}
			cmds = append(cmds, metadata.IndirectCommand{
				IndexCount:    ref.Region.IndexCount,
				InstanceCount: ref.Region.InstanceCount,
				FirstIndex:    ref.Region.FirstIndex,
				VertexOffset:  ref.Region.VertexOffset,
				FirstInstance: ref.Region.FirstInstance + e.objectIndex,
			})
		}
		batch.CommandCount = uint32(len(cmds)) - batch.FirstCommand
		if batch.CommandCount > 0 {
			batches = append(batches, batch)
		}
	}
	return cmds, batches, nil
}

// intersect keeps the handles of sorted that appear in allowed, in sorted order.
func intersect(sorted, allowed []metadata.RenderableHandle) []metadata.RenderableHandle {
	set := make(map[metadata.RenderableHandle]struct{}, len(allowed))
	for _, h := range allowed {
		set[h] = struct{}{}
	}
	out := make([]metadata.RenderableHandle, 0, len(allowed))
	for _, h := range sorted {
		if _, ok := set[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

func (dc *DrawContext) FrameBegin(frame uint64) {
	dc.mu.Lock()
	dc.currentSlot = int((frame - 1) % uint64(dc.config.FramesInFlight))
	dc.mu.Unlock()
}

func (dc *DrawContext) FrameRetired(uint64) {}

/**
 * @brief Releases every renderable and material.
 */
func (dc *DrawContext) Shutdown() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.renderables.Each(func(_ core.Handle, e **renderableEntry) {
		_ = dc.arenas.Objects.Release((*e).allocation)
	})
	dc.materials.Each(func(_ core.Handle, e **materialEntry) {
		_ = dc.arenas.Materials.Release((*e).allocation)
	})
	dc.renderables = core.NewHandleTable[*renderableEntry](1024)
	dc.materials = core.NewHandleTable[*materialEntry](int(dc.config.MaxMaterials))
	dc.byConfig = make(map[metadata.RenderConfigHandle][]metadata.RenderableHandle)
}
