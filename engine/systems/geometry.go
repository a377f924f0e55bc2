package systems

import (
	"fmt"
	stdmath "math"
	"sync"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/arena"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// AttributeAbsent marks a missing attribute stream in a GeometryRegion.
const AttributeAbsent uint32 = stdmath.MaxUint32

type GeometryRegistryConfig struct {
	MaxGeometryCount uint32
}

// GeometryRef is the cached view of one registered mesh.
type GeometryRef struct {
	Region metadata.GeometryRegion
	// Row is the mesh's index in the region table.
	Row uint32
	// Pending is set while any of the mesh's allocations waits for the next
	// compaction point. Pending meshes must not be drawn.
	Pending bool
}

type geometryEntry struct {
	name        string
	vertex      metadata.AllocationHandle
	index       metadata.AllocationHandle
	row         metadata.AllocationHandle
	indexCount  uint32
	vertexCount uint32
	// byte offsets of each stream inside the vertex allocation
	streams [5]uint32
	ref     GeometryRef
	// referenceCount counts the renderables drawing the mesh.
	referenceCount uint32
	// autoRelease frees the mesh when referenceCount drops to zero.
	autoRelease bool
}

const (
	streamPosition = iota
	streamColor
	streamTexCoord
	streamNormal
	streamAnimation
)

type Model struct {
	Name      string
	Meshes    []metadata.GeometryHandle
	Skin      []byte
	Animation []byte
}

// GeometryRegistry owns the meshes stored in the shared vertex and index
// arenas and their rows in the region table.
type GeometryRegistry struct {
	config   GeometryRegistryConfig
	vertices *arena.Arena
	indices  *arena.Arena
	regions  *arena.Arena

	mu              sync.RWMutex
	geometries      *core.HandleTable[*geometryEntry]
	byName          map[string]metadata.GeometryHandle
	models          *core.HandleTable[*Model]
	defaultGeometry metadata.GeometryHandle
}

/**
 * @brief Initializes the geometry registry over the given arenas and creates
 * the default geometry.
 */
func NewGeometryRegistry(config GeometryRegistryConfig, vertices, indices, regions *arena.Arena) (*GeometryRegistry, error) {
	if config.MaxGeometryCount == 0 {
		err := fmt.Errorf("func NewGeometryRegistry - config.MaxGeometryCount must be > 0")
		core.LogWarn(err.Error())
		return nil, err
	}
	gr := &GeometryRegistry{
		config:     config,
		vertices:   vertices,
		indices:    indices,
		regions:    regions,
		geometries: core.NewHandleTable[*geometryEntry](int(config.MaxGeometryCount)),
		byName:     make(map[string]metadata.GeometryHandle),
		models:     core.NewHandleTable[*Model](64),
	}
	vertices.OnRemap(gr.onGeometryRemap)
	indices.OnRemap(gr.onGeometryRemap)
	regions.OnRemap(gr.onRegionsRemap)

	h, err := gr.CreateStaticMesh(metadata.DefaultGeometryName, 10, 10, 10, 1, 1)
	if err != nil {
		err = fmt.Errorf("failed to create default geometry: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	gr.defaultGeometry = h
	return gr, nil
}

func (gr *GeometryRegistry) DefaultGeometry() metadata.GeometryHandle {
	return gr.defaultGeometry
}

// RegisterMesh uploads the mesh streams and appends its region row.
func (gr *GeometryRegistry) RegisterMesh(data metadata.GeometryData) (metadata.GeometryHandle, error) {
	if err := data.Validate(); err != nil {
		return 0, err
	}

	gr.mu.Lock()
	defer gr.mu.Unlock()

	if data.Name != "" {
		if _, exists := gr.byName[data.Name]; exists {
			return 0, fmt.Errorf("geometry %q already registered", data.Name)
		}
	}
	if uint32(gr.geometries.Len()) >= gr.config.MaxGeometryCount {
		return 0, fmt.Errorf("geometry %q: %d geometries registered: %w", data.Name, gr.geometries.Len(), core.ErrCapacityExceeded)
	}

	e := &geometryEntry{name: data.Name}
	if err := gr.upload(e, data); err != nil {
		return 0, err
	}
	if err := gr.refreshRow(e); err != nil {
		gr.releaseEntry(e)
		return 0, err
	}
	h := metadata.GeometryHandle(gr.geometries.Acquire(e))
	if data.Name != "" {
		gr.byName[data.Name] = h
	}
	core.LogDebug("geometry %q registered as %s (%d vertices, %d indices)", data.Name, h, e.vertexCount, e.indexCount)
	return h, nil
}

// upload copies the streams of data into fresh allocations owned by e.
func (gr *GeometryRegistry) upload(e *geometryEntry, data metadata.GeometryData) error {
	blobs := [5][]byte{data.Position, data.Color, data.TexCoord, data.Normal, data.Animation}
	var size uint32
	for i, b := range blobs {
		if len(b) == 0 {
			e.streams[i] = AttributeAbsent
			continue
		}
		e.streams[i] = size
		size += uint32(len(b))
	}

	vh, err := gr.vertices.Allocate(uint64(size))
	if err != nil {
		return fmt.Errorf("geometry %q vertices: %w", data.Name, err)
	}
	for i, b := range blobs {
		if len(b) == 0 {
			continue
		}
		if err := gr.vertices.Write(vh, uint64(e.streams[i]), b); err != nil {
			_ = gr.vertices.Release(vh)
			return fmt.Errorf("geometry %q vertices: %w", data.Name, err)
		}
	}

	ih, err := gr.indices.Allocate(uint64(len(data.Index)))
	if err != nil {
		_ = gr.vertices.Release(vh)
		return fmt.Errorf("geometry %q indices: %w", data.Name, err)
	}
	if err := gr.indices.Write(ih, 0, data.Index); err != nil {
		_ = gr.vertices.Release(vh)
		_ = gr.indices.Release(ih)
		return fmt.Errorf("geometry %q indices: %w", data.Name, err)
	}

	e.vertex = vh
	e.index = ih
	e.vertexCount = data.VertexCount()
	e.indexCount = data.IndexCount()
	return nil
}

func (gr *GeometryRegistry) computeRegion(e *geometryEntry) (metadata.GeometryRegion, bool, error) {
	vr, err := gr.vertices.RegionOf(e.vertex)
	if err != nil {
		return metadata.GeometryRegion{}, false, err
	}
	ir, err := gr.indices.RegionOf(e.index)
	if err != nil {
		return metadata.GeometryRegion{}, false, err
	}
	attr := func(stream int) uint32 {
		if e.streams[stream] == AttributeAbsent {
			return AttributeAbsent
		}
		return uint32(vr.Offset) + e.streams[stream]
	}
	region := metadata.GeometryRegion{
		IndexCount:      e.indexCount,
		FirstIndex:      uint32(ir.Offset / metadata.IndexStride),
		VertexOffset:    int32(vr.Offset / metadata.PositionStride),
		VertexCount:     e.vertexCount,
		PositionOffset:  attr(streamPosition),
		ColorOffset:     attr(streamColor),
		TexCoordOffset:  attr(streamTexCoord),
		NormalOffset:    attr(streamNormal),
		AnimationOffset: attr(streamAnimation),
		InstanceCount:   1,
		FirstInstance:   0,
	}
	return region, vr.Pending || ir.Pending, nil
}

// refreshRow recomputes the region of e and, when it changed, writes it to a
// new row. Rows are immutable once written; the old one is released.
func (gr *GeometryRegistry) refreshRow(e *geometryEntry) error {
	region, pending, err := gr.computeRegion(e)
	if err != nil {
		return err
	}
	if e.row.IsValid() && region == e.ref.Region {
		e.ref.Pending = pending
		return gr.refreshRowIndex(e)
	}

	row, err := gr.regions.Allocate(metadata.GeometryRegionSize)
	if err != nil {
		return fmt.Errorf("geometry %q region row: %w", e.name, err)
	}
	if err := gr.regions.Write(row, 0, region.Bytes()); err != nil {
		_ = gr.regions.Release(row)
		return fmt.Errorf("geometry %q region row: %w", e.name, err)
	}
	if e.row.IsValid() {
		if err := gr.regions.Release(e.row); err != nil {
			core.LogWarn("geometry %q: releasing old region row: %s", e.name, err)
		}
	}
	e.row = row
	e.ref.Region = region
	e.ref.Pending = pending
	return gr.refreshRowIndex(e)
}

func (gr *GeometryRegistry) refreshRowIndex(e *geometryEntry) error {
	rr, err := gr.regions.RegionOf(e.row)
	if err != nil {
		return err
	}
	e.ref.Row = uint32(rr.Offset / metadata.GeometryRegionSize)
	e.ref.Pending = e.ref.Pending || rr.Pending
	return nil
}

// onGeometryRemap re-creates every row after the vertex or index arena moved.
func (gr *GeometryRegistry) onGeometryRemap(a *arena.Arena) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	core.LogDebug("arena %s remapped, rebuilding geometry regions", a.Name())
	gr.geometries.Each(func(h core.Handle, e **geometryEntry) {
		if err := gr.refreshRow(*e); err != nil {
			core.LogError("geometry %s: %s", metadata.GeometryHandle(h), err)
		}
	})
}

func (gr *GeometryRegistry) onRegionsRemap(a *arena.Arena) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	gr.geometries.Each(func(h core.Handle, e **geometryEntry) {
		entry := *e
		_, pending, err := gr.computeRegion(entry)
		if err != nil {
			core.LogError("geometry %s: %s", metadata.GeometryHandle(h), err)
			return
		}
		entry.ref.Pending = pending
		if err := gr.refreshRowIndex(entry); err != nil {
			core.LogError("geometry %s: %s", metadata.GeometryHandle(h), err)
		}
	})
}

// RegionFor returns the cached region of h.
func (gr *GeometryRegistry) RegionFor(h metadata.GeometryHandle) (GeometryRef, error) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	e, err := gr.geometries.Get(core.Handle(h))
	if err != nil {
		return GeometryRef{}, fmt.Errorf("geometry %s: %w", h, err)
	}
	return e.ref, nil
}

// Lookup finds a mesh by name.
func (gr *GeometryRegistry) Lookup(name string) (metadata.GeometryHandle, bool) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	h, ok := gr.byName[name]
	return h, ok
}

func (gr *GeometryRegistry) Count() int {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return gr.geometries.Len()
}

// ReplaceMesh re-imports h. The old allocations are released through the
// arenas and reclaimed once the frames that read them retire.
func (gr *GeometryRegistry) ReplaceMesh(h metadata.GeometryHandle, data metadata.GeometryData) error {
	if err := data.Validate(); err != nil {
		return err
	}

	gr.mu.Lock()
	defer gr.mu.Unlock()

	e, err := gr.geometries.Get(core.Handle(h))
	if err != nil {
		return fmt.Errorf("geometry %s: %w", h, err)
	}
	if e.autoRelease {
		return fmt.Errorf("geometry %s is being released: %w", h, core.ErrStaleHandle)
	}
	next := &geometryEntry{name: e.name}
	if err := gr.upload(next, data); err != nil {
		return err
	}
	old := *e
	e.vertex, e.index = next.vertex, next.index
	e.vertexCount, e.indexCount = next.vertexCount, next.indexCount
	e.streams = next.streams
	if err := gr.refreshRow(e); err != nil {
		*e = old
		gr.releaseEntry(next)
		return err
	}
	if err := gr.vertices.Release(old.vertex); err != nil {
		core.LogWarn("geometry %q: %s", e.name, err)
	}
	if err := gr.indices.Release(old.index); err != nil {
		core.LogWarn("geometry %q: %s", e.name, err)
	}
	core.LogDebug("geometry %q replaced", e.name)
	return nil
}

// Release drops the mesh. While renderables still draw it, the mesh stays
// resident and is freed when the last of them is destroyed. Its storage is
// reclaimed after retirement.
func (gr *GeometryRegistry) Release(h metadata.GeometryHandle) error {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	if h == gr.defaultGeometry {
		return fmt.Errorf("the default geometry cannot be released")
	}
	e, err := gr.geometries.Get(core.Handle(h))
	if err != nil {
		return fmt.Errorf("geometry %s: %w", h, err)
	}
	if e.autoRelease {
		return fmt.Errorf("geometry %s is already being released: %w", h, core.ErrStaleHandle)
	}
	if e.name != "" {
		delete(gr.byName, e.name)
	}
	if e.referenceCount > 0 {
		e.autoRelease = true
		core.LogDebug("geometry %q still drawn by %d renderables, release deferred", e.name, e.referenceCount)
		return nil
	}
	gr.destroyLocked(h)
	return nil
}

// acquire adds a reference to h on behalf of a renderable. Meshes being
// released take no new references.
func (gr *GeometryRegistry) acquire(h metadata.GeometryHandle) error {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	e, err := gr.geometries.Get(core.Handle(h))
	if err != nil {
		return fmt.Errorf("geometry %s: %w", h, err)
	}
	if e.autoRelease {
		return fmt.Errorf("geometry %s is being released: %w", h, core.ErrStaleHandle)
	}
	e.referenceCount++
	return nil
}

// unref drops a reference taken by acquire.
func (gr *GeometryRegistry) unref(h metadata.GeometryHandle) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	e, err := gr.geometries.Get(core.Handle(h))
	if err != nil {
		core.LogError("geometry %s: releasing a reference: %s", h, err)
		return
	}
	if e.referenceCount > 0 {
		e.referenceCount--
	}
	if e.referenceCount == 0 && e.autoRelease {
		gr.destroyLocked(h)
	}
}

// References is the number of renderables drawing h.
func (gr *GeometryRegistry) References(h metadata.GeometryHandle) (uint32, error) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	e, err := gr.geometries.Get(core.Handle(h))
	if err != nil {
		return 0, fmt.Errorf("geometry %s: %w", h, err)
	}
	return e.referenceCount, nil
}

func (gr *GeometryRegistry) destroyLocked(h metadata.GeometryHandle) {
	e, err := gr.geometries.Release(core.Handle(h))
	if err != nil {
		core.LogError("geometry %s: %s", h, err)
		return
	}
	core.LogDebug("geometry %q destroyed", e.name)
	gr.releaseEntry(e)
}

func (gr *GeometryRegistry) releaseEntry(e *geometryEntry) {
	if e.vertex.IsValid() {
		_ = gr.vertices.Release(e.vertex)
	}
	if e.index.IsValid() {
		_ = gr.indices.Release(e.index)
	}
	if e.row.IsValid() {
		_ = gr.regions.Release(e.row)
	}
}

// CreateStaticMesh registers a box mesh with generated normals and texture
// coordinates.
func (gr *GeometryRegistry) CreateStaticMesh(name string, width, height, depth, tileX, tileY float32) (metadata.GeometryHandle, error) {
	if width == 0 || height == 0 || depth == 0 {
		return 0, fmt.Errorf("static mesh %q: dimensions must be nonzero", name)
	}
	positions, normals, texcoords, indices := math.Box(width, height, depth, tileX, tileY)
	return gr.RegisterMesh(metadata.NewGeometryData(name, positions, normals, texcoords, nil, indices))
}

// CreateModel registers every mesh of the model. On failure the meshes
// already registered are released.
func (gr *GeometryRegistry) CreateModel(data metadata.ModelData) (metadata.ModelHandle, error) {
	if len(data.Meshes) == 0 {
		return 0, fmt.Errorf("model %q has no meshes", data.Name)
	}
	model := &Model{Name: data.Name, Skin: data.Skin, Animation: data.Animation}
	for i, mesh := range data.Meshes {
		if mesh.Name == "" && data.Name != "" {
			mesh.Name = fmt.Sprintf("%s/%d", data.Name, i)
		}
		h, err := gr.RegisterMesh(mesh)
		if err != nil {
			for _, done := range model.Meshes {
				_ = gr.Release(done)
			}
			return 0, fmt.Errorf("model %q mesh %d: %w", data.Name, i, err)
		}
		model.Meshes = append(model.Meshes, h)
	}
	gr.mu.Lock()
	h := metadata.ModelHandle(gr.models.Acquire(model))
	gr.mu.Unlock()
	return h, nil
}

func (gr *GeometryRegistry) Model(h metadata.ModelHandle) (Model, error) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	m, err := gr.models.Get(core.Handle(h))
	if err != nil {
		return Model{}, fmt.Errorf("model: %w", err)
	}
	return *m, nil
}

// ReleaseModel releases the model and all of its meshes.
func (gr *GeometryRegistry) ReleaseModel(h metadata.ModelHandle) error {
	gr.mu.Lock()
	m, err := gr.models.Release(core.Handle(h))
	gr.mu.Unlock()
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	for _, mesh := range m.Meshes {
		if err := gr.Release(mesh); err != nil {
			core.LogWarn("model %q: %s", m.Name, err)
		}
	}
	return nil
}

/**
 * @brief Shuts down the geometry registry, releasing every mesh.
 */
func (gr *GeometryRegistry) Shutdown() {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	gr.geometries.Each(func(_ core.Handle, e **geometryEntry) {
		gr.releaseEntry(*e)
	})
	gr.geometries = core.NewHandleTable[*geometryEntry](int(gr.config.MaxGeometryCount))
	gr.byName = make(map[string]metadata.GeometryHandle)
}
