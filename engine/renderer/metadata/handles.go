package metadata

import "github.com/spaghettifunk/anima-render/engine/core"

// Typed handles exposed to gameplay code. Each registry owns the table that
// issues its handle type.
type (
	GeometryHandle     core.Handle
	MaterialHandle     core.Handle
	TextureHandle      core.Handle
	RenderableHandle   core.Handle
	RenderConfigHandle core.Handle
	ModelHandle        core.Handle
	// AllocationHandle identifies a region inside a ResourceArena.
	AllocationHandle core.Handle
)

func (h GeometryHandle) IsValid() bool     { return core.Handle(h).IsValid() }
func (h MaterialHandle) IsValid() bool     { return core.Handle(h).IsValid() }
func (h TextureHandle) IsValid() bool      { return core.Handle(h).IsValid() }
func (h RenderableHandle) IsValid() bool   { return core.Handle(h).IsValid() }
func (h RenderConfigHandle) IsValid() bool { return core.Handle(h).IsValid() }
func (h ModelHandle) IsValid() bool        { return core.Handle(h).IsValid() }
func (h AllocationHandle) IsValid() bool   { return core.Handle(h).IsValid() }

func (h GeometryHandle) String() string   { return "geometry:" + core.Handle(h).String() }
func (h RenderableHandle) String() string { return "renderable:" + core.Handle(h).String() }
func (h AllocationHandle) String() string { return "allocation:" + core.Handle(h).String() }
func (h TextureHandle) String() string    { return "texture:" + core.Handle(h).String() }
func (h MaterialHandle) String() string   { return "material:" + core.Handle(h).String() }

/** @brief A range, typically of memory */
type MemoryRange struct {
	/** @brief The Offset in bytes. */
	Offset uint64
	/** @brief The size in bytes. */
	Size uint64
}

func (r MemoryRange) End() uint64 {
	return r.Offset + r.Size
}

// Overlaps reports whether the two ranges share at least one byte.
func (r MemoryRange) Overlaps(other MemoryRange) bool {
	return r.Offset < other.End() && other.Offset < r.End()
}
