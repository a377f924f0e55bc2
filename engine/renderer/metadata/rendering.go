package metadata

import (
	m "github.com/spaghettifunk/anima-render/engine/math"
)

// RenderableData registers a drawable entity.
type RenderableData struct {
	RenderConfig RenderConfigHandle
	Geometry     GeometryHandle
	Material     MaterialHandle
	// ObjectID is the owning entity's id on the gameplay side.
	ObjectID uint32
}

// RenderableResources is what the gameplay side keeps for a registered renderable.
type RenderableResources struct {
	Handle RenderableHandle
	// ObjectIndex is the renderable's row in the object data table.
	ObjectIndex uint32
}

// ObjectSnapshot is one renderable's state for a frame.
type ObjectSnapshot struct {
	Renderable     RenderableHandle
	Model          m.Mat4
	AnimationIndex uint32
}

// RenderData is the per-tick snapshot handed from the world to the renderer.
type RenderData struct {
	Camera  CameraData
	Objects []ObjectSnapshot
	// MeshesByCategory, when non-nil, restricts the frame's draws to the
	// listed renderables of each render config.
	MeshesByCategory map[RenderConfigHandle][]RenderableHandle
	// Animations holds one bone palette per animation index.
	Animations [][]m.Mat4
	DeltaTime  float64
}

// DrawBatch is the slice of the indirect buffer drawn with one render config.
type DrawBatch struct {
	RenderConfig RenderConfigHandle
	FirstCommand uint32
	CommandCount uint32
}

// CommandRecorder records one frame's GPU commands.
type CommandRecorder interface {
	Begin() error
	PipelineBarrier(barriers []BufferBarrier)
	TransitionImages(transitions []ImageTransition)
	BindRenderConfig(config RenderConfigHandle)
	BindGeometry(vertex, index Buffer)
	Dispatch(groupsX, groupsY, groupsZ uint32)
	DrawIndexedIndirect(indirect Buffer, offset uint64, drawCount, stride uint32)
	End() error
}
