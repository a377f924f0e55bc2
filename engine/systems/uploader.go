package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/arena"
	"github.com/spaghettifunk/anima-render/engine/renderer/frame"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Names of the passes Prepare declares.
const (
	PassUpload = "upload"
	PassCull   = "cull"
	PassDraw   = "draw"
)

const cullGroupSize = 64

// FrameDraw describes what Prepare uploaded for a frame.
type FrameDraw struct {
	Frame          uint64
	Commands       []metadata.IndirectCommand
	Batches        []metadata.DrawBatch
	IndirectOffset uint64
	UniformOffset  uint64
	Textures       []metadata.DescriptorImageInfo
	// Skipped is set when a per-frame buffer had no placement yet and the
	// frame records no draws.
	Skipped bool
}

// Prepare uploads the snapshot for the slot and declares the frame's
// upload, cull and draw passes.
func (dc *DrawContext) Prepare(slot *frame.FrameSlot, data metadata.RenderData) (FrameDraw, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	fd := FrameDraw{Frame: slot.Frame}
	if err := dc.uploadObjects(slot.Index, data.Objects); err != nil {
		return fd, err
	}

	uniform, ok, err := dc.uploadPerFrame(dc.arenas.Uniform, uniformBytes(data))
	if err != nil {
		return fd, err
	}
	fd.UniformOffset = uniform
	fd.Skipped = !ok

	fd.Commands, fd.Batches, err = dc.buildLocked(data.MeshesByCategory)
	if err != nil {
		return fd, err
	}
	if len(fd.Commands) > 0 && !fd.Skipped {
		offset, ok, err := dc.uploadPerFrame(dc.arenas.Indirect, metadata.EncodeIndirectCommands(fd.Commands))
		if err != nil {
			return fd, err
		}
		fd.IndirectOffset = offset
		fd.Skipped = !ok
	}
	fd.Textures = dc.textures.GetDescriptorImageInfoList()

	if err := dc.declarePasses(slot, &fd); err != nil {
		return fd, err
	}
	return fd, nil
}

// uploadObjects writes the slot's copy of every snapshot's object row,
// split into chunks run on the job system.
func (dc *DrawContext) uploadObjects(slot int, objects []metadata.ObjectSnapshot) error {
	if len(objects) == 0 {
		return nil
	}
	write := func(chunk []metadata.ObjectSnapshot) error {
		var errs []error
		for _, snap := range chunk {
			e, err := dc.renderables.Get(core.Handle(snap.Renderable))
			if err != nil {
				core.LogWarn("object snapshot for %s dropped: %s", snap.Renderable, err)
				continue
			}
			od, err := dc.objectData(e, snap)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", snap.Renderable, err))
				continue
			}
			if err := dc.writeObjectLocked(snap.Renderable, slot, od); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	size := dc.config.ChunkSize
	if dc.jobs == nil || len(objects) <= size {
		return write(objects)
	}
	var tasks []JobTask
	for start := 0; start < len(objects); start += size {
		end := min(start+size, len(objects))
		chunk := objects[start:end]
		tasks = append(tasks, JobTask{
			Name:    fmt.Sprintf("objects[%d:%d]", start, end),
			OnStart: func() error { return write(chunk) },
		})
	}
	return dc.jobs.Run(tasks)
}

func uniformBytes(data metadata.RenderData) []byte {
	out := data.Camera.Bytes()
	for _, palette := range data.Animations {
		out = append(out, metadata.EncodeMat4Palette(palette)...)
	}
	return out
}

// uploadPerFrame writes data into a one-frame allocation of a
// and releases it at once; the space is reused after the frame retires. ok
// is false when the allocation has no placement until the next compaction
// point, in which case headroom is requested for it.
func (dc *DrawContext) uploadPerFrame(a *arena.Arena, data []byte) (offset uint64, ok bool, err error) {
	name := a.Name()
	h, err := a.Allocate(uint64(len(data)))
	if err != nil {
		return 0, false, fmt.Errorf("per-frame %s data: %w", name, err)
	}
	defer func() {
		if rerr := a.Release(h); rerr != nil {
			core.LogWarn("arena %s: %s", name, rerr)
		}
	}()

	region, err := a.RegionOf(h)
	if err != nil {
		return 0, false, err
	}
	if region.Pending {
		core.LogWarn("arena %s full, skipping draws this frame", name)
		a.RequestHeadroom(uint64(len(data)))
		return 0, false, nil
	}
	if err := a.Write(h, 0, data); err != nil {
		return 0, false, err
	}
	return region.Offset, true, nil
}

func (dc *DrawContext) declarePasses(slot *frame.FrameSlot, fd *FrameDraw) error {
	objects := dc.arenas.Objects.ID()
	uniform := dc.arenas.Uniform.ID()
	indirect := dc.arenas.Indirect.ID()

	upload := frame.Pass{
		Name: PassUpload,
		Accesses: []frame.Access{
			{Resource: objects, IsWrite: true, Access: metadata.AccessTransferWrite, Stage: metadata.StageTransfer},
		},
	}
	if !fd.Skipped {
		upload.Accesses = append(upload.Accesses,
			frame.Access{Resource: uniform, IsWrite: true, Access: metadata.AccessTransferWrite, Stage: metadata.StageTransfer})
		if len(fd.Commands) > 0 {
			upload.Accesses = append(upload.Accesses,
				frame.Access{Resource: indirect, IsWrite: true, Access: metadata.AccessTransferWrite, Stage: metadata.StageTransfer})
		}
	}
	if _, err := slot.AddPass(upload); err != nil {
		return err
	}
	if fd.Skipped || len(fd.Commands) == 0 {
		return nil
	}

	groups := (uint32(len(fd.Commands)) + cullGroupSize - 1) / cullGroupSize
	cull := frame.Pass{
		Name: PassCull,
		Accesses: []frame.Access{
			{Resource: objects, Access: metadata.AccessShaderRead, Stage: metadata.StageComputeShader},
			{Resource: dc.arenas.Regions.ID(), Access: metadata.AccessShaderRead, Stage: metadata.StageComputeShader},
			{Resource: indirect, IsWrite: true, Access: metadata.AccessShaderRead | metadata.AccessShaderWrite, Stage: metadata.StageComputeShader},
		},
		Record: func(rec metadata.CommandRecorder) error {
			rec.Dispatch(groups, 1, 1)
			return nil
		},
	}
	if _, err := slot.AddPass(cull); err != nil {
		return err
	}

	vertices := dc.arenas.Vertices.Buffer()
	indices := dc.arenas.Indices.Buffer()
	indirectBuffer := dc.arenas.Indirect.Buffer()
	batches := fd.Batches
	base := fd.IndirectOffset
	draw := frame.Pass{
		Name: PassDraw,
		Accesses: []frame.Access{
			{Resource: indirect, Access: metadata.AccessIndirectCommandRead, Stage: metadata.StageDrawIndirect},
			{Resource: dc.arenas.Vertices.ID(), Access: metadata.AccessVertexAttributeRead, Stage: metadata.StageVertexInput},
			{Resource: dc.arenas.Indices.ID(), Access: metadata.AccessIndexRead, Stage: metadata.StageVertexInput},
			{Resource: objects, Access: metadata.AccessShaderRead, Stage: metadata.StageVertexShader},
			{Resource: dc.arenas.Materials.ID(), Access: metadata.AccessShaderRead, Stage: metadata.StageFragmentShader},
			{Resource: uniform, Access: metadata.AccessUniformRead, Stage: metadata.StageVertexShader},
		},
		Record: func(rec metadata.CommandRecorder) error {
			rec.BindGeometry(vertices, indices)
			for _, b := range batches {
				rec.BindRenderConfig(b.RenderConfig)
				rec.DrawIndexedIndirect(indirectBuffer, base+uint64(b.FirstCommand)*metadata.IndirectCommandSize, b.CommandCount, metadata.IndirectCommandSize)
			}
			return nil
		},
	}
	_, err := slot.AddPass(draw)
	return err
}
