package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// commandRecorder translates one frame's recorded calls into a primary
// command buffer. The main render pass opens with the first draw call and
// closes before any barrier or dispatch.
type commandRecorder struct {
	backend *Backend
	cb      *VulkanCommandBuffer

	framebuffer vk.Framebuffer
	extent      vk.Extent2D

	inRenderPass   bool
	renderPassUsed bool
	pipelineBound  bool

	// staging buffers whose copies this frame carries.
	staged []*Buffer
}

func (r *commandRecorder) Begin() error {
	r.inRenderPass = false
	r.renderPassUsed = false
	r.pipelineBound = false
	r.staged = r.staged[:0]
	if err := r.cb.Reset(); err != nil {
		return err
	}
	return r.cb.Begin(true)
}

func (r *commandRecorder) openRenderPass() {
	if r.inRenderPass {
		return
	}
	r.backend.context.MainRenderpass.Begin(r.cb, r.framebuffer, r.extent)
	r.inRenderPass = true
	r.renderPassUsed = true

	viewport := vk.Viewport{
		Y:        float32(r.extent.Height),
		Width:    float32(r.extent.Width),
		Height:   -float32(r.extent.Height),
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{Extent: r.extent}
	vk.CmdSetViewport(r.cb.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(r.cb.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (r *commandRecorder) closeRenderPass() {
	if !r.inRenderPass {
		return
	}
	r.backend.context.MainRenderpass.End(r.cb)
	r.inRenderPass = false
	r.pipelineBound = false
}

// PipelineBarrier folds the barriers into one vkCmdPipelineBarrier with a
// global memory barrier per entry. Every access is on the single queue, so
// no buffer ranges or ownership transfers are needed.
func (r *commandRecorder) PipelineBarrier(barriers []metadata.BufferBarrier) {
	if len(barriers) == 0 {
		return
	}
	r.closeRenderPass()

	var src, dst metadata.StageFlags
	memoryBarriers := make([]vk.MemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		src |= b.SrcStage
		dst |= b.DstStage
		memoryBarriers = append(memoryBarriers, vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(b.SrcAccess),
			DstAccessMask: vk.AccessFlags(b.DstAccess),
		})
	}
	if src == 0 {
		src = metadata.StageTopOfPipe
	}
	if dst == 0 {
		dst = metadata.StageBottomOfPipe
	}
	vk.CmdPipelineBarrier(r.cb.Handle,
		vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		uint32(len(memoryBarriers)), memoryBarriers,
		0, nil,
		0, nil)
}

// TransitionImages emits one image barrier per transition, in order. An
// image entering TRANSFER_DST_OPTIMAL gets its staged pixels copied right
// after its barrier.
func (r *commandRecorder) TransitionImages(transitions []metadata.ImageTransition) {
	r.closeRenderPass()
	for _, t := range transitions {
		img, ok := t.Image.(*VulkanImage)
		if !ok || img.destroyed.Load() {
			core.LogWarn("skipping layout transition of foreign or destroyed image %T", t.Image)
			continue
		}
		src := t.SrcStage
		if src == 0 {
			src = metadata.StageTopOfPipe
		}
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(t.SrcAccess),
			DstAccessMask:       vk.AccessFlags(t.DstAccess),
			OldLayout:           vk.ImageLayout(t.OldLayout),
			NewLayout:           vk.ImageLayout(t.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		vk.CmdPipelineBarrier(r.cb.Handle,
			vk.PipelineStageFlags(src), vk.PipelineStageFlags(t.DstStage), 0,
			0, nil,
			0, nil,
			1, []vk.ImageMemoryBarrier{barrier})

		if t.NewLayout == metadata.ImageLayoutTransferDstOptimal {
			if staging, ok := img.recordUpload(r.cb); ok {
				r.staged = append(r.staged, staging)
			}
		}
	}
}

func (r *commandRecorder) BindRenderConfig(config metadata.RenderConfigHandle) {
	r.openRenderPass()
	pipeline, ok := r.backend.graphicsPipeline(config)
	if !ok {
		core.LogDebug("no pipeline registered for render config %d, draws skipped", config)
		r.pipelineBound = false
		return
	}
	vk.CmdBindPipeline(r.cb.Handle, vk.PipelineBindPointGraphics, pipeline)
	r.pipelineBound = true
}

func (r *commandRecorder) BindGeometry(vertex, index metadata.Buffer) {
	r.openRenderPass()
	vb, vok := vertex.(*Buffer)
	ib, iok := index.(*Buffer)
	if !vok || !iok {
		core.LogWarn("BindGeometry with foreign buffers %T, %T", vertex, index)
		return
	}
	vk.CmdBindVertexBuffers(r.cb.Handle, 0, 1, []vk.Buffer{vb.handle}, []vk.DeviceSize{0})
	vk.CmdBindIndexBuffer(r.cb.Handle, ib.handle, 0, vk.IndexTypeUint32)
}

func (r *commandRecorder) Dispatch(groupsX, groupsY, groupsZ uint32) {
	r.closeRenderPass()
	pipeline, ok := r.backend.computePipeline()
	if !ok {
		core.LogDebug("no cull pipeline registered, dispatch skipped")
		return
	}
	vk.CmdBindPipeline(r.cb.Handle, vk.PipelineBindPointCompute, pipeline)
	vk.CmdDispatch(r.cb.Handle, groupsX, groupsY, groupsZ)
}

func (r *commandRecorder) DrawIndexedIndirect(indirect metadata.Buffer, offset uint64, drawCount, stride uint32) {
	r.openRenderPass()
	if !r.pipelineBound || drawCount == 0 {
		return
	}
	b, ok := indirect.(*Buffer)
	if !ok {
		core.LogWarn("DrawIndexedIndirect with foreign buffer %T", indirect)
		return
	}
	if r.backend.context.Device.MultiDrawIndirect {
		vk.CmdDrawIndexedIndirect(r.cb.Handle, b.handle, vk.DeviceSize(offset), drawCount, stride)
		return
	}
	for i := uint32(0); i < drawCount; i++ {
		vk.CmdDrawIndexedIndirect(r.cb.Handle, b.handle, vk.DeviceSize(offset+uint64(i)*uint64(stride)), 1, stride)
	}
}

// End closes the render pass. A frame without draws still runs the pass
// once so the swapchain image is cleared and moved to PRESENT_SRC.
func (r *commandRecorder) End() error {
	if !r.renderPassUsed {
		r.openRenderPass()
	}
	r.closeRenderPass()
	return r.cb.End()
}
