package systems

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer"
	"github.com/spaghettifunk/anima-render/engine/renderer/frame"
)

// RendererSystem drives one frame per DrawFrame call: acquire, upload,
// record, submit and present.
type RendererSystem struct {
	backend renderer.Backend
	frames  *frame.Manager
	draw    *DrawContext
	mailbox *RenderDataMailbox

	mu sync.Mutex
	// The current window framebuffer width.
	FramebufferWidth uint32
	// The current window framebuffer height.
	FramebufferHeight uint32
	// Indicates a resize is pending and applied before the next acquire.
	Resizing bool
	// The number of frames skipped because the surface was out of date.
	SkippedFrames uint64

	lastDraw FrameDraw
}

func NewRendererSystem(backend renderer.Backend, frames *frame.Manager, draw *DrawContext, mailbox *RenderDataMailbox, width, height uint32) *RendererSystem {
	return &RendererSystem{
		backend:           backend,
		frames:            frames,
		draw:              draw,
		mailbox:           mailbox,
		FramebufferWidth:  width,
		FramebufferHeight: height,
	}
}

// OnResized records the new framebuffer size. It is an event bus handler.
func (r *RendererSystem) OnResized(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	r.mu.Lock()
	r.FramebufferWidth = ctx.Data.U32[0]
	r.FramebufferHeight = ctx.Data.U32[1]
	r.Resizing = true
	r.mu.Unlock()
	return false
}

func (r *RendererSystem) applyResize() error {
	r.mu.Lock()
	w, h := r.FramebufferWidth, r.FramebufferHeight
	r.Resizing = false
	r.mu.Unlock()
	if w == 0 || h == 0 {
		// minimized
		return nil
	}
	if err := r.backend.Resize(w, h); err != nil {
		return fmt.Errorf("resize to %dx%d: %w", w, h, err)
	}
	core.LogInfo("surface resized to %dx%d", w, h)
	return nil
}

// DrawFrame renders the latest published snapshot. An out-of-date surface
// skips the frame after recreating it. An acquire timeout is returned to
// the caller.
func (r *RendererSystem) DrawFrame(ctx context.Context) error {
	r.mu.Lock()
	resizing := r.Resizing
	r.mu.Unlock()
	if resizing {
		if err := r.applyResize(); err != nil {
			return err
		}
	}

	data, _, _ := r.mailbox.Latest()

	slot, err := r.frames.AcquireFrame(ctx)
	if errors.Is(err, core.ErrNeedsResize) {
		r.SkippedFrames++
		return r.applyResize()
	}
	if err != nil {
		return err
	}

	fd, err := r.draw.Prepare(slot, data)
	if err != nil {
		r.frames.Abort(slot)
		core.LogError("frame %d: prepare failed: %s", slot.Frame, err)
		return err
	}
	if err := r.frames.Render(slot); err != nil {
		return err
	}
	r.lastDraw = fd

	if err := r.frames.Present(slot); err != nil {
		if errors.Is(err, core.ErrNeedsResize) {
			return r.applyResize()
		}
		return err
	}
	return nil
}

// LastDraw is what the most recent successful frame drew.
func (r *RendererSystem) LastDraw() FrameDraw {
	return r.lastDraw
}
