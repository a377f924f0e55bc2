package renderer

import (
	"github.com/spaghettifunk/anima-render/engine/renderer/frame"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Backend is everything the frame core needs from a graphics API: buffer
// and image creation plus a presenter owning the swapchain and the queue.
type Backend interface {
	metadata.BufferDevice
	metadata.ImageDevice
	frame.Presenter
	Name() string
	// Resize recreates the surface-dependent resources after AcquireImage
	// reported core.ErrNeedsResize.
	Resize(width, height uint32) error
	Shutdown() error
}
