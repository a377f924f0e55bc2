package headless

import (
	"github.com/spaghettifunk/anima-render/engine/core"
)

// Backend pairs the host-memory device with the presenter. Submissions
// complete immediately.
type Backend struct {
	*Device
	*Presenter
}

func NewBackend(framesInFlight int) *Backend {
	core.LogInfo("headless backend with %d frames in flight", framesInFlight)
	return &Backend{
		Device:    NewDevice(),
		Presenter: NewPresenter(framesInFlight, true),
	}
}

func (b *Backend) Name() string {
	return "headless"
}

func (b *Backend) Shutdown() error {
	b.Presenter.CompleteAll()
	core.LogDebug("headless backend shut down with %d live buffers and %d live images", b.LiveBuffers(), b.LiveImages())
	return nil
}
