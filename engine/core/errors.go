package core

import (
	"errors"
)

var (
	// ErrCapacityExceeded is returned when a fixed buffer is full or an arena
	// would have to grow past its configured ceiling.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrStaleHandle is returned for lookups against a released or regenerated handle.
	ErrStaleHandle = errors.New("stale handle")
	// ErrHazardUnresolved is returned when no safe ordering can be derived for a resource access.
	ErrHazardUnresolved = errors.New("hazard unresolved")
	// ErrAcquireTimeout is returned when a frame slot did not retire in time.
	ErrAcquireTimeout = errors.New("frame slot acquire timed out")
	// ErrNeedsResize is returned when the presentation surface is stale or resized.
	ErrNeedsResize = errors.New("swapchain resized or recreated, booting")
	// ErrFrameInProgress is returned when a frame is acquired while another one is recording.
	ErrFrameInProgress = errors.New("another frame is still recording")
	// ErrQueueFull is the back-pressure signal of bounded queues.
	ErrQueueFull = errors.New("queue is full")
	// ErrShutdown is returned by systems that were already shut down.
	ErrShutdown = errors.New("system is shut down")
	ErrUnknown  = errors.New("unknown")
)
