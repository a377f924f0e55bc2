// Package headless is a host-memory backend. It runs the whole frame
// pipeline without a GPU and records every command for inspection.
package headless

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Buffer is a byte slice standing in for host-visible GPU memory.
type Buffer struct {
	label     string
	usage     metadata.BufferUsage
	data      []byte
	destroyed atomic.Bool
	device    *Device
}

func (b *Buffer) Label() string {
	return b.label
}

func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *Buffer) Usage() metadata.BufferUsage {
	return b.usage
}

func (b *Buffer) Destroyed() bool {
	return b.destroyed.Load()
}

// Write copies data at offset. Concurrent writes to disjoint ranges are safe.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.destroyed.Load() {
		return fmt.Errorf("buffer %s: write after destroy", b.label)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("buffer %s: write of %d bytes at %d overflows %d bytes: %w", b.label, len(data), offset, len(b.data), core.ErrCapacityExceeded)
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *Buffer) Read(offset, size uint64) ([]byte, error) {
	if b.destroyed.Load() {
		return nil, fmt.Errorf("buffer %s: read after destroy", b.label)
	}
	if offset+size > uint64(len(b.data)) {
		return nil, fmt.Errorf("buffer %s: read of %d bytes at %d overflows %d bytes", b.label, size, offset, len(b.data))
	}
	out := make([]byte, size)
	copy(out, b.data[offset:offset+size])
	return out, nil
}

func (b *Buffer) Destroy() {
	if b.destroyed.Swap(true) {
		return
	}
	b.device.destroyedBuffers.Add(1)
}

type Image struct {
	name      string
	width     uint32
	height    uint32
	Pixels    []byte
	destroyed atomic.Bool
	device    *Device
}

func (i *Image) Name() string   { return i.name }
func (i *Image) Width() uint32  { return i.width }
func (i *Image) Height() uint32 { return i.height }

func (i *Image) Destroyed() bool {
	return i.destroyed.Load()
}

func (i *Image) Destroy() {
	if i.destroyed.Swap(true) {
		return
	}
	i.device.destroyedImages.Add(1)
}

type Sampler struct {
	Config metadata.SamplerConfig
}

func (s *Sampler) Destroy() {}

// Device implements metadata.BufferDevice and metadata.ImageDevice.
type Device struct {
	mu      sync.Mutex
	buffers []*Buffer
	images  []*Image

	destroyedBuffers atomic.Int64
	destroyedImages  atomic.Int64
}

func NewDevice() *Device {
	return &Device{}
}

func (d *Device) CreateBuffer(label string, size uint64, usage metadata.BufferUsage) (metadata.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("buffer %s: zero size", label)
	}
	b := &Buffer{
		label:  label,
		usage:  usage,
		data:   make([]byte, size),
		device: d,
	}
	d.mu.Lock()
	d.buffers = append(d.buffers, b)
	d.mu.Unlock()
	return b, nil
}

func (d *Device) CreateImage(name string, width, height uint32, pixels []byte) (metadata.Image, error) {
	if want := int(width) * int(height) * 4; len(pixels) != want {
		return nil, fmt.Errorf("image %s: %d bytes of pixels, expected %d", name, len(pixels), want)
	}
	img := &Image{
		name:   name,
		width:  width,
		height: height,
		Pixels: append([]byte(nil), pixels...),
		device: d,
	}
	d.mu.Lock()
	d.images = append(d.images, img)
	d.mu.Unlock()
	return img, nil
}

func (d *Device) CreateSampler(config metadata.SamplerConfig) (metadata.Sampler, error) {
	return &Sampler{Config: config}, nil
}

// LiveBuffers counts buffers created and not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers) - int(d.destroyedBuffers.Load())
}

func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images) - int(d.destroyedImages.Load())
}

// Buffers returns every buffer ever created, in creation order.
func (d *Device) Buffers() []*Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Buffer(nil), d.buffers...)
}
