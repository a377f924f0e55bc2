package metadata

// BufferUsage describes how a buffer is bound.
type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndirect
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

// Buffer is a host-visible GPU buffer.
type Buffer interface {
	Label() string
	Size() uint64
	Write(offset uint64, data []byte) error
	Read(offset, size uint64) ([]byte, error)
	Destroy()
}

// BufferDevice creates buffers. Implemented by each backend.
type BufferDevice interface {
	CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error)
}

// Image is a sampled 2D RGBA8 image.
type Image interface {
	Name() string
	Width() uint32
	Height() uint32
	Destroy()
}

type Sampler interface {
	Destroy()
}

// ImageDevice creates images and samplers. Implemented by each backend.
type ImageDevice interface {
	CreateImage(name string, width, height uint32, pixels []byte) (Image, error)
	CreateSampler(config SamplerConfig) (Sampler, error)
}
