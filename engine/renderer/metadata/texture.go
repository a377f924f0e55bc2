package metadata

const (
	/** @brief The default texture name. */
	DEFAULT_TEXTURE_NAME string = "default"
)

/** @brief Represents supported texture filtering modes. */
type TextureFilter int

const (
	/** @brief Nearest-neighbor filtering. */
	TextureFilterModeNearest TextureFilter = 0x0
	/** @brief Linear (i.e. bilinear) filtering.*/
	TextureFilterModeLinear TextureFilter = 0x1
)

type TextureRepeat int

const (
	TextureRepeatRepeat         TextureRepeat = 0x1
	TextureRepeatMirroredRepeat TextureRepeat = 0x2
	TextureRepeatClampToEdge    TextureRepeat = 0x3
	TextureRepeatClampToBorder  TextureRepeat = 0x4
)

// SamplerConfig selects filtering and addressing of a sampler.
type SamplerConfig struct {
	FilterMinify  TextureFilter
	FilterMagnify TextureFilter
	RepeatU       TextureRepeat
	RepeatV       TextureRepeat
}

// DefaultSamplerConfig is linear filtering with repeat addressing.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		FilterMinify:  TextureFilterModeLinear,
		FilterMagnify: TextureFilterModeLinear,
		RepeatU:       TextureRepeatRepeat,
		RepeatV:       TextureRepeatRepeat,
	}
}

// TextureImage is decoded RGBA8 pixel data.
type TextureImage struct {
	Width  uint32
	Height uint32
	Pixels []uint8
	// HasTransparency is set by loaders when any alpha is below 255.
	HasTransparency bool
	Sampler         SamplerConfig
}

// TextureDescriptor is one entry of the bindless texture table.
type TextureDescriptor struct {
	Handle  TextureHandle
	Name    string
	Image   Image
	Sampler Sampler
	Layout  ImageLayout
	// Generation is incremented every time the image is replaced.
	Generation uint32
}

// DescriptorImageInfo is the compact form bound to the descriptor array.
type DescriptorImageInfo struct {
	Image   Image
	Sampler Sampler
	Layout  ImageLayout
}

// NewCheckerboard builds a size x size blue/white checkerboard.
func NewCheckerboard(size uint32) TextureImage {
	const channels = 4
	pixels := make([]uint8, size*size*channels)
	for i := range pixels {
		pixels[i] = 255
	}
	for row := uint32(0); row < size; row++ {
		for col := uint32(0); col < size; col++ {
			if (row+col)%2 == 0 {
				idx := (row*size + col) * channels
				pixels[idx+0] = 0
				pixels[idx+1] = 0
			}
		}
	}
	return TextureImage{
		Width:   size,
		Height:  size,
		Pixels:  pixels,
		Sampler: SamplerConfig{FilterMinify: TextureFilterModeNearest, FilterMagnify: TextureFilterModeNearest, RepeatU: TextureRepeatRepeat, RepeatV: TextureRepeatRepeat},
	}
}
