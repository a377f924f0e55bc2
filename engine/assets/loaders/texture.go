package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// TextureLoader decodes png, jpeg, bmp, tiff and webp files into RGBA8.
type TextureLoader struct {
	// FlipY stores rows bottom-up.
	FlipY bool
	// MaxDimension downscales larger images, keeping the aspect ratio.
	// Zero disables scaling.
	MaxDimension uint32
	Sampler      metadata.SamplerConfig
}

func NewTextureLoader() *TextureLoader {
	return &TextureLoader{
		Sampler: metadata.DefaultSamplerConfig(),
	}
}

func (tl *TextureLoader) Load(path string) (metadata.TextureImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return metadata.TextureImage{}, err
	}
	defer file.Close()

	img, err := tl.Decode(file)
	if err != nil {
		return metadata.TextureImage{}, fmt.Errorf("texture %s: %w", path, err)
	}
	return img, nil
}

func (tl *TextureLoader) Decode(r io.Reader) (metadata.TextureImage, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return metadata.TextureImage{}, err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return metadata.TextureImage{}, fmt.Errorf("empty %s image", format)
	}

	dw, dh := w, h
	if m := int(tl.MaxDimension); m > 0 && (w > m || h > m) {
		if w >= h {
			dw, dh = m, max(1, h*m/w)
		} else {
			dw, dh = max(1, w*m/h), m
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	if dw == w && dh == h {
		xdraw.Draw(dst, dst.Bounds(), src, bounds.Min, xdraw.Src)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	}

	out := metadata.TextureImage{
		Width:   uint32(dw),
		Height:  uint32(dh),
		Pixels:  make([]uint8, dw*dh*4),
		Sampler: tl.Sampler,
	}
	rowBytes := dw * 4
	for y := 0; y < dh; y++ {
		srcRow := dst.Pix[y*dst.Stride : y*dst.Stride+rowBytes]
		dy := y
		if tl.FlipY {
			dy = dh - 1 - y
		}
		copy(out.Pixels[dy*rowBytes:], srcRow)
	}
	for i := 3; i < len(out.Pixels); i += 4 {
		if out.Pixels[i] < 255 {
			out.HasTransparency = true
			break
		}
	}
	return out, nil
}
