package loaders

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: alpha})
		}
	}
	return img
}

func TestDecodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(4, 3, 255)))

	img, err := NewTextureLoader().Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), img.Width)
	assert.Equal(t, uint32(3), img.Height)
	require.Len(t, img.Pixels, 4*3*4)
	assert.False(t, img.HasTransparency)

	// pixel (2, 1)
	off := (1*4 + 2) * 4
	assert.Equal(t, []uint8{2, 1, 7, 255}, img.Pixels[off:off+4])
}

func TestDecodeFlipY(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(2, 3, 255)))

	tl := NewTextureLoader()
	tl.FlipY = true
	img, err := tl.Decode(&buf)
	require.NoError(t, err)

	// the first stored row is the last source row.
	assert.Equal(t, uint8(2), img.Pixels[1])
}

func TestDecodeBMPAndTransparency(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, testImage(2, 2, 255)))
	img, err := NewTextureLoader().Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.Width)

	buf.Reset()
	require.NoError(t, png.Encode(&buf, testImage(2, 2, 128)))
	img, err = NewTextureLoader().Decode(&buf)
	require.NoError(t, err)
	assert.True(t, img.HasTransparency)
}

func TestDecodeDownscales(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(64, 16, 255)))

	tl := NewTextureLoader()
	tl.MaxDimension = 32
	img, err := tl.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), img.Width)
	assert.Equal(t, uint32(8), img.Height)
	assert.Len(t, img.Pixels, 32*8*4)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := NewTextureLoader().Decode(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}
