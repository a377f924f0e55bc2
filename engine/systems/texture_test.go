package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/headless"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-render/engine/renderer/transition"
)

func solid(w, h uint32, v byte) metadata.TextureImage {
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = v
	}
	return metadata.TextureImage{Width: w, Height: h, Pixels: pixels, Sampler: metadata.DefaultSamplerConfig()}
}

func newTestTextures(t *testing.T, max uint32) (*TextureManager, *headless.Device, *transition.Queue) {
	t.Helper()
	dev := headless.NewDevice()
	q := transition.NewQueue(32)
	tm, err := NewTextureManager(TextureManagerConfig{MaxTextureCount: max, CheckerboardSize: 4}, dev, q)
	require.NoError(t, err)
	return tm, dev, q
}

func TestTextureDedupByName(t *testing.T) {
	tm, dev, q := newTestTextures(t, 8)
	require.Equal(t, 1, tm.Count())
	require.Equal(t, 2, q.Len())

	a, err := tm.AddTexture(solid(2, 2, 10), "bricks")
	require.NoError(t, err)
	b, err := tm.AddTexture(solid(4, 4, 20), "bricks")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 2, tm.Count())
	assert.Equal(t, 2, dev.LiveImages())
	assert.Equal(t, 4, q.Len())

	h, ok := tm.Lookup("bricks")
	assert.True(t, ok)
	assert.Equal(t, a, h)
}

func TestAnonymousTexturesGetDistinctNames(t *testing.T) {
	tm, _, _ := newTestTextures(t, 8)
	a, err := tm.AddTexture(solid(1, 1, 0), "")
	require.NoError(t, err)
	b, err := tm.AddTexture(solid(1, 1, 0), "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	da, err := tm.Descriptor(a)
	require.NoError(t, err)
	assert.Len(t, da.Name, 36)
}

func TestTextureCapacity(t *testing.T) {
	tm, _, _ := newTestTextures(t, 2)
	_, err := tm.AddTexture(solid(1, 1, 0), "one")
	require.NoError(t, err)
	_, err = tm.AddTexture(solid(1, 1, 0), "two")
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
}

func TestTransitionQueueBackPressure(t *testing.T) {
	dev := headless.NewDevice()
	q := transition.NewQueue(3)
	tm, err := NewTextureManager(TextureManagerConfig{MaxTextureCount: 8, CheckerboardSize: 2}, dev, q)
	require.NoError(t, err)

	_, err = tm.AddTexture(solid(1, 1, 0), "full")
	assert.ErrorIs(t, err, core.ErrQueueFull)
	assert.Equal(t, 1, dev.LiveImages())
	_, ok := tm.Lookup("full")
	assert.False(t, ok)
}

func TestDescriptorListRebuiltOnlyWhenDirty(t *testing.T) {
	tm, _, _ := newTestTextures(t, 8)

	first := tm.GetDescriptorImageInfoList()
	require.Len(t, first, 1)
	second := tm.GetDescriptorImageInfoList()
	assert.Equal(t, 1, tm.rebuilds)
	assert.Same(t, &first[0], &second[0])

	h, err := tm.AddTexture(solid(2, 2, 1), "grass")
	require.NoError(t, err)
	third := tm.GetDescriptorImageInfoList()
	assert.Equal(t, 2, tm.rebuilds)
	require.Len(t, third, 2)

	desc, err := tm.Descriptor(h)
	require.NoError(t, err)
	assert.Equal(t, desc.Image, third[tm.IndexOf(h)].Image)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnlyOptimal, third[1].Layout)
}

func TestDescriptorHolesUseDefaultTexture(t *testing.T) {
	tm, _, _ := newTestTextures(t, 8)
	_, err := tm.AddTexture(solid(1, 1, 0), "a")
	require.NoError(t, err)
	b, err := tm.AddTexture(solid(1, 1, 0), "b")
	require.NoError(t, err)
	_, err = tm.AddTexture(solid(1, 1, 0), "c")
	require.NoError(t, err)

	tm.GetDescriptorImageInfoList()
	require.NoError(t, tm.ReleaseTexture("b"))
	assert.Error(t, tm.ReleaseTexture("b"))
	assert.Error(t, tm.ReleaseTexture(metadata.DEFAULT_TEXTURE_NAME))

	infos := tm.GetDescriptorImageInfoList()
	require.Len(t, infos, 4)
	def, err := tm.Descriptor(tm.DefaultTexture())
	require.NoError(t, err)
	assert.Equal(t, def.Image, infos[core.Handle(b).Index()].Image)
	assert.Equal(t, core.Handle(tm.DefaultTexture()).Index(), tm.IndexOf(b))
}

func TestReplaceTextureDefersDestroy(t *testing.T) {
	tm, dev, q := newTestTextures(t, 8)
	h, err := tm.AddTexture(solid(2, 2, 1), "water")
	require.NoError(t, err)
	old, err := tm.Descriptor(h)
	require.NoError(t, err)
	tm.GetDescriptorImageInfoList()
	q.Dequeue()

	tm.FrameBegin(5)
	same, err := tm.ReplaceTexture("water", solid(4, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, h, same)
	assert.Equal(t, 2, q.Len())

	desc, err := tm.Descriptor(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), desc.Generation)
	assert.Equal(t, uint32(4), desc.Image.Width())
	assert.Equal(t, desc.Image, tm.GetDescriptorImageInfoList()[tm.IndexOf(h)].Image)

	oldImage := old.Image.(*headless.Image)
	tm.FrameRetired(4)
	assert.False(t, oldImage.Destroyed())
	tm.FrameRetired(5)
	assert.True(t, oldImage.Destroyed())
	assert.Equal(t, 2, dev.LiveImages())
}

func TestReplaceUnknownTextureAddsIt(t *testing.T) {
	tm, _, _ := newTestTextures(t, 8)
	h, err := tm.ReplaceTexture("new", solid(1, 1, 0))
	require.NoError(t, err)
	found, ok := tm.Lookup("new")
	assert.True(t, ok)
	assert.Equal(t, h, found)
}
