package systems

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/assets"
	"github.com/spaghettifunk/anima-render/engine/assets/loaders"
	"github.com/spaghettifunk/anima-render/engine/core"
)

func writeAssets(t *testing.T, root string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))))
	require.NoError(t, os.WriteFile(filepath.Join(root, "brick.png"), buf.Bytes(), 0o644))

	f, err := os.Create(filepath.Join(root, "tri.agm"))
	require.NoError(t, err)
	require.NoError(t, loaders.EncodeMesh(f, triangle("ignored", 0)))
	require.NoError(t, f.Close())
}

func TestHotReloaderLoadAll(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	root := t.TempDir()
	writeAssets(t, root)

	am, err := assets.NewAssetManager(root, false)
	require.NoError(t, err)
	defer am.Close()

	hr := NewHotReloader(am, sm.Textures, NewMeshLoaderSystem(am, sm.Geometry, sm.JobSystem))
	assert.Equal(t, 2, hr.LoadAll())

	_, ok := sm.Textures.Lookup("brick.png")
	assert.True(t, ok)
	g, ok := sm.Geometry.Lookup("tri.agm")
	require.True(t, ok)

	// a second import replaces in place
	assert.Equal(t, 2, hr.LoadAll())
	again, ok := sm.Geometry.Lookup("tri.agm")
	require.True(t, ok)
	assert.Equal(t, g, again)
}

func TestHotReloaderHandlesAssetChangedEvent(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	root := t.TempDir()
	writeAssets(t, root)

	am, err := assets.NewAssetManager(root, false)
	require.NoError(t, err)
	defer am.Close()

	bus := core.NewEventBus()
	hr := NewHotReloader(am, sm.Textures, NewMeshLoaderSystem(am, sm.Geometry, sm.JobSystem))
	require.True(t, bus.Register(core.EVENT_CODE_ASSET_CHANGED, hr, hr.OnAssetChanged))

	ctx := core.EventContext{}
	ctx.Data.S = "brick.png"
	assert.True(t, bus.Fire(core.EVENT_CODE_ASSET_CHANGED, am, ctx))
	_, ok := sm.Textures.Lookup("brick.png")
	assert.True(t, ok)

	ctx.Data.S = "missing.png"
	assert.False(t, bus.Fire(core.EVENT_CODE_ASSET_CHANGED, am, ctx))
}
