package systems

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/assets"
	"github.com/spaghettifunk/anima-render/engine/assets/loaders"
)

func TestMeshLoaderDecodesInParallel(t *testing.T) {
	sm, _ := newTestSystems(t, nil)
	root := t.TempDir()
	for i := 0; i < 6; i++ {
		f, err := os.Create(filepath.Join(root, fmt.Sprintf("tri%d.agm", i)))
		require.NoError(t, err)
		require.NoError(t, loaders.EncodeMesh(f, triangle("", float32(i))))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.agm"), []byte("AGM1 nope"), 0o644))

	am, err := assets.NewAssetManager(root, false)
	require.NoError(t, err)
	defer am.Close()

	mls := NewMeshLoaderSystem(am, sm.Geometry, sm.JobSystem)
	before := sm.Geometry.Count()
	loaded, err := mls.LoadAll(am.Assets())
	assert.Error(t, err)
	assert.Equal(t, 6, loaded)
	assert.Equal(t, before+6, sm.Geometry.Count())

	_, ok := sm.Geometry.Lookup("tri3.agm")
	assert.True(t, ok)
	_, ok = sm.Geometry.Lookup("broken.agm")
	assert.False(t, ok)
}
