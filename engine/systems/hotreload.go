package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-render/engine/assets"
	"github.com/spaghettifunk/anima-render/engine/core"
)

// HotReloader pushes changed asset files into the texture table and the
// geometry registry. It runs on the render goroutine through the event bus.
type HotReloader struct {
	assets   *assets.AssetManager
	textures *TextureManager
	meshes   *MeshLoaderSystem
}

func NewHotReloader(am *assets.AssetManager, tm *TextureManager, meshes *MeshLoaderSystem) *HotReloader {
	return &HotReloader{
		assets:   am,
		textures: tm,
		meshes:   meshes,
	}
}

// LoadAll imports every indexed asset. Meshes decode in parallel on the job
// workers. Failures are logged and skipped.
func (h *HotReloader) LoadAll() int {
	loaded := 0
	var meshes []assets.AssetInfo
	for _, a := range h.assets.Assets() {
		if a.Type == assets.AssetTypeMesh {
			meshes = append(meshes, a)
			continue
		}
		if err := h.Reload(a); err != nil {
			core.LogWarn("asset %s: %s", a.Name, err)
			continue
		}
		loaded++
	}
	n, err := h.meshes.LoadAll(meshes)
	if err != nil {
		core.LogWarn("%s", err)
	}
	return loaded + n
}

// Reload imports a single asset, replacing the resource registered under
// its name.
func (h *HotReloader) Reload(a assets.AssetInfo) error {
	switch a.Type {
	case assets.AssetTypeTexture:
		img, err := h.assets.LoadTexture(a)
		if err != nil {
			return err
		}
		_, err = h.textures.ReplaceTexture(a.Name, img)
		return err

	case assets.AssetTypeMesh:
		return h.meshes.Load(a)
	}
	return fmt.Errorf("asset %s: unsupported type %s", a.Name, a.Type)
}

// OnAssetChanged reloads the asset named in the event string.
func (h *HotReloader) OnAssetChanged(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	a, ok := h.assets.Lookup(ctx.Data.S)
	if !ok {
		return false
	}
	if err := h.Reload(a); err != nil {
		core.LogError("reload %s: %s", a.Name, err)
		return false
	}
	core.LogInfo("reloaded %s %s", a.Type, a.Name)
	return true
}
