package assets

import (
	"path/filepath"
	"strings"
)

type AssetType int

const (
	AssetTypeNone AssetType = iota
	AssetTypeTexture
	AssetTypeMesh
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeTexture:
		return "texture"
	case AssetTypeMesh:
		return "mesh"
	}
	return "none"
}

// DetermineAssetType maps a file extension to the loader that reads it.
func DetermineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeTexture
	case ".agm":
		return AssetTypeMesh
	default:
		return AssetTypeNone
	}
}
