package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-render/engine/assets/loaders"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

var ErrClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	// Name is the slash-separated path relative to the root, which is also
	// the texture or geometry name the asset registers under.
	Name     string
	Path     string
	Type     AssetType
	Modified time.Time
}

// AssetManager indexes the asset root and, when watching, collects changed
// files for the render loop to reload.
type AssetManager struct {
	root string

	mutex   sync.Mutex
	assets  map[string]AssetInfo
	pending map[string]struct{}
	closed  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	Textures *loaders.TextureLoader
	Meshes   *loaders.MeshLoader
}

func NewAssetManager(root string, watch bool) (*AssetManager, error) {
	am := &AssetManager{
		root:     filepath.Clean(root),
		assets:   make(map[string]AssetInfo),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
		Textures: loaders.NewTextureLoader(),
		Meshes:   &loaders.MeshLoader{},
	}

	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		am.watcher = w
	}

	if err := am.watchRecursive(am.root); err != nil {
		am.Close()
		return nil, err
	}

	if am.watcher != nil {
		am.wg.Add(1)
		go am.start()
	}
	core.LogInfo("asset manager indexed %d assets under %s (watch=%t)", len(am.assets), am.root, watch)
	return am, nil
}

func (am *AssetManager) Root() string {
	return am.root
}

// Name returns the asset name of path, relative to the root.
func (am *AssetManager) Name(path string) string {
	rel, err := filepath.Rel(am.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	return filepath.ToSlash(rel)
}

// Assets returns every indexed asset, sorted by name.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.Lock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	am.mutex.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (am *AssetManager) Lookup(name string) (AssetInfo, bool) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	a, ok := am.assets[name]
	return a, ok
}

// Changed drains the names of assets modified since the previous call.
func (am *AssetManager) Changed() []AssetInfo {
	am.mutex.Lock()
	out := make([]AssetInfo, 0, len(am.pending))
	for name := range am.pending {
		if a, ok := am.assets[name]; ok {
			out = append(out, a)
		}
	}
	am.pending = make(map[string]struct{})
	am.mutex.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (am *AssetManager) LoadTexture(a AssetInfo) (metadata.TextureImage, error) {
	if a.Type != AssetTypeTexture {
		return metadata.TextureImage{}, fmt.Errorf("asset %s is a %s, not a texture", a.Name, a.Type)
	}
	return am.Textures.Load(a.Path)
}

// LoadMesh reads a mesh. The geometry is named after the asset, whatever
// name the file carries.
func (am *AssetManager) LoadMesh(a AssetInfo) (metadata.GeometryData, error) {
	if a.Type != AssetTypeMesh {
		return metadata.GeometryData{}, fmt.Errorf("asset %s is a %s, not a mesh", a.Name, a.Type)
	}
	data, err := am.Meshes.Load(a.Path)
	if err != nil {
		return metadata.GeometryData{}, err
	}
	data.Name = a.Name
	return data, nil
}

// Close stops the watcher. It is safe to call more than once.
func (am *AssetManager) Close() error {
	am.mutex.Lock()
	if am.closed {
		am.mutex.Unlock()
		return nil
	}
	am.closed = true
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()
	if am.watcher != nil {
		return am.watcher.Close()
	}
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.watcher.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("asset watcher: %s", err)
			}
			return
		}
	}
	switch {
	case e.Has(fsnotify.Create), e.Has(fsnotify.Write):
		if am.indexFile(e.Name) {
			am.mutex.Lock()
			am.pending[am.Name(e.Name)] = struct{}{}
			am.mutex.Unlock()
		}
	case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
		name := am.Name(e.Name)
		am.mutex.Lock()
		delete(am.assets, name)
		delete(am.pending, name)
		am.mutex.Unlock()
	}
}

// watchRecursive indexes every file under path and watches every directory.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if walkPath == am.root && errors.Is(err, fs.ErrNotExist) {
				core.LogWarn("asset root %s does not exist", am.root)
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if am.watcher != nil {
				return am.watcher.Add(walkPath)
			}
			return nil
		}
		am.indexFile(walkPath)
		return nil
	})
}

func (am *AssetManager) indexFile(path string) bool {
	t := DetermineAssetType(path)
	if t == AssetTypeNone {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	name := am.Name(path)
	am.mutex.Lock()
	am.assets[name] = AssetInfo{
		Name:     name,
		Path:     path,
		Type:     t,
		Modified: info.ModTime(),
	}
	am.mutex.Unlock()
	return true
}
