package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-render/engine/assets"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// MeshLoaderSystem decodes mesh files on the job workers and registers the
// results with the geometry registry on the calling goroutine.
type MeshLoaderSystem struct {
	assets         *assets.AssetManager
	geometrySystem *GeometryRegistry
	jobSystem      *JobSystem
}

func NewMeshLoaderSystem(am *assets.AssetManager, gr *GeometryRegistry, js *JobSystem) *MeshLoaderSystem {
	return &MeshLoaderSystem{
		assets:         am,
		geometrySystem: gr,
		jobSystem:      js,
	}
}

type meshLoad struct {
	info    assets.AssetInfo
	data    metadata.GeometryData
	started bool
	err     error
}

// LoadAll imports the meshes in infos, replacing meshes already registered
// under the same name. It returns how many succeeded and every failure.
func (mls *MeshLoaderSystem) LoadAll(infos []assets.AssetInfo) (int, error) {
	loads := make([]*meshLoad, 0, len(infos))
	tasks := make([]JobTask, 0, len(infos))
	for _, info := range infos {
		if info.Type != assets.AssetTypeMesh {
			continue
		}
		l := &meshLoad{info: info}
		loads = append(loads, l)
		tasks = append(tasks, JobTask{
			Name: "load mesh " + info.Name,
			OnStart: func() error {
				l.started = true
				l.data, l.err = mls.assets.LoadMesh(l.info)
				return l.err
			},
		})
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	// decode failures are recorded per load
	runErr := mls.jobSystem.Run(tasks)

	// This handles the GPU upload, which stays on the render goroutine.
	loaded := 0
	var errs []error
	for _, l := range loads {
		if !l.started {
			l.err = fmt.Errorf("mesh %s: not decoded: %w", l.info.Name, runErr)
		}
		if l.err == nil {
			l.err = mls.register(l.data)
		}
		if l.err != nil {
			errs = append(errs, l.err)
			continue
		}
		core.LogDebug("Successfully loaded mesh '%s'.", l.info.Name)
		loaded++
	}
	return loaded, errors.Join(errs...)
}

// Load imports a single mesh synchronously.
func (mls *MeshLoaderSystem) Load(info assets.AssetInfo) error {
	data, err := mls.assets.LoadMesh(info)
	if err != nil {
		return err
	}
	return mls.register(data)
}

func (mls *MeshLoaderSystem) register(data metadata.GeometryData) error {
	if g, ok := mls.geometrySystem.Lookup(data.Name); ok {
		return mls.geometrySystem.ReplaceMesh(g, data)
	}
	_, err := mls.geometrySystem.RegisterMesh(data)
	return err
}
