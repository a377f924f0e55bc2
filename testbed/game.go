package testbed

import (
	"fmt"

	"github.com/spaghettifunk/anima-render/engine"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/components"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

const gridSize = 4

type TestGame struct {
	*engine.Game
}

type cube struct {
	transform  *math.Transform
	renderable metadata.RenderableHandle
}

type gameState struct {
	WorldCamera *components.Camera

	opaque    metadata.RenderConfigHandle
	material  metadata.MaterialHandle
	cubes     []cube
	elapsed   float64
	lastCount int
}

func NewTestGame(app *engine.ApplicationConfig) *TestGame {
	if app.Name == "" {
		app.Name = "Anima Render Testbed"
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil {
		return fmt.Errorf("the engine is not yet initialized with all the system managers")
	}
	sm := g.SystemManager
	state := g.State.(*gameState)

	state.WorldCamera = components.NewCamera()
	state.WorldCamera.SetPosition(math.NewVec3(10.5, 5.0, 9.5))

	state.opaque = sm.Draw.CreateRenderConfig("opaque")

	albedo, err := sm.Textures.AddTexture(gradient(64), "testbed_gradient")
	if err != nil {
		return err
	}
	state.material, err = sm.Draw.CreateTexturedMaterial(math.NewVec4One(), albedo, sm.Textures.DefaultTexture(), 0.1, 0.6)
	if err != nil {
		return err
	}

	geometry, err := sm.Geometry.CreateStaticMesh("test_cube", 1, 1, 1, 1, 1)
	if err != nil {
		return err
	}

	for x := 0; x < gridSize; x++ {
		for z := 0; z < gridSize; z++ {
			res, err := sm.Draw.RegisterRenderable(metadata.RenderableData{
				RenderConfig: state.opaque,
				Geometry:     geometry,
				Material:     state.material,
				ObjectID:     uint32(len(state.cubes)),
			})
			if err != nil {
				return err
			}
			position := math.NewVec3(float32(x)*2.5-3.75, 0, float32(z)*2.5-3.75)
			state.cubes = append(state.cubes, cube{
				transform:  math.NewTransform(position),
				renderable: res.Handle,
			})
		}
	}
	core.LogInfo("testbed scene: %d cubes", len(state.cubes))
	return nil
}

// Update spins the cubes, orbits the camera and snapshots the scene.
func (g *TestGame) Update(deltaTime float64) (metadata.RenderData, error) {
	state := g.State.(*gameState)
	state.elapsed += deltaTime

	rotation := math.NewQuatFromAxisAngle(math.NewVec3Up(), float32(0.5*deltaTime), false)
	objects := make([]metadata.ObjectSnapshot, 0, len(state.cubes))
	for _, c := range state.cubes {
		c.transform.Rotate(rotation)
		objects = append(objects, metadata.ObjectSnapshot{
			Renderable: c.renderable,
			Model:      c.transform.GetWorld(),
		})
	}
	state.WorldCamera.Orbit(float32(0.1 * deltaTime))

	if n := g.SystemManager.Geometry.Count(); n != state.lastCount {
		core.LogDebug("%d geometries registered", n)
		state.lastCount = n
	}

	return metadata.RenderData{
		Camera:  state.WorldCamera.Data(),
		Objects: objects,
	}, nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	if state.WorldCamera != nil {
		state.WorldCamera.SetViewport(width, height)
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	for _, c := range state.cubes {
		if err := g.SystemManager.Draw.DestroyRenderable(c.renderable); err != nil {
			return err
		}
	}
	state.cubes = nil
	return nil
}

// gradient is a size x size RGBA ramp.
func gradient(size uint32) metadata.TextureImage {
	pixels := make([]byte, size*size*4)
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			o := (y*size + x) * 4
			pixels[o] = byte(x * 255 / (size - 1))
			pixels[o+1] = byte(y * 255 / (size - 1))
			pixels[o+2] = 128
			pixels[o+3] = 255
		}
	}
	return metadata.TextureImage{
		Width:   size,
		Height:  size,
		Pixels:  pixels,
		Sampler: metadata.DefaultSamplerConfig(),
	}
}
