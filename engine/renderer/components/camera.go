package components

import (
	"github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Camera is a perspective camera looking at a target point.
type Camera struct {
	// The position of this camera. Use SetPosition so the view is rebuilt.
	Position math.Vec3
	// The point the camera looks at.
	Target math.Vec3
	// Vertical field of view, in radians.
	FOV        float32
	Aspect     float32
	Near, Far  float32
	IsDirty    bool
	ViewMatrix math.Mat4
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.Position = math.NewVec3(0, 0, 10)
	c.Target = math.NewVec3Zero()
	c.FOV = math.DegToRad(45)
	c.Aspect = 16.0 / 9.0
	c.Near = 0.1
	c.Far = 1000
	c.IsDirty = true
	c.ViewMatrix = math.NewMat4Identity()
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) LookAt(target math.Vec3) {
	c.Target = target
	c.IsDirty = true
}

// SetViewport updates the aspect ratio. A zero height is ignored.
func (c *Camera) SetViewport(width, height uint32) {
	if height == 0 {
		return
	}
	c.Aspect = float32(width) / float32(height)
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		c.ViewMatrix = math.NewMat4LookAt(c.Position, c.Target, math.NewVec3Up())
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *Camera) Projection() math.Mat4 {
	return math.NewMat4Perspective(c.FOV, c.Aspect, c.Near, c.Far)
}

// Forward is the unit direction from the position to the target.
func (c *Camera) Forward() math.Vec3 {
	return c.Target.Sub(c.Position).Normalized()
}

func (c *Camera) MoveForward(amount float32) {
	step := c.Forward().MulScalar(amount)
	c.Position = c.Position.Add(step)
	c.Target = c.Target.Add(step)
	c.IsDirty = true
}

// Orbit rotates the position around the target's vertical axis.
func (c *Camera) Orbit(radians float32) {
	rotation := math.NewQuatFromAxisAngle(math.NewVec3Up(), radians, true).ToMat4()
	offset := c.Position.Sub(c.Target).Transform(rotation)
	c.Position = c.Target.Add(offset)
	c.IsDirty = true
}

// Data is the camera block uploaded with each frame.
func (c *Camera) Data() metadata.CameraData {
	return metadata.NewCameraData(c.GetView(), c.Projection(), c.Position)
}
