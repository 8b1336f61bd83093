package camera

import "github.com/chewxy/math32"

// Camera is a first-person camera with a left-handed view basis.
//
// Movement and rotation only touch the basis; call UpdateViewMatrix once per
// frame before reading View.
type Camera struct {
	Position Vec3
	Right    Vec3
	Up       Vec3
	Look     Vec3

	FovY   float32
	Aspect float32
	Near   float32
	Far    float32

	view  Mat4
	proj  Mat4
	dirty bool
}

// New returns a camera at the origin looking down +Z with a 60 degree lens.
func New(aspect float32) *Camera {
	c := &Camera{
		Right: V3(1, 0, 0),
		Up:    V3(0, 1, 0),
		Look:  V3(0, 0, 1),
		view:  Identity(),
		dirty: true,
	}
	c.SetLens(math32.Pi/3, aspect, 0.1, 1000)
	return c
}

// SetLens sets the projection.
func (c *Camera) SetLens(fovY, aspect, near, far float32) {
	c.FovY, c.Aspect, c.Near, c.Far = fovY, aspect, near, far
	c.proj = PerspectiveFovLH(fovY, aspect, near, far)
}

// SetAspect changes the aspect ratio and keeps the rest of the lens.
func (c *Camera) SetAspect(aspect float32) {
	c.SetLens(c.FovY, aspect, c.Near, c.Far)
}

// LookAt places the camera at eye facing target.
func (c *Camera) LookAt(eye, target, worldUp Vec3) {
	c.Position = eye
	c.Look = target.Sub(eye).Normalize()
	c.Right = worldUp.Cross(c.Look).Normalize()
	c.Up = c.Look.Cross(c.Right)
	c.dirty = true
}

// Walk moves along the look direction.
func (c *Camera) Walk(d float32) {
	c.Position = c.Position.Add(c.Look.Scale(d))
	c.dirty = true
}

// Strafe moves along the right direction.
func (c *Camera) Strafe(d float32) {
	c.Position = c.Position.Add(c.Right.Scale(d))
	c.dirty = true
}

// Pitch rotates up and look about the right vector.
func (c *Camera) Pitch(angle float32) {
	r := RotationAxis(c.Right, angle)
	c.Up = r.TransformPoint(c.Up)
	c.Look = r.TransformPoint(c.Look)
	c.dirty = true
}

// RotateY rotates the basis about the world Y axis.
func (c *Camera) RotateY(angle float32) {
	r := RotationY(angle)
	c.Right = r.TransformPoint(c.Right)
	c.Up = r.TransformPoint(c.Up)
	c.Look = r.TransformPoint(c.Look)
	c.dirty = true
}

// UpdateViewMatrix re-orthonormalizes the basis and rebuilds the view
// matrix if the camera moved.
func (c *Camera) UpdateViewMatrix() {
	if !c.dirty {
		return
	}
	c.Look = c.Look.Normalize()
	c.Up = c.Look.Cross(c.Right).Normalize()
	c.Right = c.Up.Cross(c.Look)
	c.view = LookToLH(c.Position, c.Right, c.Up, c.Look)
	c.dirty = false
}

// View returns the view matrix as of the last UpdateViewMatrix.
func (c *Camera) View() Mat4 { return c.view }

// Proj returns the projection matrix.
func (c *Camera) Proj() Mat4 { return c.proj }

// ViewProj returns View * Proj.
func (c *Camera) ViewProj() Mat4 { return c.view.Mul(c.proj) }
