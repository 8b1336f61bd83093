// Package scene describes the static content a frame draws: meshes, the
// materials that shade them, the draw items placing them, punctual lights
// and the environment. Upload creates the GPU resources the pass recorders
// bind.
package scene

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/camera"
	"github.com/gogpu/deferred/descriptor"
	"github.com/gogpu/deferred/gpucore"
)

// Technique selects the geometry recorder that draws an item.
type Technique uint8

const (
	ColorMapping Technique = iota
	TextureMapping
	NormalMapping
	HeightMapping

	// TechniqueCount is the number of techniques.
	TechniqueCount
)

var techniqueNames = [TechniqueCount]string{"ColorMapping", "TextureMapping", "NormalMapping", "HeightMapping"}

// String returns the technique name.
func (t Technique) String() string {
	if t < TechniqueCount {
		return techniqueNames[t]
	}
	return fmt.Sprintf("Technique(%d)", t)
}

// MaterialTextures is the number of views in a material's table: diffuse,
// normal and height, in that order.
const MaterialTextures = 3

// Material is a flat-shaded surface. Its maps are 1x1 textures holding
// one color each.
type Material struct {
	Name        string
	Diffuse     gputypes.Color
	NormalColor gputypes.Color
	HeightColor gputypes.Color
	Roughness   float32
	HeightScale float32

	// Textures is the SRV table of the maps, valid after Upload.
	Textures descriptor.Range

	maps []gpucore.Texture
}

// Maps returns the uploaded textures in table order.
func (m *Material) Maps() []gpucore.Texture { return m.maps }

func (m *Material) upload(dev gpucore.Device, alloc *descriptor.Allocator) error {
	if m.maps != nil {
		return nil
	}
	r, err := alloc.Allocate(gpucore.HeapCbvSrvUav, MaterialTextures)
	if err != nil {
		return err
	}
	colors := [MaterialTextures]gputypes.Color{m.Diffuse, m.NormalColor, m.HeightColor}
	names := [MaterialTextures]string{"diffuse", "normal", "height"}
	for i, c := range colors {
		tex, err := newColorTexture(dev, m.Name+" "+names[i], c)
		if err != nil {
			m.Destroy()
			return err
		}
		m.maps = append(m.maps, tex)
		if err := dev.CreateShaderResourceView(tex, r.Handle(i).CPU); err != nil {
			m.Destroy()
			return gpucore.DeviceLost("create material view", err)
		}
	}
	m.Textures = r
	return nil
}

// Destroy releases the textures. The descriptors stay allocated.
func (m *Material) Destroy() {
	for _, t := range m.maps {
		t.Destroy()
	}
	m.maps = nil
}

func newColorTexture(dev gpucore.Device, label string, c gputypes.Color) (gpucore.Texture, error) {
	tex, err := dev.CreateTexture(gpucore.TextureDesc{
		Label:        label,
		Width:        1,
		Height:       1,
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Usage:        gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		InitialState: gpucore.StatePixelShaderResource,
		ClearColor:   c,
	})
	if err != nil {
		return nil, gpucore.DeviceLost("create texture "+label, err)
	}
	return tex, nil
}

// Item is one draw of a mesh.
type Item struct {
	Name         string
	Technique    Technique
	Mesh         *Mesh
	Material     *Material
	World        camera.Mat4
	TexTransform camera.Mat4
}

// PointLight is a punctual light with a finite range.
type PointLight struct {
	Position  camera.Vec3
	Range     float32
	Color     camera.Vec3
	Intensity float32
}

// Environment is the sky and the ambient term.
type Environment struct {
	SkyColor  gputypes.Color
	Ambient   camera.Vec3
	Intensity float32

	// Map is the SRV of the sky texture, valid after Upload.
	Map descriptor.Range

	tex gpucore.Texture
}

// Texture returns the sky texture, or nil before Upload.
func (e *Environment) Texture() gpucore.Texture { return e.tex }

// Scene is the content of a frame.
type Scene struct {
	Meshes      []*Mesh
	Materials   []*Material
	Items       []Item
	Lights      []PointLight
	Environment Environment

	uploaded bool
}

// Upload creates the GPU resources of every mesh, material and the
// environment. It is a no-op once it succeeded.
func (s *Scene) Upload(dev gpucore.Device, alloc *descriptor.Allocator) error {
	if s.uploaded {
		return nil
	}
	if err := s.Validate(); err != nil {
		return err
	}
	for _, m := range s.Meshes {
		if err := m.Upload(dev); err != nil {
			return err
		}
	}
	for _, m := range s.Materials {
		if err := m.upload(dev, alloc); err != nil {
			return err
		}
	}

	env := &s.Environment
	r, err := alloc.Allocate(gpucore.HeapCbvSrvUav, 1)
	if err != nil {
		return err
	}
	if env.tex, err = newColorTexture(dev, "environment", env.SkyColor); err != nil {
		return err
	}
	if err := dev.CreateShaderResourceView(env.tex, r.Handle(0).CPU); err != nil {
		return gpucore.DeviceLost("create environment view", err)
	}
	env.Map = r
	s.uploaded = true
	return nil
}

// Validate checks that every item references a mesh and a material of
// the scene.
func (s *Scene) Validate() error {
	meshes := make(map[*Mesh]bool, len(s.Meshes))
	for _, m := range s.Meshes {
		meshes[m] = true
	}
	materials := make(map[*Material]bool, len(s.Materials))
	for _, m := range s.Materials {
		materials[m] = true
	}
	for _, it := range s.Items {
		switch {
		case it.Technique >= TechniqueCount:
			return gpucore.Errorf(gpucore.KindInvalidArgument, "validate scene", "item %q: unknown technique %d", it.Name, it.Technique)
		case !meshes[it.Mesh]:
			return gpucore.Errorf(gpucore.KindInvalidArgument, "validate scene", "item %q: mesh not in scene", it.Name)
		case !materials[it.Material]:
			return gpucore.Errorf(gpucore.KindInvalidArgument, "validate scene", "item %q: material not in scene", it.Name)
		}
	}
	return nil
}

// ItemsFor returns the items drawn with technique t, in scene order.
func (s *Scene) ItemsFor(t Technique) []Item {
	var out []Item
	for _, it := range s.Items {
		if it.Technique == t {
			out = append(out, it)
		}
	}
	return out
}

// Destroy releases the GPU resources. The GPU must be idle.
func (s *Scene) Destroy() {
	for _, m := range s.Meshes {
		m.Destroy()
	}
	for _, m := range s.Materials {
		m.Destroy()
	}
	if s.Environment.tex != nil {
		s.Environment.tex.Destroy()
		s.Environment.tex = nil
	}
	s.uploaded = false
}
