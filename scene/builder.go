package scene

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/camera"
)

// Builder provides a fluent API for assembling a scene. Meshes and
// materials are registered once by name and referenced by the items.
//
//	s := scene.NewBuilder().
//	    Mesh(scene.Box("cube", 1, 1, 1)).
//	    Material(&scene.Material{Name: "red", Diffuse: red}).
//	    Item("cube0", scene.ColorMapping, "cube", "red", camera.Identity()).
//	    Light(scene.PointLight{Position: camera.V3(0, 4, 0), Range: 10}).
//	    Build()
type Builder struct {
	scene     *Scene
	meshes    map[string]*Mesh
	materials map[string]*Material
	err       error
}

// NewBuilder returns a builder for an empty scene with a neutral
// environment.
func NewBuilder() *Builder {
	return &Builder{
		scene: &Scene{Environment: Environment{
			SkyColor:  gputypes.Color{R: 0.4, G: 0.6, B: 0.9, A: 1},
			Ambient:   camera.V3(0.2, 0.2, 0.25),
			Intensity: 1,
		}},
		meshes:    make(map[string]*Mesh),
		materials: make(map[string]*Material),
	}
}

// Mesh registers m under m.Name.
func (b *Builder) Mesh(m *Mesh) *Builder {
	if _, dup := b.meshes[m.Name]; dup {
		b.fail("duplicate mesh %q", m.Name)
		return b
	}
	b.meshes[m.Name] = m
	b.scene.Meshes = append(b.scene.Meshes, m)
	return b
}

// Material registers m under m.Name.
func (b *Builder) Material(m *Material) *Builder {
	if _, dup := b.materials[m.Name]; dup {
		b.fail("duplicate material %q", m.Name)
		return b
	}
	b.materials[m.Name] = m
	b.scene.Materials = append(b.scene.Materials, m)
	return b
}

// Item adds a draw of the named mesh with the named material.
func (b *Builder) Item(name string, t Technique, mesh, material string, world camera.Mat4) *Builder {
	m, ok := b.meshes[mesh]
	if !ok {
		b.fail("item %q: unknown mesh %q", name, mesh)
		return b
	}
	mat, ok := b.materials[material]
	if !ok {
		b.fail("item %q: unknown material %q", name, material)
		return b
	}
	b.scene.Items = append(b.scene.Items, Item{
		Name:         name,
		Technique:    t,
		Mesh:         m,
		Material:     mat,
		World:        world,
		TexTransform: camera.Identity(),
	})
	return b
}

// Light adds a punctual light.
func (b *Builder) Light(l PointLight) *Builder {
	b.scene.Lights = append(b.scene.Lights, l)
	return b
}

// Environment replaces the environment.
func (b *Builder) Environment(e Environment) *Builder {
	b.scene.Environment = e
	return b
}

// Build returns the scene, or the first error a builder call hit.
func (b *Builder) Build() (*Scene, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.scene.Validate(); err != nil {
		return nil, err
	}
	return b.scene, nil
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("scene: "+format, args...)
	}
}

// Default returns the demo scene: a floor and a row of cubes for every
// technique, lit by a ring of point lights.
func Default() *Scene {
	b := NewBuilder().
		Mesh(Plane("floor", 20)).
		Mesh(Box("cube", 1, 1, 1)).
		Material(&Material{
			Name:        "stone",
			Diffuse:     gputypes.Color{R: 0.6, G: 0.6, B: 0.6, A: 1},
			NormalColor: gputypes.Color{R: 0.5, G: 0.5, B: 1, A: 1},
			HeightColor: gputypes.Color{R: 0.5, G: 0.5, B: 0.5, A: 1},
			Roughness:   0.8,
			HeightScale: 0.05,
		}).
		Material(&Material{
			Name:        "brick",
			Diffuse:     gputypes.Color{R: 0.7, G: 0.3, B: 0.2, A: 1},
			NormalColor: gputypes.Color{R: 0.5, G: 0.5, B: 1, A: 1},
			HeightColor: gputypes.Color{R: 0.4, G: 0.4, B: 0.4, A: 1},
			Roughness:   0.6,
			HeightScale: 0.1,
		}).
		Item("floor", ColorMapping, "floor", "stone", camera.Identity())

	for t := ColorMapping; t < TechniqueCount; t++ {
		x := float32(t)*2 - 3
		world := camera.Translation(camera.V3(x, 0.5, 0))
		b.Item(fmt.Sprintf("cube %s", t), t, "cube", "brick", world)
	}
	for i := range 4 {
		x := float32(i%2)*8 - 4
		z := float32(i/2)*8 - 4
		b.Light(PointLight{Position: camera.V3(x, 3, z), Range: 10, Color: camera.V3(1, 0.95, 0.9), Intensity: 2})
	}

	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
