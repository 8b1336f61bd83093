package scene

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/backend"
	"github.com/gogpu/deferred/backend/soft"
	"github.com/gogpu/deferred/camera"
	"github.com/gogpu/deferred/descriptor"
	"github.com/gogpu/deferred/gpucore"
)

func openDevice(t *testing.T) (*soft.Device, *descriptor.Allocator) {
	t.Helper()
	dev, err := soft.Open(backend.Options{Debug: true})
	if err != nil {
		t.Fatalf("soft.Open: %v", err)
	}
	alloc, err := descriptor.New(dev, descriptor.DefaultCapacities())
	if err != nil {
		t.Fatalf("descriptor.New: %v", err)
	}
	t.Cleanup(func() {
		alloc.Destroy()
		dev.Destroy()
	})
	return dev, alloc
}

// =============================================================================
// Meshes
// =============================================================================

func TestVertexStride(t *testing.T) {
	if got := binary.Size(Vertex{}); got != VertexStride {
		t.Errorf("binary.Size(Vertex{}) = %d, want %d", got, VertexStride)
	}
	attrs := VertexAttributes()
	last := attrs[len(attrs)-1]
	if end := last.Offset + 12; end != VertexStride {
		t.Errorf("last attribute ends at %d, want %d", end, VertexStride)
	}
	for i, a := range attrs {
		if a.Location != uint32(i) {
			t.Errorf("attribute %d location = %d", i, a.Location)
		}
	}
}

func TestBox(t *testing.T) {
	m := Box("box", 2, 2, 2)
	if len(m.Vertices) != 24 {
		t.Errorf("len(Vertices) = %d, want 24", len(m.Vertices))
	}
	if m.IndexCount() != 36 {
		t.Errorf("IndexCount() = %d, want 36", m.IndexCount())
	}
	for i, v := range m.Vertices {
		if n := v.Normal.Len(); n < 0.999 || n > 1.001 {
			t.Errorf("vertex %d normal length %v", i, n)
		}
		if d := v.Normal.Dot(v.Tangent); d != 0 {
			t.Errorf("vertex %d tangent not perpendicular to normal (dot %v)", i, d)
		}
		// Every corner lies on the face its normal points out of.
		if got := v.Pos.Dot(v.Normal); got != 1 {
			t.Errorf("vertex %d pos·normal = %v, want 1", i, got)
		}
	}
}

func TestMeshUpload(t *testing.T) {
	dev, _ := openDevice(t)

	m := Plane("plane", 4)
	if err := m.Upload(dev); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	defer m.Destroy()

	if !m.Uploaded() {
		t.Fatal("Uploaded() = false after Upload")
	}
	if got, want := m.VertexBuffer().Desc().Size, uint64(4*VertexStride); got != want {
		t.Errorf("vertex buffer size = %d, want %d", got, want)
	}
	if got, want := m.IndexBuffer().Desc().Size, uint64(6*4); got != want {
		t.Errorf("index buffer size = %d, want %d", got, want)
	}

	// A second upload keeps the buffers.
	vb := m.VertexBuffer()
	if err := m.Upload(dev); err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if m.VertexBuffer() != vb {
		t.Error("second Upload replaced the vertex buffer")
	}
}

func TestMeshUpload_Invalid(t *testing.T) {
	dev, _ := openDevice(t)

	tests := []struct {
		name string
		mesh *Mesh
	}{
		{"empty", &Mesh{Name: "empty"}},
		{"index out of range", &Mesh{Name: "bad", Vertices: make([]Vertex, 3), Indices: []uint32{0, 1, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mesh.Upload(dev)
			if !errors.Is(err, gpucore.ErrInvalidArgument) {
				t.Errorf("Upload() error = %v, want ErrInvalidArgument", err)
			}
			if tt.mesh.Uploaded() {
				t.Error("Uploaded() = true after failed Upload")
			}
		})
	}
}

// =============================================================================
// Scenes
// =============================================================================

func TestDefault(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for tq := ColorMapping; tq < TechniqueCount; tq++ {
		if len(s.ItemsFor(tq)) == 0 {
			t.Errorf("ItemsFor(%s) is empty", tq)
		}
	}
	if len(s.Lights) == 0 {
		t.Error("no lights")
	}
	if got := len(s.ItemsFor(ColorMapping)); got != 2 {
		t.Errorf("len(ItemsFor(ColorMapping)) = %d, want 2", got)
	}
}

func TestSceneUpload(t *testing.T) {
	dev, alloc := openDevice(t)

	s := Default()
	if err := s.Upload(dev, alloc); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	defer s.Destroy()

	used := alloc.Used(gpucore.HeapCbvSrvUav)
	want := uint32(len(s.Materials)*MaterialTextures + 1)
	if used != want {
		t.Errorf("Used(CbvSrvUav) = %d, want %d", used, want)
	}
	for _, m := range s.Materials {
		if m.Textures.Count != MaterialTextures {
			t.Errorf("%s: table count = %d, want %d", m.Name, m.Textures.Count, MaterialTextures)
		}
		if got := m.Maps()[0].Desc().ClearColor; got != m.Diffuse {
			t.Errorf("%s: diffuse map color = %v, want %v", m.Name, got, m.Diffuse)
		}
	}
	if s.Environment.Texture() == nil {
		t.Error("environment texture not created")
	}

	// Upload is a no-op the second time.
	if err := s.Upload(dev, alloc); err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if got := alloc.Used(gpucore.HeapCbvSrvUav); got != used {
		t.Errorf("second Upload allocated descriptors: %d -> %d", used, got)
	}
}

func TestBuilder_Errors(t *testing.T) {
	red := gputypes.Color{R: 1, A: 1}
	tests := []struct {
		name  string
		build func(b *Builder) *Builder
	}{
		{"unknown mesh", func(b *Builder) *Builder {
			return b.Material(&Material{Name: "m", Diffuse: red}).Item("i", ColorMapping, "nope", "m", camera.Identity())
		}},
		{"unknown material", func(b *Builder) *Builder {
			return b.Mesh(Box("cube", 1, 1, 1)).Item("i", ColorMapping, "cube", "nope", camera.Identity())
		}},
		{"duplicate mesh", func(b *Builder) *Builder {
			return b.Mesh(Box("cube", 1, 1, 1)).Mesh(Box("cube", 2, 2, 2))
		}},
		{"unknown technique", func(b *Builder) *Builder {
			return b.Mesh(Box("cube", 1, 1, 1)).Material(&Material{Name: "m"}).Item("i", TechniqueCount, "cube", "m", camera.Identity())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build(NewBuilder()).Build(); err == nil {
				t.Error("Build() succeeded, want error")
			}
		})
	}
}

func TestTechniqueString(t *testing.T) {
	if got := NormalMapping.String(); got != "NormalMapping" {
		t.Errorf("String() = %q", got)
	}
	if got := Technique(9).String(); got != "Technique(9)" {
		t.Errorf("String() = %q", got)
	}
}
