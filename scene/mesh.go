package scene

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/camera"
	"github.com/gogpu/deferred/gpucore"
)

// Vertex is the layout of the geometry vertex stream.
type Vertex struct {
	Pos     camera.Vec3
	Normal  camera.Vec3
	UV      [2]float32
	Tangent camera.Vec3
}

// VertexStride is the size of Vertex in bytes.
const VertexStride = 44

// VertexAttributes returns the attributes of Vertex at shader locations
// 0 through 3.
func VertexAttributes() []gpucore.VertexAttribute {
	return []gpucore.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x3, Offset: 0, Location: 0},
		{Format: gputypes.VertexFormatFloat32x3, Offset: 12, Location: 1},
		{Format: gputypes.VertexFormatFloat32x2, Offset: 24, Location: 2},
		{Format: gputypes.VertexFormatFloat32x3, Offset: 32, Location: 3},
	}
}

// Mesh is indexed triangle geometry. Upload copies it into default heap
// buffers; the CPU copies stay for inspection.
type Mesh struct {
	Name     string
	Vertices []Vertex
	Indices  []uint32

	vb, ib gpucore.Buffer
}

// VertexBuffer returns the uploaded vertices, or nil before Upload.
func (m *Mesh) VertexBuffer() gpucore.Buffer { return m.vb }

// IndexBuffer returns the uploaded indices, or nil before Upload.
func (m *Mesh) IndexBuffer() gpucore.Buffer { return m.ib }

// IndexCount returns the number of indices.
func (m *Mesh) IndexCount() uint32 { return uint32(len(m.Indices)) }

// Uploaded reports whether the mesh has GPU buffers.
func (m *Mesh) Uploaded() bool { return m.vb != nil && m.ib != nil }

// Upload creates the vertex and index buffers.
func (m *Mesh) Upload(dev gpucore.Device) error {
	if m.Uploaded() {
		return nil
	}
	if len(m.Vertices) == 0 || len(m.Indices) == 0 {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "upload mesh", "%q is empty", m.Name)
	}
	for _, i := range m.Indices {
		if int(i) >= len(m.Vertices) {
			return gpucore.Errorf(gpucore.KindInvalidArgument, "upload mesh", "%q: index %d out of %d vertices", m.Name, i, len(m.Vertices))
		}
	}

	vdata, err := binary.Append(nil, binary.LittleEndian, m.Vertices)
	if err != nil {
		return fmt.Errorf("scene: encode %s vertices: %w", m.Name, err)
	}
	idata, err := binary.Append(nil, binary.LittleEndian, m.Indices)
	if err != nil {
		return fmt.Errorf("scene: encode %s indices: %w", m.Name, err)
	}

	m.vb, err = dev.CreateBuffer(gpucore.BufferDesc{
		Label:    m.Name + " vertices",
		Size:     uint64(len(vdata)),
		Heap:     gpucore.HeapDefault,
		Usage:    gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
		Contents: vdata,
	})
	if err != nil {
		return gpucore.DeviceLost("create vertex buffer", err)
	}
	m.ib, err = dev.CreateBuffer(gpucore.BufferDesc{
		Label:    m.Name + " indices",
		Size:     uint64(len(idata)),
		Heap:     gpucore.HeapDefault,
		Usage:    gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst,
		Contents: idata,
	})
	if err != nil {
		m.vb.Destroy()
		m.vb = nil
		return gpucore.DeviceLost("create index buffer", err)
	}
	return nil
}

// Destroy releases the GPU buffers.
func (m *Mesh) Destroy() {
	if m.vb != nil {
		m.vb.Destroy()
		m.vb = nil
	}
	if m.ib != nil {
		m.ib.Destroy()
		m.ib = nil
	}
}

// Box returns an axis-aligned box centered at the origin, four vertices
// per face so every face has its own normal and tangent.
func Box(name string, width, height, depth float32) *Mesh {
	w, h, d := width/2, height/2, depth/2
	type face struct {
		normal, tangent camera.Vec3
		corners         [4]camera.Vec3
	}
	faces := [6]face{
		{camera.V3(0, 0, -1), camera.V3(1, 0, 0), [4]camera.Vec3{{X: -w, Y: -h, Z: -d}, {X: -w, Y: h, Z: -d}, {X: w, Y: h, Z: -d}, {X: w, Y: -h, Z: -d}}},
		{camera.V3(0, 0, 1), camera.V3(-1, 0, 0), [4]camera.Vec3{{X: w, Y: -h, Z: d}, {X: w, Y: h, Z: d}, {X: -w, Y: h, Z: d}, {X: -w, Y: -h, Z: d}}},
		{camera.V3(0, 1, 0), camera.V3(1, 0, 0), [4]camera.Vec3{{X: -w, Y: h, Z: -d}, {X: -w, Y: h, Z: d}, {X: w, Y: h, Z: d}, {X: w, Y: h, Z: -d}}},
		{camera.V3(0, -1, 0), camera.V3(-1, 0, 0), [4]camera.Vec3{{X: w, Y: -h, Z: -d}, {X: w, Y: -h, Z: d}, {X: -w, Y: -h, Z: d}, {X: -w, Y: -h, Z: -d}}},
		{camera.V3(-1, 0, 0), camera.V3(0, 0, -1), [4]camera.Vec3{{X: -w, Y: -h, Z: d}, {X: -w, Y: h, Z: d}, {X: -w, Y: h, Z: -d}, {X: -w, Y: -h, Z: -d}}},
		{camera.V3(1, 0, 0), camera.V3(0, 0, 1), [4]camera.Vec3{{X: w, Y: -h, Z: -d}, {X: w, Y: h, Z: -d}, {X: w, Y: h, Z: d}, {X: w, Y: -h, Z: d}}},
	}
	uvs := [4][2]float32{{0, 1}, {0, 0}, {1, 0}, {1, 1}}

	m := &Mesh{Name: name}
	for _, f := range faces {
		base := uint32(len(m.Vertices))
		for i, c := range f.corners {
			m.Vertices = append(m.Vertices, Vertex{Pos: c, Normal: f.normal, UV: uvs[i], Tangent: f.tangent})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}

// Plane returns a square in the XZ plane facing +Y.
func Plane(name string, size float32) *Mesh {
	s := size / 2
	up, tangent := camera.V3(0, 1, 0), camera.V3(1, 0, 0)
	return &Mesh{
		Name: name,
		Vertices: []Vertex{
			{Pos: camera.V3(-s, 0, -s), Normal: up, UV: [2]float32{0, 1}, Tangent: tangent},
			{Pos: camera.V3(-s, 0, s), Normal: up, UV: [2]float32{0, 0}, Tangent: tangent},
			{Pos: camera.V3(s, 0, s), Normal: up, UV: [2]float32{1, 0}, Tangent: tangent},
			{Pos: camera.V3(s, 0, -s), Normal: up, UV: [2]float32{1, 1}, Tangent: tangent},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}
