package pass

import (
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/scene"
	"github.com/gogpu/deferred/upload"
)

// GeometryKind returns the geometry pass kind drawing technique t.
func GeometryKind(t scene.Technique) (Kind, bool) {
	switch t {
	case scene.ColorMapping:
		return KindColorMapping, true
	case scene.TextureMapping:
		return KindTextureMapping, true
	case scene.NormalMapping:
		return KindNormalMapping, true
	case scene.HeightMapping:
		return KindHeightMapping, true
	}
	return KindCount, false
}

// Geometry draws the scene items of one technique into the G-buffer.
type Geometry struct {
	Base
	items   []scene.Item
	objects *upload.Ring
}

// NewGeometry returns a recorder for the items of technique t. Every item
// must use t and have an uploaded mesh and material.
func NewGeometry(t scene.Technique, items []scene.Item) (*Geometry, error) {
	kind, ok := GeometryKind(t)
	if !ok {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "new geometry recorder", "unknown technique %d", t)
	}
	for _, it := range items {
		if it.Technique != t {
			return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "new geometry recorder", "item %q uses %s, recorder draws %s", it.Name, it.Technique, t)
		}
		if it.Material == nil {
			return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "new geometry recorder", "item %q has no material", it.Name)
		}
	}
	return &Geometry{Base: NewBase(kind), items: items}, nil
}

// Items returns the items the recorder draws.
func (g *Geometry) Items() []scene.Item { return g.items }

// Init creates one object constant buffer per item and slot.
func (g *Geometry) Init(rc *Context) error {
	op := "init " + g.kind.String()
	for _, it := range g.items {
		if it.Mesh == nil || !it.Mesh.Uploaded() {
			return gpucore.Errorf(gpucore.KindNotInitialized, op, "item %q: mesh not uploaded", it.Name)
		}
		if TableSize(g.kind, 2) > 0 && it.Material.Textures.Count < TableSize(g.kind, 2) {
			return gpucore.Errorf(gpucore.KindNotInitialized, op, "item %q: material not uploaded", it.Name)
		}
	}
	if err := g.InitBase(rc); err != nil {
		return err
	}
	objects, err := upload.NewRing(rc.Device, g.kind.String()+" objects", rc.QueuedFrames, ObjectCBufferSize, max(len(g.items), 1))
	if err != nil {
		g.Base.Destroy()
		return err
	}
	g.objects = objects
	return nil
}

// RecordAndPushCommandLists draws every item with its object constants.
func (g *Geometry) RecordAndPushCommandLists(f *Frame) (int, error) {
	l, err := g.Begin(f)
	if err != nil {
		return 0, err
	}
	defer g.Abort()
	l.SetGraphicsRootConstantBufferView(0, f.ConstantsAddress)

	buf := g.objects.Slot(f.Slot)
	textured := TableSize(g.kind, 2) > 0
	for i, it := range g.items {
		cb := ObjectCBuffer{
			World:        it.World,
			TexTransform: it.TexTransform,
			Diffuse:      colorArray(it.Material.Diffuse),
			Roughness:    it.Material.Roughness,
			HeightScale:  it.Material.HeightScale,
		}
		if err := buf.CopyData(i, Marshal(nil, &cb)); err != nil {
			return 0, err
		}
		l.SetGraphicsRootConstantBufferView(1, buf.GPUAddress(i))
		if textured {
			l.SetGraphicsRootDescriptorTable(2, it.Material.Textures.Base.GPU)
		}
		l.SetVertexBuffer(it.Mesh.VertexBuffer(), scene.VertexStride)
		l.SetIndexBuffer(it.Mesh.IndexBuffer())
		l.DrawIndexed(it.Mesh.IndexCount(), 1)
	}
	if err := g.End(); err != nil {
		return 0, err
	}
	return 1, nil
}

// Destroy releases the object constants and the per-slot lists.
func (g *Geometry) Destroy() {
	if g.objects != nil {
		g.objects.Destroy()
		g.objects = nil
	}
	g.Base.Destroy()
}
