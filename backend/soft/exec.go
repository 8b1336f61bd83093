package soft

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
)

// labelSet is an insertion-ordered set of resource labels.
type labelSet struct {
	seen map[gpucore.ResourceID]bool
	list []string
}

func (s *labelSet) add(t *Texture) {
	if s.seen == nil {
		s.seen = make(map[gpucore.ResourceID]bool)
	}
	if s.seen[t.id] {
		return
	}
	s.seen[t.id] = true
	s.list = append(s.list, t.label())
}

// execState replays one command list on the timeline.
type execState struct {
	dev   *Device
	label string

	pipeline *Pipeline
	rtvs     []*Texture
	dsv      *Texture
	tables   map[uint32]uint64
	cbvs     map[uint32]uint64
	vb, ib   *Buffer

	reads  labelSet
	writes labelSet
	draws  int
}

func newExecState(d *Device, label string) *execState {
	return &execState{
		dev:    d,
		label:  label,
		tables: make(map[uint32]uint64),
		cbvs:   make(map[uint32]uint64),
	}
}

func (e *execState) violate(format string, args ...any) {
	e.dev.violate("%s: %s", e.label, fmt.Sprintf(format, args...))
}

func (e *execState) SetPipeline(p gpucore.Pipeline) error {
	sp, ok := p.(*Pipeline)
	if !ok || sp == nil {
		return fmt.Errorf("pipeline %T not from this device", p)
	}
	if sp.destroyed.Load() {
		e.violate("pipeline %q used after destroy", sp.desc.Label)
	}
	e.pipeline = sp
	clear(e.tables)
	clear(e.cbvs)
	return nil
}

func (e *execState) rootParam(index uint32, want gpucore.RootParameterType) bool {
	if e.pipeline == nil {
		e.violate("root parameter %d bound without a pipeline", index)
		return false
	}
	params := e.pipeline.desc.RootParameters
	if int(index) >= len(params) {
		e.violate("root parameter %d out of range for %q (%d parameters)", index, e.pipeline.desc.Label, len(params))
		return false
	}
	if params[index].Type != want {
		e.violate("root parameter %d of %q has the wrong type", index, e.pipeline.desc.Label)
		return false
	}
	return true
}

func (e *execState) SetRootTable(index uint32, gpuHandle uint64) error {
	if !e.rootParam(index, gpucore.RootDescriptorTable) {
		return nil
	}
	if _, ok := e.dev.readView(gpuHandle, true); !ok {
		e.violate("descriptor table %#x is not in a shader-visible heap", gpuHandle)
		return nil
	}
	e.tables[index] = gpuHandle
	return nil
}

func (e *execState) SetRootConstantBuffer(index uint32, gpuAddress uint64) error {
	if !e.rootParam(index, gpucore.RootConstantBufferView) {
		return nil
	}
	if gpuAddress%256 != 0 {
		e.violate("constant buffer address %#x not 256-byte aligned", gpuAddress)
	}
	if _, ok := e.dev.bufferAt(gpuAddress); !ok {
		e.violate("constant buffer address %#x is not inside a live buffer", gpuAddress)
	}
	e.cbvs[index] = gpuAddress
	return nil
}

func (e *execState) Barrier(barriers []gpucore.Barrier) error {
	for _, b := range barriers {
		t, ok := b.Resource.(*Texture)
		if !ok || t == nil {
			return fmt.Errorf("barrier resource %T not from this device", b.Resource)
		}
		if t.state != b.Before {
			e.violate("barrier on %q expects %s, resource is in %s", t.label(), b.Before, t.state)
		}
		t.state = b.After
	}
	return nil
}

func (e *execState) SetRenderTargets(rtvs []uint64, dsv uint64) error {
	e.rtvs = e.rtvs[:0]
	for _, h := range rtvs {
		v, ok := e.dev.readView(h, false)
		if !ok || v.kind != viewRTV {
			return fmt.Errorf("%#x is not a render target view", h)
		}
		e.rtvs = append(e.rtvs, v.tex)
	}
	e.dsv = nil
	if dsv != 0 {
		v, ok := e.dev.readView(dsv, false)
		if !ok || v.kind != viewDSV {
			return fmt.Errorf("%#x is not a depth stencil view", dsv)
		}
		e.dsv = v.tex
	}
	return nil
}

func (e *execState) ClearRenderTarget(rtv uint64, c gputypes.Color) error {
	v, ok := e.dev.readView(rtv, false)
	if !ok || v.kind != viewRTV {
		return fmt.Errorf("%#x is not a render target view", rtv)
	}
	if !v.tex.state.Has(gpucore.StateRenderTarget) {
		e.violate("clear of %q in state %s", v.tex.label(), v.tex.state)
	}
	v.tex.contents = c
	e.writes.add(v.tex)
	return nil
}

func (e *execState) ClearDepth(dsv uint64, depth float32) error {
	v, ok := e.dev.readView(dsv, false)
	if !ok || v.kind != viewDSV {
		return fmt.Errorf("%#x is not a depth stencil view", dsv)
	}
	if !v.tex.state.Has(gpucore.StateDepthWrite) {
		e.violate("depth clear of %q in state %s", v.tex.label(), v.tex.state)
	}
	v.tex.contents = gputypes.Color{R: float64(depth)}
	e.writes.add(v.tex)
	return nil
}

func (e *execState) SetViewport(v gpucore.Viewport) error {
	if v.Width <= 0 || v.Height <= 0 {
		e.violate("empty viewport %vx%v", v.Width, v.Height)
	}
	return nil
}

func (e *execState) SetVertexBuffer(buf gpucore.Buffer, _ uint32) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("vertex buffer %T not from this device", buf)
	}
	e.vb = b
	return nil
}

func (e *execState) SetIndexBuffer(buf gpucore.Buffer) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("index buffer %T not from this device", buf)
	}
	e.ib = b
	return nil
}

func (e *execState) Draw(vertexCount, instanceCount uint32) error {
	return e.draw(false, vertexCount, instanceCount)
}

func (e *execState) DrawIndexed(indexCount, instanceCount uint32) error {
	return e.draw(true, indexCount, instanceCount)
}

func (e *execState) draw(indexed bool, count, instances uint32) error {
	if e.pipeline == nil {
		e.violate("draw without a pipeline")
		return nil
	}
	if count == 0 || instances == 0 {
		return nil
	}
	desc := e.pipeline.desc
	e.draws++

	e.checkTargets(desc)

	if desc.VertexStride > 0 && e.vb == nil {
		e.violate("draw with %q requires a vertex buffer", desc.Label)
	}
	if indexed && e.ib == nil {
		e.violate("indexed draw without an index buffer")
	}

	var source *Texture
	for i, p := range desc.RootParameters {
		idx := uint32(i)
		switch p.Type {
		case gpucore.RootConstantBufferView:
			if _, ok := e.cbvs[idx]; !ok {
				e.violate("root constant buffer %d of %q not bound", idx, desc.Label)
			}
		case gpucore.RootDescriptorTable:
			base, ok := e.tables[idx]
			if !ok {
				e.violate("descriptor table %d of %q not bound", idx, desc.Label)
				continue
			}
			if t := e.readTable(base, p.Count); source == nil {
				source = t
			}
		}
	}

	// Every texture holds one color. Mesh draws cover the whole target and
	// leave depth below the far plane; depth-tested full-screen draws only
	// reach pixels still at the far plane.
	fullscreen := desc.VertexStride == 0
	occluded := fullscreen && desc.DepthFormat != gputypes.TextureFormatUndefined &&
		e.dsv != nil && e.dsv.contents.R < 1
	for _, rt := range e.rtvs {
		e.writes.add(rt)
		if source != nil && !occluded {
			rt.contents = source.contents
		}
	}
	if e.dsv != nil && desc.DepthWrite {
		e.writes.add(e.dsv)
		if !fullscreen {
			e.dsv.contents = gputypes.Color{R: coveredDepth}
		}
	}
	return nil
}

// coveredDepth is the depth a mesh draw leaves behind.
const coveredDepth = 0.5

func (e *execState) checkTargets(desc gpucore.PipelineDesc) {
	if len(desc.ColorFormats) != len(e.rtvs) {
		e.violate("%q writes %d color targets, %d bound", desc.Label, len(desc.ColorFormats), len(e.rtvs))
	}
	for i, rt := range e.rtvs {
		if i < len(desc.ColorFormats) && rt.desc.Format != desc.ColorFormats[i] {
			e.violate("%q target %d format %s, bound %q is %s", desc.Label, i, desc.ColorFormats[i], rt.label(), rt.desc.Format)
		}
		if !rt.state.Has(gpucore.StateRenderTarget) {
			e.violate("draw into %q in state %s", rt.label(), rt.state)
		}
	}

	if desc.DepthFormat == gputypes.TextureFormatUndefined {
		return
	}
	if e.dsv == nil {
		e.violate("%q needs a depth target", desc.Label)
		return
	}
	want := gpucore.StateDepthRead
	if desc.DepthWrite {
		want = gpucore.StateDepthWrite
	}
	if !e.dsv.state.Has(want) && !e.dsv.state.Has(gpucore.StateDepthWrite) {
		e.violate("depth %q in state %s, need %s", e.dsv.label(), e.dsv.state, want)
	}
}

// readTable validates count descriptors at base and returns the first texture read.
func (e *execState) readTable(base uint64, count uint32) *Texture {
	var first *Texture
	inc := uint64(incrementCbvSrvUav)
	for i := range uint64(count) {
		v, ok := e.dev.readView(base+i*inc, true)
		if !ok || v.kind == viewNone {
			e.violate("descriptor %d of table %#x is not written", i, base)
			continue
		}
		if v.kind != viewSRV {
			continue
		}
		if v.tex.destroyed.Load() {
			e.violate("%q sampled after destroy", v.tex.label())
		}
		if v.tex.state&gpucore.StateShaderResource == 0 && !v.tex.state.Has(gpucore.StateDepthRead) {
			e.violate("%q sampled in state %s", v.tex.label(), v.tex.state)
		}
		e.reads.add(v.tex)
		if first == nil {
			first = v.tex
		}
	}
	return first
}
