package halgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/cmdlist"
)

// maxRootParameters bounds the root signature size.
const maxRootParameters = 8

// encode replays a recorded list into a new hal command buffer. The bind
// groups it creates must outlive the submission.
func (d *Device) encode(cl *cmdlist.List) (hal.CommandEncoder, hal.CommandBuffer, []hal.BindGroup, error) {
	op := "encode " + cl.Label()
	enc, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cl.Label()})
	if err != nil {
		return nil, nil, nil, gpucore.DeviceLost(op, err)
	}
	if err := enc.BeginEncoding(cl.Label()); err != nil {
		return enc, nil, nil, gpucore.DeviceLost(op, err)
	}

	e := &encoder{dev: d, enc: enc, label: cl.Label()}
	if err := cmdlist.Playback(cl.Commands(), e); err != nil {
		e.endPass()
		enc.DiscardEncoding()
		return enc, nil, e.groups, err
	}
	e.endPass()
	buf, err := enc.EndEncoding()
	if err != nil {
		return enc, nil, e.groups, gpucore.DeviceLost(op, err)
	}
	return enc, buf, e.groups, nil
}

// encoder translates the explicit command model to hal render passes.
// Clears and barriers close the open pass; draws open one over the bound
// targets with load and store ops that keep their contents.
type encoder struct {
	dev   *Device
	enc   hal.CommandEncoder
	label string
	pass  hal.RenderPassEncoder

	pipeline *Pipeline
	rtvs     []*Texture
	dsv      *Texture
	viewport *gpucore.Viewport
	vertex   *Buffer
	index    *Buffer
	roots    [maxRootParameters]uint64
	groups   []hal.BindGroup
}

var _ cmdlist.Backend = (*encoder)(nil)

func (e *encoder) endPass() {
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
}

func (e *encoder) SetPipeline(p gpucore.Pipeline) error {
	hp, ok := p.(*Pipeline)
	if !ok || hp == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "pipeline %T not from this device", p)
	}
	e.pipeline = hp
	return nil
}

func (e *encoder) SetRootTable(index uint32, gpuHandle uint64) error {
	if index >= maxRootParameters {
		return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "root parameter %d out of range", index)
	}
	e.roots[index] = gpuHandle
	return nil
}

func (e *encoder) SetRootConstantBuffer(index uint32, gpuAddress uint64) error {
	if index >= maxRootParameters {
		return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "root parameter %d out of range", index)
	}
	e.roots[index] = gpuAddress
	return nil
}

// Barrier closes the pass and forwards the transitions to the hal encoder.
func (e *encoder) Barrier(barriers []gpucore.Barrier) error {
	e.endPass()
	hb := make([]hal.TextureBarrier, 0, len(barriers))
	for _, b := range barriers {
		t, err := asTexture(e.label, b.Resource)
		if err != nil {
			return err
		}
		hb = append(hb, hal.TextureBarrier{
			Texture: t.hal,
			Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
			Usage: hal.TextureUsageTransition{
				OldUsage: textureUsage(b.Before),
				NewUsage: textureUsage(b.After),
			},
		})
	}
	e.enc.TransitionTextures(hb)
	return nil
}

// textureUsage maps a resource state onto the hal usage it stands for.
func textureUsage(s gpucore.ResourceState) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if s&(gpucore.StateRenderTarget|gpucore.StateDepthWrite|gpucore.StateDepthRead) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if s&gpucore.StateShaderResource != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if s&gpucore.StateCopyDest != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	if s&gpucore.StateCopySource != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	return u
}

func (e *encoder) viewAt(handle uint64, gpu bool, kind viewKind) (view, error) {
	v, ok := e.dev.readView(handle, gpu)
	if !ok || v.kind != kind {
		return view{}, gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "handle %#x does not hold the expected view", handle)
	}
	if v.tex != nil && v.tex.destroyed.Load() {
		return view{}, gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "view %#x references destroyed %q", handle, v.tex.desc.Label)
	}
	return v, nil
}

func (e *encoder) SetRenderTargets(rtvs []uint64, dsv uint64) error {
	e.endPass()
	e.rtvs = e.rtvs[:0]
	for _, h := range rtvs {
		v, err := e.viewAt(h, false, viewRTV)
		if err != nil {
			return err
		}
		e.rtvs = append(e.rtvs, v.tex)
	}
	e.dsv = nil
	if dsv != 0 {
		v, err := e.viewAt(dsv, false, viewDSV)
		if err != nil {
			return err
		}
		e.dsv = v.tex
	}
	return nil
}

func (e *encoder) ClearRenderTarget(rtv uint64, c gputypes.Color) error {
	v, err := e.viewAt(rtv, false, viewRTV)
	if err != nil {
		return err
	}
	e.endPass()
	e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: e.label + " clear",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       v.tex.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: c,
		}},
	}).End()
	return nil
}

func (e *encoder) ClearDepth(dsv uint64, depth float32) error {
	v, err := e.viewAt(dsv, false, viewDSV)
	if err != nil {
		return err
	}
	e.endPass()
	e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: e.label + " clear depth",
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:            v.tex.view,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: depth,
		},
	}).End()
	return nil
}

func (e *encoder) SetViewport(v gpucore.Viewport) error {
	e.viewport = &v
	if e.pass != nil {
		e.pass.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
	}
	return nil
}

func asBuffer(op string, buf gpucore.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "buffer %T not from this device", buf)
	}
	if b.destroyed.Load() {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "buffer %q destroyed", b.desc.Label)
	}
	return b, nil
}

func (e *encoder) SetVertexBuffer(buf gpucore.Buffer, _ uint32) error {
	b, err := asBuffer(e.label, buf)
	if err != nil {
		return err
	}
	e.vertex = b
	if e.pass != nil {
		e.pass.SetVertexBuffer(0, b.hal, 0)
	}
	return nil
}

func (e *encoder) SetIndexBuffer(buf gpucore.Buffer) error {
	b, err := asBuffer(e.label, buf)
	if err != nil {
		return err
	}
	e.index = b
	if e.pass != nil {
		e.pass.SetIndexBuffer(b.hal, gputypes.IndexFormatUint32, 0)
	}
	return nil
}

// beginPass opens a pass over the bound targets and reapplies the
// pass-scoped state.
func (e *encoder) beginPass() error {
	if e.pass != nil {
		return nil
	}
	if len(e.rtvs) == 0 && e.dsv == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "draw without render targets")
	}
	desc := &hal.RenderPassDescriptor{Label: e.label}
	for _, t := range e.rtvs {
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:    t.view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		})
	}
	if e.dsv != nil {
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:         e.dsv.view,
			DepthLoadOp:  gputypes.LoadOpLoad,
			DepthStoreOp: gputypes.StoreOpStore,
		}
	}
	e.pass = e.enc.BeginRenderPass(desc)
	if v := e.viewport; v != nil {
		e.pass.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
	}
	if e.vertex != nil {
		e.pass.SetVertexBuffer(0, e.vertex.hal, 0)
	}
	if e.index != nil {
		e.pass.SetIndexBuffer(e.index.hal, gputypes.IndexFormatUint32, 0)
	}
	return nil
}

// bind resolves the root arguments into a bind group for the current
// pipeline and sets it with the matching pipeline variant.
func (e *encoder) bind() error {
	p := e.pipeline
	if p == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "draw without pipeline")
	}

	var entries []gputypes.BindGroupEntry
	var depth uint64
	for i, rp := range p.desc.RootParameters {
		arg := e.roots[i]
		if arg == 0 {
			return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "%s: root parameter %d not set", p.desc.Label, i)
		}
		switch rp.Type {
		case gpucore.RootConstantBufferView:
			b, ok := e.dev.bufferAt(arg)
			if !ok {
				return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "%s: address %#x is not in a buffer", p.desc.Label, arg)
			}
			off := arg - b.addr
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  rp.Register,
				Resource: gputypes.BufferBinding{Buffer: b.hal.NativeHandle(), Offset: off, Size: b.desc.Size - off},
			})
		case gpucore.RootDescriptorTable:
			h, start, ok := e.dev.lookup(arg, true)
			if !ok || start+int(rp.Count) > int(h.desc.Capacity) {
				return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "%s: table %#x outside a shader-visible heap", p.desc.Label, arg)
			}
			for j := uint32(0); j < rp.Count; j++ {
				v, err := e.viewAt(arg+uint64(j)*h.inc, true, viewSRV)
				if err != nil {
					return err
				}
				binding := rp.Register + j
				if v.tex.desc.Format.HasDepth() {
					depth |= 1 << binding
				}
				entries = append(entries, gputypes.BindGroupEntry{
					Binding:  binding,
					Resource: gputypes.TextureViewBinding{TextureView: v.tex.view.NativeHandle()},
				})
			}
		}
	}

	v, err := p.variant(depth)
	if err != nil {
		return err
	}
	group, err := e.dev.hal.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.desc.Label,
		Layout:  v.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.DeviceLost(e.label, err)
	}
	e.groups = append(e.groups, group)
	e.pass.SetPipeline(v.pipeline)
	e.pass.SetBindGroup(0, group, nil)
	return nil
}

func (e *encoder) Draw(vertexCount, instanceCount uint32) error {
	if err := e.beginPass(); err != nil {
		return err
	}
	if err := e.bind(); err != nil {
		return err
	}
	e.pass.Draw(vertexCount, instanceCount, 0, 0)
	return nil
}

func (e *encoder) DrawIndexed(indexCount, instanceCount uint32) error {
	if e.index == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, e.label, "indexed draw without index buffer")
	}
	if err := e.beginPass(); err != nil {
		return err
	}
	if err := e.bind(); err != nil {
		return err
	}
	e.pass.DrawIndexed(indexCount, instanceCount, 0, 0, 0)
	return nil
}
