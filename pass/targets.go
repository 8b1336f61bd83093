package pass

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/descriptor"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/logger"
)

// Target names a size-dependent render target shared by the stages.
type Target uint8

// The shader resource views of the first six targets form one contiguous
// table in this order, so a stage binds the inputs it needs as a sub-range.
const (
	TargetAlbedo Target = iota
	TargetMaterial
	TargetNormal
	TargetDepth
	TargetAO
	TargetHDR
	TargetBackBuffer

	// TargetCount is the number of targets.
	TargetCount
)

// offscreenCount is the number of targets owned by Targets.
const offscreenCount = int(TargetBackBuffer)

// GBufferTableSize is the number of views from TargetAlbedo through TargetAO.
const GBufferTableSize = int(TargetAO) + 1

type targetSpec struct {
	format gputypes.TextureFormat
	state  gpucore.ResourceState
	clear  gputypes.Color
	depth  float32
	rtv    int // index in the RTV range, -1 for none
}

var targetSpecs = [offscreenCount]targetSpec{
	TargetAlbedo:   {format: gputypes.TextureFormatRGBA8Unorm, state: gpucore.StateRenderTarget, rtv: 0},
	TargetMaterial: {format: gputypes.TextureFormatRGBA8Unorm, state: gpucore.StateRenderTarget, rtv: 1},
	TargetNormal:   {format: gputypes.TextureFormatRGBA16Float, state: gpucore.StateRenderTarget, rtv: 2},
	TargetDepth:    {format: gputypes.TextureFormatDepth24PlusStencil8, state: gpucore.StateDepthWrite, depth: 1, rtv: -1},
	TargetAO:       {format: gputypes.TextureFormatR8Unorm, state: gpucore.StateRenderTarget, clear: gputypes.Color{R: 1, G: 1, B: 1, A: 1}, rtv: 3},
	TargetHDR:      {format: gputypes.TextureFormatRGBA16Float, state: gpucore.StateRenderTarget, clear: gputypes.Color{A: 1}, rtv: 4},
}

const colorTargetCount = 5

var targetNames = [TargetCount]string{
	TargetAlbedo:     "albedo",
	TargetMaterial:   "material",
	TargetNormal:     "normal",
	TargetDepth:      "depth",
	TargetAO:         "ambient occlusion",
	TargetHDR:        "hdr",
	TargetBackBuffer: "back buffer",
}

// String returns the target name.
func (t Target) String() string {
	if t < TargetCount {
		return targetNames[t]
	}
	return "unknown"
}

// Format returns the texture format of an offscreen target.
func (t Target) Format() gputypes.TextureFormat {
	if int(t) < offscreenCount {
		return targetSpecs[t].format
	}
	return gputypes.TextureFormatUndefined
}

// Targets owns the offscreen render targets and the views of every target,
// including one render target view per swap chain buffer.
//
// Views are allocated once. Resize recreates the textures and rewrites the
// views in place, so handles stay valid for the lifetime of Targets.
type Targets struct {
	dev  gpucore.Device
	swap gpucore.SwapChain

	width, height uint32
	tex           [offscreenCount]gpucore.Texture

	srv     descriptor.Range
	rtv     descriptor.Range
	dsv     descriptor.Range
	backRTV descriptor.Range
}

// NewTargets creates the targets at the swap chain size.
func NewTargets(dev gpucore.Device, alloc *descriptor.Allocator, swap gpucore.SwapChain) (*Targets, error) {
	if dev == nil || alloc == nil || swap == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "new targets", "nil device, allocator or swap chain")
	}
	desc := swap.Desc()
	t := &Targets{dev: dev, swap: swap}

	var err error
	if t.srv, err = alloc.Allocate(gpucore.HeapCbvSrvUav, offscreenCount); err != nil {
		return nil, fmt.Errorf("pass: target views: %w", err)
	}
	if t.rtv, err = alloc.Allocate(gpucore.HeapRtv, colorTargetCount); err != nil {
		return nil, fmt.Errorf("pass: target views: %w", err)
	}
	if t.dsv, err = alloc.Allocate(gpucore.HeapDsv, 1); err != nil {
		return nil, fmt.Errorf("pass: target views: %w", err)
	}
	if t.backRTV, err = alloc.Allocate(gpucore.HeapRtv, desc.BufferCount); err != nil {
		return nil, fmt.Errorf("pass: back buffer views: %w", err)
	}

	if err := t.create(desc.Width, desc.Height); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}

func (t *Targets) create(width, height uint32) error {
	for i, spec := range targetSpecs {
		name := Target(i).String()
		usage := gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
		if i != int(TargetDepth) {
			usage |= gputypes.TextureUsageCopySrc
		}
		tex, err := t.dev.CreateTexture(gpucore.TextureDesc{
			Label:        name,
			Width:        width,
			Height:       height,
			Format:       spec.format,
			Usage:        usage,
			InitialState: spec.state,
			ClearColor:   spec.clear,
			ClearDepth:   spec.depth,
		})
		if err != nil {
			return fmt.Errorf("pass: create %s target: %w", name, err)
		}
		t.tex[i] = tex

		if err := t.dev.CreateShaderResourceView(tex, t.srv.Handle(i).CPU); err != nil {
			return fmt.Errorf("pass: %s view: %w", name, err)
		}
		switch {
		case spec.rtv >= 0:
			err = t.dev.CreateRenderTargetView(tex, t.rtv.Handle(spec.rtv).CPU)
		default:
			err = t.dev.CreateDepthStencilView(tex, t.dsv.Handle(0).CPU)
		}
		if err != nil {
			return fmt.Errorf("pass: %s view: %w", name, err)
		}
	}

	for i := range t.backRTV.Count {
		if err := t.dev.CreateRenderTargetView(t.swap.BackBuffer(i), t.backRTV.Handle(i).CPU); err != nil {
			return fmt.Errorf("pass: back buffer %d view: %w", i, err)
		}
	}
	t.width, t.height = width, height
	return nil
}

// Resize recreates every target at the new size and resizes the swap
// chain. The GPU must be idle.
func (t *Targets) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "resize targets", "zero extent %dx%d", width, height)
	}
	t.destroyTextures()
	if err := t.swap.Resize(width, height); err != nil {
		return fmt.Errorf("pass: resize swap chain: %w", err)
	}
	if err := t.create(width, height); err != nil {
		return err
	}
	logger.Get().Info("pass: targets resized", "width", width, "height", height)
	return nil
}

// Size returns the target extent.
func (t *Targets) Size() (width, height uint32) { return t.width, t.height }

// Viewport returns a viewport covering the targets.
func (t *Targets) Viewport() gpucore.Viewport { return gpucore.FullViewport(t.width, t.height) }

// SwapChain returns the presentation swap chain.
func (t *Targets) SwapChain() gpucore.SwapChain { return t.swap }

// BackBufferFormat returns the swap chain format.
func (t *Targets) BackBufferFormat() gputypes.TextureFormat { return t.swap.Desc().Format }

// Texture returns target id. backBuffer selects the swap chain buffer for
// TargetBackBuffer and is ignored otherwise.
func (t *Targets) Texture(id Target, backBuffer int) gpucore.Texture {
	if id == TargetBackBuffer {
		return t.swap.BackBuffer(backBuffer)
	}
	if int(id) < offscreenCount {
		return t.tex[id]
	}
	return nil
}

// RTV returns the render target view of a color target. backBuffer is used
// for TargetBackBuffer only.
func (t *Targets) RTV(id Target, backBuffer int) uint64 {
	if id == TargetBackBuffer {
		return t.backRTV.Handle(backBuffer).CPU
	}
	return t.rtv.Handle(targetSpecs[id].rtv).CPU
}

// DSV returns the depth stencil view of TargetDepth.
func (t *Targets) DSV() uint64 { return t.dsv.Handle(0).CPU }

// Table returns the GPU handle of the view of id. Consecutive targets have
// consecutive views.
func (t *Targets) Table(id Target) uint64 { return t.srv.Handle(int(id)).GPU }

// ClearColor returns the clear value of a color target.
func (t *Targets) ClearColor(id Target) gputypes.Color {
	if int(id) < offscreenCount {
		return targetSpecs[id].clear
	}
	return gputypes.Color{A: 1}
}

// ClearDepth returns the clear value of TargetDepth.
func (t *Targets) ClearDepth() float32 { return targetSpecs[TargetDepth].depth }

func (t *Targets) destroyTextures() {
	for i, tex := range t.tex {
		if tex != nil {
			tex.Destroy()
			t.tex[i] = nil
		}
	}
}

// Destroy releases the offscreen textures. Views are not reclaimed.
func (t *Targets) Destroy() { t.destroyTextures() }
