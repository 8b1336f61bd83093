package halgpu

import (
	"context"
	"image"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/deferred/gpucore"
)

// Texture wraps a hal texture and the full view used for every descriptor
// written for it.
type Texture struct {
	id        gpucore.ResourceID
	desc      gpucore.TextureDesc
	dev       *Device
	hal       hal.Texture
	view      hal.TextureView
	destroyed atomic.Bool
}

func (t *Texture) ID() gpucore.ResourceID    { return t.id }
func (t *Texture) Desc() gpucore.TextureDesc { return t.desc }

// HAL returns the wrapped hal texture.
func (t *Texture) HAL() hal.Texture { return t.hal }

func (t *Texture) Destroy() {
	if t.destroyed.Swap(true) {
		return
	}
	t.dev.hal.DestroyTextureView(t.view)
	t.dev.hal.DestroyTexture(t.hal)
}

// Buffer wraps a hal buffer. Upload heap buffers stay mapped.
type Buffer struct {
	id        gpucore.ResourceID
	desc      gpucore.BufferDesc
	dev       *Device
	hal       hal.Buffer
	addr      uint64
	mapped    []byte
	destroyed atomic.Bool
}

func (b *Buffer) ID() gpucore.ResourceID   { return b.id }
func (b *Buffer) Desc() gpucore.BufferDesc { return b.desc }
func (b *Buffer) GPUAddress() uint64       { return b.addr }
func (b *Buffer) Mapped() []byte           { return b.mapped }

// HAL returns the wrapped hal buffer.
func (b *Buffer) HAL() hal.Buffer { return b.hal }

func (b *Buffer) Destroy() {
	if b.destroyed.Swap(true) {
		return
	}
	if b.mapped != nil {
		_ = b.dev.hal.UnmapBuffer(b.hal)
		b.mapped = nil
	}
	b.dev.hal.DestroyBuffer(b.hal)
}

func mapping(m hal.BufferMapping, size uint64) []byte {
	if m.Ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(m.Ptr), size)
}

// Pipeline holds the shader module of a pipeline description. The hal
// pipeline needs the sample type of every bound texture, so variants are
// built on first use and cached by the depth mask of the bound tables.
type Pipeline struct {
	desc   gpucore.PipelineDesc
	dev    *Device
	shader hal.ShaderModule

	mu        sync.Mutex
	variants  map[uint64]*variant
	destroyed bool
}

type variant struct {
	bindLayout hal.BindGroupLayout
	layout     hal.PipelineLayout
	pipeline   hal.RenderPipeline
}

func (p *Pipeline) Label() string              { return p.desc.Label }
func (p *Pipeline) Desc() gpucore.PipelineDesc { return p.desc }

// Variants returns how many hal pipelines were built.
func (p *Pipeline) Variants() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.variants)
}

// variant returns the hal pipeline whose bind group layout declares the
// texture bindings in depth as depth textures.
func (p *Pipeline) variant(depth uint64) (*variant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "bind pipeline", "%q destroyed", p.desc.Label)
	}
	if v, ok := p.variants[depth]; ok {
		return v, nil
	}
	v, err := p.dev.buildVariant(p, depth)
	if err != nil {
		return nil, err
	}
	if p.variants == nil {
		p.variants = make(map[uint64]*variant)
	}
	p.variants[depth] = v
	return v, nil
}

func (p *Pipeline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	for _, v := range p.variants {
		p.dev.hal.DestroyRenderPipeline(v.pipeline)
		p.dev.hal.DestroyPipelineLayout(v.layout)
		p.dev.hal.DestroyBindGroupLayout(v.bindLayout)
	}
	p.variants = nil
	p.dev.hal.DestroyShaderModule(p.shader)
}

type viewKind uint8

const (
	viewNone viewKind = iota
	viewRTV
	viewDSV
	viewSRV
	viewCBV
)

type view struct {
	kind   viewKind
	tex    *Texture
	buf    *Buffer
	offset uint64
	size   uint64
}

// DescriptorHeap is a CPU-side descriptor array. Tables are resolved into
// hal bind groups when a draw is encoded.
type DescriptorHeap struct {
	desc     gpucore.DescriptorHeapDesc
	cpuStart uint64
	gpuStart uint64
	inc      uint64

	mu    sync.RWMutex
	views []view
}

func (h *DescriptorHeap) Desc() gpucore.DescriptorHeapDesc { return h.desc }
func (h *DescriptorHeap) CPUStart() uint64                 { return h.cpuStart }
func (h *DescriptorHeap) GPUStart() uint64                 { return h.gpuStart }
func (h *DescriptorHeap) IncrementSize() uint64            { return h.inc }
func (h *DescriptorHeap) Destroy()                         {}

// SwapChain rotates offscreen hal textures. Presentation to a window
// surface belongs to the host that owns the surface.
type SwapChain struct {
	dev  *Device
	desc gpucore.SwapChainDesc

	mu        sync.Mutex
	buffers   []*Texture
	current   int
	presented atomic.Uint64
}

func (s *SwapChain) createBuffers() error {
	s.buffers = make([]*Texture, 0, s.desc.BufferCount)
	for i := 0; i < s.desc.BufferCount; i++ {
		tex, err := s.dev.CreateTexture(gpucore.TextureDesc{
			Label:        "back buffer " + strconv.Itoa(i),
			Width:        s.desc.Width,
			Height:       s.desc.Height,
			Format:       s.desc.Format,
			Usage:        gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
			InitialState: gpucore.StatePresent,
		})
		if err != nil {
			s.destroyBuffers()
			return err
		}
		s.buffers = append(s.buffers, tex.(*Texture))
	}
	s.current = 0
	return nil
}

func (s *SwapChain) destroyBuffers() {
	for _, b := range s.buffers {
		b.Destroy()
	}
	s.buffers = nil
}

func (s *SwapChain) Desc() gpucore.SwapChainDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

func (s *SwapChain) CurrentBackBufferIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *SwapChain) BackBuffer(i int) gpucore.Texture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.buffers) {
		return nil
	}
	return s.buffers[i]
}

// Present advances to the next back buffer. Queue order already places it
// after the submitted work.
func (s *SwapChain) Present() error {
	if err := s.dev.checkAlive("present"); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = (s.current + 1) % len(s.buffers)
	s.mu.Unlock()
	s.presented.Add(1)
	return nil
}

// Presented returns the number of presents.
func (s *SwapChain) Presented() uint64 { return s.presented.Load() }

func (s *SwapChain) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "resize swap chain", "zero extent %dx%d", width, height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyBuffers()
	s.desc.Width, s.desc.Height = width, height
	return s.createBuffers()
}

func (s *SwapChain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyBuffers()
}

// ReadTexture copies a color texture into a mapped staging buffer and
// converts it to RGBA.
func (d *Device) ReadTexture(ctx context.Context, tex gpucore.Texture) (*image.RGBA, error) {
	const op = "read texture"
	t, err := asTexture(op, tex)
	if err != nil {
		return nil, err
	}
	bpp := bytesPerPixel(t.desc.Format)
	if bpp == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: format %s cannot be read back", t.desc.Label, t.desc.Format)
	}

	w, h := t.desc.Width, t.desc.Height
	// Copy rows are 256-byte aligned.
	pitch := (w*bpp + 255) &^ 255
	size := uint64(pitch) * uint64(h)

	staging, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	defer d.hal.DestroyBuffer(staging)

	enc, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	defer enc.Destroy()
	if err := enc.BeginEncoding("readback"); err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	enc.CopyTextureToBuffer(t.hal, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: pitch, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: t.hal, Aspect: gputypes.TextureAspectAll},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	cmd, err := enc.EndEncoding()
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	defer d.hal.FreeCommandBuffer(cmd)

	index, err := d.queue.hal.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	if err := d.waitSubmission(ctx, index); err != nil {
		return nil, err
	}

	m, err := d.hal.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	defer func() { _ = d.hal.UnmapBuffer(staging) }()
	src := mapping(m, size)

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	swap := t.desc.Format == gputypes.TextureFormatBGRA8Unorm || t.desc.Format == gputypes.TextureFormatBGRA8UnormSrgb
	for y := 0; y < int(h); y++ {
		row := src[y*int(pitch) : y*int(pitch)+int(w)*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+int(w)*4]
		copy(dst, row)
		if swap {
			for i := 0; i < len(dst); i += 4 {
				dst[i], dst[i+2] = dst[i+2], dst[i]
			}
		}
	}
	return img, nil
}

// bytesPerPixel returns the size of the 8-bit four-channel formats
// ReadTexture supports, or 0.
func bytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return 4
	}
	return 0
}
