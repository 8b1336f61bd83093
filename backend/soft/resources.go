package soft

import (
	"context"
	"image"
	"image/color"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
)

// Texture is a software texture. Its state and contents belong to the GPU
// timeline and are only touched while the queue executes.
type Texture struct {
	id        gpucore.ResourceID
	desc      gpucore.TextureDesc
	destroyed atomic.Bool

	state    gpucore.ResourceState
	contents gputypes.Color
}

func (t *Texture) ID() gpucore.ResourceID    { return t.id }
func (t *Texture) Desc() gpucore.TextureDesc { return t.desc }
func (t *Texture) Destroy()                  { t.destroyed.Store(true) }
func (t *Texture) label() string             { return t.desc.Label }
func (t *Texture) isColor() bool             { return !t.desc.Format.HasDepth() }

// Buffer is a software buffer.
type Buffer struct {
	id        gpucore.ResourceID
	desc      gpucore.BufferDesc
	addr      uint64
	data      []byte
	destroyed atomic.Bool
}

func (b *Buffer) ID() gpucore.ResourceID   { return b.id }
func (b *Buffer) Desc() gpucore.BufferDesc { return b.desc }
func (b *Buffer) GPUAddress() uint64       { return b.addr }
func (b *Buffer) Destroy()                 { b.destroyed.Store(true) }

// Mapped returns the upload heap memory, or nil for default heap buffers.
func (b *Buffer) Mapped() []byte {
	if b.desc.Heap != gpucore.HeapUpload {
		return nil
	}
	return b.data
}

// Bytes returns the buffer contents regardless of heap. Used by tests.
func (b *Buffer) Bytes() []byte { return b.data }

// Pipeline is a validated pipeline description.
type Pipeline struct {
	desc      gpucore.PipelineDesc
	destroyed atomic.Bool
}

func (p *Pipeline) Label() string              { return p.desc.Label }
func (p *Pipeline) Desc() gpucore.PipelineDesc { return p.desc }
func (p *Pipeline) Destroy()                   { p.destroyed.Store(true) }

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

// DescriptorHeap is a software descriptor heap.
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

// Written returns how many descriptors of the heap hold a view.
func (h *DescriptorHeap) Written() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, v := range h.views {
		if v.kind != viewNone {
			n++
		}
	}
	return n
}

// SwapChain is an offscreen swap chain whose presents run on the GPU timeline.
type SwapChain struct {
	dev  *Device
	desc gpucore.SwapChainDesc

	mu      sync.Mutex
	buffers []*Texture
	current int

	presented atomic.Uint64
}

func (s *SwapChain) createBuffers() error {
	s.buffers = make([]*Texture, s.desc.BufferCount)
	for i := range s.buffers {
		tex, err := s.dev.CreateTexture(gpucore.TextureDesc{
			Label:        backBufferLabel(i),
			Width:        s.desc.Width,
			Height:       s.desc.Height,
			Format:       s.desc.Format,
			Usage:        gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
			InitialState: gpucore.StatePresent,
		})
		if err != nil {
			return err
		}
		s.buffers[i] = tex.(*Texture)
	}
	s.current = 0
	return nil
}

func backBufferLabel(i int) string {
	return "back buffer " + strconv.Itoa(i)
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

// Present queues the current back buffer and advances the index.
func (s *SwapChain) Present() error {
	s.mu.Lock()
	tex := s.buffers[s.current]
	s.mu.Unlock()

	if err := s.dev.queue.present(s, tex); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = (s.current + 1) % len(s.buffers)
	s.mu.Unlock()
	return nil
}

// Presented returns how many presents the GPU timeline has executed.
func (s *SwapChain) Presented() uint64 { return s.presented.Load() }

// Resize recreates the back buffers.
func (s *SwapChain) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "resize swap chain", "zero extent %dx%d", width, height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buffers {
		b.Destroy()
	}
	s.desc.Width, s.desc.Height = width, height
	return s.createBuffers()
}

func (s *SwapChain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buffers {
		b.Destroy()
	}
}

// ReadTexture returns the texture contents as an RGBA image.
// Depth textures are returned as gray levels.
func (d *Device) ReadTexture(_ context.Context, tex gpucore.Texture) (*image.RGBA, error) {
	t, err := asTexture("read texture", tex)
	if err != nil {
		return nil, err
	}

	// Serialize with the timeline so the contents are not torn.
	d.queue.execMu.Lock()
	c := t.contents
	d.queue.execMu.Unlock()

	px := toRGBA(c)
	if !t.isColor() {
		px = color.RGBA{R: px.R, G: px.R, B: px.R, A: 255}
	}

	img := image.NewRGBA(image.Rect(0, 0, int(t.desc.Width), int(t.desc.Height)))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = px.R
		img.Pix[i+1] = px.G
		img.Pix[i+2] = px.B
		img.Pix[i+3] = px.A
	}
	return img, nil
}

func toRGBA(c gputypes.Color) color.RGBA {
	return color.RGBA{R: unorm8(c.R), G: unorm8(c.G), B: unorm8(c.B), A: unorm8(c.A)}
}

func unorm8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
