package soft

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/backend"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/cmdlist"
	"github.com/gogpu/deferred/internal/logger"
)

func init() {
	backend.Register(backend.NameSoft, func(opts backend.Options) (gpucore.Device, error) {
		return Open(opts)
	})
}

// Descriptor increments, matching common desktop driver values.
const (
	incrementCbvSrvUav = 32
	incrementRtv       = 32
	incrementDsv       = 8

	// gpuHandleBit marks handles in the shader-visible address space.
	gpuHandleBit = uint64(1) << 48

	// bufferAddressBase is the first buffer GPU virtual address.
	bufferAddressBase = uint64(1) << 40
)

// Device is a software GPU.
type Device struct {
	opts   backend.Options
	queue  *Queue
	nextID atomic.Uint64

	mu        sync.Mutex
	heaps     []*DescriptorHeap
	buffers   []*Buffer // address-ordered, for GPU virtual address lookup
	nextAddr  uint64
	destroyed bool

	debugMu    sync.Mutex
	violations []string
	trace      []TraceEntry
	traceSeq   uint64
}

// Open creates a software device.
func Open(opts backend.Options) (*Device, error) {
	d := &Device{
		opts:     opts,
		nextAddr: bufferAddressBase,
	}
	d.queue = newQueue(d, opts.Manual)
	logger.Get().Debug("soft: device opened", "manual", opts.Manual, "debug", opts.Debug)
	return d, nil
}

// Info describes the software adapter.
func (d *Device) Info() gputypes.AdapterInfo {
	return gputypes.AdapterInfo{
		Name:       "Soft GPU",
		Vendor:     "gogpu",
		DeviceType: gputypes.DeviceTypeCPU,
		Driver:     "soft",
		Backend:    gputypes.BackendEmpty,
	}
}

// Limits returns the WebGPU default limits.
func (d *Device) Limits() gputypes.Limits { return gputypes.DefaultLimits() }

// Queue returns the direct queue.
func (d *Device) Queue() gpucore.Queue { return d.queue }

// SoftQueue returns the queue with its timeline controls.
func (d *Device) SoftQueue() *Queue { return d.queue }

func (d *Device) newID() gpucore.ResourceID {
	return gpucore.ResourceID(d.nextID.Add(1))
}

func (d *Device) checkAlive(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "device destroyed")
	}
	return nil
}

// CreateFence creates a fence.
func (d *Device) CreateFence(initial uint64) (gpucore.Fence, error) {
	if err := d.checkAlive("create fence"); err != nil {
		return nil, err
	}
	return newFence(d.newID(), initial), nil
}

// CreateCommandAllocator creates an allocator checked against the queue timeline.
func (d *Device) CreateCommandAllocator(label string) (gpucore.CommandAllocator, error) {
	if err := d.checkAlive("create command allocator"); err != nil {
		return nil, err
	}
	return cmdlist.NewAllocator(label, d.queue.CompletedSerial), nil
}

// CreateCommandList creates a closed command list.
func (d *Device) CreateCommandList(label string) (gpucore.CommandList, error) {
	if err := d.checkAlive("create command list"); err != nil {
		return nil, err
	}
	return cmdlist.NewList(label), nil
}

// CreateTexture creates a texture.
func (d *Device) CreateTexture(desc gpucore.TextureDesc) (gpucore.Texture, error) {
	if err := d.checkAlive("create texture"); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create texture", "%q: zero extent %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create texture", "%q: undefined format", desc.Label)
	}
	limit := d.Limits().MaxTextureDimension2D
	if desc.Width > limit || desc.Height > limit {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create texture", "%q: %dx%d exceeds %d", desc.Label, desc.Width, desc.Height, limit)
	}

	t := &Texture{id: d.newID(), desc: desc, state: desc.InitialState}
	if desc.Format.IsDepthStencil() {
		t.contents = gputypes.Color{R: float64(desc.ClearDepth)}
	} else {
		t.contents = desc.ClearColor
	}
	return t, nil
}

// CreateBuffer creates a buffer with a unique GPU virtual address range.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	if desc.Size == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create buffer", "%q: zero size", desc.Label)
	}
	if uint64(len(desc.Contents)) > desc.Size {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create buffer", "%q: %d content bytes exceed size %d", desc.Label, len(desc.Contents), desc.Size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create buffer", "device destroyed")
	}

	b := &Buffer{
		id:   d.newID(),
		desc: desc,
		addr: d.nextAddr,
		data: make([]byte, desc.Size),
	}
	copy(b.data, desc.Contents)
	b.desc.Contents = nil

	// Keep 64 KiB placement alignment like committed resources.
	d.nextAddr += (desc.Size + 0xFFFF) &^ 0xFFFF
	d.buffers = append(d.buffers, b)
	return b, nil
}

// CreatePipeline validates and stores a pipeline description.
func (d *Device) CreatePipeline(desc gpucore.PipelineDesc) (gpucore.Pipeline, error) {
	if err := d.checkAlive("create pipeline"); err != nil {
		return nil, err
	}
	if len(desc.SPIRV) == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create pipeline", "%q: empty shader module", desc.Label)
	}
	if desc.VertexEntry == "" {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create pipeline", "%q: missing vertex entry point", desc.Label)
	}
	if len(desc.ColorFormats) == 0 && desc.DepthFormat == gputypes.TextureFormatUndefined {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create pipeline", "%q: no render targets", desc.Label)
	}
	return &Pipeline{desc: desc}, nil
}

// CreateSwapChain creates an offscreen swap chain.
func (d *Device) CreateSwapChain(desc gpucore.SwapChainDesc) (gpucore.SwapChain, error) {
	if err := d.checkAlive("create swap chain"); err != nil {
		return nil, err
	}
	if desc.BufferCount < 2 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create swap chain", "buffer count %d, need at least 2", desc.BufferCount)
	}
	sc := &SwapChain{dev: d, desc: desc}
	if err := sc.createBuffers(); err != nil {
		return nil, err
	}
	return sc, nil
}

// CreateDescriptorHeap creates a heap with its own handle range.
func (d *Device) CreateDescriptorHeap(desc gpucore.DescriptorHeapDesc) (gpucore.DescriptorHeap, error) {
	if desc.Capacity == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create descriptor heap", "%s: zero capacity", desc.Kind)
	}
	if desc.ShaderVisible && desc.Kind != gpucore.HeapCbvSrvUav {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create descriptor heap", "%s heaps cannot be shader visible", desc.Kind)
	}

	var inc uint64
	switch desc.Kind {
	case gpucore.HeapCbvSrvUav:
		inc = incrementCbvSrvUav
	case gpucore.HeapRtv:
		inc = incrementRtv
	case gpucore.HeapDsv:
		inc = incrementDsv
	default:
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create descriptor heap", "unknown kind %d", desc.Kind)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "create descriptor heap", "device destroyed")
	}

	base := uint64(len(d.heaps)+1) << 32
	h := &DescriptorHeap{
		desc:     desc,
		cpuStart: base,
		inc:      inc,
		views:    make([]view, desc.Capacity),
	}
	if desc.ShaderVisible {
		h.gpuStart = base | gpuHandleBit
	}
	d.heaps = append(d.heaps, h)
	return h, nil
}

// lookup resolves a handle to its heap and slot.
func (d *Device) lookup(handle uint64, gpu bool) (*DescriptorHeap, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.heaps {
		start := h.cpuStart
		if gpu {
			if h.gpuStart == 0 {
				continue
			}
			start = h.gpuStart
		}
		end := start + uint64(h.desc.Capacity)*h.inc
		if handle < start || handle >= end {
			continue
		}
		off := handle - start
		if off%h.inc != 0 {
			return nil, 0, false
		}
		return h, int(off / h.inc), true
	}
	return nil, 0, false
}

func (d *Device) writeView(op string, dst uint64, kind gpucore.DescriptorHeapKind, v view) error {
	h, i, ok := d.lookup(dst, false)
	if !ok {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "handle %#x is not a descriptor", dst)
	}
	if h.desc.Kind != kind {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "handle %#x is in a %s heap, want %s", dst, h.desc.Kind, kind)
	}
	h.mu.Lock()
	h.views[i] = v
	h.mu.Unlock()
	return nil
}

// readView returns the descriptor at handle.
func (d *Device) readView(handle uint64, gpu bool) (view, bool) {
	h, i, ok := d.lookup(handle, gpu)
	if !ok {
		return view{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.views[i], true
}

func asTexture(op string, t gpucore.Texture) (*Texture, error) {
	st, ok := t.(*Texture)
	if !ok || st == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "texture %T not from this device", t)
	}
	if st.destroyed.Load() {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "texture %q destroyed", st.desc.Label)
	}
	return st, nil
}

// CreateRenderTargetView writes an RTV.
func (d *Device) CreateRenderTargetView(tex gpucore.Texture, dst uint64) error {
	const op = "create render target view"
	t, err := asTexture(op, tex)
	if err != nil {
		return err
	}
	if !t.desc.Usage.Contains(gputypes.TextureUsageRenderAttachment) || t.desc.Format.IsDepthStencil() {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q is not a color render target", t.desc.Label)
	}
	return d.writeView(op, dst, gpucore.HeapRtv, view{kind: viewRTV, tex: t})
}

// CreateDepthStencilView writes a DSV.
func (d *Device) CreateDepthStencilView(tex gpucore.Texture, dst uint64) error {
	const op = "create depth stencil view"
	t, err := asTexture(op, tex)
	if err != nil {
		return err
	}
	if !t.desc.Format.HasDepth() {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q has color format %s", t.desc.Label, t.desc.Format)
	}
	return d.writeView(op, dst, gpucore.HeapDsv, view{kind: viewDSV, tex: t})
}

// CreateShaderResourceView writes an SRV.
func (d *Device) CreateShaderResourceView(tex gpucore.Texture, dst uint64) error {
	const op = "create shader resource view"
	t, err := asTexture(op, tex)
	if err != nil {
		return err
	}
	if !t.desc.Usage.Contains(gputypes.TextureUsageTextureBinding) {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q lacks texture binding usage", t.desc.Label)
	}
	return d.writeView(op, dst, gpucore.HeapCbvSrvUav, view{kind: viewSRV, tex: t})
}

// CreateConstantBufferView writes a CBV. Offset and size must be 256-byte aligned.
func (d *Device) CreateConstantBufferView(buf gpucore.Buffer, offset, size uint64, dst uint64) error {
	const op = "create constant buffer view"
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "buffer %T not from this device", buf)
	}
	if offset%256 != 0 || size == 0 || size%256 != 0 {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: offset %d size %d not 256-byte aligned", b.desc.Label, offset, size)
	}
	if offset+size > b.desc.Size {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: range [%d,%d) exceeds size %d", b.desc.Label, offset, offset+size, b.desc.Size)
	}
	return d.writeView(op, dst, gpucore.HeapCbvSrvUav, view{kind: viewCBV, buf: b, offset: offset, size: size})
}

// bufferAt returns the buffer containing the GPU virtual address.
func (d *Device) bufferAt(addr uint64) (*Buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.buffers {
		if addr >= b.addr && addr < b.addr+b.desc.Size && !b.destroyed.Load() {
			return b, true
		}
	}
	return nil, false
}

// Destroy stops the timeline after the queued work and releases the device.
// In manual mode queued work is dropped.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	d.queue.close()
	logger.Get().Debug("soft: device destroyed", "violations", len(d.Violations()))
}

// InjectDeviceLoss makes every later submission fail with a device lost
// error wrapping cause.
func (d *Device) InjectDeviceLoss(cause error) {
	d.queue.loseDevice(cause)
}

func (d *Device) violate(format string, args ...any) {
	if !d.opts.Debug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.debugMu.Lock()
	d.violations = append(d.violations, msg)
	d.debugMu.Unlock()
	logger.Get().Warn("soft: validation", "violation", msg)
}

// Violations returns the debug layer findings so far.
func (d *Device) Violations() []string {
	d.debugMu.Lock()
	defer d.debugMu.Unlock()
	return append([]string(nil), d.violations...)
}

// TraceEntry describes one executed command list.
type TraceEntry struct {
	// Seq is the global execution order, starting at 1.
	Seq uint64

	// Serial is the submission the list belonged to.
	Serial uint64

	List   string
	Reads  []string
	Writes []string
	Draws  int
}

func (d *Device) record(e TraceEntry) {
	d.debugMu.Lock()
	d.traceSeq++
	e.Seq = d.traceSeq
	d.trace = append(d.trace, e)
	d.debugMu.Unlock()
}

// Trace returns the executed lists in GPU execution order.
func (d *Device) Trace() []TraceEntry {
	d.debugMu.Lock()
	defer d.debugMu.Unlock()
	return append([]TraceEntry(nil), d.trace...)
}

// ResetTrace clears the execution trace.
func (d *Device) ResetTrace() {
	d.debugMu.Lock()
	d.trace = nil
	d.debugMu.Unlock()
}

var (
	_ gpucore.Device     = (*Device)(nil)
	_ gpucore.Readbacker = (*Device)(nil)
)
