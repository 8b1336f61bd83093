package halgpu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register the Vulkan HAL backend

	"github.com/gogpu/deferred/backend"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/cmdlist"
	"github.com/gogpu/deferred/internal/logger"
)

func init() {
	backend.Register(backend.NameHAL, func(opts backend.Options) (gpucore.Device, error) {
		return Open(opts)
	})
}

// ErrNoAdapter is returned when no hardware adapter matches the options.
var ErrNoAdapter = errors.New("halgpu: no adapter")

// Descriptor handle layout, shared with the soft device.
const (
	incrementCbvSrvUav = 32
	incrementRtv       = 32
	incrementDsv       = 8

	gpuHandleBit      = uint64(1) << 48
	bufferAddressBase = uint64(1) << 40
)

// hardware lists the hal backends Open tries, best first.
var hardware = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
}

// Device implements gpucore.Device on a hal device.
type Device struct {
	hal    hal.Device
	queue  *Queue
	info   gputypes.AdapterInfo
	limits gputypes.Limits
	opts   backend.Options

	// instance is nil for devices borrowed from a host.
	instance hal.Instance

	nextID atomic.Uint64

	mu        sync.Mutex
	heaps     []*DescriptorHeap
	buffers   []*Buffer
	nextAddr  uint64
	destroyed bool
}

// Open opens the first hardware adapter whose name contains opts.Adapter.
func Open(opts backend.Options) (*Device, error) {
	var errs []error
	for _, variant := range hardware {
		api, ok := hal.GetBackend(variant)
		if !ok {
			continue
		}
		d, err := openAPI(api, opts)
		if err == nil {
			return d, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", variant, err))
	}
	if len(errs) == 0 {
		return nil, ErrNoAdapter
	}
	return nil, errors.Join(append([]error{ErrNoAdapter}, errs...)...)
}

// OpenNoop opens the hal noop device. Submissions complete immediately and
// textures hold no contents.
func OpenNoop(opts backend.Options) (*Device, error) {
	return openAPI(noop.API{}, opts)
}

func openAPI(api hal.Backend, opts backend.Options) (*Device, error) {
	var flags gputypes.InstanceFlags
	if opts.Debug {
		flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: flags})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	selected, ok := selectAdapter(instance.EnumerateAdapters(nil), opts.Adapter)
	if !ok {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	open, err := selected.Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open %q: %w", selected.Info.Name, err)
	}

	d := newDevice(open.Device, open.Queue, selected.Info, selected.Capabilities.Limits, opts)
	d.instance = instance
	logger.Get().Debug("halgpu: device opened", "adapter", selected.Info.Name, "backend", selected.Info.Backend)
	return d, nil
}

// selectAdapter prefers discrete and integrated GPUs. A non-empty name
// restricts the choice to adapters whose name contains it.
func selectAdapter(adapters []hal.ExposedAdapter, name string) (*hal.ExposedAdapter, bool) {
	var fallback *hal.ExposedAdapter
	for i := range adapters {
		a := &adapters[i]
		if name != "" && !strings.Contains(strings.ToLower(a.Info.Name), strings.ToLower(name)) {
			continue
		}
		switch a.Info.DeviceType {
		case gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU:
			return a, true
		}
		if fallback == nil {
			fallback = a
		}
	}
	return fallback, fallback != nil
}

// NewFromProvider wraps the device of a host application. The provider
// must expose HalDevice and HalQueue returning hal types. The host keeps
// ownership: Destroy releases only what this package created.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "wrap device", "provider %T does not expose HAL types", provider)
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "wrap device", "provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "wrap device", "provider HalQueue is not hal.Queue")
	}

	info := gputypes.AdapterInfo{Name: provider.AdapterInfo().Name}
	switch provider.AdapterInfo().Type {
	case gpucontext.AdapterTypeDiscrete:
		info.DeviceType = gputypes.DeviceTypeDiscreteGPU
	case gpucontext.AdapterTypeIntegrated:
		info.DeviceType = gputypes.DeviceTypeIntegratedGPU
	case gpucontext.AdapterTypeSoftware:
		info.DeviceType = gputypes.DeviceTypeCPU
	}
	logger.Get().Debug("halgpu: wrapped host device", "adapter", info.Name)
	return newDevice(dev, queue, info, gputypes.DefaultLimits(), backend.Options{}), nil
}

func newDevice(dev hal.Device, queue hal.Queue, info gputypes.AdapterInfo, limits gputypes.Limits, opts backend.Options) *Device {
	d := &Device{
		hal:      dev,
		info:     info,
		limits:   limits,
		opts:     opts,
		nextAddr: bufferAddressBase,
	}
	d.queue = newQueue(d, queue)
	return d
}

func (d *Device) Info() gputypes.AdapterInfo { return d.info }
func (d *Device) Limits() gputypes.Limits    { return d.limits }
func (d *Device) Queue() gpucore.Queue       { return d.queue }

// HALQueue returns the queue with its submission counters.
func (d *Device) HALQueue() *Queue { return d.queue }

// HAL returns the wrapped hal device.
func (d *Device) HAL() hal.Device { return d.hal }

// External reports whether the device belongs to a host application.
func (d *Device) External() bool { return d.instance == nil }

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

func (d *Device) CreateFence(initial uint64) (gpucore.Fence, error) {
	if err := d.checkAlive("create fence"); err != nil {
		return nil, err
	}
	return &Fence{id: d.newID(), queue: d.queue, value: initial}, nil
}

func (d *Device) CreateCommandAllocator(label string) (gpucore.CommandAllocator, error) {
	if err := d.checkAlive("create command allocator"); err != nil {
		return nil, err
	}
	return cmdlist.NewAllocator(label, d.queue.CompletedSerial), nil
}

func (d *Device) CreateCommandList(label string) (gpucore.CommandList, error) {
	if err := d.checkAlive("create command list"); err != nil {
		return nil, err
	}
	return cmdlist.NewList(label), nil
}

func (d *Device) CreateTexture(desc gpucore.TextureDesc) (gpucore.Texture, error) {
	const op = "create texture"
	if err := d.checkAlive(op); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: zero extent %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: undefined format", desc.Label)
	}
	if limit := d.limits.MaxTextureDimension2D; desc.Width > limit || desc.Height > limit {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: %dx%d exceeds %d", desc.Label, desc.Width, desc.Height, limit)
	}

	ht, err := d.hal.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	hv, err := d.hal.CreateTextureView(ht, &hal.TextureViewDescriptor{
		Label:     desc.Label,
		Format:    desc.Format,
		Dimension: gputypes.TextureViewDimension2D,
		Aspect:    gputypes.TextureAspectAll,
	})
	if err != nil {
		d.hal.DestroyTexture(ht)
		return nil, gpucore.DeviceLost(op, err)
	}
	return &Texture{id: d.newID(), desc: desc, dev: d, hal: ht, view: hv}, nil
}

// CreateBuffer creates a buffer with its own GPU virtual address range.
// Default heap buffers receive their contents through the queue; upload
// heap buffers are mapped for their lifetime.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	const op = "create buffer"
	if desc.Size == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: zero size", desc.Label)
	}
	if uint64(len(desc.Contents)) > desc.Size {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: %d content bytes exceed size %d", desc.Label, len(desc.Contents), desc.Size)
	}
	if err := d.checkAlive(op); err != nil {
		return nil, err
	}

	usage := desc.Usage | gputypes.BufferUsageCopyDst
	if desc.Heap == gpucore.HeapUpload {
		usage |= gputypes.BufferUsageMapWrite
	}
	hb, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            usage,
		MappedAtCreation: desc.Heap == gpucore.HeapUpload,
	})
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}

	b := &Buffer{id: d.newID(), desc: desc, dev: d, hal: hb}
	b.desc.Contents = nil
	if desc.Heap == gpucore.HeapUpload {
		m, err := d.hal.MapBuffer(hb, 0, desc.Size)
		if err != nil {
			d.hal.DestroyBuffer(hb)
			return nil, gpucore.DeviceLost(op, err)
		}
		b.mapped = mapping(m, desc.Size)
		copy(b.mapped, desc.Contents)
	} else if len(desc.Contents) > 0 {
		if err := d.queue.hal.WriteBuffer(hb, 0, desc.Contents); err != nil {
			d.hal.DestroyBuffer(hb)
			return nil, gpucore.DeviceLost(op, err)
		}
	}

	d.mu.Lock()
	b.addr = d.nextAddr
	d.nextAddr += (desc.Size + 0xFFFF) &^ 0xFFFF
	d.buffers = append(d.buffers, b)
	d.mu.Unlock()
	return b, nil
}

func (d *Device) CreatePipeline(desc gpucore.PipelineDesc) (gpucore.Pipeline, error) {
	const op = "create pipeline"
	if err := d.checkAlive(op); err != nil {
		return nil, err
	}
	if len(desc.SPIRV) == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: empty shader module", desc.Label)
	}
	if desc.VertexEntry == "" {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: missing vertex entry point", desc.Label)
	}
	if len(desc.ColorFormats) == 0 && desc.DepthFormat == gputypes.TextureFormatUndefined {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: no render targets", desc.Label)
	}
	if len(desc.RootParameters) > maxRootParameters {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: %d root parameters, limit %d", desc.Label, len(desc.RootParameters), maxRootParameters)
	}
	shader, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: desc.SPIRV},
	})
	if err != nil {
		return nil, gpucore.DeviceLost(op, fmt.Errorf("%q: %w", desc.Label, err))
	}
	return &Pipeline{desc: desc, dev: d, shader: shader}, nil
}

// buildVariant creates the bind group layout, pipeline layout and render
// pipeline of p. Root parameters map onto group 0: a view at register r
// binds @binding(r) and a table of n views binds r through r+n-1.
func (d *Device) buildVariant(p *Pipeline, depth uint64) (*variant, error) {
	op := "build pipeline " + p.desc.Label
	var entries []gputypes.BindGroupLayoutEntry
	for _, rp := range p.desc.RootParameters {
		switch rp.Type {
		case gpucore.RootConstantBufferView:
			entries = append(entries, gputypes.BindGroupLayoutEntry{
				Binding:    rp.Register,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			})
		case gpucore.RootDescriptorTable:
			for i := uint32(0); i < rp.Count; i++ {
				binding := rp.Register + i
				sample := gputypes.TextureSampleTypeUnfilterableFloat
				if depth&(1<<binding) != 0 {
					sample = gputypes.TextureSampleTypeDepth
				}
				entries = append(entries, gputypes.BindGroupLayoutEntry{
					Binding:    binding,
					Visibility: gputypes.ShaderStageFragment,
					Texture: &gputypes.TextureBindingLayout{
						SampleType:    sample,
						ViewDimension: gputypes.TextureViewDimension2D,
					},
				})
			}
		}
	}

	bindLayout, err := d.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: p.desc.Label, Entries: entries})
	if err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	layout, err := d.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.desc.Label,
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.hal.DestroyBindGroupLayout(bindLayout)
		return nil, gpucore.DeviceLost(op, err)
	}

	desc := &hal.RenderPipelineDescriptor{
		Label:  p.desc.Label,
		Layout: layout,
		Vertex: hal.VertexState{Module: p.shader, EntryPoint: p.desc.VertexEntry},
		Primitive: gputypes.PrimitiveState{
			Topology:  gputypes.PrimitiveTopologyTriangleList,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  p.desc.CullMode,
		},
		Multisample: gputypes.DefaultMultisampleState(),
	}
	if p.desc.VertexStride > 0 {
		attrs := make([]gputypes.VertexAttribute, len(p.desc.VertexAttributes))
		for i, a := range p.desc.VertexAttributes {
			attrs[i] = gputypes.VertexAttribute{Format: a.Format, Offset: a.Offset, ShaderLocation: a.Location}
		}
		desc.Vertex.Buffers = []gputypes.VertexBufferLayout{{
			ArrayStride: uint64(p.desc.VertexStride),
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes:  attrs,
		}}
	}
	if p.desc.DepthFormat != gputypes.TextureFormatUndefined {
		compare := p.desc.DepthCompare
		if compare == gputypes.CompareFunctionUndefined {
			compare = gputypes.CompareFunctionAlways
		}
		desc.DepthStencil = &hal.DepthStencilState{
			Format:            p.desc.DepthFormat,
			DepthWriteEnabled: p.desc.DepthWrite,
			DepthCompare:      compare,
		}
	}
	if len(p.desc.ColorFormats) > 0 {
		frag := &hal.FragmentState{Module: p.shader, EntryPoint: p.desc.FragmentEntry}
		for _, f := range p.desc.ColorFormats {
			t := gputypes.ColorTargetState{Format: f, WriteMask: gputypes.ColorWriteMaskAll}
			if p.desc.Additive {
				t.Blend = &gputypes.BlendState{
					Color: gputypes.BlendComponent{SrcFactor: gputypes.BlendFactorOne, DstFactor: gputypes.BlendFactorOne, Operation: gputypes.BlendOperationAdd},
					Alpha: gputypes.BlendComponent{SrcFactor: gputypes.BlendFactorOne, DstFactor: gputypes.BlendFactorOne, Operation: gputypes.BlendOperationAdd},
				}
			}
			frag.Targets = append(frag.Targets, t)
		}
		desc.Fragment = frag
	}

	pipeline, err := d.hal.CreateRenderPipeline(desc)
	if err != nil {
		d.hal.DestroyPipelineLayout(layout)
		d.hal.DestroyBindGroupLayout(bindLayout)
		return nil, gpucore.DeviceLost(op, err)
	}
	logger.Get().Debug("halgpu: pipeline built", "pipeline", p.desc.Label, "depth_mask", depth)
	return &variant{bindLayout: bindLayout, layout: layout, pipeline: pipeline}, nil
}

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

func (d *Device) CreateDescriptorHeap(desc gpucore.DescriptorHeapDesc) (gpucore.DescriptorHeap, error) {
	const op = "create descriptor heap"
	if desc.Capacity == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%s: zero capacity", desc.Kind)
	}
	if desc.ShaderVisible && desc.Kind != gpucore.HeapCbvSrvUav {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%s heaps cannot be shader visible", desc.Kind)
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
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "unknown kind %d", desc.Kind)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "device destroyed")
	}
	base := uint64(len(d.heaps)+1) << 32
	h := &DescriptorHeap{desc: desc, cpuStart: base, inc: inc, views: make([]view, desc.Capacity)}
	if desc.ShaderVisible {
		h.gpuStart = base | gpuHandleBit
	}
	d.heaps = append(d.heaps, h)
	return h, nil
}

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
	ht, ok := t.(*Texture)
	if !ok || ht == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "texture %T not from this device", t)
	}
	if ht.destroyed.Load() {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "texture %q destroyed", ht.desc.Label)
	}
	return ht, nil
}

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

// waitSubmission polls until the hal queue completes index.
func (d *Device) waitSubmission(ctx context.Context, index uint64) error {
	f := &Fence{queue: d.queue}
	d.queue.mu.Lock()
	d.queue.signals = append(d.queue.signals, pendingSignal{fence: f, index: index, value: 1})
	d.queue.mu.Unlock()
	return f.Wait(ctx, 1)
}

// Destroy waits for the GPU and releases the device. A host device is
// left open.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	d.queue.close()
	if d.instance == nil {
		logger.Get().Debug("halgpu: released host device")
		return
	}
	d.hal.Destroy()
	d.instance.Destroy()
	logger.Get().Debug("halgpu: device destroyed", "adapter", d.info.Name)
}

// InjectDeviceLoss makes every later submission fail with a device lost
// error wrapping cause.
func (d *Device) InjectDeviceLoss(cause error) {
	d.queue.loseDevice(cause)
}

var (
	_ gpucore.Device     = (*Device)(nil)
	_ gpucore.Readbacker = (*Device)(nil)
)
