package soft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/backend"
	"github.com/gogpu/deferred/gpucore"
)

// =============================================================================
// Fixtures
// =============================================================================

func openDevice(t *testing.T, manual bool) *Device {
	t.Helper()
	d, err := Open(backend.Options{Debug: true, Manual: manual})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

type target struct {
	tex gpucore.Texture
	rtv uint64
	srv uint64 // GPU handle
}

// newTarget creates a color target with an RTV and a shader-visible SRV.
func newTarget(t *testing.T, d *Device, label string, rtvHeap, srvHeap gpucore.DescriptorHeap, slot uint64) target {
	t.Helper()
	tex, err := d.CreateTexture(gpucore.TextureDesc{
		Label:        label,
		Width:        4,
		Height:       4,
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Usage:        gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		InitialState: gpucore.StateRenderTarget,
	})
	if err != nil {
		t.Fatal(err)
	}
	rtv := rtvHeap.CPUStart() + slot*rtvHeap.IncrementSize()
	if err := d.CreateRenderTargetView(tex, rtv); err != nil {
		t.Fatal(err)
	}
	srvCPU := srvHeap.CPUStart() + slot*srvHeap.IncrementSize()
	if err := d.CreateShaderResourceView(tex, srvCPU); err != nil {
		t.Fatal(err)
	}
	return target{tex: tex, rtv: rtv, srv: srvHeap.GPUStart() + slot*srvHeap.IncrementSize()}
}

func heaps(t *testing.T, d *Device) (rtv, srv gpucore.DescriptorHeap) {
	t.Helper()
	rtv, err := d.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{Kind: gpucore.HeapRtv, Capacity: 8})
	if err != nil {
		t.Fatal(err)
	}
	srv, err = d.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{Kind: gpucore.HeapCbvSrvUav, Capacity: 8, ShaderVisible: true})
	if err != nil {
		t.Fatal(err)
	}
	return rtv, srv
}

func fullscreenPipeline(t *testing.T, d *Device, label string, tables int) gpucore.Pipeline {
	t.Helper()
	params := make([]gpucore.RootParameter, tables)
	for i := range params {
		params[i] = gpucore.RootParameter{Type: gpucore.RootDescriptorTable, Count: 1}
	}
	p, err := d.CreatePipeline(gpucore.PipelineDesc{
		Label:          label,
		SPIRV:          []uint32{0x07230203},
		VertexEntry:    "vs_main",
		FragmentEntry:  "fs_main",
		RootParameters: params,
		ColorFormats:   []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func record(t *testing.T, d *Device, label string, fn func(l gpucore.CommandList)) gpucore.CommandList {
	t.Helper()
	alloc, err := d.CreateCommandAllocator(label)
	if err != nil {
		t.Fatal(err)
	}
	l, err := d.CreateCommandList(label)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Reset(alloc, nil); err != nil {
		t.Fatal(err)
	}
	fn(l)
	if err := l.Close(); err != nil {
		t.Fatalf("Close(%s): %v", label, err)
	}
	return l
}

// =============================================================================
// Fence Tests
// =============================================================================

func TestFence_WaitAndSignal(t *testing.T) {
	d := openDevice(t, false)
	f, err := d.CreateFence(0)
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Queue().Signal(f, 3); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.Wait(ctx, 3); err != nil {
		t.Fatalf("Wait(3) = %v", err)
	}
	if f.Completed() != 3 {
		t.Errorf("Completed() = %d, want 3", f.Completed())
	}
}

func TestFence_WaitContextCancel(t *testing.T) {
	d := openDevice(t, true)
	f, _ := d.CreateFence(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
	if n := f.(*Fence).Waiters(); n != 0 {
		t.Errorf("Waiters() = %d after cancel, want 0", n)
	}
}

func TestFence_DestroyReleasesWaiters(t *testing.T) {
	d := openDevice(t, true)
	f, _ := d.CreateFence(0)

	done := make(chan error, 1)
	go func() { done <- f.Wait(context.Background(), 5) }()

	for f.(*Fence).Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	f.Destroy()

	select {
	case err := <-done:
		if !errors.Is(err, gpucore.ErrInvalidArgument) {
			t.Errorf("Wait after Destroy = %v, want ErrInvalidArgument", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Destroy")
	}
}

// =============================================================================
// Timeline Tests
// =============================================================================

func TestQueue_ManualAdvance(t *testing.T) {
	d := openDevice(t, true)
	q := d.SoftQueue()
	f, _ := d.CreateFence(0)

	for v := uint64(1); v <= 3; v++ {
		if err := q.Signal(f, v); err != nil {
			t.Fatal(err)
		}
	}
	if q.PendingSignals() != 3 {
		t.Fatalf("PendingSignals = %d, want 3", q.PendingSignals())
	}
	if f.Completed() != 0 {
		t.Fatalf("manual fence advanced on its own: %d", f.Completed())
	}

	if !q.AdvanceGPU() {
		t.Fatal("AdvanceGPU reported no signal")
	}
	if f.Completed() != 1 {
		t.Errorf("Completed() = %d after one advance, want 1", f.Completed())
	}

	q.DrainGPU()
	if f.Completed() != 3 {
		t.Errorf("Completed() = %d after drain, want 3", f.Completed())
	}
	if q.AdvanceGPU() {
		t.Error("AdvanceGPU on empty queue reported a signal")
	}
}

func TestAllocator_ReuseBeforeCompletion(t *testing.T) {
	d := openDevice(t, true)
	rtvHeap, srvHeap := heaps(t, d)
	rt := newTarget(t, d, "albedo", rtvHeap, srvHeap, 0)

	alloc, _ := d.CreateCommandAllocator("gbuffer[0]")
	l, _ := d.CreateCommandList("gbuffer")
	if err := l.Reset(alloc, nil); err != nil {
		t.Fatal(err)
	}
	l.ClearRenderTargetView(rt.rtv, gputypes.Color{R: 1, A: 1})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Queue().ExecuteCommandLists([]gpucore.CommandList{l}); err != nil {
		t.Fatal(err)
	}

	if err := alloc.Reset(); !errors.Is(err, gpucore.ErrAllocatorInUse) {
		t.Fatalf("Reset while queued = %v, want ErrAllocatorInUse", err)
	}

	d.SoftQueue().DrainGPU()
	if err := alloc.Reset(); err != nil {
		t.Errorf("Reset after execution = %v", err)
	}
}

func TestExecute_RejectsOpenList(t *testing.T) {
	d := openDevice(t, false)
	alloc, _ := d.CreateCommandAllocator("a")
	l, _ := d.CreateCommandList("open")
	_ = l.Reset(alloc, nil)

	err := d.Queue().ExecuteCommandLists([]gpucore.CommandList{l})
	if !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("execute open list = %v, want ErrInvalidArgument", err)
	}
}

func TestDeviceLoss(t *testing.T) {
	d := openDevice(t, false)
	f, _ := d.CreateFence(0)

	cause := errors.New("TDR")
	d.InjectDeviceLoss(cause)

	err := d.Queue().Signal(f, 1)
	if !errors.Is(err, gpucore.ErrDeviceLost) || !errors.Is(err, cause) {
		t.Errorf("Signal after loss = %v, want device lost wrapping cause", err)
	}
}

// =============================================================================
// Debug Layer Tests
// =============================================================================

func TestDebug_ReadAfterWrite(t *testing.T) {
	d := openDevice(t, true)
	rtvHeap, srvHeap := heaps(t, d)
	albedo := newTarget(t, d, "albedo", rtvHeap, srvHeap, 0)
	hdr := newTarget(t, d, "hdr", rtvHeap, srvHeap, 1)
	resolve := fullscreenPipeline(t, d, "resolve", 1)

	red := gputypes.Color{R: 1, A: 1}
	write := record(t, d, "geometry", func(l gpucore.CommandList) {
		l.ClearRenderTargetView(albedo.rtv, red)
	})
	read := record(t, d, "lighting", func(l gpucore.CommandList) {
		l.ResourceBarrier(gpucore.Transition(albedo.tex, gpucore.StateRenderTarget, gpucore.StatePixelShaderResource))
		l.SetPipeline(resolve)
		l.SetRenderTargets([]uint64{hdr.rtv}, 0)
		l.SetGraphicsRootDescriptorTable(0, albedo.srv)
		l.Draw(3, 1)
	})

	q := d.Queue()
	if err := q.ExecuteCommandLists([]gpucore.CommandList{write}); err != nil {
		t.Fatal(err)
	}
	if err := q.ExecuteCommandLists([]gpucore.CommandList{read}); err != nil {
		t.Fatal(err)
	}
	d.SoftQueue().DrainGPU()

	if v := d.Violations(); len(v) != 0 {
		t.Fatalf("unexpected violations: %v", v)
	}

	tr := d.Trace()
	if len(tr) != 2 || tr[0].List != "geometry" || tr[1].List != "lighting" {
		t.Fatalf("trace = %+v", tr)
	}
	if len(tr[1].Reads) != 1 || tr[1].Reads[0] != "albedo" {
		t.Errorf("lighting reads = %v, want [albedo]", tr[1].Reads)
	}
	if tr[1].Draws != 1 {
		t.Errorf("lighting draws = %d, want 1", tr[1].Draws)
	}

	img, err := d.ReadTexture(context.Background(), hdr.tex)
	if err != nil {
		t.Fatal(err)
	}
	if px := img.RGBAAt(0, 0); px.R != 255 || px.G != 0 {
		t.Errorf("hdr pixel = %v, want resolved red", px)
	}
}

func TestDebug_Violations(t *testing.T) {
	tests := []struct {
		name   string
		record func(l gpucore.CommandList, rt, other target, p gpucore.Pipeline)
	}{
		{
			name: "wrong barrier before state",
			record: func(l gpucore.CommandList, rt, _ target, _ gpucore.Pipeline) {
				l.ResourceBarrier(gpucore.Transition(rt.tex, gpucore.StatePixelShaderResource, gpucore.StateRenderTarget))
			},
		},
		{
			name: "sample a render target",
			record: func(l gpucore.CommandList, rt, other target, p gpucore.Pipeline) {
				l.SetPipeline(p)
				l.SetRenderTargets([]uint64{other.rtv}, 0)
				l.SetGraphicsRootDescriptorTable(0, rt.srv)
				l.Draw(3, 1)
			},
		},
		{
			name: "unbound table",
			record: func(l gpucore.CommandList, _, other target, p gpucore.Pipeline) {
				l.SetPipeline(p)
				l.SetRenderTargets([]uint64{other.rtv}, 0)
				l.Draw(3, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := openDevice(t, true)
			rtvHeap, srvHeap := heaps(t, d)
			rt := newTarget(t, d, "rt", rtvHeap, srvHeap, 0)
			other := newTarget(t, d, "other", rtvHeap, srvHeap, 1)
			p := fullscreenPipeline(t, d, "p", 1)

			l := record(t, d, tt.name, func(l gpucore.CommandList) { tt.record(l, rt, other, p) })
			if err := d.Queue().ExecuteCommandLists([]gpucore.CommandList{l}); err != nil {
				t.Fatal(err)
			}
			d.SoftQueue().DrainGPU()

			if len(d.Violations()) == 0 {
				t.Error("expected a violation")
			}
		})
	}
}

func TestDebug_PresentState(t *testing.T) {
	d := openDevice(t, true)
	sc, err := d.CreateSwapChain(gpucore.SwapChainDesc{Width: 4, Height: 4, BufferCount: 2, Format: gputypes.TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}

	if err := sc.Present(); err != nil {
		t.Fatal(err)
	}
	if sc.CurrentBackBufferIndex() != 1 {
		t.Errorf("CurrentBackBufferIndex = %d, want 1", sc.CurrentBackBufferIndex())
	}
	d.SoftQueue().DrainGPU()

	if v := d.Violations(); len(v) != 0 {
		t.Errorf("present in Present state reported %v", v)
	}
	if got := sc.(*SwapChain).Presented(); got != 1 {
		t.Errorf("Presented = %d, want 1", got)
	}
}

// =============================================================================
// Descriptor Tests
// =============================================================================

func TestDescriptors_KindChecks(t *testing.T) {
	d := openDevice(t, false)
	rtvHeap, srvHeap := heaps(t, d)

	depth, err := d.CreateTexture(gpucore.TextureDesc{
		Label:        "depth",
		Width:        4,
		Height:       4,
		Format:       gputypes.TextureFormatDepth24PlusStencil8,
		Usage:        gputypes.TextureUsageRenderAttachment,
		InitialState: gpucore.StateDepthWrite,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.CreateRenderTargetView(depth, rtvHeap.CPUStart()); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("RTV of depth texture = %v, want ErrInvalidArgument", err)
	}
	if err := d.CreateDepthStencilView(depth, srvHeap.CPUStart()); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("DSV in CBV heap = %v, want ErrInvalidArgument", err)
	}
	if err := d.CreateRenderTargetView(depth, 0xdead); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("RTV at bogus handle = %v, want ErrInvalidArgument", err)
	}

	if _, err := d.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{Kind: gpucore.HeapRtv, Capacity: 4, ShaderVisible: true}); err == nil {
		t.Error("shader-visible RTV heap accepted")
	}
}

func TestConstantBufferView_Alignment(t *testing.T) {
	d := openDevice(t, false)
	_, srvHeap := heaps(t, d)
	buf, err := d.CreateBuffer(gpucore.BufferDesc{Label: "cb", Size: 1024, Heap: gpucore.HeapUpload})
	if err != nil {
		t.Fatal(err)
	}
	if len(buf.Mapped()) != 1024 {
		t.Errorf("len(Mapped) = %d, want 1024", len(buf.Mapped()))
	}

	if err := d.CreateConstantBufferView(buf, 256, 256, srvHeap.CPUStart()); err != nil {
		t.Errorf("aligned CBV = %v", err)
	}
	if err := d.CreateConstantBufferView(buf, 100, 256, srvHeap.CPUStart()); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("misaligned CBV = %v, want ErrInvalidArgument", err)
	}
	if err := d.CreateConstantBufferView(buf, 768, 512, srvHeap.CPUStart()); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("out of range CBV = %v, want ErrInvalidArgument", err)
	}
}
