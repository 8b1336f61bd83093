// Package descriptor hands out permanently owned descriptor ranges from
// fixed-capacity heaps.
//
// There is one heap per kind: a shader-visible CBV/SRV/UAV heap, an RTV heap
// and a DSV heap. Allocation bumps a per-heap cursor under that heap's mutex
// and is never reclaimed. Every range is contiguous, so descriptor i of a
// range lives at base + i*increment on both the CPU and the GPU side.
package descriptor

import (
	"fmt"
	"sync"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/logger"
)

// Handle is a CPU/GPU descriptor handle pair. GPU is zero for heaps that are
// not shader visible.
type Handle struct {
	CPU uint64
	GPU uint64
}

// IsZero reports whether h is the null handle.
func (h Handle) IsZero() bool { return h.CPU == 0 && h.GPU == 0 }

// Range is a contiguous run of descriptors from one heap.
type Range struct {
	Kind      gpucore.DescriptorHeapKind
	Base      Handle
	Count     int
	Increment uint64

	// First is the index of the first descriptor within its heap.
	First uint32
}

// Handle returns descriptor i of the range. It panics if i is out of range.
func (r Range) Handle(i int) Handle {
	if i < 0 || i >= r.Count {
		panic(fmt.Sprintf("descriptor: index %d out of range [0,%d)", i, r.Count))
	}
	off := uint64(i) * r.Increment
	h := Handle{CPU: r.Base.CPU + off}
	if r.Base.GPU != 0 {
		h.GPU = r.Base.GPU + off
	}
	return h
}

// Overlaps reports whether r and o share a descriptor.
func (r Range) Overlaps(o Range) bool {
	if r.Kind != o.Kind || r.Count == 0 || o.Count == 0 {
		return false
	}
	rEnd := r.First + uint32(r.Count)
	oEnd := o.First + uint32(o.Count)
	return r.First < oEnd && o.First < rEnd
}

// Capacities are the fixed heap sizes.
type Capacities struct {
	CbvSrvUav uint32
	Rtv       uint32
	Dsv       uint32
}

// DefaultCapacities fit the standard pipeline with a few hundred scene objects.
func DefaultCapacities() Capacities {
	return Capacities{CbvSrvUav: 4096, Rtv: 64, Dsv: 16}
}

func (c Capacities) of(kind gpucore.DescriptorHeapKind) uint32 {
	switch kind {
	case gpucore.HeapCbvSrvUav:
		return c.CbvSrvUav
	case gpucore.HeapRtv:
		return c.Rtv
	case gpucore.HeapDsv:
		return c.Dsv
	}
	return 0
}

type heap struct {
	mu   sync.Mutex
	heap gpucore.DescriptorHeap
	next uint32
}

// Allocator owns the descriptor heaps of a render context.
type Allocator struct {
	heaps [gpucore.DescriptorHeapKindCount]*heap
}

// New creates the three heaps on dev.
func New(dev gpucore.Device, caps Capacities) (*Allocator, error) {
	if dev == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "descriptor new", "nil device")
	}

	a := &Allocator{}
	for kind := range gpucore.DescriptorHeapKindCount {
		h, err := dev.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{
			Kind:          kind,
			Capacity:      caps.of(kind),
			ShaderVisible: kind == gpucore.HeapCbvSrvUav,
		})
		if err != nil {
			a.Destroy()
			return nil, fmt.Errorf("descriptor: create %s heap: %w", kind, err)
		}
		a.heaps[kind] = &heap{heap: h}
	}

	logger.Get().Debug("descriptor: heaps created",
		"cbv_srv_uav", caps.CbvSrvUav, "rtv", caps.Rtv, "dsv", caps.Dsv)
	return a, nil
}

func (a *Allocator) get(op string, kind gpucore.DescriptorHeapKind) (*heap, error) {
	if kind >= gpucore.DescriptorHeapKindCount || a.heaps[kind] == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "unknown heap kind %d", kind)
	}
	return a.heaps[kind], nil
}

// Allocate reserves count contiguous descriptors of kind.
// It fails with gpucore.ErrInvalidArgument for count <= 0 and with
// gpucore.ErrExhausted when the heap cannot hold count more descriptors.
func (a *Allocator) Allocate(kind gpucore.DescriptorHeapKind, count int) (Range, error) {
	const op = "descriptor allocate"
	h, err := a.get(op, kind)
	if err != nil {
		return Range{}, err
	}
	if count <= 0 {
		return Range{}, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%s: count %d", kind, count)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := h.heap.Desc().Capacity
	if uint64(h.next)+uint64(count) > uint64(capacity) {
		return Range{}, gpucore.Errorf(gpucore.KindExhausted, op,
			"%s heap: %d requested, %d of %d used", kind, count, h.next, capacity)
	}

	first := h.next
	h.next += uint32(count)

	inc := h.heap.IncrementSize()
	off := uint64(first) * inc
	r := Range{
		Kind:      kind,
		Base:      Handle{CPU: h.heap.CPUStart() + off},
		Count:     count,
		Increment: inc,
		First:     first,
	}
	if gpu := h.heap.GPUStart(); gpu != 0 {
		r.Base.GPU = gpu + off
	}
	return r, nil
}

// AllocateOne reserves a single descriptor.
func (a *Allocator) AllocateOne(kind gpucore.DescriptorHeapKind) (Handle, error) {
	r, err := a.Allocate(kind, 1)
	if err != nil {
		return Handle{}, err
	}
	return r.Base, nil
}

// Used returns the number of descriptors allocated from kind.
func (a *Allocator) Used(kind gpucore.DescriptorHeapKind) uint32 {
	h, err := a.get("descriptor used", kind)
	if err != nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

// Capacity returns the fixed size of the kind's heap.
func (a *Allocator) Capacity(kind gpucore.DescriptorHeapKind) uint32 {
	h, err := a.get("descriptor capacity", kind)
	if err != nil {
		return 0
	}
	return h.heap.Desc().Capacity
}

// Heap returns the underlying heap, or nil for an unknown kind.
func (a *Allocator) Heap(kind gpucore.DescriptorHeapKind) gpucore.DescriptorHeap {
	h, err := a.get("descriptor heap", kind)
	if err != nil {
		return nil
	}
	return h.heap
}

// Destroy releases the heaps. Safe to call more than once.
func (a *Allocator) Destroy() {
	for i, h := range a.heaps {
		if h == nil {
			continue
		}
		h.heap.Destroy()
		a.heaps[i] = nil
	}
}
