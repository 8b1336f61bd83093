// Package upload provides CPU-writable GPU memory for per-frame data.
//
// A Buffer is one persistently mapped upload-heap buffer holding a fixed
// number of equally sized elements. A Ring holds one Buffer per queued frame
// slot so the CPU can write frame N+1 while the GPU still reads frame N. An
// Arena is a per-slot linear allocator for transient constants.
//
// None of these types synchronize with the GPU. Writing a slot is safe once
// the frame scheduler has waited for the fence that slot was last used with.
package upload

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
)

// ConstantBufferAlignment is the required placement of constant buffer views.
const ConstantBufferAlignment = 256

// Align rounds n up to a multiple of a, which must be a power of two.
func Align(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}

// Buffer is a mapped upload buffer of count elements.
type Buffer struct {
	label       string
	res         gpucore.Buffer
	mapped      []byte
	elementSize uint64
	stride      uint64
	count       int
}

// NewBuffer creates an upload buffer. Constant buffers pad each element to
// ConstantBufferAlignment so every element can back its own view.
func NewBuffer(dev gpucore.Device, label string, elementSize uint64, count int, constant bool) (*Buffer, error) {
	const op = "upload new buffer"
	if dev == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: nil device", label)
	}
	if elementSize == 0 || count <= 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%q: %d elements of %d bytes", label, count, elementSize)
	}

	stride := elementSize
	usage := gputypes.BufferUsageCopySrc | gputypes.BufferUsageMapWrite
	if constant {
		stride = Align(elementSize, ConstantBufferAlignment)
		usage |= gputypes.BufferUsageUniform
	}

	res, err := dev.CreateBuffer(gpucore.BufferDesc{
		Label: label,
		Size:  stride * uint64(count),
		Heap:  gpucore.HeapUpload,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: create %q: %w", label, err)
	}

	mapped := res.Mapped()
	if uint64(len(mapped)) < stride*uint64(count) {
		res.Destroy()
		return nil, gpucore.Errorf(gpucore.KindDeviceLost, op, "%q: mapped %d bytes, want %d", label, len(mapped), stride*uint64(count))
	}

	return &Buffer{
		label:       label,
		res:         res,
		mapped:      mapped,
		elementSize: elementSize,
		stride:      stride,
		count:       count,
	}, nil
}

// CopyData copies src into element index.
func (b *Buffer) CopyData(index int, src []byte) error {
	if index < 0 || index >= b.count {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "upload copy data", "%q: index %d out of range [0,%d)", b.label, index, b.count)
	}
	if uint64(len(src)) > b.elementSize {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "upload copy data", "%q: %d bytes exceed element size %d", b.label, len(src), b.elementSize)
	}
	off := uint64(index) * b.stride
	copy(b.mapped[off:off+b.elementSize], src)
	return nil
}

// Element returns the mapped bytes of element index.
func (b *Buffer) Element(index int) []byte {
	off := uint64(index) * b.stride
	return b.mapped[off : off+b.elementSize : off+b.stride]
}

// GPUAddress returns the GPU virtual address of element index.
func (b *Buffer) GPUAddress(index int) uint64 {
	return b.res.GPUAddress() + uint64(index)*b.stride
}

// Offset returns the byte offset of element index within the buffer.
func (b *Buffer) Offset(index int) uint64 { return uint64(index) * b.stride }

// Stride returns the distance between elements.
func (b *Buffer) Stride() uint64 { return b.stride }

// ElementSize returns the element size requested at creation.
func (b *Buffer) ElementSize() uint64 { return b.elementSize }

// Len returns the element count.
func (b *Buffer) Len() int { return b.count }

// Resource returns the GPU buffer.
func (b *Buffer) Resource() gpucore.Buffer { return b.res }

// Destroy releases the GPU buffer.
func (b *Buffer) Destroy() {
	if b.res != nil {
		b.res.Destroy()
		b.res = nil
		b.mapped = nil
	}
}

// Ring holds one constant Buffer per queued frame slot.
type Ring struct {
	slots []*Buffer
}

// NewRing creates slots constant buffers of count elements each.
func NewRing(dev gpucore.Device, label string, slots int, elementSize uint64, count int) (*Ring, error) {
	if slots <= 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "upload new ring", "%q: %d slots", label, slots)
	}
	r := &Ring{slots: make([]*Buffer, slots)}
	for i := range r.slots {
		b, err := NewBuffer(dev, fmt.Sprintf("%s[%d]", label, i), elementSize, count, true)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.slots[i] = b
	}
	return r, nil
}

// Slot returns the buffer of queued frame slot i.
func (r *Ring) Slot(i int) *Buffer { return r.slots[i] }

// Slots returns the number of slots.
func (r *Ring) Slots() int { return len(r.slots) }

// Destroy releases every slot.
func (r *Ring) Destroy() {
	for _, b := range r.slots {
		if b != nil {
			b.Destroy()
		}
	}
}
