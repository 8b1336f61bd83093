package upload

import (
	"fmt"
	"sync"

	"github.com/gogpu/deferred/gpucore"
)

// Allocation is a block of transient upload memory.
type Allocation struct {
	Offset     uint64
	GPUAddress uint64
	Data       []byte
}

// Arena is a per-slot linear allocator over mapped upload memory. Blocks are
// aligned for constant buffer views and live until the slot is Reset.
// Alloc is safe for concurrent use; recorders of one stage share a slot.
type Arena struct {
	mu    sync.Mutex
	slots []arenaSlot
	size  uint64
}

type arenaSlot struct {
	buf  *Buffer
	used uint64
	peak uint64
}

// NewArena creates slots arenas of size bytes each.
func NewArena(dev gpucore.Device, label string, slots int, size uint64) (*Arena, error) {
	if slots <= 0 || size == 0 {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "upload new arena", "%q: %d slots of %d bytes", label, slots, size)
	}
	size = Align(size, ConstantBufferAlignment)

	a := &Arena{slots: make([]arenaSlot, slots), size: size}
	for i := range a.slots {
		b, err := NewBuffer(dev, fmt.Sprintf("%s[%d]", label, i), size, 1, false)
		if err != nil {
			a.Destroy()
			return nil, err
		}
		a.slots[i].buf = b
	}
	return a, nil
}

// Alloc reserves size bytes in slot. It fails with gpucore.ErrExhausted
// when the slot has no room left.
func (a *Arena) Alloc(slot int, size uint64) (Allocation, error) {
	const op = "upload arena alloc"
	if slot < 0 || slot >= len(a.slots) {
		return Allocation{}, gpucore.Errorf(gpucore.KindInvalidArgument, op, "slot %d out of range [0,%d)", slot, len(a.slots))
	}
	if size == 0 {
		return Allocation{}, gpucore.Errorf(gpucore.KindInvalidArgument, op, "zero size")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s := &a.slots[slot]
	off := s.used
	end := off + Align(size, ConstantBufferAlignment)
	if end > a.size {
		return Allocation{}, gpucore.Errorf(gpucore.KindExhausted, op, "slot %d: %d bytes requested, %d of %d used", slot, size, s.used, a.size)
	}
	s.used = end
	s.peak = max(s.peak, end)

	mem := s.buf.Element(0)
	return Allocation{
		Offset:     off,
		GPUAddress: s.buf.GPUAddress(0) + off,
		Data:       mem[off : off+size : off+size],
	}, nil
}

// Reset releases every block of slot. Call it only after the GPU finished
// the frame that last used the slot.
func (a *Arena) Reset(slot int) {
	a.mu.Lock()
	a.slots[slot].used = 0
	a.mu.Unlock()
}

// Used returns the bytes allocated in slot since its last Reset.
func (a *Arena) Used(slot int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots[slot].used
}

// Peak returns the high-water mark of slot.
func (a *Arena) Peak(slot int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots[slot].peak
}

// Size returns the capacity of each slot.
func (a *Arena) Size() uint64 { return a.size }

// Slots returns the number of slots.
func (a *Arena) Slots() int { return len(a.slots) }

// Destroy releases the backing buffers.
func (a *Arena) Destroy() {
	for _, s := range a.slots {
		if s.buf != nil {
			s.buf.Destroy()
		}
	}
}
