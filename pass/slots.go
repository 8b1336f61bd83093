package pass

import (
	"fmt"

	"github.com/gogpu/deferred/gpucore"
)

// Slots owns one command allocator and one command list per queued frame
// slot and enforces their rotation: every Begin must target the slot after
// the previous one.
type Slots struct {
	label   string
	exec    Pusher
	allocs  []gpucore.CommandAllocator
	lists   []gpucore.CommandList
	current int
	open    bool
}

// NewSlots creates the per-slot allocators and lists of one recorder.
func NewSlots(rc *Context, label string) (*Slots, error) {
	n := rc.QueuedFrames
	s := &Slots{
		label:   label,
		exec:    rc.Executor,
		allocs:  make([]gpucore.CommandAllocator, 0, n),
		lists:   make([]gpucore.CommandList, 0, n),
		current: n - 1,
	}
	for i := 0; i < n; i++ {
		a, err := rc.Device.CreateCommandAllocator(fmt.Sprintf("%s allocator %d", label, i))
		if err != nil {
			s.Destroy()
			return nil, gpucore.DeviceLost("create command allocator", err)
		}
		s.allocs = append(s.allocs, a)

		l, err := rc.Device.CreateCommandList(fmt.Sprintf("%s list %d", label, i))
		if err != nil {
			s.Destroy()
			return nil, gpucore.DeviceLost("create command list", err)
		}
		s.lists = append(s.lists, l)
	}
	return s, nil
}

// Len returns the number of slots.
func (s *Slots) Len() int { return len(s.lists) }

// Current returns the slot of the last Begin, or Len()-1 before the first.
func (s *Slots) Current() int { return s.current }

// Begin rotates to slot, resets its allocator and opens its list with p
// bound. slot must be (Current()+1) % Len(). The caller guarantees the GPU
// finished the previous submission from slot.
func (s *Slots) Begin(slot int, p gpucore.Pipeline) (gpucore.CommandList, error) {
	const op = "begin command list"
	if s.open {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%s: slot %d still recording", s.label, s.current)
	}
	if want := (s.current + 1) % len(s.lists); slot != want {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "%s: slot %d out of rotation, want %d", s.label, slot, want)
	}
	if err := s.allocs[slot].Reset(); err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	l := s.lists[slot]
	if err := l.Reset(s.allocs[slot], p); err != nil {
		return nil, gpucore.DeviceLost(op, err)
	}
	s.current = slot
	s.open = true
	return l, nil
}

// End closes the list of the current slot and pushes it to the executor.
func (s *Slots) End() error {
	if !s.open {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "end command list", "%s: not recording", s.label)
	}
	s.open = false
	l := s.lists[s.current]
	if err := l.Close(); err != nil {
		return gpucore.DeviceLost("close command list", err)
	}
	if _, err := s.exec.Push(l); err != nil {
		return fmt.Errorf("pass: push %s: %w", s.label, err)
	}
	return nil
}

// Abort closes the list of the current slot without pushing it, so the
// next Begin can rotate on. It does nothing when no list is open.
func (s *Slots) Abort() {
	if !s.open {
		return
	}
	s.open = false
	_ = s.lists[s.current].Close()
}

// Destroy releases the allocators and lists. The GPU must be idle.
func (s *Slots) Destroy() {
	for _, l := range s.lists {
		l.Destroy()
	}
	for _, a := range s.allocs {
		a.Destroy()
	}
	s.lists, s.allocs = nil, nil
}
