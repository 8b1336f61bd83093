package frame

import "time"

// Stats are cumulative scheduler counters.
type Stats struct {
	// Frames is the number of frames presented.
	Frames uint64

	// LastFrame is the CPU time of the last frame, fence wait included.
	LastFrame time.Duration

	// CPUTime is the total CPU time spent in Frame.
	CPUTime time.Duration

	// FenceWait is the time blocked on slot fences.
	FenceWait time.Duration

	// BarrierWait is the time blocked on stage barriers.
	BarrierWait time.Duration

	// Lists counts the lists pushed by recorders.
	Lists uint64

	// Brackets counts the transition bracket lists.
	Brackets uint64

	// Barriers counts the resource transitions recorded in brackets.
	Barriers uint64

	// Submitted and Batches count what the executor handed to the queue.
	Submitted uint64
	Batches   uint64

	// Released counts the retired resources destroyed.
	Released uint64
}

// AverageFrame returns the mean CPU time per frame.
func (s Stats) AverageFrame() time.Duration {
	if s.Frames == 0 {
		return 0
	}
	return s.CPUTime / time.Duration(s.Frames)
}

// Observer receives scheduler events. Calls come from the goroutine
// running Frame.
type Observer interface {
	// SlotAcquired is called after the fence wait of a slot. required is
	// the fence value the slot waited for and completed the fence value
	// after the wait.
	SlotAcquired(frame uint64, slot int, required, completed uint64)

	// FrameDone is called after a frame was presented and signaled.
	FrameDone(stats Stats)
}

// ObserverFuncs adapts functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnSlotAcquired func(frame uint64, slot int, required, completed uint64)
	OnFrameDone    func(stats Stats)
}

func (o ObserverFuncs) SlotAcquired(frame uint64, slot int, required, completed uint64) {
	if o.OnSlotAcquired != nil {
		o.OnSlotAcquired(frame, slot, required, completed)
	}
}

func (o ObserverFuncs) FrameDone(stats Stats) {
	if o.OnFrameDone != nil {
		o.OnFrameDone(stats)
	}
}
