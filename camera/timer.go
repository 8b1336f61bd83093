package camera

import "time"

// Timer measures frame deltas. The clock is injectable so tests and
// offline captures can run at a fixed step.
type Timer struct {
	now   func() time.Time
	step  time.Duration
	start time.Time
	last  time.Time

	delta  time.Duration
	total  time.Duration
	frames uint64
}

// NewTimer returns a timer on the wall clock.
func NewTimer() *Timer {
	return NewTimerWithClock(time.Now)
}

// NewTimerWithClock returns a timer reading now.
func NewTimerWithClock(now func() time.Time) *Timer {
	t := &Timer{now: now}
	t.Reset()
	return t
}

// NewFixedTimer returns a timer advancing by step on every Tick.
func NewFixedTimer(step time.Duration) *Timer {
	t := &Timer{step: step}
	t.Reset()
	return t
}

// Reset restarts the timer at zero.
func (t *Timer) Reset() {
	if t.now != nil {
		t.start = t.now()
	}
	t.last = t.start
	t.delta, t.total, t.frames = 0, 0, 0
}

// Tick starts a new frame and returns its delta.
func (t *Timer) Tick() time.Duration {
	if t.step > 0 {
		t.delta = t.step
		t.total += t.step
	} else {
		now := t.now()
		t.delta = max(now.Sub(t.last), 0)
		t.last = now
		t.total = now.Sub(t.start)
	}
	t.frames++
	return t.delta
}

// Delta returns the duration of the last frame.
func (t *Timer) Delta() time.Duration { return t.delta }

// Total returns the time since Reset.
func (t *Timer) Total() time.Duration { return t.total }

// Frames returns the number of ticks since Reset.
func (t *Timer) Frames() uint64 { return t.frames }

// DeltaSeconds returns Delta as float32 seconds.
func (t *Timer) DeltaSeconds() float32 { return float32(t.delta.Seconds()) }

// TotalSeconds returns Total as float32 seconds.
func (t *Timer) TotalSeconds() float32 { return float32(t.total.Seconds()) }
