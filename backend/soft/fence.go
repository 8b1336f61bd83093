package soft

import (
	"context"
	"sync"

	"github.com/gogpu/deferred/gpucore"
)

// Fence is a software fence. Waiters block on a channel closed by the GPU
// timeline when the awaited value is reached.
type Fence struct {
	id gpucore.ResourceID

	mu        sync.Mutex
	value     uint64
	waiters   []fenceWaiter
	destroyed bool
}

type fenceWaiter struct {
	value uint64
	ch    chan struct{}
}

func newFence(id gpucore.ResourceID, initial uint64) *Fence {
	return &Fence{id: id, value: initial}
}

// Completed returns the last signaled value.
func (f *Fence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Wait blocks until the fence reaches value or ctx is done.
func (f *Fence) Wait(ctx context.Context, value uint64) error {
	f.mu.Lock()
	if f.value >= value {
		f.mu.Unlock()
		return nil
	}
	if f.destroyed {
		f.mu.Unlock()
		return gpucore.Errorf(gpucore.KindInvalidArgument, "fence wait", "fence destroyed at %d waiting for %d", f.value, value)
	}
	w := fenceWaiter{value: value, ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-w.ch:
	case <-ctx.Done():
		f.removeWaiter(w.ch)
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value < value {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "fence wait", "fence destroyed at %d waiting for %d", f.value, value)
	}
	return nil
}

func (f *Fence) removeWaiter(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.waiters {
		if w.ch == ch {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

// signal sets the fence value and releases satisfied waiters.
// It reports false if value would move the fence backwards.
func (f *Fence) signal(value uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if value < f.value {
		return false
	}
	f.value = value

	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= value {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
	return true
}

// Destroy releases pending waiters with an error.
func (f *Fence) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	f.destroyed = true
	for _, w := range f.waiters {
		close(w.ch)
	}
	f.waiters = nil
}

// Waiters returns how many goroutines are blocked in Wait.
func (f *Fence) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}
