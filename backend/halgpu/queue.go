package halgpu

import (
	"context"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/cmdlist"
	"github.com/gogpu/deferred/internal/logger"
)

// pollInterval is how often blocked fence waits poll the hal queue.
const pollInterval = 200 * time.Microsecond

// inflight is a hal submission whose transient objects are released once
// the queue reports it complete.
type inflight struct {
	index      uint64
	buffers    []hal.CommandBuffer
	encoders   []hal.CommandEncoder
	bindGroups []hal.BindGroup
}

// pendingSignal is a fence value that becomes visible when submission
// index completes.
type pendingSignal struct {
	fence *Fence
	index uint64
	value uint64
}

// Queue replays gpucore command lists into hal command buffers.
type Queue struct {
	dev *Device
	hal hal.Queue

	mu        sync.Mutex
	lastIndex uint64
	inflight  []inflight
	signals   []pendingSignal
	lost      error
	closed    bool
}

func newQueue(dev *Device, q hal.Queue) *Queue {
	return &Queue{dev: dev, hal: q}
}

// CompletedSerial returns the last hal submission index the GPU finished.
func (q *Queue) CompletedSerial() uint64 { return q.hal.PollCompleted() }

// SubmittedSerial returns the last hal submission index of this queue.
func (q *Queue) SubmittedSerial() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastIndex
}

func (q *Queue) usableLocked(op string) error {
	if q.lost != nil {
		return gpucore.DeviceLost(op, q.lost)
	}
	if q.closed {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "device destroyed")
	}
	return nil
}

// ExecuteCommandLists encodes every list into its own hal command buffer
// and submits them together.
func (q *Queue) ExecuteCommandLists(lists []gpucore.CommandList) error {
	const op = "execute command lists"
	if len(lists) == 0 {
		return nil
	}

	recorded := make([]*cmdlist.List, len(lists))
	for i, l := range lists {
		cl, ok := l.(*cmdlist.List)
		if !ok || cl == nil {
			return gpucore.Errorf(gpucore.KindInvalidArgument, op, "list %T not from this device", l)
		}
		if !cl.Closed() {
			return gpucore.Errorf(gpucore.KindInvalidArgument, op, "list %q is open", cl.Label())
		}
		if cl.Err() != nil {
			return gpucore.Errorf(gpucore.KindInvalidArgument, op, "list %q failed to record: %w", cl.Label(), cl.Err())
		}
		if cl.Allocator() == nil {
			return gpucore.Errorf(gpucore.KindInvalidArgument, op, "list %q was never recorded", cl.Label())
		}
		recorded[i] = cl
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked(op); err != nil {
		return err
	}

	var work inflight
	for _, cl := range recorded {
		enc, buf, groups, err := q.dev.encode(cl)
		work.bindGroups = append(work.bindGroups, groups...)
		if enc != nil {
			work.encoders = append(work.encoders, enc)
		}
		if err != nil {
			q.releaseLocked(work)
			return err
		}
		work.buffers = append(work.buffers, buf)
	}

	index, err := q.hal.Submit(work.buffers)
	if err != nil {
		q.releaseLocked(work)
		q.lost = err
		logger.Get().Error("halgpu: submit failed", "error", err)
		return gpucore.DeviceLost(op, err)
	}
	work.index = index
	q.lastIndex = index
	for _, cl := range recorded {
		cl.Allocator().MarkSubmitted(index)
	}
	q.inflight = append(q.inflight, work)
	q.retireLocked(q.hal.PollCompleted())
	return nil
}

// Signal sets fence to value once the last submission completes.
func (q *Queue) Signal(fence gpucore.Fence, value uint64) error {
	const op = "signal fence"
	f, ok := fence.(*Fence)
	if !ok || f == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "fence %T not from this device", fence)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked(op); err != nil {
		return err
	}
	q.signals = append(q.signals, pendingSignal{fence: f, index: q.lastIndex, value: value})
	q.retireLocked(q.hal.PollCompleted())
	return nil
}

// poll publishes the fence values and releases the submissions the GPU
// has finished.
func (q *Queue) poll() {
	done := q.hal.PollCompleted()
	q.mu.Lock()
	q.retireLocked(done)
	q.mu.Unlock()
}

func (q *Queue) retireLocked(done uint64) {
	n := 0
	for _, s := range q.signals {
		if s.index <= done {
			s.fence.set(s.value)
			continue
		}
		q.signals[n] = s
		n++
	}
	q.signals = q.signals[:n]

	n = 0
	for _, w := range q.inflight {
		if w.index <= done {
			q.releaseLocked(w)
			continue
		}
		q.inflight[n] = w
		n++
	}
	q.inflight = q.inflight[:n]
}

func (q *Queue) releaseLocked(w inflight) {
	for _, bg := range w.bindGroups {
		q.dev.hal.DestroyBindGroup(bg)
	}
	for _, b := range w.buffers {
		q.dev.hal.FreeCommandBuffer(b)
	}
	for _, e := range w.encoders {
		e.Destroy()
	}
}

func (q *Queue) loseDevice(cause error) {
	q.mu.Lock()
	q.lost = cause
	q.mu.Unlock()
}

// close waits for the device to go idle and releases every submission.
func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if err := q.dev.hal.WaitIdle(); err != nil {
		logger.Get().Warn("halgpu: wait idle failed", "error", err)
	}
	for _, w := range q.inflight {
		q.releaseLocked(w)
	}
	q.inflight = nil
	for _, s := range q.signals {
		s.fence.set(s.value)
	}
	q.signals = nil
}

// Fence is a timeline fence whose values are published when the hal queue
// reports the submission they follow as complete.
type Fence struct {
	id    gpucore.ResourceID
	queue *Queue

	mu        sync.Mutex
	value     uint64
	destroyed bool
}

func (f *Fence) set(v uint64) {
	f.mu.Lock()
	if v > f.value {
		f.value = v
	}
	f.mu.Unlock()
}

// Completed polls the queue and returns the last published value.
func (f *Fence) Completed() uint64 {
	f.queue.poll()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Wait polls until the fence reaches value or ctx is done.
func (f *Fence) Wait(ctx context.Context, value uint64) error {
	if f.Completed() >= value {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if f.Completed() >= value {
			return nil
		}
		f.queue.mu.Lock()
		err := f.queue.lost
		f.queue.mu.Unlock()
		if err != nil {
			return gpucore.DeviceLost("wait fence", err)
		}
	}
}

// Destroy releases the fence.
func (f *Fence) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.mu.Unlock()
}
