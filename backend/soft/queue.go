package soft

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/cmdlist"
)

type opKind uint8

const (
	opExecute opKind = iota
	opSignal
	opPresent
)

// op is one entry of the GPU timeline.
type op struct {
	kind opKind

	serial uint64
	labels []string
	cmds   [][]cmdlist.Command

	fence *Fence
	value uint64

	swap *SwapChain
	tex  *Texture
}

// Queue is the software direct queue. Submissions append to a timeline that
// is executed in order, either by a goroutine or, in manual mode, by the
// caller through AdvanceGPU, Step and DrainGPU.
type Queue struct {
	dev    *Device
	manual bool

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []op
	submitted uint64
	closed    bool
	lost      error

	// execMu serializes timeline execution and guards texture states.
	execMu    sync.Mutex
	completed atomic.Uint64
	executed  atomic.Uint64
	stopped   chan struct{}
}

func newQueue(d *Device, manual bool) *Queue {
	q := &Queue{dev: d, manual: manual, stopped: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	if manual {
		close(q.stopped)
	} else {
		go q.run()
	}
	return q
}

// CompletedSerial returns the last submission the timeline finished.
func (q *Queue) CompletedSerial() uint64 { return q.completed.Load() }

// SubmittedSerial returns the last submission serial handed out.
func (q *Queue) SubmittedSerial() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted
}

// ExecutedLists returns the number of command lists the timeline ran.
func (q *Queue) ExecutedLists() uint64 { return q.executed.Load() }

// Manual reports whether the timeline only advances on request.
func (q *Queue) Manual() bool { return q.manual }

// ExecuteCommandLists queues closed lists as one submission.
func (q *Queue) ExecuteCommandLists(lists []gpucore.CommandList) error {
	const opName = "execute command lists"
	if len(lists) == 0 {
		return nil
	}

	o := op{
		kind:   opExecute,
		labels: make([]string, len(lists)),
		cmds:   make([][]cmdlist.Command, len(lists)),
	}
	recorded := make([]*cmdlist.List, len(lists))
	for i, l := range lists {
		cl, ok := l.(*cmdlist.List)
		if !ok || cl == nil {
			return gpucore.Errorf(gpucore.KindInvalidArgument, opName, "list %T not from this device", l)
		}
		if !cl.Closed() {
			return gpucore.Errorf(gpucore.KindInvalidArgument, opName, "list %q is open", cl.Label())
		}
		if cl.Err() != nil {
			return gpucore.Errorf(gpucore.KindInvalidArgument, opName, "list %q failed to record: %w", cl.Label(), cl.Err())
		}
		if cl.Allocator() == nil {
			return gpucore.Errorf(gpucore.KindInvalidArgument, opName, "list %q was never recorded", cl.Label())
		}
		recorded[i] = cl
		o.labels[i] = cl.Label()
		o.cmds[i] = cl.Commands()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked(opName); err != nil {
		return err
	}

	q.submitted++
	o.serial = q.submitted
	for _, cl := range recorded {
		cl.Allocator().MarkSubmitted(o.serial)
	}
	q.pushLocked(o)
	return nil
}

// Signal queues a fence signal after all previously submitted work.
func (q *Queue) Signal(fence gpucore.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok || f == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "signal", "fence %T not from this device", fence)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked("signal"); err != nil {
		return err
	}
	q.pushLocked(op{kind: opSignal, fence: f, value: value})
	return nil
}

func (q *Queue) present(s *SwapChain, tex *Texture) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked("present"); err != nil {
		return err
	}
	q.pushLocked(op{kind: opPresent, swap: s, tex: tex})
	return nil
}

func (q *Queue) usableLocked(opName string) error {
	if q.lost != nil {
		return gpucore.DeviceLost(opName, q.lost)
	}
	if q.closed {
		return gpucore.Errorf(gpucore.KindInvalidArgument, opName, "device destroyed")
	}
	return nil
}

func (q *Queue) pushLocked(o op) {
	q.pending = append(q.pending, o)
	q.cond.Signal()
}

func (q *Queue) loseDevice(cause error) {
	q.mu.Lock()
	q.lost = cause
	q.mu.Unlock()
}

// run is the automatic timeline.
func (q *Queue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		o := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.execute(o)
	}
}

// pop removes the next op in manual mode.
func (q *Queue) pop() (op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return op{}, false
	}
	o := q.pending[0]
	q.pending = q.pending[1:]
	return o, true
}

// Step executes one queued op. It reports false if nothing was queued.
// Only valid in manual mode.
func (q *Queue) Step() bool {
	if !q.manual {
		return false
	}
	o, ok := q.pop()
	if !ok {
		return false
	}
	q.execute(o)
	return true
}

// AdvanceGPU executes queued ops up to and including the next fence signal.
// It reports whether a signal was executed. Only valid in manual mode.
func (q *Queue) AdvanceGPU() bool {
	if !q.manual {
		return false
	}
	for {
		o, ok := q.pop()
		if !ok {
			return false
		}
		q.execute(o)
		if o.kind == opSignal {
			return true
		}
	}
}

// DrainGPU executes everything queued. Only valid in manual mode.
func (q *Queue) DrainGPU() int {
	n := 0
	for q.Step() {
		n++
	}
	return n
}

// Pending returns the number of queued timeline ops.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PendingSignals returns the number of queued fence signals.
func (q *Queue) PendingSignals() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, o := range q.pending {
		if o.kind == opSignal {
			n++
		}
	}
	return n
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	if q.manual {
		q.pending = nil
	}
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.stopped
}

func (q *Queue) execute(o op) {
	q.execMu.Lock()
	defer q.execMu.Unlock()

	switch o.kind {
	case opExecute:
		for i, cmds := range o.cmds {
			st := newExecState(q.dev, o.labels[i])
			if err := cmdlist.Playback(cmds, st); err != nil {
				q.dev.violate("%s: %v", o.labels[i], err)
			}
			q.dev.record(TraceEntry{
				Serial: o.serial,
				List:   o.labels[i],
				Reads:  st.reads.list,
				Writes: st.writes.list,
				Draws:  st.draws,
			})
			q.executed.Add(1)
		}
		q.completed.Store(o.serial)

	case opSignal:
		if !o.fence.signal(o.value) {
			q.dev.violate("fence %d signaled backwards to %d", o.fence.id, o.value)
		}

	case opPresent:
		if o.tex.state != gpucore.StatePresent {
			q.dev.violate("present %q in state %s", o.tex.label(), o.tex.state)
		}
		o.swap.presented.Add(1)
	}
}
