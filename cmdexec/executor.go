// Package cmdexec decouples command list recording from submission.
//
// Any number of goroutines push closed command lists into a bounded FIFO.
// One consumer goroutine drains it and hands the lists to the GPU queue in
// dequeue order, batching whatever is already queued. Ordering between
// passes is the caller's job: it waits with WaitSubmitted (or Barrier)
// before letting the next pass push.
//
//	ticket, err := exec.Push(list)
//	...
//	err = exec.WaitSubmitted(ctx, ticket)
//
// Terminate stops the consumer after it drained the queue. It does not wait
// for the GPU; callers flush their fence afterwards.
package cmdexec

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/logger"
)

// Default tuning values.
const (
	DefaultQueueDepth = 64
	DefaultMaxBatch   = 16
)

// State is the executor lifecycle state.
type State int32

const (
	// StateRunning accepts pushes.
	StateRunning State = iota

	// StateTerminating rejects pushes and drains what is queued.
	StateTerminating

	// StateStopped means the consumer has exited.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

type item struct {
	list   gpucore.CommandList
	ticket uint64
}

// Executor submits command lists on a single goroutine.
type Executor struct {
	queue    gpucore.Queue
	maxBatch int
	items    chan item

	// pushMu orders ticket assignment with channel sends and guards
	// closing items.
	pushMu     sync.Mutex
	pushed     atomic.Uint64
	terminated bool

	mu        sync.Mutex
	cond      *sync.Cond
	submitted uint64 // last ticket handed to the GPU queue
	handled   uint64 // last ticket submitted or discarded
	lists     uint64 // lists handed to the GPU queue
	batches   uint64
	err       error

	state atomic.Int32
	once  sync.Once
	done  chan struct{}
}

// Option configures an Executor.
type Option func(*Executor)

// WithQueueDepth sets the capacity of the pending list queue.
func WithQueueDepth(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.items = make(chan item, n)
		}
	}
}

// WithMaxBatch sets how many queued lists one submission may carry.
func WithMaxBatch(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxBatch = n
		}
	}
}

// New starts an executor submitting to queue.
func New(queue gpucore.Queue, opts ...Option) *Executor {
	e := &Executor{
		queue:    queue,
		maxBatch: DefaultMaxBatch,
		items:    make(chan item, DefaultQueueDepth),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cond = sync.NewCond(&e.mu)

	go e.run()
	return e
}

// Push queues a closed list for submission and returns its ticket. Tickets
// increase by one per push in queue order. Push blocks while the queue is
// full.
func (e *Executor) Push(list gpucore.CommandList) (uint64, error) {
	const op = "cmdexec push"
	if list == nil {
		return 0, gpucore.Errorf(gpucore.KindInvalidArgument, op, "nil command list")
	}
	if !list.Closed() {
		return 0, gpucore.Errorf(gpucore.KindInvalidArgument, op, "command list %q is open", list.Label())
	}

	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	if e.terminated {
		return 0, gpucore.NewError(gpucore.KindTerminated, op, nil)
	}
	if err := e.Err(); err != nil {
		return 0, err
	}

	ticket := e.pushed.Add(1)
	e.items <- item{list: list, ticket: ticket}
	return ticket, nil
}

func (e *Executor) run() {
	defer close(e.done)

	log := logger.With("cmdexec")
	batch := make([]gpucore.CommandList, 0, e.maxBatch)

	for it := range e.items {
		batch = append(batch[:0], it.list)
		last := it.ticket

	fill:
		for len(batch) < e.maxBatch {
			select {
			case next, ok := <-e.items:
				if !ok {
					break fill
				}
				batch = append(batch, next.list)
				last = next.ticket
			default:
				break fill
			}
		}

		e.submit(log, batch, last)
		clear(batch)
	}

	e.mu.Lock()
	e.state.Store(int32(StateStopped))
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *Executor) submit(log *slog.Logger, batch []gpucore.CommandList, last uint64) {
	e.mu.Lock()
	failed := e.err != nil
	e.mu.Unlock()

	var err error
	if !failed {
		err = e.queue.ExecuteCommandLists(batch)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case failed:
		// Lists behind a fatal error are dropped.
	case err != nil:
		e.err = gpucore.DeviceLost("cmdexec submit", err)
		log.Error("cmdexec: submission failed", "lists", len(batch), "ticket", last, "err", err)
	default:
		e.submitted = last
		e.lists += uint64(len(batch))
		e.batches++
	}
	e.handled = last
	e.cond.Broadcast()
}

// WaitSubmitted blocks until every list up to ticket was handed to the GPU
// queue. It returns the executor's fatal error if submission failed, a
// terminated error if the executor stopped first, or ctx.Err().
func (e *Executor) WaitSubmitted(ctx context.Context, ticket uint64) error {
	const op = "cmdexec wait submitted"
	if ticket > e.pushed.Load() {
		return gpucore.Errorf(gpucore.KindInvalidArgument, op, "ticket %d not pushed yet", ticket)
	}

	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for e.submitted < ticket {
		if e.err != nil {
			return e.err
		}
		if State(e.state.Load()) == StateStopped {
			return gpucore.NewError(gpucore.KindTerminated, op, nil)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.cond.Wait()
	}
	return nil
}

// Barrier waits until everything pushed so far was submitted.
func (e *Executor) Barrier(ctx context.Context) error {
	return e.WaitSubmitted(ctx, e.pushed.Load())
}

// Pushed returns the last ticket handed out.
func (e *Executor) Pushed() uint64 { return e.pushed.Load() }

// Submitted returns the last ticket handed to the GPU queue.
func (e *Executor) Submitted() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitted
}

// Stats returns how many lists and submissions reached the GPU queue.
func (e *Executor) Stats() (lists, batches uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lists, e.batches
}

// Idle reports whether nothing is queued or being submitted.
func (e *Executor) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handled == e.pushed.Load()
}

// State returns the lifecycle state.
func (e *Executor) State() State { return State(e.state.Load()) }

// Err returns the fatal submission error, if any.
func (e *Executor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Terminate rejects further pushes, lets the consumer drain the queue and
// waits for it to exit. Safe to call more than once and from any goroutine.
func (e *Executor) Terminate() {
	e.once.Do(func() {
		e.pushMu.Lock()
		e.terminated = true
		e.state.Store(int32(StateTerminating))
		close(e.items)
		e.pushMu.Unlock()
	})
	<-e.done
}

// Done returns a channel closed once the consumer exited.
func (e *Executor) Done() <-chan struct{} { return e.done }
