package cmdexec

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/cmdlist"
)

// recordingQueue records submissions. When gate is set every submission
// announces itself on entered and then waits for a receive on gate.
type recordingQueue struct {
	mu      sync.Mutex
	order   []string
	batches [][]string
	fail    error
	entered chan struct{}
	gate    chan struct{}
}

func (q *recordingQueue) ExecuteCommandLists(lists []gpucore.CommandList) error {
	if q.entered != nil {
		q.entered <- struct{}{}
	}
	if q.gate != nil {
		<-q.gate
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	labels := make([]string, len(lists))
	for i, l := range lists {
		labels[i] = l.Label()
	}
	q.order = append(q.order, labels...)
	q.batches = append(q.batches, labels)
	return nil
}

func (q *recordingQueue) Signal(gpucore.Fence, uint64) error { return nil }

func (q *recordingQueue) submitted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.order...)
}

func closedList(label string) gpucore.CommandList {
	return cmdlist.NewList(label)
}

// =============================================================================
// Push / Submit Tests
// =============================================================================

func TestExecutor_FIFO(t *testing.T) {
	q := &recordingQueue{}
	e := New(q)
	defer e.Terminate()

	var last uint64
	for i := range 100 {
		ticket, err := e.Push(closedList(fmt.Sprintf("l%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		if ticket != uint64(i+1) {
			t.Fatalf("ticket = %d, want %d", ticket, i+1)
		}
		last = ticket
	}

	if err := e.WaitSubmitted(context.Background(), last); err != nil {
		t.Fatal(err)
	}
	got := q.submitted()
	if len(got) != 100 {
		t.Fatalf("submitted %d lists, want 100", len(got))
	}
	for i, l := range got {
		if l != fmt.Sprintf("l%d", i) {
			t.Fatalf("submission %d = %s, want l%d", i, l, i)
		}
	}
	if !e.Idle() {
		t.Error("Idle() = false after everything was submitted")
	}
}

func TestExecutor_Batching(t *testing.T) {
	gate := make(chan struct{})
	q := &recordingQueue{gate: gate, entered: make(chan struct{}, 8)}
	e := New(q, WithMaxBatch(4), WithQueueDepth(16))
	defer e.Terminate()

	// The first list is submitted alone and holds the consumer in the gate
	// while the rest queue up behind it.
	if _, err := e.Push(closedList("l0")); err != nil {
		t.Fatal(err)
	}
	<-q.entered
	for i := 1; i < 9; i++ {
		if _, err := e.Push(closedList(fmt.Sprintf("l%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	for range 3 {
		gate <- struct{}{}
	}
	if err := e.Barrier(context.Background()); err != nil {
		t.Fatal(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) != 3 {
		t.Fatalf("batches = %v, want 3 batches", q.batches)
	}
	if len(q.batches[1]) != 4 || len(q.batches[2]) != 4 {
		t.Errorf("batch sizes = %d, %d, want 4, 4", len(q.batches[1]), len(q.batches[2]))
	}
	lists, batches := e.Stats()
	if lists != 9 || batches != 3 {
		t.Errorf("Stats() = %d, %d, want 9, 3", lists, batches)
	}
}

func TestExecutor_ConcurrentProducers(t *testing.T) {
	q := &recordingQueue{}
	e := New(q, WithQueueDepth(4))
	defer e.Terminate()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				if _, err := e.Push(closedList(fmt.Sprintf("p%d-%d", p, i))); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := e.Barrier(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := q.submitted()
	if len(got) != producers*perProducer {
		t.Fatalf("submitted %d, want %d", len(got), producers*perProducer)
	}

	// Each producer's lists keep their relative order.
	next := make(map[int]int)
	for _, l := range got {
		var p, i int
		if _, err := fmt.Sscanf(l, "p%d-%d", &p, &i); err != nil {
			t.Fatal(err)
		}
		if i != next[p] {
			t.Fatalf("producer %d: got list %d, want %d", p, i, next[p])
		}
		next[p]++
	}
}

func TestExecutor_PushErrors(t *testing.T) {
	e := New(&recordingQueue{})
	defer e.Terminate()

	if _, err := e.Push(nil); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("Push(nil) = %v, want ErrInvalidArgument", err)
	}

	open := cmdlist.NewList("open")
	if err := open.Reset(cmdlist.NewAllocator("a", func() uint64 { return 0 }), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Push(open); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("Push(open list) = %v, want ErrInvalidArgument", err)
	}

	if err := e.WaitSubmitted(context.Background(), 5); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("WaitSubmitted(unpushed) = %v, want ErrInvalidArgument", err)
	}
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestExecutor_FatalSubmitError(t *testing.T) {
	cause := errors.New("DXGI_ERROR_DEVICE_REMOVED")
	q := &recordingQueue{fail: cause}
	e := New(q)
	defer e.Terminate()

	ticket, err := e.Push(closedList("a"))
	if err != nil {
		t.Fatal(err)
	}

	err = e.WaitSubmitted(context.Background(), ticket)
	if !errors.Is(err, gpucore.ErrDeviceLost) || !errors.Is(err, cause) {
		t.Fatalf("WaitSubmitted = %v, want device lost wrapping cause", err)
	}
	if !errors.Is(e.Err(), gpucore.ErrDeviceLost) {
		t.Errorf("Err() = %v", e.Err())
	}
	if _, err := e.Push(closedList("b")); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("Push after failure = %v, want ErrDeviceLost", err)
	}
}

func TestExecutor_WaitContext(t *testing.T) {
	gate := make(chan struct{})
	e := New(&recordingQueue{gate: gate})
	defer func() {
		close(gate)
		e.Terminate()
	}()

	ticket, _ := e.Push(closedList("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.WaitSubmitted(ctx, ticket); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitSubmitted = %v, want deadline exceeded", err)
	}
}

// =============================================================================
// Terminate Tests
// =============================================================================

func TestExecutor_TerminateDrains(t *testing.T) {
	q := &recordingQueue{}
	e := New(q)

	for i := range 10 {
		if _, err := e.Push(closedList(fmt.Sprintf("l%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	e.Terminate()

	if got := len(q.submitted()); got != 10 {
		t.Errorf("submitted %d lists before stop, want 10", got)
	}
	if e.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", e.State())
	}
	if _, err := e.Push(closedList("late")); !errors.Is(err, gpucore.ErrTerminated) {
		t.Errorf("Push after Terminate = %v, want ErrTerminated", err)
	}
}

func TestExecutor_TerminateIdempotent(t *testing.T) {
	before := runtime.NumGoroutine()

	e := New(&recordingQueue{})
	e.Terminate()
	e.Terminate()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Terminate()
		}()
	}
	wg.Wait()

	if e.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", e.State())
	}
	if err := e.Barrier(context.Background()); err != nil {
		t.Errorf("Barrier with nothing pushed = %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("goroutines: before %d, after %d", before, after)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateRunning, "Running"},
		{StateTerminating, "Terminating"},
		{StateStopped, "Stopped"},
		{State(9), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
