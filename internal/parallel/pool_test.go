package parallel

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -3} {
		pool := NewWorkerPool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

// =============================================================================
// ExecuteAll Tests
// =============================================================================

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	tasks := make([]Task, 100)
	for i := range tasks {
		tasks[i] = func() error {
			counter.Add(1)
			return nil
		}
	}

	if err := pool.ExecuteAll(tasks); err != nil {
		t.Fatalf("ExecuteAll() = %v", err)
	}
	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestWorkerPool_ExecuteAll_Errors(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	errA := errors.New("record geometry")
	errB := errors.New("record lighting")

	err := pool.ExecuteAll([]Task{
		func() error { return errA },
		func() error { return nil },
		func() error { return errB },
	})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("ExecuteAll() = %v, want both task errors", err)
	}
}

func TestWorkerPool_ExecuteAll_Empty(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	if err := pool.ExecuteAll(nil); err != nil {
		t.Errorf("ExecuteAll(nil) = %v", err)
	}
}

func TestWorkerPool_WorkStealing(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	// Worker 0 gets one slow task; the fast ones must not wait behind it.
	tasks := make([]Task, 16)
	for i := range tasks {
		if i == 0 {
			tasks[i] = func() error {
				time.Sleep(50 * time.Millisecond)
				return nil
			}
			continue
		}
		tasks[i] = func() error { return nil }
	}

	start := time.Now()
	if err := pool.ExecuteAll(tasks); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ExecuteAll took %v", elapsed)
	}
}

// =============================================================================
// Latch Tests
// =============================================================================

func TestLatch(t *testing.T) {
	l := NewLatch(2)
	opened := make(chan struct{})
	go func() {
		l.Wait()
		close(opened)
	}()

	l.CountDown()
	select {
	case <-opened:
		t.Fatal("latch opened after one of two count downs")
	case <-time.After(10 * time.Millisecond):
	}

	l.CountDown()
	l.CountDown() // ignored
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("latch did not open after two count downs")
	}
	l.Wait()
}

func TestLatch_ZeroIsOpen(t *testing.T) {
	NewLatch(0).Wait()
	NewLatch(-1).Wait()
}

// =============================================================================
// Close Tests
// =============================================================================

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("pool running after Close")
	}
	if err := pool.ExecuteAll([]Task{func() error { return nil }}); !errors.Is(err, ErrClosed) {
		t.Errorf("ExecuteAll after Close = %v, want ErrClosed", err)
	}

}

func TestWorkerPool_NoGoroutineLeak(t *testing.T) {
	before := runtime.NumGoroutine()

	for range 5 {
		pool := NewWorkerPool(4)
		_ = pool.ExecuteAll([]Task{func() error { return nil }})
		pool.Close()
	}

	time.Sleep(20 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("goroutines: before=%d after=%d", before, after)
	}
}
