// Package parallel provides the worker pool that fans pass recording out
// across goroutines, and the counting latch used to join it.
package parallel

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is a unit of work run by the pool.
type Task func() error

// WorkerPool is a fixed set of goroutines with per-worker queues.
//
// Tasks are dealt round-robin to worker queues. An idle worker steals from
// the other queues before blocking, which evens out recorders of unequal
// cost within a stage.
//
// WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewWorkerPool starts a pool of n workers. n <= 0 selects GOMAXPROCS.
func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	depth := max(n*4, 8)

	p := &WorkerPool{
		workers: n,
		queues:  make([]chan func(), n),
		done:    make(chan struct{}),
	}
	for i := range n {
		p.queues[i] = make(chan func(), depth)
	}
	p.running.Store(true)

	p.wg.Add(n)
	for i := range n {
		go p.loop(i)
	}
	return p
}

func (p *WorkerPool) loop(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case fn := <-own:
			fn()
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}

		select {
		case <-p.done:
			p.drain(own)
			return
		case fn := <-own:
			fn()
		}
	}
}

func (p *WorkerPool) drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := 1; i < p.workers; i++ {
		select {
		case fn := <-p.queues[(id+i)%p.workers]:
			return fn
		default:
		}
	}
	return nil
}

// enqueue hands fn to worker w. It reports false if the pool closed first.
func (p *WorkerPool) enqueue(w int, fn func()) bool {
	select {
	case p.queues[w] <- fn:
		return true
	case <-p.done:
		return false
	}
}

// ExecuteAll runs every task and waits for all of them. The returned error
// joins the errors of the failed tasks in task order.
// A closed pool runs nothing and returns ErrClosed.
func (p *WorkerPool) ExecuteAll(tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if !p.running.Load() {
		return ErrClosed
	}

	errs := make([]error, len(tasks))
	latch := NewLatch(len(tasks))

	for i, task := range tasks {
		fn := func() {
			defer latch.CountDown()
			errs[i] = task()
		}
		if !p.enqueue(i%p.workers, fn) {
			errs[i] = ErrClosed
			latch.CountDown()
		}
	}

	latch.Wait()
	return errors.Join(errs...)
}

// Close stops the workers after they finish the queued tasks.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool accepts tasks.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }

// Queued returns the approximate number of tasks waiting in the queues.
func (p *WorkerPool) Queued() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}

// ErrClosed is returned for work handed to a closed pool.
var ErrClosed = errors.New("parallel: pool closed")
