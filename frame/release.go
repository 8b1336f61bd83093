package frame

import "sync"

// releaseQueue holds per-slot callbacks that destroy resources retired
// while the slot was recording. They run once the GPU finished the slot.
type releaseQueue struct {
	mu    sync.Mutex
	slots [][]func()
}

func newReleaseQueue(slots int) *releaseQueue {
	return &releaseQueue{slots: make([][]func(), slots)}
}

func (q *releaseQueue) add(slot int, release func()) {
	q.mu.Lock()
	q.slots[slot] = append(q.slots[slot], release)
	q.mu.Unlock()
}

// run calls and forgets the callbacks of slot in retirement order.
func (q *releaseQueue) run(slot int) int {
	q.mu.Lock()
	fns := q.slots[slot]
	q.slots[slot] = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// runAll releases every slot, oldest slot first from start.
func (q *releaseQueue) runAll(start int) int {
	n := 0
	for i := range q.slots {
		n += q.run((start + i) % len(q.slots))
	}
	return n
}

func (q *releaseQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.slots {
		n += len(s)
	}
	return n
}
