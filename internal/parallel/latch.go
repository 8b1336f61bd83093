package parallel

import "sync"

// Latch is a countdown barrier. Wait blocks until CountDown has been
// called as many times as the initial count. Once open it stays open.
type Latch struct {
	mu    sync.Mutex
	count int
	open  chan struct{}
}

// NewLatch returns a latch that opens after n count downs.
// A latch created with n <= 0 is already open.
func NewLatch(n int) *Latch {
	l := &Latch{count: n, open: make(chan struct{})}
	if n <= 0 {
		close(l.open)
	}
	return l
}

// CountDown decrements the count. Extra calls on an open latch are ignored.
func (l *Latch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count <= 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.open)
	}
}

// Wait blocks until the latch opens.
func (l *Latch) Wait() { <-l.open }
