// Package governor provides the two-class admission semaphore bounding
// concurrent downloads and uploads. Premium waiters are admitted before free
// waiters regardless of arrival order; within a class admission is FIFO.
// Running work is never preempted: class order applies to waiters only.
package governor

import (
	"container/heap"
	"context"
	"sync"
)

// Class orders waiters. Lower values are admitted first.
type Class int

const (
	Premium Class = 0
	Free    Class = 1
)

func (c Class) String() string {
	if c == Premium {
		return "premium"
	}
	return "free"
}

// Governor is a counting semaphore whose waiters are served in
// (class, arrival) order.
type Governor struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	seq      uint64
	waiters  waiterHeap
}

func New(capacity int) *Governor {
	if capacity < 1 {
		capacity = 1
	}
	return &Governor{capacity: capacity}
}

// Ticket is a held slot. Release returns it exactly once; extra calls are
// no-ops, so a deferred Release may safely follow an explicit one.
type Ticket struct {
	g    *Governor
	once sync.Once
}

func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.once.Do(t.g.release)
}

// Acquire blocks until a slot is granted or ctx is done. A nil ticket is
// returned exactly when the error is non-nil.
func (g *Governor) Acquire(ctx context.Context, class Class) (*Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	if g.inUse < g.capacity && g.waiters.Len() == 0 {
		g.inUse++
		g.mu.Unlock()
		return &Ticket{g: g}, nil
	}
	w := &waiter{class: class, seq: g.seq, ready: make(chan struct{})}
	g.seq++
	heap.Push(&g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return &Ticket{g: g}, nil
	case <-ctx.Done():
		g.mu.Lock()
		granted := w.granted
		if !granted {
			heap.Remove(&g.waiters, w.index)
		}
		g.mu.Unlock()
		// The slot may have been handed over concurrently with
		// cancellation; pass it on instead of leaking it.
		if granted {
			g.release()
		}
		return nil, ctx.Err()
	}
}

// release hands the slot to the best waiter, or frees it.
func (g *Governor) release() {
	g.mu.Lock()
	if g.waiters.Len() > 0 {
		w := heap.Pop(&g.waiters).(*waiter)
		w.granted = true
		close(w.ready)
		g.mu.Unlock()
		return
	}
	g.inUse--
	g.mu.Unlock()
}

// Stats reports current occupancy and queue length.
func (g *Governor) Stats() (inUse, waiting int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse, g.waiters.Len()
}

// Capacity returns the configured slot count.
func (g *Governor) Capacity() int { return g.capacity }

type waiter struct {
	class   Class
	seq     uint64
	ready   chan struct{}
	granted bool
	index   int
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].class != h[j].class {
		return h[i].class < h[j].class
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
