package cli

import (
	"container/heap"

	"github.com/roach88/deferq/internal/clock"
	"github.com/roach88/deferq/internal/deferred"
)

// orderCheck is a deferred.Recorder that counts ordering violations.
//
// On every dispatch it checks that no entry still in the schedule sorts
// before the dispatched one by (deadline, seq). Each callback then checks it
// runs in the order its entry was dispatched.
//
// Record and fired both run on the scheduler's executor, so orderCheck needs
// no locking. Read violations only after the scheduler is closed.
type orderCheck struct {
	pending    orderHeap
	dispatched map[int64]bool
	queue      []clock.AbsoluteTime // dispatched deadlines whose callback has not run
	violations int
}

func newOrderCheck() *orderCheck {
	return &orderCheck{dispatched: make(map[int64]bool)}
}

type orderKey struct {
	deadline clock.AbsoluteTime
	seq      int64
}

func (k orderKey) before(o orderKey) bool {
	if k.deadline != o.deadline {
		return k.deadline < o.deadline
	}
	return k.seq < o.seq
}

// Record implements deferred.Recorder.
func (c *orderCheck) Record(ev deferred.Event) {
	key := orderKey{deadline: ev.Deadline, seq: ev.Seq}

	switch ev.Kind {
	case deferred.EventScheduled:
		heap.Push(&c.pending, key)

	case deferred.EventDispatched:
		c.dispatched[key.seq] = true
		for c.pending.Len() > 0 && c.dispatched[c.pending[0].seq] {
			delete(c.dispatched, heap.Pop(&c.pending).(orderKey).seq)
		}
		if c.pending.Len() > 0 && c.pending[0].before(key) {
			c.violations++
		}
		c.queue = append(c.queue, ev.Deadline)
	}
}

// fired is called by each callback with its entry's deadline.
func (c *orderCheck) fired(deadline clock.AbsoluteTime) {
	if len(c.queue) == 0 {
		c.violations++
		return
	}
	if c.queue[0] != deadline {
		c.violations++
	}
	c.queue = c.queue[1:]
}

type orderHeap []orderKey

func (h orderHeap) Len() int           { return len(h) }
func (h orderHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h orderHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x any) { *h = append(*h, x.(orderKey)) }

func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
