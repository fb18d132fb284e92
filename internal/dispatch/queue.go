package dispatch

import "sync"

// taskQueue is a thread-safe FIFO queue of tasks.
//
// The queue is unbounded so that tasks can enqueue follow-up tasks from the
// worker goroutine without ever blocking it.
//
// The queue uses a channel for signaling to enable select-based waiting in
// the worker loop.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // Signals task availability (buffered, size 1)
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, task)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front task without blocking.
// Returns (nil, false) if the queue is empty or closed.
func (q *taskQueue) TryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.tasks) == 0 {
		return nil, false
	}

	task := q.tasks[0]

	// Nil out the slot so the closure and everything it captured can be
	// collected while the backing array is still in use.
	q.tasks[0] = nil

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return task, true
}

// Wait returns a channel that signals when tasks may be available.
// The channel is closed once the queue is closed.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Closed reports whether Close has been called.
func (q *taskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further tasks, drops the ones still queued, and wakes the
// worker. It returns the number of dropped tasks; only the first call drops
// anything.
func (q *taskQueue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}

	dropped := len(q.tasks)
	for i := range q.tasks {
		q.tasks[i] = nil
	}
	q.tasks = nil
	q.closed = true
	close(q.signal)

	return dropped
}
