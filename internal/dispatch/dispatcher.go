package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
)

// ErrTerminated is returned when waiting on a dispatcher that has stopped.
var ErrTerminated = errors.New("dispatch: dispatcher terminated")

// Dispatcher is a single-worker serial executor.
//
// Thread-safety model:
//   - Enqueue(), Sync(), Len(): safe from any goroutine, including tasks
//   - Terminate(): safe from any goroutine except the worker itself
type Dispatcher struct {
	queue   *taskQueue
	logger  *slog.Logger
	onPanic func(v any)
	done    chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for task panics and lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithPanicHandler registers fn to be called, on the worker goroutine, with
// the value recovered from each panicking task.
func WithPanicHandler(fn func(v any)) Option {
	return func(d *Dispatcher) {
		d.onPanic = fn
	}
}

// New creates a Dispatcher and starts its worker goroutine.
// Terminate must be called to release the goroutine.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:  newTaskQueue(),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()

	return d
}

// Enqueue submits a task for execution on the worker goroutine.
// It never blocks. Returns false if the dispatcher is terminating.
func (d *Dispatcher) Enqueue(task func()) bool {
	if task == nil {
		return false
	}
	return d.queue.Enqueue(task)
}

// Len returns the number of tasks waiting to run.
func (d *Dispatcher) Len() int {
	return d.queue.Len()
}

// Sync blocks until every task enqueued before the call has run, along with
// the tasks those tasks enqueued while running.
//
// Returns ErrTerminated if the dispatcher stops first, or ctx.Err() if ctx
// is done first.
func (d *Dispatcher) Sync(ctx context.Context) error {
	reached := make(chan struct{})

	// Two hops: the first runs after everything queued now, the second after
	// everything those tasks queued behind the first hop.
	ok := d.Enqueue(func() {
		d.Enqueue(func() { close(reached) })
	})
	if !ok {
		return ErrTerminated
	}

	select {
	case <-reached:
		return nil
	case <-d.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate stops the dispatcher. New tasks are rejected, the task that is
// currently running (if any) finishes, and tasks that have not started are
// dropped. Terminate returns once the worker goroutine has exited.
//
// Terminate is idempotent; concurrent callers all wait for the same exit.
// It must not be called from inside a task.
func (d *Dispatcher) Terminate() {
	if dropped := d.queue.Close(); dropped > 0 {
		d.logger.Debug("dispatcher dropped queued tasks", "dropped", dropped)
	}
	<-d.done
}

// Done returns a channel that is closed once the worker goroutine exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// run is the worker loop. It is the only goroutine that executes tasks.
func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		if task, ok := d.queue.TryDequeue(); ok {
			d.execute(task)
			continue
		}

		// The signal channel closes when the queue is closed, which makes
		// this receive return immediately.
		<-d.queue.Wait()
		if d.queue.Closed() {
			return
		}
	}
}

// execute runs a single task, isolating the worker from task panics.
func (d *Dispatcher) execute(task func()) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error("dispatch task panicked",
				"panic", v,
				"stack", string(debug.Stack()),
			)
			if d.onPanic != nil {
				d.onPanic(v)
			}
		}
	}()

	task()
}
