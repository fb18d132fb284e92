package deferred

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/deferq/internal/clock"
	"github.com/roach88/deferq/internal/dispatch"
	"github.com/roach88/deferq/internal/metrics"
)

// ErrClosed is returned by blocking queries on a closed Scheduler.
var ErrClosed = errors.New("deferred: scheduler closed")

// Scheduler runs callbacks at or after absolute deadlines.
//
// Thread-safety model:
//   - Enqueue(), Tick(), Pending(), Sync(): safe from any goroutine, including callbacks
//   - Close(): safe from any goroutine except callbacks
//
// INVARIANTS:
//   - entries and timer are only touched by dispatcher tasks (or by Close
//     after the dispatcher has exited)
//   - at most one live timer exists, armed for the earliest pending deadline
//   - after a flush for `now` returns, no entry with deadline <= now is pending
type Scheduler struct {
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	timers     clock.TimerFactory
	seq        *clock.Seq
	ids        IDGenerator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	recorder   Recorder

	// Owned by the dispatcher goroutine.
	entries schedule
	timer   clock.Timer

	closeOnce sync.Once
}

// New creates a Scheduler and starts its dispatcher.
// Close must be called to release it.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:    clock.Monotonic{},
		timers:   clock.SystemTimers{},
		seq:      clock.NewSeq(),
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dispatcher = dispatch.New(
		dispatch.WithLogger(s.logger),
		dispatch.WithPanicHandler(func(any) { s.metrics.ObservePanic() }),
	)

	return s
}

// Enqueue schedules fn to run at or after when. A deadline in the past is
// legal; the entry is flushed as soon as the insertion task runs.
//
// Enqueue never blocks. It returns false, and fn will never run, if fn is
// nil or the scheduler is closing.
func (s *Scheduler) Enqueue(fn func(), when clock.AbsoluteTime) bool {
	if fn == nil {
		return false
	}

	e := entry{id: s.ids.Generate(), when: when, fn: fn}
	return s.dispatcher.Enqueue(func() {
		s.insert(e)
	})
}

// Tick notifies the scheduler that time has advanced to now. Every entry
// with a deadline <= now is dispatched before the next dispatcher task runs.
//
// Tick never blocks. Stale or repeated ticks are harmless. Returns false if
// the scheduler is closing.
func (s *Scheduler) Tick(now clock.AbsoluteTime) bool {
	return s.dispatcher.Enqueue(func() {
		s.invoke(now)
	})
}

// Pending returns the scheduled entries in firing order.
func (s *Scheduler) Pending(ctx context.Context) ([]EntryInfo, error) {
	result := make(chan []EntryInfo, 1)
	ok := s.dispatcher.Enqueue(func() {
		result <- s.entries.snapshot()
	})
	if !ok {
		return nil, ErrClosed
	}

	select {
	case r := <-result:
		return r, nil
	case <-s.dispatcher.Done():
		select {
		case r := <-result:
			return r, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sync blocks until all work submitted before the call has been processed,
// including the callbacks dispatched by that work.
func (s *Scheduler) Sync(ctx context.Context) error {
	err := s.dispatcher.Sync(ctx)
	if errors.Is(err, dispatch.ErrTerminated) {
		return ErrClosed
	}
	return err
}

// Close tears the scheduler down: new submissions are rejected, the timer is
// cancelled, the dispatcher is terminated (a running callback finishes,
// queued work is dropped), and pending entries are released without running.
//
// Close is idempotent and blocks until teardown finished, for every caller.
// It must not be called from a callback.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.dispatcher.Terminate()

		// The dispatcher goroutine has exited; state is ours now. A timer
		// that fires late can only hit a closed dispatcher.
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}

		discarded := s.entries.drain()
		now := s.clock.Now()
		for _, e := range discarded {
			s.record(EventDiscarded, e, now)
		}
		s.metrics.ObserveDiscard(len(discarded))

		s.logger.Debug("scheduler closed", "discarded", len(discarded))
	})
}

// insert adds e to the schedule and re-arms.
// CRITICAL: Called only from dispatcher tasks.
func (s *Scheduler) insert(e entry) {
	e.seq = s.seq.Next()
	s.entries.insert(e)

	now := s.clock.Now()
	s.metrics.ObserveEnqueue(s.entries.Len())
	s.record(EventScheduled, e, now)
	s.logger.Debug("entry scheduled",
		"id", e.id,
		"seq", e.seq,
		"deadline", e.when,
		"pending", s.entries.Len(),
	)

	s.rearm(now)
}

// invoke flushes every entry due at now, then re-arms.
// CRITICAL: Called only from dispatcher tasks.
func (s *Scheduler) invoke(now clock.AbsoluteTime) {
	for {
		e, ok := s.entries.front()
		if !ok || e.when.After(now) {
			break
		}
		s.entries.popFront()

		// Hand off as a separate task: the callback must not observe the
		// schedule mid-scan, and its own submissions queue behind it.
		fn := e.fn
		s.dispatcher.Enqueue(fn)

		observed := s.clock.Now()
		s.metrics.ObserveDispatch(observed.Sub(e.when), s.entries.Len())
		s.record(EventDispatched, e, now)
		s.logger.Debug("entry dispatched",
			"id", e.id,
			"seq", e.seq,
			"deadline", e.when,
			"now", now,
		)
	}

	s.rearm(now)
}

// rearm replaces the countdown timer with one for the earliest deadline.
//
// The delay is measured from the later of now and the clock: a stale Tick or
// a late timer must not push the next wake-up past the earliest deadline.
// CRITICAL: Called only from dispatcher tasks.
func (s *Scheduler) rearm(now clock.AbsoluteTime) {
	if s.timer != nil {
		// A timer that already fired only submitted a Tick, and stale
		// ticks flush nothing that is not due.
		s.timer.Stop()
		s.timer = nil
	}

	e, ok := s.entries.front()
	if !ok {
		return
	}

	from := max(now, s.clock.Now())
	delay := e.when.Sub(from)
	if delay <= 0 {
		s.invoke(from)
		return
	}

	when := e.when
	s.timer = s.timers.AfterFunc(delay, func() {
		s.dispatcher.Enqueue(func() {
			s.invoke(when)
		})
	})
	s.metrics.ObserveRearm()
}

func (s *Scheduler) record(kind EventKind, e entry, at clock.AbsoluteTime) {
	s.recorder.Record(Event{
		Kind:     kind,
		EntryID:  e.id,
		Seq:      e.seq,
		Deadline: e.when,
		At:       at,
	})
}
