package deferred

import (
	"log/slog"

	"github.com/roach88/deferq/internal/clock"
	"github.com/roach88/deferq/internal/metrics"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used to compute timer delays after insertions
// and to stamp lifecycle events.
//
// Default: clock.Monotonic.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTimers sets the one-shot timer primitive.
//
// Default: clock.SystemTimers.
func WithTimers(f clock.TimerFactory) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.timers = f
		}
	}
}

// WithLogger sets the logger for the scheduler and its dispatcher.
//
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithRecorder registers an observer for entry lifecycle events.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithIDGenerator sets the entry ID generator.
//
// Default: UUIDv7Generator. Use testutil.SequentialIDGenerator for
// deterministic traces.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Scheduler) {
		if g != nil {
			s.ids = g
		}
	}
}
