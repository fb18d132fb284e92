package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/deferq/internal/clock"
	"github.com/roach88/deferq/internal/deferred"
	"github.com/roach88/deferq/internal/metrics"
	"github.com/roach88/deferq/internal/testutil"
)

// RunOption configures Run.
type RunOption func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	recorder deferred.Recorder
	metrics  *metrics.Metrics
}

// WithLogger sets the scheduler logger. Default: discard.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder forwards every lifecycle event to r in addition to the trace.
func WithRecorder(r deferred.Recorder) RunOption {
	return func(c *runConfig) {
		c.recorder = r
	}
}

// WithMetrics instruments the scheduler under test.
func WithMetrics(m *metrics.Metrics) RunOption {
	return func(c *runConfig) {
		c.metrics = m
	}
}

// Harness executes one scenario.
//
// Entry IDs are the scenario labels: enqueue publishes the label in
// nextLabel and Generate hands it to the scheduler, both under mu.
type Harness struct {
	sched  *deferred.Scheduler
	clock  *testutil.ManualClock
	timers *testutil.ManualTimers
	extra  deferred.Recorder

	mu        sync.Mutex
	nextLabel string

	traceMu sync.Mutex
	trace   []TraceEvent
	fired   []string

	activity atomic.Int64
	closed   bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh Scheduler with a manual clock starting at
// scenario.Start. An error is returned only if the scenario cannot be
// executed; assertion failures are reported in the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clk := testutil.NewManualClock(clock.AbsoluteTime(scenario.Start))
	h := &Harness{
		clock:  clk,
		timers: testutil.NewManualTimers(clk),
		extra:  cfg.recorder,
	}
	h.sched = deferred.New(
		deferred.WithClock(h.clock),
		deferred.WithTimers(h.timers),
		deferred.WithLogger(cfg.logger),
		deferred.WithMetrics(cfg.metrics),
		deferred.WithRecorder(h),
		deferred.WithIDGenerator(h),
	)
	defer h.sched.Close()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	result := NewResult()
	if !h.closed {
		pending, err := h.sched.Pending(ctx)
		if err != nil {
			return nil, fmt.Errorf("read pending entries: %w", err)
		}
		for _, p := range pending {
			result.Pending = append(result.Pending, p.ID)
		}
	}

	h.traceMu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	result.Fired = append(result.Fired, h.fired...)
	h.traceMu.Unlock()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Op {
	case OpEnqueue:
		h.enqueue(step.Label, step.At, h.callback(step))
	case OpTick:
		now := clock.AbsoluteTime(step.At)
		if now.After(h.clock.Now()) {
			h.clock.Set(now)
		}
		h.sched.Tick(now)
	case OpAdvance:
		to := clock.AbsoluteTime(step.At)
		if to.Before(h.clock.Now()) {
			return fmt.Errorf("advance to %s would move the clock backwards from %s", to, h.clock.Now())
		}
		h.timers.Advance(to)
	case OpClose:
		h.sched.Close()
		h.closed = true
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if h.closed {
		return nil
	}
	return h.settle(ctx)
}

// settle waits until the scheduler is idle. A callback may enqueue more
// work, so Sync repeats until a pass runs no callback.
func (h *Harness) settle(ctx context.Context) error {
	for {
		before := h.activity.Load()
		if err := h.sched.Sync(ctx); err != nil {
			return err
		}
		if h.activity.Load() == before {
			return nil
		}
	}
}

func (h *Harness) enqueue(label string, at int64, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextLabel = label
	if !h.sched.Enqueue(fn, clock.AbsoluteTime(at)) {
		h.append(TraceEvent{
			Kind:     KindRejected,
			Label:    label,
			Deadline: at,
			At:       int64(h.clock.Now()),
		})
	}
}

func (h *Harness) callback(step Step) func() {
	return func() {
		h.activity.Add(1)

		h.traceMu.Lock()
		h.fired = append(h.fired, step.Label)
		h.traceMu.Unlock()
		h.append(TraceEvent{
			Kind:     KindFired,
			Label:    step.Label,
			Deadline: step.At,
			At:       int64(h.clock.Now()),
		})

		for _, f := range step.Then {
			h.enqueue(f.Label, f.At, h.callback(Step{Op: OpEnqueue, Label: f.Label, At: f.At}))
		}

		if step.Panic {
			panic(fmt.Sprintf("scenario callback %s panicked", step.Label))
		}
	}
}

func (h *Harness) append(ev TraceEvent) {
	h.traceMu.Lock()
	defer h.traceMu.Unlock()
	h.trace = append(h.trace, ev)
}

// Generate implements deferred.IDGenerator.
// Only called from Scheduler.Enqueue inside enqueue, with mu held.
func (h *Harness) Generate() string {
	return h.nextLabel
}

// Record implements deferred.Recorder.
func (h *Harness) Record(ev deferred.Event) {
	h.append(TraceEvent{
		Kind:     string(ev.Kind),
		Label:    ev.EntryID,
		Seq:      ev.Seq,
		Deadline: int64(ev.Deadline),
		At:       int64(ev.At),
	})
	if h.extra != nil {
		h.extra.Record(ev)
	}
}
