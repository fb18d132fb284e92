package deferred

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deferq/internal/clock"
	"github.com/roach88/deferq/internal/metrics"
	"github.com/roach88/deferq/internal/testutil"
)

// firedLog collects callback labels in execution order.
type firedLog struct {
	mu     sync.Mutex
	labels []string
}

func (f *firedLog) fn(label string) func() {
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.labels = append(f.labels, label)
	}
}

func (f *firedLog) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.labels...)
}

// eventLog is a Recorder that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	s      *Scheduler
	clock  *testutil.ManualClock
	timers *testutil.ManualTimers
	fired  *firedLog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	clk := testutil.NewManualClock(0)
	timers := testutil.NewManualTimers(clk)
	base := []Option{
		WithClock(clk),
		WithTimers(timers),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(testutil.NewSequentialIDGenerator("entry")),
	}
	s := New(append(base, opts...)...)
	t.Cleanup(s.Close)

	return &fixture{s: s, clock: clk, timers: timers, fired: &firedLog{}}
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.s.Sync(ctx))
}

func (f *fixture) pending(t *testing.T) []EntryInfo {
	t.Helper()
	p, err := f.s.Pending(context.Background())
	require.NoError(t, err)
	return p
}

func TestScheduler_FiresInDeadlineOrder(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.s.Enqueue(f.fired.fn("A"), 10))
	require.True(t, f.s.Enqueue(f.fired.fn("B"), 5))
	require.True(t, f.s.Tick(10))
	f.sync(t)

	assert.Equal(t, []string{"B", "A"}, f.fired.snapshot())
	assert.Empty(t, f.pending(t))
}

func TestScheduler_EqualDeadlinesFireInInsertionOrder(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 7)
	f.s.Enqueue(f.fired.fn("B"), 7)
	f.s.Tick(7)
	f.sync(t)

	assert.Equal(t, []string{"A", "B"}, f.fired.snapshot())
}

func TestScheduler_PastDeadlineFiresWithoutTimer(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(20)

	f.s.Enqueue(f.fired.fn("C"), 15)
	f.sync(t)

	assert.Equal(t, []string{"C"}, f.fired.snapshot())
	assert.Equal(t, 0, f.timers.Armed())
}

func TestScheduler_FiresExactlyOnce(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 5)
	f.s.Tick(5)
	f.s.Tick(5)
	f.s.Tick(6)
	f.s.Tick(3) // stale
	f.sync(t)

	assert.Equal(t, []string{"A"}, f.fired.snapshot())
}

func TestScheduler_StaleTickKeepsTimerDeadline(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(1000)

	f.s.Enqueue(f.fired.fn("A"), 1500)
	f.sync(t)
	next, ok := f.timers.NextDeadline()
	require.True(t, ok)
	require.Equal(t, clock.AbsoluteTime(1500), next)

	f.s.Tick(3)
	f.sync(t)

	next, ok = f.timers.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, clock.AbsoluteTime(1500), next)

	f.timers.Advance(1500)
	f.sync(t)
	assert.Equal(t, []string{"A"}, f.fired.snapshot())
}

func TestScheduler_StaleTickFlushesEntriesDueByClock(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 10)
	f.sync(t)

	// The clock passed the deadline without the timer firing.
	f.clock.Set(12)
	f.s.Tick(3)
	f.sync(t)

	assert.Equal(t, []string{"A"}, f.fired.snapshot())
	assert.Equal(t, 0, f.timers.Live())
}

func TestScheduler_LateTimerRearmsFromClock(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 10)
	f.s.Enqueue(f.fired.fn("B"), 20)
	f.sync(t)

	// The timer for A fires 5 late.
	require.Equal(t, 1, f.timers.Advance(15))
	f.sync(t)
	assert.Equal(t, []string{"A"}, f.fired.snapshot())

	next, ok := f.timers.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, clock.AbsoluteTime(20), next)

	f.timers.Advance(20)
	f.sync(t)
	assert.Equal(t, []string{"A", "B"}, f.fired.snapshot())
}

func TestScheduler_NeverFiresEarly(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 10)
	f.s.Tick(9)
	f.sync(t)

	assert.Empty(t, f.fired.snapshot())
	require.Len(t, f.pending(t), 1)

	f.s.Tick(10)
	f.sync(t)
	assert.Equal(t, []string{"A"}, f.fired.snapshot())
}

func TestScheduler_TickFlushesOnlyDueEntries(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 1)
	f.s.Enqueue(f.fired.fn("B"), 2)
	f.s.Enqueue(f.fired.fn("C"), 3)
	f.s.Enqueue(f.fired.fn("D"), 4)
	f.s.Tick(3)
	f.sync(t)

	assert.Equal(t, []string{"A", "B", "C"}, f.fired.snapshot())
	p := f.pending(t)
	require.Len(t, p, 1)
	assert.Equal(t, clock.AbsoluteTime(4), p[0].Deadline)
}

func TestScheduler_TimerDrivesFlush(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 100)
	f.sync(t)

	next, ok := f.timers.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, clock.AbsoluteTime(100), next)
	assert.Equal(t, 1, f.timers.Live())

	assert.Equal(t, 0, f.timers.Advance(99))
	f.sync(t)
	assert.Empty(t, f.fired.snapshot())

	assert.Equal(t, 1, f.timers.Advance(100))
	f.sync(t)
	assert.Equal(t, []string{"A"}, f.fired.snapshot())
	assert.Equal(t, 0, f.timers.Live())
}

func TestScheduler_RearmsForEarlierDeadline(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 100)
	f.sync(t)
	f.s.Enqueue(f.fired.fn("B"), 50)
	f.sync(t)

	next, ok := f.timers.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, clock.AbsoluteTime(50), next)
	assert.Equal(t, 1, f.timers.Live(), "only one timer may be live")

	f.timers.Advance(50)
	f.sync(t)
	assert.Equal(t, []string{"B"}, f.fired.snapshot())

	next, ok = f.timers.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, clock.AbsoluteTime(100), next)

	f.timers.Advance(100)
	f.sync(t)
	assert.Equal(t, []string{"B", "A"}, f.fired.snapshot())
}

func TestScheduler_ManualTickCancelsTimer(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("A"), 100)
	f.sync(t)
	require.Equal(t, 1, f.timers.Live())

	f.s.Tick(100)
	f.sync(t)

	assert.Equal(t, []string{"A"}, f.fired.snapshot())
	assert.Equal(t, 0, f.timers.Live())
}

func TestScheduler_CallbackCanEnqueue(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(10)

	f.s.Enqueue(func() {
		f.fired.fn("A")()
		f.s.Enqueue(f.fired.fn("B"), 5)
	}, 5)

	require.Eventually(t, func() bool {
		return len(f.fired.snapshot()) == 2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, f.fired.snapshot())
}

func TestScheduler_CallbackPanicDoesNotStopOthers(t *testing.T) {
	m := metrics.New("deferq")
	f := newFixture(t, WithMetrics(m))

	f.s.Enqueue(func() { panic("boom") }, 5)
	f.s.Enqueue(f.fired.fn("B"), 5)
	f.s.Tick(5)
	f.sync(t)

	assert.Equal(t, []string{"B"}, f.fired.snapshot())

	f.s.Enqueue(f.fired.fn("C"), 6)
	f.s.Tick(6)
	f.sync(t)
	assert.Equal(t, []string{"B", "C"}, f.fired.snapshot())

	require.NoError(t, promtest.CollectAndCompare(m, strings.NewReader(`
# HELP deferq_callback_panics_total Number of callbacks that panicked
# TYPE deferq_callback_panics_total counter
deferq_callback_panics_total 1
`), "deferq_callback_panics_total"))
}

func TestScheduler_EnqueueNil(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.s.Enqueue(nil, 1))
	assert.Empty(t, f.pending(t))
}

func TestScheduler_PendingInFiringOrder(t *testing.T) {
	f := newFixture(t)

	f.s.Enqueue(f.fired.fn("C"), 30) // entry-1
	f.s.Enqueue(f.fired.fn("A"), 10) // entry-2
	f.s.Enqueue(f.fired.fn("B"), 10) // entry-3

	p := f.pending(t)
	assert.Equal(t, []string{"entry-2", "entry-3", "entry-1"}, ids(p))
	assert.Equal(t, []int64{2, 3, 1}, []int64{p[0].Seq, p[1].Seq, p[2].Seq})
}

func TestScheduler_RecordsLifecycle(t *testing.T) {
	rec := &eventLog{}
	f := newFixture(t, WithRecorder(rec))

	f.s.Enqueue(f.fired.fn("A"), 5)
	f.s.Enqueue(f.fired.fn("B"), 50)
	f.s.Tick(5)
	f.sync(t)
	f.s.Close()

	scheduled := rec.of(EventScheduled)
	require.Len(t, scheduled, 2)
	assert.Equal(t, Event{Kind: EventScheduled, EntryID: "entry-1", Seq: 1, Deadline: 5, At: 0}, scheduled[0])

	dispatched := rec.of(EventDispatched)
	require.Len(t, dispatched, 1)
	assert.Equal(t, Event{Kind: EventDispatched, EntryID: "entry-1", Seq: 1, Deadline: 5, At: 5}, dispatched[0])

	discarded := rec.of(EventDiscarded)
	require.Len(t, discarded, 1)
	assert.Equal(t, "entry-2", discarded[0].EntryID)
}

func TestScheduler_Metrics(t *testing.T) {
	m := metrics.New("deferq")
	f := newFixture(t, WithMetrics(m))

	f.s.Enqueue(f.fired.fn("A"), 5)
	f.s.Enqueue(f.fired.fn("B"), 10)
	f.s.Enqueue(f.fired.fn("C"), 20)
	f.s.Tick(10)
	f.sync(t)
	f.s.Close()

	require.NoError(t, promtest.CollectAndCompare(m, strings.NewReader(`
# HELP deferq_entries_enqueued_total Number of deferred entries inserted into the schedule
# TYPE deferq_entries_enqueued_total counter
deferq_entries_enqueued_total 3
# HELP deferq_entries_dispatched_total Number of deferred entries handed off for execution
# TYPE deferq_entries_dispatched_total counter
deferq_entries_dispatched_total 2
# HELP deferq_entries_discarded_total Number of pending entries released without running at shutdown
# TYPE deferq_entries_discarded_total counter
deferq_entries_discarded_total 1
# HELP deferq_entries_pending Number of entries waiting for their deadline
# TYPE deferq_entries_pending gauge
deferq_entries_pending 0
`),
		"deferq_entries_enqueued_total",
		"deferq_entries_dispatched_total",
		"deferq_entries_discarded_total",
		"deferq_entries_pending",
	))
}

func TestScheduler_CloseDiscardsPending(t *testing.T) {
	rec := &eventLog{}
	f := newFixture(t, WithRecorder(rec))

	f.s.Enqueue(f.fired.fn("A"), 100)
	f.sync(t)
	require.Equal(t, 1, f.timers.Live())

	f.s.Close()

	assert.Empty(t, f.fired.snapshot())
	assert.Len(t, rec.of(EventDiscarded), 1)
	assert.Equal(t, 0, f.timers.Live())

	// The stopped timer can no longer flush anything.
	f.timers.Advance(100)
	assert.Empty(t, f.fired.snapshot())

	assert.False(t, f.s.Enqueue(f.fired.fn("B"), 0))
	assert.False(t, f.s.Tick(1000))

	_, err := f.s.Pending(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.s.Sync(context.Background()), ErrClosed)
}

func TestScheduler_CloseIdempotent(t *testing.T) {
	f := newFixture(t)
	f.s.Enqueue(f.fired.fn("A"), 100)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.s.Close()
		}()
	}
	wg.Wait()
	f.s.Close()

	assert.Empty(t, f.fired.snapshot())
}

func TestScheduler_NoCallbackAfterClose(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(1000)

	var closed atomic.Bool
	var late atomic.Int64
	cb := func() {
		if closed.Load() {
			late.Add(1)
		}
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				f.s.Enqueue(cb, clock.AbsoluteTime(i*j%1500))
				f.s.Tick(clock.AbsoluteTime(j * 10))
			}
		}()
	}

	time.Sleep(time.Millisecond)
	f.s.Close()
	closed.Store(true)
	wg.Wait()

	// Anything still racing in has been rejected; give stray goroutines a
	// moment to misbehave.
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, late.Load())
}

func TestScheduler_SyncContextCancelled(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.s.Enqueue(func() { <-release }, 0)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.s.Sync(ctx), context.DeadlineExceeded)
}

func TestScheduler_SystemTimers(t *testing.T) {
	s := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(s.Close)

	fired := make(chan struct{})
	s.Enqueue(func() { close(fired) }, clock.Monotonic{}.Now().Add(5*time.Millisecond))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("entry did not fire")
	}
}
