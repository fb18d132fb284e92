package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/deferq/internal/clock"
)

// ManualTimers is a clock.TimerFactory whose timers fire only when the test
// calls Advance. Deadlines are computed against the paired ManualClock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualTimers struct {
	mu     sync.Mutex
	clock  *ManualClock
	timers []*manualTimer
	armed  int // total AfterFunc calls
	seq    int64
}

type manualTimer struct {
	owner   *ManualTimers
	at      clock.AbsoluteTime
	seq     int64
	fn      func()
	stopped bool
	fired   bool
}

// NewManualTimers creates a timer factory driven by c.
func NewManualTimers(c *ManualClock) *ManualTimers {
	return &ManualTimers{clock: c}
}

// AfterFunc implements clock.TimerFactory.
func (m *ManualTimers) AfterFunc(d time.Duration, f func()) clock.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.armed++
	tm := &manualTimer{
		owner: m,
		at:    m.clock.Now().Add(d),
		seq:   m.seq,
		fn:    f,
	}
	m.timers = append(m.timers, tm)
	return tm
}

// Stop implements clock.Timer.
func (tm *manualTimer) Stop() bool {
	tm.owner.mu.Lock()
	defer tm.owner.mu.Unlock()

	if tm.stopped || tm.fired {
		return false
	}
	tm.stopped = true
	tm.owner.prune()
	return true
}

// prune drops stopped and fired timers. Caller must hold mu.
func (m *ManualTimers) prune() {
	live := m.timers[:0]
	for _, tm := range m.timers {
		if !tm.stopped && !tm.fired {
			live = append(live, tm)
		}
	}
	for i := len(live); i < len(m.timers); i++ {
		m.timers[i] = nil
	}
	m.timers = live
}

// Live returns the number of timers that are armed and not yet fired.
func (m *ManualTimers) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Armed returns the total number of timers created so far.
func (m *ManualTimers) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// NextDeadline returns the earliest live timer deadline.
func (m *ManualTimers) NextDeadline() (clock.AbsoluteTime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.timers) == 0 {
		return 0, false
	}
	next := m.timers[0].at
	for _, tm := range m.timers[1:] {
		if tm.at < next {
			next = tm.at
		}
	}
	return next, true
}

// Advance moves the clock to `to` and fires every live timer whose deadline
// is at or before it, earliest first, on the calling goroutine.
// Returns the number of timers fired.
func (m *ManualTimers) Advance(to clock.AbsoluteTime) int {
	m.clock.Set(to)

	m.mu.Lock()
	var due []*manualTimer
	for _, tm := range m.timers {
		if !tm.at.After(to) {
			tm.fired = true
			due = append(due, tm)
		}
	}
	m.prune()
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})

	for _, tm := range due {
		tm.fn()
	}
	return len(due)
}
