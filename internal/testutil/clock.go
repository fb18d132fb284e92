package testutil

import (
	"sync"
	"time"

	"github.com/roach88/deferq/internal/clock"
)

// ManualClock is a clock.Clock that only moves when told to.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now clock.AbsoluteTime
}

// NewManualClock creates a clock reading start.
func NewManualClock(start clock.AbsoluteTime) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current reading.
func (c *ManualClock) Now() clock.AbsoluteTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed; tests use it to
// model a caller passing a stale "now".
func (c *ManualClock) Set(t clock.AbsoluteTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) clock.AbsoluteTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
