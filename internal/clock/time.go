package clock

import (
	"fmt"
	"time"
)

// AbsoluteTime is a monotonic timestamp in nanoseconds.
//
// Values are only comparable with other values from the same Clock.
// The zero value is the clock's origin.
type AbsoluteTime int64

// Add returns t shifted by d.
func (t AbsoluteTime) Add(d time.Duration) AbsoluteTime {
	return t + AbsoluteTime(d)
}

// Sub returns the duration t-u.
func (t AbsoluteTime) Sub(u AbsoluteTime) time.Duration {
	return time.Duration(t - u)
}

// Before reports whether t is strictly earlier than u.
func (t AbsoluteTime) Before(u AbsoluteTime) bool {
	return t < u
}

// After reports whether t is strictly later than u.
func (t AbsoluteTime) After(u AbsoluteTime) bool {
	return t > u
}

func (t AbsoluteTime) String() string {
	return fmt.Sprintf("t+%s", time.Duration(t))
}

// Clock reports the current position on a monotonic timeline.
type Clock interface {
	Now() AbsoluteTime
}

// processBase anchors Monotonic. time.Since uses the monotonic reading
// carried by processBase, so wall-clock adjustments do not affect Now.
var processBase = time.Now()

// Monotonic is the process-wide monotonic clock.
//
// Thread-safety: Monotonic is stateless and safe for concurrent use.
type Monotonic struct{}

// Now returns the time elapsed since process start.
func (Monotonic) Now() AbsoluteTime {
	return AbsoluteTime(time.Since(processBase))
}
