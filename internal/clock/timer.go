package clock

import "time"

// Timer is a handle to an armed one-shot countdown.
type Timer interface {
	// Stop cancels the countdown. It returns false if the timer already
	// fired or was already stopped.
	Stop() bool
}

// TimerFactory arms one-shot countdowns.
type TimerFactory interface {
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemTimers arms timers with time.AfterFunc.
type SystemTimers struct{}

// AfterFunc implements TimerFactory.
func (SystemTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
