// Package clock provides the time primitives the deferred scheduler is
// built on.
//
// AbsoluteTime is a point on a monotonic timeline measured in nanoseconds.
// It is never derived from wall-clock readings, so NTP steps, DST
// transitions and manual clock changes cannot move a deadline.
//
// TimerFactory is the one-shot countdown primitive: AfterFunc arms a timer
// that runs a function once, and Stop cancels it. SystemTimers is backed by
// time.AfterFunc; tests substitute testutil.ManualTimers.
//
// Seq is a strictly increasing counter used to break ties between entries
// that share a deadline.
package clock
