package deferred

import "github.com/roach88/deferq/internal/clock"

// EventKind identifies a step in an entry's lifecycle.
type EventKind string

const (
	// EventScheduled is recorded when an entry enters the schedule.
	EventScheduled EventKind = "scheduled"
	// EventDispatched is recorded when an entry's callback is handed off for execution.
	EventDispatched EventKind = "dispatched"
	// EventDiscarded is recorded for each entry released by Close without running.
	EventDiscarded EventKind = "discarded"
)

// Event describes a lifecycle step of one entry.
type Event struct {
	Kind     EventKind
	EntryID  string
	Seq      int64
	Deadline clock.AbsoluteTime
	// At is the scheduler clock reading when the step happened.
	At clock.AbsoluteTime
}

// Recorder observes entry lifecycle events.
//
// Record is called on the dispatcher goroutine for scheduled and dispatched
// events, and on the goroutine running Close for discarded events. It must
// not block for long and must not call back into the Scheduler.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ev Event)

// Record implements Recorder.
func (f RecorderFunc) Record(ev Event) { f(ev) }

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
