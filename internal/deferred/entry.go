package deferred

import "github.com/roach88/deferq/internal/clock"

// entry is a pending (callback, deadline) pair.
//
// seq is assigned when the insertion task runs on the dispatcher, so it
// reflects the order in which entries actually entered the schedule.
type entry struct {
	id   string
	seq  int64
	when clock.AbsoluteTime
	fn   func()
}

// EntryInfo is a read-only view of a pending entry.
type EntryInfo struct {
	ID       string
	Seq      int64
	Deadline clock.AbsoluteTime
}

func (e entry) info() EntryInfo {
	return EntryInfo{ID: e.id, Seq: e.seq, Deadline: e.when}
}
