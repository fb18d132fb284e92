package deferred

import (
	"slices"
	"sort"
)

// schedule is the ordered sequence of pending entries.
//
// INVARIANT: entries are sorted by deadline ascending, and entries with equal
// deadlines are in insertion order (seq ascending).
type schedule struct {
	entries []entry
}

// insert places e after every entry whose deadline is <= e.when. Because seq
// grows with each insertion, this is exactly a stable sort of the appended
// sequence.
func (s *schedule) insert(e entry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].when.After(e.when)
	})
	s.entries = slices.Insert(s.entries, i, e)
}

// front returns the earliest entry.
func (s *schedule) front() (entry, bool) {
	if len(s.entries) == 0 {
		return entry{}, false
	}
	return s.entries[0], true
}

// popFront removes the earliest entry.
func (s *schedule) popFront() {
	if len(s.entries) == 0 {
		return
	}
	// Drop the callback reference so it can be collected.
	s.entries[0] = entry{}
	if len(s.entries) == 1 {
		s.entries = s.entries[:0]
		return
	}
	s.entries = s.entries[1:]
}

// Len returns the number of pending entries.
func (s *schedule) Len() int {
	return len(s.entries)
}

// snapshot returns the pending entries in firing order.
func (s *schedule) snapshot() []EntryInfo {
	out := make([]EntryInfo, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.info()
	}
	return out
}

// drain removes and returns every pending entry.
func (s *schedule) drain() []entry {
	out := s.entries
	s.entries = nil
	return out
}

// sorted reports whether the ordering invariant holds. Used by tests.
func (s *schedule) sorted() bool {
	return slices.IsSortedFunc(s.entries, func(a, b entry) int {
		switch {
		case a.when < b.when:
			return -1
		case a.when > b.when:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
}
