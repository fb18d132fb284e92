package clock

import "sync/atomic"

// Seq hands out insertion numbers, starting at 1.
//
// The scheduler stamps each entry when its insertion task runs; among equal
// deadlines the lower number fires first. The zero value is ready to use and
// safe for concurrent callers.
type Seq struct {
	n atomic.Int64
}

// NewSeq returns a Seq whose first Next is 1.
func NewSeq() *Seq {
	return &Seq{}
}

// Next returns the next insertion number.
func (s *Seq) Next() int64 {
	return s.n.Add(1)
}
