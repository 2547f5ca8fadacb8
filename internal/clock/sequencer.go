package clock

import "sync/atomic"

// Sequencer hands out the zero-based, contiguous frame indices of a session.
//
// Every tick consumes exactly one index, including dropped ticks, so the
// indices of a finished session always form [0, N).
//
// Thread-safety: Sequencer is safe for concurrent use (atomic operations),
// though in practice only the scheduler loop calls Next().
type Sequencer struct {
	issued atomic.Int64
}

// NewSequencer creates a sequencer whose first Next() returns 0.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// NewSequencerAt creates a sequencer whose first Next() returns start.
func NewSequencerAt(start int64) *Sequencer {
	s := &Sequencer{}
	s.issued.Store(start)
	return s
}

// Next returns the next index. Calls are linearizable - each call returns
// a unique value, one greater than the previous.
func (s *Sequencer) Next() int64 {
	return s.issued.Add(1) - 1
}

// Current returns how many indices have been issued.
func (s *Sequencer) Current() int64 {
	return s.issued.Load()
}
