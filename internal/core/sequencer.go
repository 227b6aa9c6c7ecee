package core

import "sync"

// Sequencer assigns the command log sequence. Every command that changed
// state takes one number; replaying the log in this order rebuilds the
// same state.
type Sequencer struct {
	mu   sync.Mutex
	last int64
}

func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the next log sequence, starting at 1.
func (s *Sequencer) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Last returns the most recently assigned sequence.
func (s *Sequencer) Last() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset continues numbering after last (used after recovery).
func (s *Sequencer) Reset(last int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = last
}
