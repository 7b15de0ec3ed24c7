package pending

import "sync/atomic"

// Sequencer mints call identifiers for one connection.
// Identifiers start at 1 and never repeat for the sequencer's lifetime;
// 0 is never issued so it can mean "no call".
type Sequencer struct {
	last atomic.Int64
}

// NewSequencer returns a sequencer whose first identifier is 1.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns a fresh identifier. Safe for concurrent use.
func (sq *Sequencer) Next() int64 {
	return sq.last.Add(1)
}

// Last returns the most recently issued identifier, or 0.
func (sq *Sequencer) Last() int64 {
	return sq.last.Load()
}
