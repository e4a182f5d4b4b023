package crdt

import "github.com/bones-project/bones/internal/bn"

// TraceEvent records one LWW decision: which write held the register,
// which challenged it, who won, and the tie-break rule that settled
// it. Traces are produced only when a Tracer is attached to the state,
// so the common untraced path pays nothing.
type TraceEvent struct {
	ItemID        bn.ItemID
	Field         string
	CurrentHash   bn.EventHash
	CandidateHash bn.EventHash
	CandidateWins bool
	Rule          Rule
}

// Tracer consumes LWW decision traces.
type Tracer func(TraceEvent)

// traceLWW emits a decision trace for one register write, if tracing
// is on.
func (s *ItemState) traceLWW(field string, current, candidate Tag) {
	if s.Tracer == nil {
		return
	}
	won, rule := Decide(current, candidate)
	s.Tracer(TraceEvent{
		ItemID:        s.ItemID,
		Field:         field,
		CurrentHash:   current.Hash,
		CandidateHash: candidate.Hash,
		CandidateWins: won,
		Rule:          rule,
	})
}
