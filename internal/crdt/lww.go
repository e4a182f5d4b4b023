package crdt

import (
	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/itc"
)

// Tag carries everything the LWW ordering needs to break a tie between
// two writes: ITC causal order first, then
// wall-clock, then agent, then event hash. The zero Tag is "unset" and
// always loses to any real tag.
type Tag struct {
	valid    bool
	ITC      itc.Stamp
	WallTSUs int64
	Agent    bn.AgentID
	Hash     bn.EventHash
}

// NewTag builds a Tag from the fields of the event that produced a write.
func NewTag(wallTSUs int64, agent bn.AgentID, stamp itc.Stamp, hash bn.EventHash) Tag {
	return Tag{valid: true, ITC: stamp, WallTSUs: wallTSUs, Agent: agent, Hash: hash}
}

// Valid reports whether t has ever been written to (the zero Tag has not).
func (t Tag) Valid() bool { return t.valid }

// ITCText renders t's ITC stamp as "itc:v1:<hex>", or "" for an unset
// Tag (whose zero-value Stamp has no underlying id/event trees to encode).
func (t Tag) ITCText() string {
	if !t.valid {
		return ""
	}
	text, err := t.ITC.MarshalText()
	if err != nil {
		return ""
	}
	return text
}

// Rule names the tie-break level that settled an LWW comparison.
type Rule string

const (
	RuleUnset  Rule = "unset"
	RuleITC    Rule = "itc"
	RuleWallTS Rule = "wall_ts"
	RuleAgent  Rule = "agent"
	RuleHash   Rule = "event_hash"
)

// Wins reports whether candidate should replace current under the
// total order:
//  1. strict ITC dominance,
//  2. else higher wall_ts_us,
//  3. else higher agent (lexicographic),
//  4. else higher event_hash (lexicographic).
func Wins(current, candidate Tag) bool {
	won, _ := Decide(current, candidate)
	return won
}

// Decide is Wins plus the rule that settled the comparison, for the
// optional decision trace.
func Decide(current, candidate Tag) (candidateWins bool, rule Rule) {
	if !current.valid {
		return true, RuleUnset
	}
	if !candidate.valid {
		return false, RuleUnset
	}
	switch {
	case current.ITC.Leq(candidate.ITC) && !candidate.ITC.Leq(current.ITC):
		return true, RuleITC
	case candidate.ITC.Leq(current.ITC) && !current.ITC.Leq(candidate.ITC):
		return false, RuleITC
	}
	if candidate.WallTSUs != current.WallTSUs {
		return candidate.WallTSUs > current.WallTSUs, RuleWallTS
	}
	if candidate.Agent != current.Agent {
		return candidate.Agent > current.Agent, RuleAgent
	}
	return candidate.Hash > current.Hash, RuleHash
}

// LWWRegister is a last-writer-wins cell: a value plus the Tag of the
// write that currently holds it.
type LWWRegister[T any] struct {
	Value T
	Tag   Tag
}

// Set folds a candidate write into the register, keeping whichever of
// the current value or the candidate wins under Wins.
func (r LWWRegister[T]) Set(value T, tag Tag) LWWRegister[T] {
	if Wins(r.Tag, tag) {
		return LWWRegister[T]{Value: value, Tag: tag}
	}
	return r
}

// Merge combines two independently-folded registers, keeping whichever
// one's tag wins. Commutative, associative, and idempotent since Wins
// only ever depends on the two tags being compared.
func (r LWWRegister[T]) Merge(other LWWRegister[T]) LWWRegister[T] {
	if Wins(r.Tag, other.Tag) {
		return other
	}
	return r
}
