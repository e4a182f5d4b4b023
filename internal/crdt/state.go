// Package crdt implements the per-item semilattice state: LWW
// registers for scalar fields, add-wins OR-Sets
// for labels/assignees/dependency edges, a grow-only set of comment
// hashes, and the epoch-phase lifecycle pair. ApplyEvent folds one new
// event (in shard-canonical order) into a state; Merge joins two
// independently-derived states — e.g. after a sync round brings in
// events this replica hadn't seen, or when C9 reconciles three shard
// branches. Merge is the operation that must be (and is) commutative,
// associative, and idempotent; ApplyEvent assumes its caller delivers
// events in the system's one canonical order (wall_ts_us, event_hash),
// the same order the shard manager and merge driver already produce.
package crdt

import (
	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
)

// ItemState is the derived, mergeable state of one work item. The zero
// value only becomes meaningful once an item.create event has been
// applied (Created becomes true).
type ItemState struct {
	ItemID  bn.ItemID
	Created bool

	Title       LWWRegister[string]
	Description LWWRegister[string]
	Kind        LWWRegister[event.Kind]
	Size        LWWRegister[event.Size]
	Urgency     LWWRegister[event.Urgency]
	ParentID    LWWRegister[string]
	Deleted     LWWRegister[bool]

	Labels    *ORSet
	Assignees *ORSet
	BlockedBy *ORSet
	RelatedTo *ORSet

	Comments *GSet

	Lifecycle EpochPhase

	CreatedAtUs int64
	UpdatedAtUs int64

	// Tracer, when set, receives a decision trace for every LWW
	// register write applied to this state. It is diagnostics, not
	// lattice state: snapshots don't carry it and Merge just keeps
	// whichever side had one.
	Tracer Tracer
}

// NewItemState returns an empty state ready to receive events for id.
func NewItemState(id bn.ItemID) *ItemState {
	return &ItemState{
		ItemID:    id,
		Labels:    NewORSet(),
		Assignees: NewORSet(),
		BlockedBy: NewORSet(),
		RelatedTo: NewORSet(),
		Comments:  NewGSet(),
		Lifecycle: EpochPhase{Epoch: 0, Phase: event.PhaseOpen},
	}
}

// touch updates the derived created_at_us/updated_at_us bounds. Both
// are simple min/max folds, so they stay correct under any application
// or merge order.
func (s *ItemState) touch(wallTSUs int64) {
	if s.CreatedAtUs == 0 || wallTSUs < s.CreatedAtUs {
		s.CreatedAtUs = wallTSUs
	}
	if wallTSUs > s.UpdatedAtUs {
		s.UpdatedAtUs = wallTSUs
	}
}

// Merge combines two independently-derived states for the same item
// into a new state, joining every field per its own semilattice.
func Merge(a, b *ItemState) *ItemState {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := &ItemState{
		ItemID:      a.ItemID,
		Created:     a.Created || b.Created,
		Title:       a.Title.Merge(b.Title),
		Description: a.Description.Merge(b.Description),
		Kind:        a.Kind.Merge(b.Kind),
		Size:        a.Size.Merge(b.Size),
		Urgency:     a.Urgency.Merge(b.Urgency),
		ParentID:    a.ParentID.Merge(b.ParentID),
		Deleted:     a.Deleted.Merge(b.Deleted),
		Labels:      a.Labels.Clone(),
		Assignees:   a.Assignees.Clone(),
		BlockedBy:   a.BlockedBy.Clone(),
		RelatedTo:   a.RelatedTo.Clone(),
		Comments:    a.Comments.Clone(),
		Lifecycle:   a.Lifecycle.Merge(b.Lifecycle),
	}
	out.Labels.Merge(b.Labels)
	out.Assignees.Merge(b.Assignees)
	out.BlockedBy.Merge(b.BlockedBy)
	out.RelatedTo.Merge(b.RelatedTo)
	out.Comments.Merge(b.Comments)

	out.Tracer = a.Tracer
	if out.Tracer == nil {
		out.Tracer = b.Tracer
	}
	out.CreatedAtUs = minNonZero(a.CreatedAtUs, b.CreatedAtUs)
	if b.UpdatedAtUs > a.UpdatedAtUs {
		out.UpdatedAtUs = b.UpdatedAtUs
	} else {
		out.UpdatedAtUs = a.UpdatedAtUs
	}
	return out
}

func minNonZero(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// IsOpen reports whether the item's current phase unblocks dependents
// (open or doing), used by the triage/graph layers.
func (s *ItemState) IsOpen() bool {
	return s.Lifecycle.Phase == event.PhaseOpen || s.Lifecycle.Phase == event.PhaseDoing
}
