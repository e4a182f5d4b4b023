package crdt

import "github.com/bones-project/bones/internal/event"

// EpochPhase is the lifecycle state: a pair (epoch, phase) where
// higher epoch dominates outright, and within
// the same epoch phase order is open < doing < done < archived.
type EpochPhase struct {
	Epoch int
	Phase event.Phase
}

// Move folds a single item.move target phase into the current state.
// Moving to open from done or archived starts a new epoch, which is
// how merging later makes reopening erase concurrent archive events
// from the epoch being left behind.
func (ep EpochPhase) Move(target event.Phase) EpochPhase {
	epoch := ep.Epoch
	if target == event.PhaseOpen && (ep.Phase == event.PhaseDone || ep.Phase == event.PhaseArchived) {
		epoch++
	}
	return EpochPhase{Epoch: epoch, Phase: target}
}

// Merge combines two independently-derived epoch-phase values: higher
// epoch wins outright; within the same epoch, the higher-ranked phase
// wins.
func (ep EpochPhase) Merge(other EpochPhase) EpochPhase {
	if other.Epoch != ep.Epoch {
		if other.Epoch > ep.Epoch {
			return other
		}
		return ep
	}
	if other.Phase.Rank() > ep.Phase.Rank() {
		return other
	}
	return ep
}
