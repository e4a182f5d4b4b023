package bsync

import (
	"fmt"

	"github.com/bones-project/bones/internal/bn"
)

// MissingEventError is returned when a peer's Fetch is asked for an
// event hash its own tree claimed to hold.
type MissingEventError struct {
	Hash bn.EventHash
}

func (e *MissingEventError) Error() string {
	return "bsync: peer tree references unknown event " + string(e.Hash)
}

// CyclicParentsError is returned when a batch of events to exchange
// cannot be ordered parents-before-children — every parent referenced
// within the batch must itself appear in the batch with a strictly
// earlier position, or the cycle is unresolvable without more context
// than Sync has.
type CyclicParentsError struct {
	Remaining int
}

func (e *CyclicParentsError) Error() string {
	return fmt.Sprintf("bsync: cyclic or unresolvable parent references among %d remaining events", e.Remaining)
}
