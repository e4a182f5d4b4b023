package projection

import (
	"fmt"

	"github.com/bones-project/bones/internal/bn"
)

// CorruptProjectionError is returned when the projection database exists
// but fails a schema sanity check. The caller should rebuild.
type CorruptProjectionError struct {
	DBPath string
	Reason string
}

func (e *CorruptProjectionError) Error() string {
	return fmt.Sprintf("projection: %s is corrupt: %s", e.DBPath, e.Reason)
}

// MissingProjectionError is returned when the projection database does
// not exist yet. The caller should rebuild.
type MissingProjectionError struct {
	DBPath string
}

func (e *MissingProjectionError) Error() string {
	return fmt.Sprintf("projection: %s does not exist", e.DBPath)
}

// ProjectionError records a single event that failed to project. It does
// not abort a rebuild or incremental pass; the event is logged and
// skipped, and the failure is also persisted to the projection_errors
// table so the next rebuild can surface it.
type ProjectionError struct {
	EventHash bn.EventHash
	ItemID    bn.ItemID
	Msg       string
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection: event %s (%s): %s", e.EventHash, e.ItemID, e.Msg)
}
