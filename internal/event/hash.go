package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/codec"
)

// hashable mirrors Event field-for-field but always carries event_hash
// as "" so ComputeHash and the wire form hash identically regardless of
// what was in Event.Hash when it was called.
type hashable struct {
	WallTSUs int64           `json:"wall_ts_us"`
	Agent    bn.AgentID      `json:"agent"`
	ITC      string          `json:"itc"`
	Parents  []bn.EventHash  `json:"parents"`
	Type     Type            `json:"event_type"`
	ItemID   bn.ItemID       `json:"item_id"`
	Data     json.RawMessage `json:"data"`
	Hash     string          `json:"event_hash"`
}

// ComputeHash returns the event's content hash: the canonical JSON of
// every field with event_hash forced to "", BLAKE3 digested and
// hex-encoded with a "blake3:" prefix.
func ComputeHash(e Event) (bn.EventHash, error) {
	h := hashable{
		WallTSUs: e.WallTSUs,
		Agent:    e.Agent,
		ITC:      e.ITC,
		Parents:  e.Parents,
		Type:     e.Type,
		ItemID:   e.ItemID,
		Data:     e.Data,
		Hash:     "",
	}
	if h.Parents == nil {
		h.Parents = []bn.EventHash{}
	}
	canon, err := codec.CanonicalOf(h)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(canon)
	return bn.EventHash("blake3:" + hex.EncodeToString(sum[:])), nil
}

// Seal validates e's payload, computes its hash, and returns a copy with
// Hash populated. It never mutates e.
func Seal(e Event) (Event, error) {
	if !e.Type.IsKnown() {
		return Event{}, &UnknownEventTypeError{Type: e.Type}
	}
	if err := ValidatePayload(e.Type, e.Data); err != nil {
		return Event{}, err
	}
	sealed := e
	hash, err := ComputeHash(sealed)
	if err != nil {
		return Event{}, err
	}
	sealed.Hash = hash
	return sealed, nil
}

// Verify recomputes e's hash from its fields and reports a
// *HashMismatchError if it no longer matches e.Hash — the check shard
// append and projection replay rely on to detect tampering or corruption.
func Verify(e Event) error {
	computed, err := ComputeHash(e)
	if err != nil {
		return err
	}
	if computed != e.Hash {
		return &HashMismatchError{ItemID: e.ItemID, Stored: e.Hash, Computed: computed}
	}
	return nil
}

// MigrateEvent upgrades an event parsed from an older shard format
// version to the current one. v1 is the only format so far, so this is
// the identity function; it exists so a future v2 has a place to land
// without callers needing to change.
func MigrateEvent(e Event, fromVersion int) (Event, error) {
	if fromVersion == CurrentFormatVersion {
		return e, nil
	}
	if fromVersion > CurrentFormatVersion {
		return Event{}, &UnsupportedFormatVersionError{Version: fromVersion}
	}
	return e, nil
}

// UnsupportedFormatVersionError is returned by MigrateEvent when asked to
// migrate from a version newer than this package understands.
type UnsupportedFormatVersionError struct {
	Version int
}

func (e *UnsupportedFormatVersionError) Error() string {
	return fmt.Sprintf("event: unsupported format version %d (from a newer bones build)", e.Version)
}
