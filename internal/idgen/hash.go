// Package idgen generates work-item identifiers: content-derived
// base36 short IDs for new items, plus title slugs used by the
// duplicate classifier.
package idgen

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bones-project/bones/internal/bn"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ID length bounds. Below 3 characters collisions are near-certain on
// any real item count; above 8 the suffix stops being typeable.
const (
	MinIDLength = 3
	MaxIDLength = 8
)

// NewItemID derives a display ID for a new work item from its creation
// inputs: "bn-" plus a base36 suffix of the requested length, taken
// from a BLAKE3 digest over title, description, creator, timestamp,
// and nonce. The same inputs always yield the same ID; callers resolve
// collisions by bumping the nonce and retrying.
func NewItemID(title, description, creator string, at time.Time, length, nonce int) (bn.ItemID, error) {
	if length < MinIDLength {
		length = MinIDLength
	}
	if length > MaxIDLength {
		length = MaxIDLength
	}

	h := blake3.New()
	for _, part := range []string{title, description, creator, strconv.FormatInt(at.UnixMicro(), 10), strconv.Itoa(nonce)} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum(nil)

	// 64 bits cover 12+ base36 digits, comfortably more than the
	// longest allowed suffix.
	suffix := encodeBase36(binary.LittleEndian.Uint64(sum[:8]), length)
	id, err := bn.ParseItemID("bn-" + suffix)
	if err != nil {
		return "", fmt.Errorf("idgen: derived id failed validation: %w", err)
	}
	return id, nil
}

// encodeBase36 renders the low digits of v as a fixed-width base36
// string, zero-padded on the left.
func encodeBase36(v uint64, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = base36Alphabet[v%36]
		v /= 36
	}
	return string(buf)
}
