package itc

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// TextPrefix is the encoding tag events store stamps under:
// "itc:v1:<hex>".
const TextPrefix = "itc:v1:"

// Stamp is an immutable (Id, Event) pair. All operations return new
// Stamps; none mutate the receiver.
type Stamp struct {
	id *id
	ev *event
}

// Seed returns the initial stamp (Id=1, Event=0) a brand-new, unforked
// replica starts from.
func Seed() Stamp {
	return Stamp{id: idOne(), ev: eventLeaf(0)}
}

// Fork splits s into two stamps with disjoint ownership of future
// Event() calls but a shared causal history (same event tree).
func (s Stamp) Fork() (Stamp, Stamp) {
	l, r := splitID(s.id)
	return Stamp{id: l, ev: s.ev}, Stamp{id: r, ev: s.ev}
}

// Event returns a stamp that records a new event: causally strictly
// after s and after every stamp s was already Leq to.
func (s Stamp) Event() Stamp {
	filled := fillEvent(s.id, s.ev)
	if eventEqual(normEvent(s.ev), normEvent(filled)) {
		// fillEvent alone made no progress (this replica's owned region
		// was already at the frontier) - force an advance.
		filled = growEvent(s.id, s.ev)
	}
	return Stamp{id: s.id, ev: normEvent(filled)}
}

// Join merges two stamps, e.g. when two forked replicas are recombined
// or when importing a remote causal history. The ids are summed
// (ownership reunited) and the event trees joined (causal history
// union).
func (s Stamp) Join(other Stamp) Stamp {
	return Stamp{
		id: normID(sumID(s.id, other.id)),
		ev: normEvent(joinEvent(s.ev, other.ev)),
	}
}

// Leq reports whether s's event history is causally dominated by or
// equal to other's — the comparison the CRDT merge order and the sync
// protocol are built on. Only
// the Event component participates; Id is local identity, not causal
// state.
func (s Stamp) Leq(other Stamp) bool {
	return leqEvent(s.ev, other.ev)
}

// Concurrent reports that neither stamp's event history dominates the
// other's.
func (s Stamp) Concurrent(other Stamp) bool {
	return !s.Leq(other) && !other.Leq(s)
}

// SeedForAgent deterministically derives a stamp for agent from a BLAKE3
// digest of its id: starting from Seed(), fork 32
// times, following the digest's bit path, keeping the corresponding half
// each round and discarding the other. This partitions the id space
// across up to 2^32 agents without coordination, and is fully
// reproducible from the agent id alone.
func SeedForAgent(agent string) Stamp {
	digest := blake3.Sum256([]byte(agent))
	s := Seed()
	for round := 0; round < 32; round++ {
		left, right := s.Fork()
		if walk32(digest[:], round) {
			s = right
		} else {
			s = left
		}
	}
	return s
}

// --- text/binary encoding for persistence ---

// MarshalText renders the stamp as "itc:v1:<hex>" for embedding in an
// event's itc field.
func (s Stamp) MarshalText() (string, error) {
	bin, err := s.MarshalBinary()
	if err != nil {
		return "", err
	}
	return TextPrefix + hex.EncodeToString(bin), nil
}

// ParseText parses the "itc:v1:<hex>" encoding.
func ParseText(text string) (Stamp, error) {
	if !strings.HasPrefix(text, TextPrefix) {
		return Stamp{}, fmt.Errorf("itc: missing %q prefix", TextPrefix)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(text, TextPrefix))
	if err != nil {
		return Stamp{}, fmt.Errorf("itc: invalid hex: %w", err)
	}
	return UnmarshalBinary(raw)
}

// MarshalBinary produces the compact binary form used for per-agent
// state files (.bones/itc/agents/<agent>.itc).
func (s Stamp) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = marshalID(buf, s.id)
	buf = marshalEvent(buf, s.ev)
	return buf, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func UnmarshalBinary(data []byte) (Stamp, error) {
	i, rest, err := unmarshalID(data)
	if err != nil {
		return Stamp{}, err
	}
	e, rest, err := unmarshalEvent(rest)
	if err != nil {
		return Stamp{}, err
	}
	if len(rest) != 0 {
		return Stamp{}, fmt.Errorf("itc: %d trailing bytes after stamp", len(rest))
	}
	return Stamp{id: i, ev: e}, nil
}

const (
	tagIDZero = iota
	tagIDOne
	tagIDBranch
)

func marshalID(buf []byte, i *id) []byte {
	switch {
	case i.isZero():
		return append(buf, tagIDZero)
	case i.isOne():
		return append(buf, tagIDOne)
	default:
		buf = append(buf, tagIDBranch)
		buf = marshalID(buf, i.left)
		buf = marshalID(buf, i.right)
		return buf
	}
}

func unmarshalID(data []byte) (*id, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("itc: truncated id")
	}
	tag, rest := data[0], data[1:]
	switch tag {
	case tagIDZero:
		return idZero(), rest, nil
	case tagIDOne:
		return idOne(), rest, nil
	case tagIDBranch:
		l, rest, err := unmarshalID(rest)
		if err != nil {
			return nil, nil, err
		}
		r, rest, err := unmarshalID(rest)
		if err != nil {
			return nil, nil, err
		}
		return idBranch(l, r), rest, nil
	default:
		return nil, nil, fmt.Errorf("itc: unknown id tag %d", tag)
	}
}

const (
	tagEventLeaf = iota
	tagEventBranch
)

func marshalEvent(buf []byte, e *event) []byte {
	var tmp [binary.MaxVarintLen64]byte
	if e.leaf {
		buf = append(buf, tagEventLeaf)
		n := binary.PutUvarint(tmp[:], uint64(e.n))
		return append(buf, tmp[:n]...)
	}
	buf = append(buf, tagEventBranch)
	n := binary.PutUvarint(tmp[:], uint64(e.n))
	buf = append(buf, tmp[:n]...)
	buf = marshalEvent(buf, e.left)
	buf = marshalEvent(buf, e.right)
	return buf
}

func unmarshalEvent(data []byte) (*event, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("itc: truncated event")
	}
	tag, rest := data[0], data[1:]
	val, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, nil, fmt.Errorf("itc: invalid varint")
	}
	rest = rest[n:]
	switch tag {
	case tagEventLeaf:
		return eventLeaf(int(val)), rest, nil
	case tagEventBranch:
		l, rest, err := unmarshalEvent(rest)
		if err != nil {
			return nil, nil, err
		}
		r, rest, err := unmarshalEvent(rest)
		if err != nil {
			return nil, nil, err
		}
		return eventBranch(int(val), l, r), rest, nil
	default:
		return nil, nil, fmt.Errorf("itc: unknown event tag %d", tag)
	}
}
