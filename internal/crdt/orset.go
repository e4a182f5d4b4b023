package crdt

import (
	"sort"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/itc"
)

// orRecord is one add or remove operation recorded against an element:
// the originating event's hash (the OR-Set tag) and that event's ITC
// stamp, which is what lets a later
// operation decide whether it causally observed an earlier one.
type orRecord struct {
	hash bn.EventHash
	itc  itc.Stamp
}

// ORSet is an add-wins, observed-remove set. An element is present iff
// some add for it is not causally dominated by any recorded remove;
// a remove that is concurrent with an add (neither's ITC stamp
// dominates the other's) never hides that add, which is exactly the
// add-wins-over-concurrent-remove rule.
// A later add always re-adds, since it carries a fresh stamp no
// existing remove can have observed.
type ORSet struct {
	adds    map[string]map[bn.EventHash]orRecord
	removes map[string]map[bn.EventHash]orRecord
}

// NewORSet returns an empty set.
func NewORSet() *ORSet {
	return &ORSet{
		adds:    map[string]map[bn.EventHash]orRecord{},
		removes: map[string]map[bn.EventHash]orRecord{},
	}
}

// Add records an add operation for elem under the writer's tag.
func (s *ORSet) Add(elem string, hash bn.EventHash, stamp itc.Stamp) {
	if s.adds[elem] == nil {
		s.adds[elem] = map[bn.EventHash]orRecord{}
	}
	s.adds[elem][hash] = orRecord{hash: hash, itc: stamp}
}

// Remove records a remove operation for elem under the writer's tag.
func (s *ORSet) Remove(elem string, hash bn.EventHash, stamp itc.Stamp) {
	if s.removes[elem] == nil {
		s.removes[elem] = map[bn.EventHash]orRecord{}
	}
	s.removes[elem][hash] = orRecord{hash: hash, itc: stamp}
}

// Contains reports whether elem currently survives.
func (s *ORSet) Contains(elem string) bool {
	for _, add := range s.adds[elem] {
		if !s.observedByAnyRemove(elem, add) {
			return true
		}
	}
	return false
}

func (s *ORSet) observedByAnyRemove(elem string, add orRecord) bool {
	for _, rem := range s.removes[elem] {
		if add.itc.Leq(rem.itc) {
			return true
		}
	}
	return false
}

// Elements returns the currently-present elements, sorted.
func (s *ORSet) Elements() []string {
	var out []string
	for elem := range s.adds {
		if s.Contains(elem) {
			out = append(out, elem)
		}
	}
	sort.Strings(out)
	return out
}

// Merge unions another set's add and remove records into this one.
func (s *ORSet) Merge(other *ORSet) {
	if other == nil {
		return
	}
	for elem, recs := range other.adds {
		if s.adds[elem] == nil {
			s.adds[elem] = map[bn.EventHash]orRecord{}
		}
		for hash, rec := range recs {
			s.adds[elem][hash] = rec
		}
	}
	for elem, recs := range other.removes {
		if s.removes[elem] == nil {
			s.removes[elem] = map[bn.EventHash]orRecord{}
		}
		for hash, rec := range recs {
			s.removes[elem][hash] = rec
		}
	}
}

// Clone returns a deep copy.
func (s *ORSet) Clone() *ORSet {
	out := NewORSet()
	out.Merge(s)
	return out
}
