package crdt

import (
	"sort"

	"github.com/bones-project/bones/internal/bn"
)

// GSet is a grow-only set of comment event hashes.
// Comments are never retracted, so union is the only merge needed.
type GSet struct {
	hashes map[bn.EventHash]struct{}
}

// NewGSet returns an empty set.
func NewGSet() *GSet { return &GSet{hashes: map[bn.EventHash]struct{}{}} }

// Add records hash as a member.
func (s *GSet) Add(hash bn.EventHash) { s.hashes[hash] = struct{}{} }

// Contains reports whether hash is a member.
func (s *GSet) Contains(hash bn.EventHash) bool {
	_, ok := s.hashes[hash]
	return ok
}

// Merge unions other's members into s.
func (s *GSet) Merge(other *GSet) {
	if other == nil {
		return
	}
	for h := range other.hashes {
		s.hashes[h] = struct{}{}
	}
}

// Clone returns a deep copy.
func (s *GSet) Clone() *GSet {
	out := NewGSet()
	out.Merge(s)
	return out
}

// Elements returns the members, sorted.
func (s *GSet) Elements() []bn.EventHash {
	out := make([]bn.EventHash, 0, len(s.hashes))
	for h := range s.hashes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the member count.
func (s *GSet) Len() int { return len(s.hashes) }
