package bsync

import "github.com/bones-project/bones/internal/bn"

// Diff computes the symmetric difference between two trees: the event
// hashes only a and only b know about. Equal-hash subtrees are skipped
// entirely without being descended into. The zero-byte fast path for
// matching root hashes generalizes to every matching subtree along the
// way, not just the root.
func Diff(a, b *Tree) (onlyA, onlyB []bn.EventHash) {
	walk(a.root, b.root, &onlyA, &onlyB)
	return onlyA, onlyB
}

func walk(a, b *node, onlyA, onlyB *[]bn.EventHash) {
	if a == nil && b == nil {
		return
	}
	if a == nil {
		collectAll(b, onlyB)
		return
	}
	if b == nil {
		collectAll(a, onlyA)
		return
	}
	if a.hash == b.hash {
		return
	}
	if a.isLeaf() && b.isLeaf() {
		diffLeaves(a.events, b.events, onlyA, onlyB)
		return
	}

	ac, bc := asRange(a), asRange(b)
	i, j := 0, 0
	for i < len(ac) && j < len(bc) {
		ca, cb := ac[i], bc[j]
		switch {
		case ca.hash == cb.hash:
			i++
			j++
		case ca.maxKey < cb.minKey:
			collectAll(ca, onlyA)
			i++
		case cb.maxKey < ca.minKey:
			collectAll(cb, onlyB)
			j++
		default:
			walk(ca, cb, onlyA, onlyB)
			i++
			j++
		}
	}
	for ; i < len(ac); i++ {
		collectAll(ac[i], onlyA)
	}
	for ; j < len(bc); j++ {
		collectAll(bc[j], onlyB)
	}
}

// diffLeaves merges two sorted event-hash slices, appending the
// elements unique to each side.
func diffLeaves(a, b []bn.EventHash, onlyA, onlyB *[]bn.EventHash) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case a[i] < b[j]:
			*onlyA = append(*onlyA, a[i])
			i++
		default:
			*onlyB = append(*onlyB, b[j])
			j++
		}
	}
	*onlyA = append(*onlyA, a[i:]...)
	*onlyB = append(*onlyB, b[j:]...)
}
