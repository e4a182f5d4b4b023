// Package itc implements Interval Tree Clocks: a
// causal-ordering primitive that supports coordination-free fork/join,
// used both to compare concurrent events (Stamp.Leq) and to allocate
// disjoint per-agent identity without a central registry.
//
// All operations here are pure value transformations over immutable
// trees — nothing touches storage or the clock. Persistence (writing a
// stamp back to an agent's state file) is the caller's job.
package itc

// id is the "Id" component of an ITC stamp: 0 (owns nothing), 1 (owns
// everything), or a pair of sub-ids splitting ownership. A nil *id is
// never exposed outside this package; use idZero()/idOne() constructors.
type id struct {
	leaf  bool
	one   bool // valid only if leaf: true => id 1, false => id 0
	left  *id
	right *id
}

func idZero() *id { return &id{leaf: true, one: false} }
func idOne() *id  { return &id{leaf: true, one: true} }

func idBranch(l, r *id) *id { return &id{left: l, right: r} }

func (i *id) isZero() bool { return i.leaf && !i.one }
func (i *id) isOne() bool  { return i.leaf && i.one }

// normID collapses (0,0)->0 and (1,1)->1.
func normID(i *id) *id {
	if i.leaf {
		return i
	}
	l, r := normID(i.left), normID(i.right)
	if l.isZero() && r.isZero() {
		return idZero()
	}
	if l.isOne() && r.isOne() {
		return idOne()
	}
	return idBranch(l, r)
}

// splitID divides ownership of i into two disjoint, non-overlapping ids
// whose sum equals i. Used by Stamp.Fork.
func splitID(i *id) (*id, *id) {
	if i.isZero() {
		return idZero(), idZero()
	}
	if i.isOne() {
		// (1,0) and (0,1): one half keeps the left subtree fully owned,
		// the other the right.
		return idBranch(idOne(), idZero()), idBranch(idZero(), idOne())
	}
	l, r := i.left, i.right
	if l.isZero() {
		r1, r2 := splitID(r)
		return idBranch(idZero(), r1), idBranch(idZero(), r2)
	}
	if r.isZero() {
		l1, l2 := splitID(l)
		return idBranch(l1, idZero()), idBranch(l2, idZero())
	}
	// Both sides partially owned: hand the whole left half to one fork
	// and the whole right half to the other. Simpler than a balanced
	// recursive split and still produces two disjoint, sum-preserving
	// ids.
	return idBranch(l, idZero()), idBranch(idZero(), r)
}

// sumID merges two disjoint ids back into one; Stamp.Join uses it to
// reunite the ownership of two stamps.
func sumID(a, b *id) *id {
	if a.isZero() {
		return b
	}
	if b.isZero() {
		return a
	}
	if a.leaf || b.leaf {
		// a.isOne() || b.isOne(): union with "owns everything" owns everything.
		return idOne()
	}
	return normID(idBranch(sumID(a.left, b.left), sumID(a.right, b.right)))
}

// walk32 derives a deterministic path of 32 left(0)/right(1) choices from
// a 32-bit seed, used to descend into an id during deterministic agent
// seeding (32 fork descents).
func walk32(seed []byte, round int) bool {
	byteIdx := round / 8
	bitIdx := uint(round % 8)
	if byteIdx >= len(seed) {
		return false
	}
	return (seed[byteIdx]>>bitIdx)&1 == 1
}
