package itc

// event is the "Event" component of an ITC stamp: a tree of natural
// numbers where a leaf's absolute value is its own n, and a branch
// node's children's absolute values are n plus the child's own value
// (children are offsets from their parent, not absolute).
type event struct {
	n     int
	leaf  bool
	left  *event
	right *event
}

func eventLeaf(n int) *event        { return &event{n: n, leaf: true} }
func eventBranch(n int, l, r *event) *event {
	return &event{n: n, left: l, right: r}
}

func minEvent(e *event) int {
	if e.leaf {
		return e.n
	}
	return e.n + min(minEvent(e.left), minEvent(e.right))
}

func maxEvent(e *event) int {
	if e.leaf {
		return e.n
	}
	return e.n + max(maxEvent(e.left), maxEvent(e.right))
}

func liftEvent(e *event, m int) *event {
	if e.leaf {
		return eventLeaf(e.n + m)
	}
	return eventBranch(e.n+m, e.left, e.right)
}

func sinkEvent(e *event, m int) *event {
	if e.leaf {
		return eventLeaf(e.n - m)
	}
	return eventBranch(e.n-m, e.left, e.right)
}

// normEvent collapses a branch whose children are equal leaves into a
// single leaf, and otherwise pushes the largest common offset shared by
// both children up into the parent. This keeps trees minimal, which keeps
// fork()/event() bounded by log(event count).
func normEvent(e *event) *event {
	if e.leaf {
		return e
	}
	l, r := normEvent(e.left), normEvent(e.right)
	if l.leaf && r.leaf && l.n == r.n {
		return eventLeaf(e.n + l.n)
	}
	m := min(minEvent(l), minEvent(r))
	return eventBranch(e.n+m, sinkEvent(l, m), sinkEvent(r, m))
}

// asBranch expands a leaf into an equivalent zero-offset branch so
// fill/join can recurse structurally against an id that has shape.
func asBranch(e *event) (int, *event, *event) {
	if !e.leaf {
		return e.n, e.left, e.right
	}
	return e.n, eventLeaf(0), eventLeaf(0)
}

// joinEvent computes the pointwise supremum of two event trees: the
// smallest event tree whose value is >= both inputs at every position.
// This is the operation CRDT merge and Stamp.Join are built on.
func joinEvent(a, b *event) *event {
	if a.leaf && b.leaf {
		return eventLeaf(max(a.n, b.n))
	}
	n1, l1, r1 := asBranch(a)
	n2, l2, r2 := asBranch(b)
	if n1 > n2 {
		n1, n2 = n2, n1
		l1, l2 = l2, l1
		r1, r2 = r2, r1
	}
	d := n2 - n1
	return normEvent(eventBranch(n1,
		joinEvent(l1, liftEvent(l2, d)),
		joinEvent(r1, liftEvent(r2, d)),
	))
}

// eventEqual reports structural equality of two (already normalized)
// event trees.
func eventEqual(a, b *event) bool {
	if a.leaf != b.leaf {
		return false
	}
	if a.leaf {
		return a.n == b.n
	}
	return a.n == b.n && eventEqual(a.left, b.left) && eventEqual(a.right, b.right)
}

// leqEvent reports whether a <= b pointwise (a is causally dominated by
// or equal to b). Implemented via the lattice identity a<=b iff
// join(a,b) == b, which only requires join and structural equality to be
// correct rather than a bespoke comparison routine.
func leqEvent(a, b *event) bool {
	return eventEqual(normEvent(joinEvent(a, b)), normEvent(b))
}

// fillEvent grows e to its maximum value wherever id fully owns a
// position (id component == 1), leaving event values in positions owned
// by other replicas (id component == 0) untouched, and recursing where
// ownership is itself split. This is the core of Stamp.Event: an agent
// may only "witness" a new event in the part of the tree it owns.
func fillEvent(i *id, e *event) *event {
	if i.isZero() {
		return e
	}
	if i.isOne() {
		return eventLeaf(maxEvent(e))
	}
	if e.leaf {
		return fillEvent(i, eventBranch(e.n, eventLeaf(0), eventLeaf(0)))
	}
	n, l, r := e.n, e.left, e.right
	switch {
	case i.left.isZero():
		return normEvent(eventBranch(n, l, fillEvent(i.right, r)))
	case i.right.isZero():
		return normEvent(eventBranch(n, fillEvent(i.left, l), r))
	default:
		return normEvent(eventBranch(n, fillEvent(i.left, l), fillEvent(i.right, r)))
	}
}

// growEvent finds a leaf position owned by id (an all-ones path) and
// increments it by one, guaranteeing Stamp.Event always strictly
// advances causally even when fillEvent alone made no difference
// (e.g. this replica's owned region was already at the tree's current
// max). It prefers the shallowest owned leaf so the tree stays small.
func growEvent(i *id, e *event) *event {
	if i.isOne() {
		if e.leaf {
			return eventLeaf(e.n + 1)
		}
		return normEvent(eventBranch(e.n+1, e.left, e.right))
	}
	if i.isZero() {
		return e
	}
	if e.leaf {
		return growEvent(i, eventBranch(e.n, eventLeaf(0), eventLeaf(0)))
	}
	n, l, r := e.n, e.left, e.right
	if !i.left.isZero() {
		return normEvent(eventBranch(n, growEvent(i.left, l), r))
	}
	return normEvent(eventBranch(n, l, growEvent(i.right, r)))
}
