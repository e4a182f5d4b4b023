// Package bsync implements the Prolly-tree anti-entropy sync engine:
// each replica builds a content-addressed tree over its sorted
// event-hash set, two replicas diff their trees top-down in O(log n)
// when most of the tree is unchanged, and only the events on either
// side of the resulting symmetric difference cross the wire. Chunk
// boundaries come from a buzhash rolling hash over the key stream, so
// the tree's shape depends only on content — two replicas holding the
// same set always build byte-identical trees.
package bsync

import (
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/bones-project/bones/internal/bn"
)

// node is one vertex of a Prolly tree. A leaf holds the event hashes it
// covers directly; an internal node holds child nodes. Every node's
// hash is a content hash of what's beneath it, so two nodes with equal
// hash are guaranteed to cover identical content — the property Diff
// exploits to skip whole unchanged subtrees.
type node struct {
	hash     string
	minKey   string
	maxKey   string
	children []*node
	events   []bn.EventHash // non-nil only for leaves, sorted ascending
}

func (n *node) isLeaf() bool { return n.children == nil }

// Tree is a built, immutable Prolly tree over one replica's event-hash
// set at a point in time.
type Tree struct {
	root *node
}

// RootHash returns the tree's root content hash, hex-encoded. Two
// trees with equal RootHash cover exactly the same event set (barring
// a hash collision) — this is Diff's zero-bytes fast path.
func (t *Tree) RootHash() string {
	if t.root == nil {
		return ""
	}
	return t.root.hash
}

// Build constructs a Tree over hashes. The input need not be sorted or
// deduplicated; Build does both.
func Build(hashes []bn.EventHash) *Tree {
	dedup := make(map[bn.EventHash]bool, len(hashes))
	uniq := make([]bn.EventHash, 0, len(hashes))
	for _, h := range hashes {
		if !dedup[h] {
			dedup[h] = true
			uniq = append(uniq, h)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	if len(uniq) == 0 {
		return &Tree{root: &node{hash: leafHash(nil), events: []bn.EventHash{}}}
	}

	items := make([][]byte, len(uniq))
	for i, h := range uniq {
		items[i] = []byte(h)
	}
	leaves := buildLeaves(uniq, items)

	level := leaves
	for len(level) > 1 {
		level = buildParents(level)
	}
	return &Tree{root: level[0]}
}

func buildLeaves(hashes []bn.EventHash, items [][]byte) []*node {
	bounds := chunkBoundaries(items)
	leaves := make([]*node, 0, len(bounds))
	start := 0
	for _, end := range bounds {
		group := hashes[start:end]
		leaves = append(leaves, &node{
			hash:   leafHash(group),
			minKey: string(group[0]),
			maxKey: string(group[len(group)-1]),
			events: group,
		})
		start = end
	}
	return leaves
}

func buildParents(level []*node) []*node {
	items := make([][]byte, len(level))
	for i, n := range level {
		items[i] = []byte(n.hash)
	}
	bounds := chunkBoundaries(items)
	parents := make([]*node, 0, len(bounds))
	start := 0
	for _, end := range bounds {
		group := level[start:end]
		parents = append(parents, &node{
			hash:     internalHash(group),
			minKey:   group[0].minKey,
			maxKey:   group[len(group)-1].maxKey,
			children: group,
		})
		start = end
	}
	return parents
}

func leafHash(events []bn.EventHash) string {
	h := blake3.New()
	h.Write([]byte("leaf"))
	for _, e := range events {
		h.Write([]byte(e))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func internalHash(children []*node) string {
	h := blake3.New()
	h.Write([]byte("node"))
	for _, c := range children {
		h.Write([]byte(c.hash))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// collectAll appends every event hash n's subtree covers to out.
func collectAll(n *node, out *[]bn.EventHash) {
	if n == nil {
		return
	}
	if n.isLeaf() {
		*out = append(*out, n.events...)
		return
	}
	for _, c := range n.children {
		collectAll(c, out)
	}
}

// asRange treats n as a single-element child list, for merge-walking a
// leaf against an internal node's children one level down.
func asRange(n *node) []*node {
	if n == nil {
		return nil
	}
	if !n.isLeaf() {
		return n.children
	}
	return []*node{n}
}
