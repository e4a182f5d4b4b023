// Package graph builds the dependency graph from the projection and
// normalizes it for the metric passes. Nodes are non-deleted item IDs;
// edges point blocker → blocked. The graph carries a content hash over
// its sorted edge list so callers can skip rebuilding metric results
// when nothing structural changed.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/btree"
	"github.com/zeebo/blake3"

	"github.com/bones-project/bones/internal/bn"
)

// Edge is one blocker → blocked dependency.
type Edge struct {
	From bn.ItemID // blocker
	To   bn.ItemID // blocked
}

func edgeLess(a, b Edge) bool {
	if a.From != b.From {
		return a.From < b.From
	}
	return a.To < b.To
}

// RawGraph is the loaded dependency graph. Nodes and edges are sorted
// and deduplicated; adjacency is held as u32 indices into the node
// arena so metric passes never alias item-ID strings.
type RawGraph struct {
	Nodes []bn.ItemID
	Edges []Edge

	index map[bn.ItemID]uint32
	adj   [][]uint32 // out-edges: items this node blocks
	radj  [][]uint32 // in-edges: blockers of this node

	contentHash string
}

// FromSQLite loads the graph from the projection in one pass. Both
// `blocks` and `blocked_by` rows collapse into the same directed edge;
// an edge whose endpoint is deleted (or unknown) is dropped.
func FromSQLite(ctx context.Context, db *sql.DB) (*RawGraph, error) {
	rows, err := db.QueryContext(ctx, `SELECT item_id FROM items WHERE deleted = 0 ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("graph: loading nodes: %w", err)
	}
	var nodes []bn.ItemID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("graph: scanning node: %w", err)
		}
		nodes = append(nodes, bn.ItemID(id))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("graph: reading nodes: %w", err)
	}
	_ = rows.Close()

	rows, err = db.QueryContext(ctx, `
		SELECT item_id, target_item_id, link_type
		FROM item_dependencies
		WHERE link_type IN ('blocks', 'blocked_by')`)
	if err != nil {
		return nil, fmt.Errorf("graph: loading edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []Edge
	for rows.Next() {
		var itemID, target, linkType string
		if err := rows.Scan(&itemID, &target, &linkType); err != nil {
			return nil, fmt.Errorf("graph: scanning edge: %w", err)
		}
		// `X blocks Y` and `Y blocked_by X` are the same edge X → Y.
		switch linkType {
		case "blocks":
			edges = append(edges, Edge{From: bn.ItemID(itemID), To: bn.ItemID(target)})
		case "blocked_by":
			edges = append(edges, Edge{From: bn.ItemID(target), To: bn.ItemID(itemID)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("graph: reading edges: %w", err)
	}
	return FromEdges(nodes, edges), nil
}

// FromEdges builds a graph directly from node and edge lists.
// Duplicate edges, self-loops, and edges touching unknown nodes are
// dropped. The input slices are not retained.
func FromEdges(nodes []bn.ItemID, edges []Edge) *RawGraph {
	g := &RawGraph{index: make(map[bn.ItemID]uint32, len(nodes))}
	g.Nodes = append(g.Nodes, nodes...)
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i] < g.Nodes[j] })
	g.Nodes = dedupeNodes(g.Nodes)
	for i, id := range g.Nodes {
		g.index[id] = uint32(i)
	}

	// The B-tree both dedupes and yields the edges in sorted order, so
	// the adjacency build and the content hash see one canonical list
	// regardless of insertion order.
	tree := btree.NewG(8, edgeLess)
	for _, e := range edges {
		if e.From == e.To {
			continue
		}
		if _, ok := g.index[e.From]; !ok {
			continue
		}
		if _, ok := g.index[e.To]; !ok {
			continue
		}
		tree.ReplaceOrInsert(e)
	}

	g.adj = make([][]uint32, len(g.Nodes))
	g.radj = make([][]uint32, len(g.Nodes))
	g.Edges = make([]Edge, 0, tree.Len())
	hasher := blake3.New()
	tree.Ascend(func(e Edge) bool {
		g.Edges = append(g.Edges, e)
		from, to := g.index[e.From], g.index[e.To]
		g.adj[from] = append(g.adj[from], to)
		g.radj[to] = append(g.radj[to], from)
		_, _ = hasher.Write([]byte(e.From))
		_, _ = hasher.Write([]byte{'\t'})
		_, _ = hasher.Write([]byte(e.To))
		_, _ = hasher.Write([]byte{'\n'})
		return true
	})
	g.contentHash = fmt.Sprintf("blake3:%x", hasher.Sum(nil))
	return g
}

func dedupeNodes(sorted []bn.ItemID) []bn.ItemID {
	out := sorted[:0]
	for i, id := range sorted {
		if i == 0 || sorted[i-1] != id {
			out = append(out, id)
		}
	}
	return out
}

// ContentHash is a BLAKE3 digest over the sorted edge list. Two graphs
// with the same edge set hash identically regardless of how the edges
// were inserted.
func (g *RawGraph) ContentHash() string { return g.contentHash }

// NodeCount returns the number of nodes.
func (g *RawGraph) NodeCount() int { return len(g.Nodes) }

// EdgeCount returns the number of deduplicated edges.
func (g *RawGraph) EdgeCount() int { return len(g.Edges) }

// HasNode reports whether id is a node of the graph.
func (g *RawGraph) HasNode(id bn.ItemID) bool {
	_, ok := g.index[id]
	return ok
}

// Blocks returns the items id blocks, in sorted order.
func (g *RawGraph) Blocks(id bn.ItemID) []bn.ItemID {
	return g.resolve(g.adj, id)
}

// BlockedBy returns the blockers of id, in sorted order.
func (g *RawGraph) BlockedBy(id bn.ItemID) []bn.ItemID {
	return g.resolve(g.radj, id)
}

func (g *RawGraph) resolve(lists [][]uint32, id bn.ItemID) []bn.ItemID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]bn.ItemID, 0, len(lists[i]))
	for _, j := range lists[i] {
		out = append(out, g.Nodes[j])
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// CycleError reports a rejected link: adding the edge would close a
// dependency cycle.
type CycleError struct {
	From, To bn.ItemID
	// Path lists the existing blocker chain from From back to To.
	Path []bn.ItemID
}

func (e *CycleError) Error() string {
	hops := len(e.Path) - 1
	if hops < 0 {
		hops = 0
	}
	return fmt.Sprintf("cycle detected: %s already reaches %s through %d hop(s)", e.To, e.From, hops)
}

// CheckAcyclic returns a CycleError if adding the edge from → to would
// create a cycle, i.e. if `from` is already reachable from `to`. The
// graph itself is not modified. An endpoint the graph does not know
// about cannot close a cycle, so the check passes.
func (g *RawGraph) CheckAcyclic(from, to bn.ItemID) error {
	if from == to {
		return &CycleError{From: from, To: to}
	}
	start, ok := g.index[to]
	if !ok {
		return nil
	}
	target, ok := g.index[from]
	if !ok {
		return nil
	}
	// Iterative DFS with a parent trail so the error can name the path.
	parent := make(map[uint32]uint32, 16)
	stack := []uint32{start}
	seen := map[uint32]bool{start: true}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			var path []bn.ItemID
			for at := n; at != start; at = parent[at] {
				path = append(path, g.Nodes[at])
			}
			path = append(path, g.Nodes[start])
			return &CycleError{From: from, To: to, Path: path}
		}
		for _, next := range g.adj[n] {
			if !seen[next] {
				seen[next] = true
				parent[next] = n
				stack = append(stack, next)
			}
		}
	}
	return nil
}
