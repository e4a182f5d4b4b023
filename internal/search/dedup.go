package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/projection"
)

// Cluster is one group of mutually duplicate-looking open items.
type Cluster struct {
	Members        []bn.ItemID
	Classification Classification
}

// DedupSweep runs the Similar pipeline pairwise over all open items,
// using each item's lexical hits as a prefilter so the sweep stays
// near-linear, then unions likely-duplicate pairs into clusters.
func (e *Engine) DedupSweep(ctx context.Context) ([]Cluster, error) {
	items, err := projection.ListOpenItems(ctx, e.DB)
	if err != nil {
		return nil, fmt.Errorf("search: listing open items: %w", err)
	}

	uf := newUnionFind()
	for _, item := range items {
		results, err := e.Similar(ctx, item.ItemID)
		if err != nil {
			return nil, fmt.Errorf("search: sweeping %s: %w", item.ItemID, err)
		}
		for _, r := range results {
			if r.Classification != LikelyDuplicate {
				continue
			}
			uf.union(item.ItemID, r.ItemID)
		}
	}

	groups := make(map[bn.ItemID][]bn.ItemID)
	for _, id := range uf.known() {
		root := uf.find(id)
		groups[root] = append(groups[root], id)
	}

	var clusters []Cluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		clusters = append(clusters, Cluster{Members: members, Classification: LikelyDuplicate})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Members[0] < clusters[j].Members[0] })
	return clusters, nil
}

// unionFind is a plain path-compressing disjoint-set over item IDs.
type unionFind struct {
	parent map[bn.ItemID]bn.ItemID
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[bn.ItemID]bn.ItemID)}
}

func (u *unionFind) find(id bn.ItemID) bn.ItemID {
	p, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		return id
	}
	if p == id {
		return id
	}
	root := u.find(p)
	u.parent[id] = root
	return root
}

func (u *unionFind) union(a, b bn.ItemID) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		// Deterministic root: the smaller ID wins.
		if rb < ra {
			ra, rb = rb, ra
		}
		u.parent[rb] = ra
	}
}

func (u *unionFind) known() []bn.ItemID {
	out := make([]bn.ItemID, 0, len(u.parent))
	for id := range u.parent {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
