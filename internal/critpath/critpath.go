// Package critpath derives scheduling structure from the condensed
// dependency DAG: unit-duration critical-path timing and topological
// layers for parallel execution plans.
package critpath

import (
	"sort"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/graph"
)

// Result carries the longest-path length and per-item timing.
type Result struct {
	// TotalLength is the number of items on the longest blocker chain.
	TotalLength int
	// EarliestStart and EarliestFinish index by item; every member of a
	// component shares its component's slot.
	EarliestStart  map[bn.ItemID]int
	EarliestFinish map[bn.ItemID]int
	// Path is one longest chain, blocker-first, each hop named by its
	// component's minimum member ID.
	Path []bn.ItemID
}

// Compute runs the earliest-start / earliest-finish topological pass
// with every item treated as unit duration.
func Compute(d *graph.DAG) Result {
	n := d.NodeCount()
	start := make([]int, n)
	finish := make([]int, n)
	// prev[v] is the predecessor on v's longest incoming chain, for
	// path reconstruction. -1 means v starts a chain.
	prev := make([]int, n)
	for i := range prev {
		prev[i] = -1
	}

	order := d.TopoOrder()
	for _, v := range order {
		for _, from := range d.RAdj[v] {
			if finish[from] > start[v] || (finish[from] == start[v] && start[v] > 0 && betterTie(d, from, prev[v])) {
				start[v] = finish[from]
				prev[v] = from
			}
		}
		finish[v] = start[v] + 1
	}

	res := Result{
		EarliestStart:  make(map[bn.ItemID]int, len(d.CompOf)),
		EarliestFinish: make(map[bn.ItemID]int, len(d.CompOf)),
	}
	end := -1
	for v := 0; v < n; v++ {
		for _, id := range d.Comps[v].Members {
			res.EarliestStart[id] = start[v]
			res.EarliestFinish[id] = finish[v]
		}
		if finish[v] > res.TotalLength || (finish[v] == res.TotalLength && end >= 0 && d.Comps[v].Min() < d.Comps[end].Min()) {
			res.TotalLength = finish[v]
			end = v
		}
	}
	for at := end; at >= 0; at = prev[at] {
		res.Path = append(res.Path, d.Comps[at].Min())
	}
	reverse(res.Path)
	return res
}

// betterTie breaks equal-length chains toward the smaller component
// label so path reconstruction is deterministic.
func betterTie(d *graph.DAG, candidate, current int) bool {
	if current < 0 {
		return false
	}
	return d.Comps[candidate].Min() < d.Comps[current].Min()
}

func reverse(ids []bn.ItemID) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// Layers peels the condensed DAG into topological layers: every layer
// is the set of currently zero-in-degree nodes, expanded to member
// item IDs. Within a layer, components order lexicographically by
// minimum member. A non-empty scope restricts the plan to items whose
// ID equals the scope or is prefixed by "scope.".
func Layers(d *graph.DAG, scope string) [][]bn.ItemID {
	n := d.NodeCount()
	indeg := make([]int, n)
	for _, outs := range d.Adj {
		for _, to := range outs {
			indeg[to]++
		}
	}
	emitted := make([]bool, n)
	remaining := n

	var layers [][]bn.ItemID
	for remaining > 0 {
		var layerComps []int
		for v := 0; v < n; v++ {
			if !emitted[v] && indeg[v] == 0 {
				layerComps = append(layerComps, v)
			}
		}
		if len(layerComps) == 0 {
			// A condensed DAG cannot have a residual cycle, but a
			// deterministic fallback beats an infinite loop if one
			// ever slips through.
			for v := 0; v < n; v++ {
				if !emitted[v] {
					layerComps = append(layerComps, v)
				}
			}
		}
		sort.Slice(layerComps, func(i, j int) bool {
			return d.Comps[layerComps[i]].Min() < d.Comps[layerComps[j]].Min()
		})
		var layer []bn.ItemID
		for _, v := range layerComps {
			emitted[v] = true
			remaining--
			for _, to := range d.Adj[v] {
				indeg[to]--
			}
			for _, id := range d.Comps[v].Members {
				if id.WithinScope(scope) {
					layer = append(layer, id)
				}
			}
		}
		if len(layer) > 0 {
			layers = append(layers, layer)
		}
	}
	return layers
}
