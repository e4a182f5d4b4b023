package graph

import (
	"sort"

	"github.com/bones-project/bones/internal/bn"
)

// SCC is one strongly connected component of the raw graph, labeled
// with the sorted list of its member item IDs.
type SCC struct {
	Members []bn.ItemID
}

// Min returns the lexicographically smallest member, the component's
// deterministic label for ordering.
func (s SCC) Min() bn.ItemID {
	return s.Members[0]
}

// DAG is the condensed graph: every SCC collapsed into one node, edges
// deduplicated. The metric passes all run on the condensed DAG — a
// raw-graph cycle would make power iteration and longest-path
// undefined — and every member of an SCC receives its node's score.
type DAG struct {
	Comps  []SCC
	CompOf map[bn.ItemID]int

	Adj  [][]int
	RAdj [][]int
}

// Condense collapses the strongly connected components of g into a DAG
// using Tarjan's algorithm (iterative, so deep chains cannot overflow
// the goroutine stack). Components are renumbered so that Comps is
// sorted by minimum member ID, making the output deterministic for a
// given edge set.
func Condense(g *RawGraph) *DAG {
	n := len(g.Nodes)
	const unvisited = -1

	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	comp := make([]int, n)
	for i := range index {
		index[i] = unvisited
		comp[i] = unvisited
	}

	var (
		counter   int
		compCount int
		tarjanS   []uint32
	)

	// Explicit DFS frames: node plus the next out-edge to visit.
	type frame struct {
		node uint32
		next int
	}
	for root := 0; root < n; root++ {
		if index[root] != unvisited {
			continue
		}
		stack := []frame{{node: uint32(root)}}
		index[root] = counter
		lowlink[root] = counter
		counter++
		tarjanS = append(tarjanS, uint32(root))
		onStack[root] = true

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			v := f.node
			if f.next < len(g.adj[v]) {
				w := g.adj[v][f.next]
				f.next++
				if index[w] == unvisited {
					index[w] = counter
					lowlink[w] = counter
					counter++
					tarjanS = append(tarjanS, w)
					onStack[w] = true
					stack = append(stack, frame{node: w})
				} else if onStack[w] {
					if index[w] < lowlink[v] {
						lowlink[v] = index[w]
					}
				}
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := stack[len(stack)-1].node
				if lowlink[v] < lowlink[parent] {
					lowlink[parent] = lowlink[v]
				}
			}
			if lowlink[v] == index[v] {
				for {
					w := tarjanS[len(tarjanS)-1]
					tarjanS = tarjanS[:len(tarjanS)-1]
					onStack[w] = false
					comp[w] = compCount
					if w == v {
						break
					}
				}
				compCount++
			}
		}
	}

	members := make([][]bn.ItemID, compCount)
	for i, c := range comp {
		members[c] = append(members[c], g.Nodes[i])
	}
	for _, m := range members {
		sort.Slice(m, func(i, j int) bool { return m[i] < m[j] })
	}

	// Renumber components by minimum member so the condensed node order
	// does not depend on Tarjan's traversal order.
	order := make([]int, compCount)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return members[order[i]][0] < members[order[j]][0]
	})
	renum := make([]int, compCount)
	for newID, oldID := range order {
		renum[oldID] = newID
	}

	d := &DAG{
		Comps:  make([]SCC, compCount),
		CompOf: make(map[bn.ItemID]int, n),
		Adj:    make([][]int, compCount),
		RAdj:   make([][]int, compCount),
	}
	for oldID, m := range members {
		newID := renum[oldID]
		d.Comps[newID] = SCC{Members: m}
		for _, id := range m {
			d.CompOf[id] = newID
		}
	}

	type pair struct{ from, to int }
	seen := make(map[pair]bool, len(g.Edges))
	for from := 0; from < n; from++ {
		for _, to := range g.adj[from] {
			cf, ct := renum[comp[from]], renum[comp[to]]
			if cf == ct {
				continue
			}
			p := pair{cf, ct}
			if seen[p] {
				continue
			}
			seen[p] = true
			d.Adj[cf] = append(d.Adj[cf], ct)
			d.RAdj[ct] = append(d.RAdj[ct], cf)
		}
	}
	for i := range d.Adj {
		sort.Ints(d.Adj[i])
		sort.Ints(d.RAdj[i])
	}
	return d
}

// NodeCount returns the number of condensed nodes.
func (d *DAG) NodeCount() int { return len(d.Comps) }

// TopoOrder returns the condensed node IDs in a topological order
// (every edge points forward in the slice). Kahn's algorithm over the
// sorted adjacency keeps the order deterministic.
func (d *DAG) TopoOrder() []int {
	n := len(d.Comps)
	indeg := make([]int, n)
	for _, outs := range d.Adj {
		for _, to := range outs {
			indeg[to]++
		}
	}
	var frontier []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			frontier = append(frontier, i)
		}
	}
	order := make([]int, 0, n)
	for len(frontier) > 0 {
		v := frontier[0]
		frontier = frontier[1:]
		order = append(order, v)
		for _, to := range d.Adj[v] {
			indeg[to]--
			if indeg[to] == 0 {
				frontier = append(frontier, to)
			}
		}
	}
	return order
}

// TransitiveReduction returns a copy of d with the smallest edge set
// that preserves reachability. An edge (u, v) is redundant when some
// other successor of u already reaches v.
func (d *DAG) TransitiveReduction() *DAG {
	n := len(d.Comps)
	out := &DAG{
		Comps:  d.Comps,
		CompOf: d.CompOf,
		Adj:    make([][]int, n),
		RAdj:   make([][]int, n),
	}

	// Reachability per node, computed in reverse topological order so
	// each successor's set is final before its predecessors union it.
	reach := make([]map[int]bool, n)
	order := d.TopoOrder()
	for i := len(order) - 1; i >= 0; i-- {
		v := order[i]
		r := make(map[int]bool)
		for _, to := range d.Adj[v] {
			r[to] = true
			for x := range reach[to] {
				r[x] = true
			}
		}
		reach[v] = r
	}

	for v := 0; v < n; v++ {
		for _, to := range d.Adj[v] {
			redundant := false
			for _, other := range d.Adj[v] {
				if other != to && reach[other][to] {
					redundant = true
					break
				}
			}
			if !redundant {
				out.Adj[v] = append(out.Adj[v], to)
				out.RAdj[to] = append(out.RAdj[to], v)
			}
		}
	}
	for i := range out.Adj {
		sort.Ints(out.Adj[i])
		sort.Ints(out.RAdj[i])
	}
	return out
}

// Expand distributes a per-component score to every member item.
func (d *DAG) Expand(compScores []float64) map[bn.ItemID]float64 {
	out := make(map[bn.ItemID]float64, len(d.CompOf))
	for i, s := range d.Comps {
		for _, id := range s.Members {
			out[id] = compScores[i]
		}
	}
	return out
}
