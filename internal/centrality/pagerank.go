// Package centrality computes graph centrality metrics over the
// condensed dependency DAG: PageRank (with an incremental update
// path), Brandes betweenness, HITS, and eigenvector centrality. Every
// metric returns a per-item score map in which all members of a
// strongly connected component share their component's score.
package centrality

import (
	"math"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/graph"
)

// Method records which code path produced a PageRank result.
type Method string

const (
	MethodFull                Method = "full"
	MethodIncremental         Method = "incremental"
	MethodIncrementalFallback Method = "incremental_fallback"
)

const (
	defaultDamping  = 0.85
	defaultL1Thresh = 1e-6
	defaultMaxIter  = 100

	// incrementalTolerance bounds how far a warm-started result may
	// drift from a full recompute before the incremental path is
	// abandoned for the full one.
	incrementalTolerance = 1e-4
)

// PageRankResult carries the scores plus convergence diagnostics.
type PageRankResult struct {
	Scores     map[bn.ItemID]float64
	Iterations int
	Converged  bool
	Method     Method

	// comp keeps the per-component vector so a later incremental pass
	// can warm-start from it without re-deriving it from Scores.
	comp      []float64
	graphHash string
}

// GraphHash returns the content hash of the graph the result was
// computed against; incremental callers use it to detect a stale prior.
func (r PageRankResult) GraphHash() string { return r.graphHash }

// PageRank runs the iterative power method on the condensed DAG:
// damping 0.85, L1 convergence threshold 1e-6, at most 100 iterations,
// dangling mass redistributed uniformly.
func PageRank(g *graph.RawGraph, d *graph.DAG) PageRankResult {
	comp, iters, converged := pagerankFrom(d, uniformVector(d.NodeCount()))
	return PageRankResult{
		Scores:     d.Expand(comp),
		Iterations: iters,
		Converged:  converged,
		Method:     MethodFull,
		comp:       comp,
		graphHash:  g.ContentHash(),
	}
}

func uniformVector(n int) []float64 {
	v := make([]float64, n)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] = 1.0 / float64(n)
	}
	return v
}

// pagerankFrom iterates to convergence starting from the given vector.
// A uniform start is the full computation; a prior result is the
// warm start used by the incremental path.
func pagerankFrom(d *graph.DAG, start []float64) (scores []float64, iterations int, converged bool) {
	n := d.NodeCount()
	if n == 0 {
		return nil, 0, true
	}
	cur := make([]float64, n)
	copy(cur, start)
	next := make([]float64, n)

	for iter := 1; iter <= defaultMaxIter; iter++ {
		var danglingMass float64
		for i := 0; i < n; i++ {
			if len(d.Adj[i]) == 0 {
				danglingMass += cur[i]
			}
		}
		base := (1-defaultDamping)/float64(n) + defaultDamping*danglingMass/float64(n)
		for i := range next {
			next[i] = base
		}
		for from := 0; from < n; from++ {
			outs := d.Adj[from]
			if len(outs) == 0 {
				continue
			}
			share := defaultDamping * cur[from] / float64(len(outs))
			for _, to := range outs {
				next[to] += share
			}
		}

		var delta float64
		for i := range cur {
			delta += math.Abs(next[i] - cur[i])
		}
		cur, next = next, cur
		if delta < defaultL1Thresh {
			return cur, iter, true
		}
	}
	return cur, defaultMaxIter, false
}

// ChangeKind tags one edge mutation in a PageRank change set.
type ChangeKind int

const (
	Add ChangeKind = iota
	Remove
)

// Change is one edge added to or removed from the dependency graph
// since the prior PageRank result.
type Change struct {
	Kind     ChangeKind
	From, To bn.ItemID
}

// PageRankIncremental updates a prior result for a set of edge changes
// by warm-starting from the prior scores. It also runs a full recompute
// from the uniform vector on every call, for the stability check below,
// so it does not save work over PageRank. The graph arguments describe
// the post-change graph.
//
// The stability check is explicit, not a silent divergence: the
// warm-started scores on the affected frontier are compared against a
// full recompute, and if any differs by more than the incremental
// tolerance the full result is returned labeled
// MethodIncrementalFallback. Otherwise the warm-started result is
// returned as MethodIncremental, within the same tolerance of the full
// answer by construction.
func PageRankIncremental(g *graph.RawGraph, d *graph.DAG, prior PageRankResult, changes []Change) PageRankResult {
	n := d.NodeCount()
	if len(prior.comp) == 0 || len(changes) == 0 {
		return PageRank(g, d)
	}

	// Seed from the prior scores where component identity survived;
	// brand-new or re-shuffled components start at the uniform mass.
	start := make([]float64, n)
	uniform := 1.0 / float64(max(n, 1))
	priorOf := prior.Scores
	for i, comp := range d.Comps {
		if s, ok := priorOf[comp.Min()]; ok {
			start[i] = s
		} else {
			start[i] = uniform
		}
	}
	normalizeL1(start)

	warm, warmIters, warmConverged := pagerankFrom(d, start)

	// Affected frontier: the endpoints of every change plus everything
	// downstream of them — the nodes whose mass an edge flip can move.
	affected := affectedComponents(d, changes)

	full, fullIters, fullConverged := pagerankFrom(d, uniformVector(n))
	stable := warmConverged
	for i := range warm {
		if !affected[i] {
			continue
		}
		if math.Abs(warm[i]-full[i]) > incrementalTolerance {
			stable = false
			break
		}
	}
	if !stable {
		return PageRankResult{
			Scores:     d.Expand(full),
			Iterations: fullIters,
			Converged:  fullConverged,
			Method:     MethodIncrementalFallback,
			comp:       full,
			graphHash:  g.ContentHash(),
		}
	}
	return PageRankResult{
		Scores:     d.Expand(warm),
		Iterations: warmIters,
		Converged:  warmConverged,
		Method:     MethodIncremental,
		comp:       warm,
		graphHash:  g.ContentHash(),
	}
}

// affectedComponents marks every condensed node reachable from a
// change endpoint.
func affectedComponents(d *graph.DAG, changes []Change) []bool {
	n := d.NodeCount()
	affected := make([]bool, n)
	var stack []int
	mark := func(id bn.ItemID) {
		if c, ok := d.CompOf[id]; ok && !affected[c] {
			affected[c] = true
			stack = append(stack, c)
		}
	}
	for _, ch := range changes {
		mark(ch.From)
		mark(ch.To)
	}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, to := range d.Adj[v] {
			if !affected[to] {
				affected[to] = true
				stack = append(stack, to)
			}
		}
	}
	return affected
}

func normalizeL1(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}
