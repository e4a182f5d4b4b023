package centrality

import (
	"math"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/graph"
)

const (
	spectralTolerance = 1e-6
	spectralMaxIter   = 100
)

// HITSResult holds both score families of the HITS iteration.
type HITSResult struct {
	Hubs        map[bn.ItemID]float64
	Authorities map[bn.ItemID]float64
	Iterations  int
	Converged   bool
}

// HITS runs the hub/authority power iteration on the condensed DAG,
// L2-normalizing both vectors each step. Convergence is the L2 delta
// of the authority vector dropping below the tolerance.
func HITS(d *graph.DAG) HITSResult {
	n := d.NodeCount()
	hubs := ones(n)
	auths := ones(n)
	res := HITSResult{Converged: n == 0}

	for iter := 1; iter <= spectralMaxIter; iter++ {
		newAuths := make([]float64, n)
		for v := 0; v < n; v++ {
			for _, from := range d.RAdj[v] {
				newAuths[v] += hubs[from]
			}
		}
		normalizeL2(newAuths)

		newHubs := make([]float64, n)
		for v := 0; v < n; v++ {
			for _, to := range d.Adj[v] {
				newHubs[v] += newAuths[to]
			}
		}
		normalizeL2(newHubs)

		var delta float64
		for i := range auths {
			diff := newAuths[i] - auths[i]
			delta += diff * diff
		}
		hubs, auths = newHubs, newAuths
		res.Iterations = iter
		if math.Sqrt(delta) < spectralTolerance {
			res.Converged = true
			break
		}
	}
	res.Hubs = d.Expand(hubs)
	res.Authorities = d.Expand(auths)
	return res
}

// Eigenvector computes eigenvector centrality by power iteration over
// the undirected view of the condensed adjacency. The directed DAG
// itself would converge to zero (sources receive no mass), so each
// edge contributes in both directions. Iterating on A+I rather than A
// keeps bipartite structures from oscillating forever.
func Eigenvector(d *graph.DAG) map[bn.ItemID]float64 {
	n := d.NodeCount()
	cur := ones(n)
	normalizeL2(cur)

	for iter := 0; iter < spectralMaxIter; iter++ {
		next := make([]float64, n)
		copy(next, cur)
		for v := 0; v < n; v++ {
			for _, to := range d.Adj[v] {
				next[to] += cur[v]
				next[v] += cur[to]
			}
		}
		normalizeL2(next)

		var delta float64
		for i := range cur {
			delta += math.Abs(next[i] - cur[i])
		}
		cur = next
		if delta < spectralTolerance {
			break
		}
	}
	return d.Expand(cur)
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func normalizeL2(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}
