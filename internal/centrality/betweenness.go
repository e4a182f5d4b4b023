package centrality

import (
	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/graph"
)

// Betweenness computes Brandes' shortest-path betweenness on the
// condensed DAG, treating every edge as unit length. Scores are not
// normalized; items in the same component share a score.
func Betweenness(d *graph.DAG) map[bn.ItemID]float64 {
	n := d.NodeCount()
	cb := make([]float64, n)

	// Per-source state reused across sources.
	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	preds := make([][]int, n)

	for s := 0; s < n; s++ {
		for i := 0; i < n; i++ {
			sigma[i] = 0
			dist[i] = -1
			delta[i] = 0
			preds[i] = preds[i][:0]
		}
		sigma[s] = 1
		dist[s] = 0

		// BFS from s, recording the visit order for the dependency
		// accumulation pass.
		order := make([]int, 0, n)
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			order = append(order, v)
			for _, w := range d.Adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(order) - 1; i >= 0; i-- {
			w := order[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}
	return d.Expand(cb)
}
