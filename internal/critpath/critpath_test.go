package critpath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/graph"
)

func build(nodes []string, edges [][2]string) *graph.DAG {
	ids := make([]bn.ItemID, len(nodes))
	for i, n := range nodes {
		ids[i] = bn.ItemID(n)
	}
	es := make([]graph.Edge, len(edges))
	for i, e := range edges {
		es[i] = graph.Edge{From: bn.ItemID(e[0]), To: bn.ItemID(e[1])}
	}
	return graph.Condense(graph.FromEdges(ids, es))
}

func TestCompute_ChainTiming(t *testing.T) {
	d := build([]string{"bn-a", "bn-b", "bn-c", "bn-d"}, [][2]string{
		{"bn-a", "bn-b"}, {"bn-b", "bn-c"},
	})
	res := Compute(d)
	require.Equal(t, 3, res.TotalLength)
	require.Equal(t, 0, res.EarliestStart["bn-a"])
	require.Equal(t, 1, res.EarliestFinish["bn-a"])
	require.Equal(t, 1, res.EarliestStart["bn-b"])
	require.Equal(t, 2, res.EarliestStart["bn-c"])
	require.Equal(t, 3, res.EarliestFinish["bn-c"])
	// bn-d is disconnected: starts immediately.
	require.Equal(t, 0, res.EarliestStart["bn-d"])
	require.Equal(t, []bn.ItemID{"bn-a", "bn-b", "bn-c"}, res.Path)
}

func TestCompute_DiamondTakesLongerBranch(t *testing.T) {
	// a → b → c → e and a → d → e: the longest chain goes through b, c.
	d := build([]string{"bn-a", "bn-b", "bn-c", "bn-d", "bn-e"}, [][2]string{
		{"bn-a", "bn-b"}, {"bn-b", "bn-c"}, {"bn-c", "bn-e"},
		{"bn-a", "bn-d"}, {"bn-d", "bn-e"},
	})
	res := Compute(d)
	require.Equal(t, 4, res.TotalLength)
	require.Equal(t, 3, res.EarliestStart["bn-e"])
	require.Equal(t, []bn.ItemID{"bn-a", "bn-b", "bn-c", "bn-e"}, res.Path)
}

func TestLayers_PeelsZeroInDegree(t *testing.T) {
	d := build([]string{"bn-a", "bn-b", "bn-c", "bn-d"}, [][2]string{
		{"bn-a", "bn-b"}, {"bn-a", "bn-c"}, {"bn-b", "bn-d"}, {"bn-c", "bn-d"},
	})
	layers := Layers(d, "")
	require.Equal(t, [][]bn.ItemID{
		{"bn-a"},
		{"bn-b", "bn-c"},
		{"bn-d"},
	}, layers)
}

func TestLayers_ScopeFiltersByPrefix(t *testing.T) {
	d := build([]string{"bn-x", "bn-x.1", "bn-x.2", "bn-y"}, [][2]string{
		{"bn-x", "bn-x.1"}, {"bn-x", "bn-y"}, {"bn-x.1", "bn-x.2"},
	})
	layers := Layers(d, "bn-x")
	require.Equal(t, [][]bn.ItemID{
		{"bn-x"},
		{"bn-x.1"},
		{"bn-x.2"},
	}, layers)
}

func TestLayers_CycleMembersShareLayer(t *testing.T) {
	d := build([]string{"bn-a", "bn-b", "bn-c"}, [][2]string{
		{"bn-a", "bn-b"}, {"bn-b", "bn-a"}, {"bn-b", "bn-c"},
	})
	layers := Layers(d, "")
	require.Equal(t, [][]bn.ItemID{
		{"bn-a", "bn-b"},
		{"bn-c"},
	}, layers)
}
