package bn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseItemID(t *testing.T) {
	valid := []string{"bn-a", "bn-a1b2c3", "bn-x.1", "bn-x.1.42"}
	for _, s := range valid {
		id, err := ParseItemID(s)
		require.NoError(t, err, s)
		require.Equal(t, s, id.String())
	}

	invalid := []string{"", "bn-", "bn-A", "bd-abc", "bn-x.", "bn-x.y", "bn-x..1", "bn x"}
	for _, s := range invalid {
		_, err := ParseItemID(s)
		require.Error(t, err, s)
	}
}

func TestItemID_Hierarchy(t *testing.T) {
	id := ItemID("bn-root.1.2")
	require.Equal(t, ItemID("bn-root"), id.Root())
	require.Equal(t, 2, id.Depth())

	parent, ok := id.Parent()
	require.True(t, ok)
	require.Equal(t, ItemID("bn-root.1"), parent)

	_, ok = ItemID("bn-root").Parent()
	require.False(t, ok)
}

func TestItemID_WithinScope(t *testing.T) {
	require.True(t, ItemID("bn-x").WithinScope(""))
	require.True(t, ItemID("bn-x").WithinScope("bn-x"))
	require.True(t, ItemID("bn-x.1.2").WithinScope("bn-x"))
	require.True(t, ItemID("bn-x.1.2").WithinScope("bn-x.1"))
	require.False(t, ItemID("bn-xy").WithinScope("bn-x"))
	require.False(t, ItemID("bn-y").WithinScope("bn-x"))
}

func TestEventHashValid(t *testing.T) {
	require.True(t, EventHash("blake3:ab12").Valid())
	require.False(t, EventHash("sha256:ab12").Valid())
	require.False(t, EventHash("blake3:").Valid())
	require.False(t, EventHash("blake3:XY").Valid())
}

func TestParseAgentID(t *testing.T) {
	_, err := ParseAgentID("agent-alice")
	require.NoError(t, err)
	_, err = ParseAgentID("")
	require.Error(t, err)
	_, err = ParseAgentID("  ")
	require.Error(t, err)
}
