package merge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
)

func sealEvent(t *testing.T, wallTS int64, agent string, id bn.ItemID, typ event.Type, payload interface{}) event.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	itcText, err := itc.SeedForAgent(agent).MarshalText()
	require.NoError(t, err)
	e := event.Event{
		WallTSUs: wallTS,
		Agent:    bn.AgentID(agent),
		ITC:      itcText,
		Type:     typ,
		ItemID:   id,
		Data:     data,
	}
	sealed, err := event.Seal(e)
	require.NoError(t, err)
	return sealed
}

func createEvent(t *testing.T, wallTS int64, agent string, id bn.ItemID, title string) event.Event {
	t.Helper()
	return sealEvent(t, wallTS, agent, id, event.TypeCreate, event.CreatePayload{
		Title: title, Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})
}

func TestMerge_UnionSortedByTimestampThenHash(t *testing.T) {
	e1 := createEvent(t, 1000, "alpha", "bn-a", "base")
	e2 := createEvent(t, 2000, "alpha", "bn-b", "ours")
	e3 := createEvent(t, 1500, "beta", "bn-c", "theirs")

	merged := Merge([]event.Event{e1}, []event.Event{e1, e2}, []event.Event{e1, e3})
	require.Len(t, merged, 3)
	require.Equal(t, []int64{1000, 1500, 2000}, []int64{merged[0].WallTSUs, merged[1].WallTSUs, merged[2].WallTSUs})

	// Same inputs from the other side converge to the same output.
	flipped := Merge([]event.Event{e1}, []event.Event{e1, e3}, []event.Event{e1, e2})
	require.Equal(t, merged, flipped)
}

func TestMerge_EqualTimestampsOrderByHash(t *testing.T) {
	e1 := createEvent(t, 1000, "alpha", "bn-a", "one")
	e2 := createEvent(t, 1000, "beta", "bn-b", "two")
	merged := Merge(nil, []event.Event{e1}, []event.Event{e2})
	require.Len(t, merged, 2)
	require.Less(t, merged[0].Hash.String(), merged[1].Hash.String())
}

func TestMerge_DeduplicatesByHash(t *testing.T) {
	e1 := createEvent(t, 1000, "alpha", "bn-a", "shared")
	merged := Merge([]event.Event{e1}, []event.Event{e1}, []event.Event{e1})
	require.Len(t, merged, 1)
}

func writeShard(t *testing.T, dir, name string, events []event.Event) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteByte('\n')
	for _, e := range events {
		line, err := event.EncodeLine(e)
		require.NoError(t, err)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestFiles_MergesDivergentShards(t *testing.T) {
	dir := t.TempDir()
	e1 := createEvent(t, 1000, "alpha", "bn-a", "common")
	e2 := createEvent(t, 2000, "alpha", "bn-b", "ours only")
	e3 := createEvent(t, 3000, "beta", "bn-c", "theirs only")

	base := writeShard(t, dir, "base.events", []event.Event{e1})
	ours := writeShard(t, dir, "ours.events", []event.Event{e1, e2})
	theirs := writeShard(t, dir, "theirs.events", []event.Event{e1, e3})
	out := filepath.Join(dir, "merged.events")

	require.NoError(t, Files(out, base, ours, theirs, nil))

	got, err := readShard(out)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, e := range got {
		require.NoError(t, event.Verify(e))
	}

	// Round-trip stability: merging the merged result again is a no-op.
	require.NoError(t, Files(out, out, out, out, nil))
	again, err := readShard(out)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestFiles_MissingBaseTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	e1 := createEvent(t, 1000, "alpha", "bn-a", "only")
	ours := writeShard(t, dir, "ours.events", []event.Event{e1})
	theirs := writeShard(t, dir, "theirs.events", nil)
	out := filepath.Join(dir, "merged.events")

	require.NoError(t, Files(out, filepath.Join(dir, "no-base.events"), ours, theirs, nil))
	got, err := readShard(out)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestReadShard_RejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.events")
	require.NoError(t, os.WriteFile(path, []byte(header+"\nnot\tan\tevent\n"), 0o644))
	_, err := readShard(path)
	require.Error(t, err)
}
