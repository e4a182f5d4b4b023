package compact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/crdt"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
	"github.com/bones-project/bones/internal/shard"
)

func seal(t *testing.T, stamp itc.Stamp, wallTS int64, id bn.ItemID, typ event.Type, payload interface{}) event.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	itcText, err := stamp.MarshalText()
	require.NoError(t, err)
	sealed, err := event.Seal(event.Event{
		WallTSUs: wallTS,
		Agent:    "agent-c",
		ITC:      itcText,
		Type:     typ,
		ItemID:   id,
		Data:     data,
	})
	require.NoError(t, err)
	return sealed
}

// itemHistory is a create → doing → done sequence finishing at wallTS
// doneAt.
func itemHistory(t *testing.T, id bn.ItemID, doneAt int64) []event.Event {
	t.Helper()
	s := itc.SeedForAgent("agent-c")
	create := seal(t, s, doneAt-2000, id, event.TypeCreate, event.CreatePayload{
		Title: "finished work", Kind: event.KindTask, Urgency: event.UrgencyDefault,
		Labels: []string{"infra"},
	})
	s = s.Event()
	doing := seal(t, s, doneAt-1000, id, event.TypeMove, event.MovePayload{State: event.PhaseDoing})
	s = s.Event()
	done := seal(t, s, doneAt, id, event.TypeMove, event.MovePayload{State: event.PhaseDone})
	return []event.Event{create, doing, done}
}

func writeShard(t *testing.T, dir string, events []event.Event) {
	t.Helper()
	content := shard.HeaderPrefix + "\n"
	for _, e := range events {
		line, err := event.EncodeLine(e)
		require.NoError(t, err)
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-06.events"), []byte(content), 0o644))
}

func newCompactor(t *testing.T, dir string, minAge time.Duration) *Compactor {
	t.Helper()
	mgr, err := shard.New(dir)
	require.NoError(t, err)
	return &Compactor{
		Manager: mgr,
		Stamp:   itc.SeedForAgent("compactor"),
		Options: Options{MinAge: minAge, Concurrency: 2, Agent: "compactor"},
	}
}

func TestRun_SnapshotsFinishedItems(t *testing.T) {
	dir := t.TempDir()
	doneAt := int64(1_000_000)
	history := itemHistory(t, "bn-old", doneAt)
	writeShard(t, dir, history)

	c := newCompactor(t, dir, 24*time.Hour)
	nowUs := doneAt + (48 * time.Hour).Microseconds()
	report, _, err := c.Run(context.Background(), nowUs)
	require.NoError(t, err)
	require.Equal(t, 1, report.Eligible)
	require.Equal(t, 1, report.Compacted)
	require.Empty(t, report.Skipped)

	// The appended snapshot folds to the same observable state as the
	// original history.
	var all []event.Event
	require.NoError(t, c.Manager.ReplayEvents(func(line string) error {
		e, err := event.DecodeLine(line)
		require.NoError(t, err)
		all = append(all, e)
		return nil
	}))
	require.Len(t, all, 4)
	snap := all[3]
	require.Equal(t, event.TypeSnapshot, snap.Type)

	var p event.SnapshotPayload
	require.NoError(t, json.Unmarshal(snap.Data, &p))
	require.Len(t, p.ReplacedHashes, 3)

	snapState, err := crdt.ApplyEvent(nil, snap)
	require.NoError(t, err)
	var origState *crdt.ItemState
	for _, e := range history {
		origState, err = crdt.ApplyEvent(origState, e)
		require.NoError(t, err)
	}
	require.True(t, observablyEqual(origState, snapState))
	require.Equal(t, event.PhaseDone, snapState.Lifecycle.Phase)
	require.Equal(t, []string{"infra"}, snapState.Labels.Elements())
}

func TestRun_IdempotentAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	doneAt := int64(1_000_000)
	writeShard(t, dir, itemHistory(t, "bn-old", doneAt))

	c := newCompactor(t, dir, 0)
	nowUs := doneAt + time.Hour.Microseconds()
	report, stamp, err := c.Run(context.Background(), nowUs)
	require.NoError(t, err)
	require.Equal(t, 1, report.Compacted)

	c.Stamp = stamp
	report, _, err = c.Run(context.Background(), nowUs+1)
	require.NoError(t, err)
	require.Zero(t, report.Eligible)
	require.Zero(t, report.Compacted)
}

func TestRun_SkipsYoungAndUnfinishedItems(t *testing.T) {
	dir := t.TempDir()
	doneAt := int64(1_000_000)
	young := itemHistory(t, "bn-young", doneAt)

	s := itc.SeedForAgent("agent-c")
	open := seal(t, s, doneAt, "bn-open", event.TypeCreate, event.CreatePayload{
		Title: "still open", Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})
	writeShard(t, dir, append(young, open))

	c := newCompactor(t, dir, 24*time.Hour)
	// Only an hour has passed: bn-young is too fresh, bn-open not done.
	report, _, err := c.Run(context.Background(), doneAt+time.Hour.Microseconds())
	require.NoError(t, err)
	require.Zero(t, report.Eligible)

	var count int
	require.NoError(t, c.Manager.ReplayEvents(func(line string) error {
		if !strings.HasPrefix(line, "#") {
			count++
		}
		return nil
	}))
	require.Equal(t, 4, count)
}

func TestAlreadyCompacted(t *testing.T) {
	history := itemHistory(t, "bn-x", 1_000_000)
	require.False(t, alreadyCompacted(history))

	payload := event.SnapshotPayload{StateBlob: json.RawMessage(`{}`)}
	for _, e := range history {
		payload.ReplacedHashes = append(payload.ReplacedHashes, e.Hash.String())
	}
	snap := seal(t, itc.SeedForAgent("compactor"), 2_000_000, "bn-x", event.TypeSnapshot, payload)
	require.True(t, alreadyCompacted(append(history, snap)))

	// A partial snapshot doesn't count.
	partial := event.SnapshotPayload{
		StateBlob:      json.RawMessage(`{}`),
		ReplacedHashes: payload.ReplacedHashes[:1],
	}
	partialSnap := seal(t, itc.SeedForAgent("compactor"), 2_000_000, "bn-x", event.TypeSnapshot, partial)
	require.False(t, alreadyCompacted(append(history, partialSnap)))
}
