package recovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
	"github.com/bones-project/bones/internal/projection"
)

func eventLine(t *testing.T, wallTS int64, id bn.ItemID, title string) string {
	t.Helper()
	data, err := json.Marshal(event.CreatePayload{
		Title: title, Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})
	require.NoError(t, err)
	itcText, err := itc.SeedForAgent("agent-rec").MarshalText()
	require.NoError(t, err)
	sealed, err := event.Seal(event.Event{
		WallTSUs: wallTS,
		Agent:    "agent-rec",
		ITC:      itcText,
		Type:     event.TypeCreate,
		ItemID:   id,
		Data:     data,
	})
	require.NoError(t, err)
	line, err := event.EncodeLine(sealed)
	require.NoError(t, err)
	return line
}

func TestRecoverPartialWrite_S3_TruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07.events")
	l1 := eventLine(t, 1000, "bn-a", "first")
	l2 := eventLine(t, 2000, "bn-b", "second")
	torn := l2[:14] // an unfinished third line, no trailing newline
	content := "# bones event log v1\n" + l1 + "\n" + l2 + "\n" + torn
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	removed, err := RecoverPartialWrite(path, nil)
	require.NoError(t, err)
	require.Equal(t, int64(14), removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var events int
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, err := event.DecodeLine(line)
		require.NoError(t, err)
		events++
	}
	require.Equal(t, 2, events)

	// Idempotent: a clean file is untouched.
	removed, err = RecoverPartialWrite(path, nil)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestRecoverPartialWrite_MissingFileIsNoop(t *testing.T) {
	removed, err := RecoverPartialWrite(filepath.Join(t.TempDir(), "absent.events"), nil)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestQuarantineCorruptTail_MovesSuffixAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07.events")
	good := eventLine(t, 1000, "bn-a", "kept")
	alsoGood := eventLine(t, 2000, "bn-b", "lost to quarantine")
	content := "# bones event log v1\n" + good + "\nnot\ta\tvalid\tevent\n" + alsoGood + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	report, err := QuarantineCorruptTail(path, nil)
	require.NoError(t, err)
	require.Equal(t, Quarantined, report.ActionTaken)
	require.Equal(t, 1, report.EventsPreserved)
	require.Equal(t, 2, report.EventsDiscarded)
	require.Equal(t, path+".corrupt", report.BackupPath)

	kept, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "# bones event log v1\n"+good+"\n", string(kept))

	quarantined, err := os.ReadFile(report.BackupPath)
	require.NoError(t, err)
	require.Contains(t, string(quarantined), "not\ta\tvalid\tevent")
	require.Contains(t, string(quarantined), alsoGood)

	// Second run over the repaired file does nothing.
	report, err = QuarantineCorruptTail(path, nil)
	require.NoError(t, err)
	require.Equal(t, NoAction, report.ActionTaken)
	require.Equal(t, 1, report.EventsPreserved)
}

func TestAutoRecover_RepairsAndRebuilds(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	eventsDir := filepath.Join(root, "events")
	require.NoError(t, os.MkdirAll(eventsDir, 0o755))
	dbPath := filepath.Join(root, "bones.db")

	line := eventLine(t, 1000, "bn-a", "survives")
	content := "# bones event log v1\n" + line + "\n" + line[:10]
	require.NoError(t, os.WriteFile(filepath.Join(eventsDir, "2026-07.events"), []byte(content), 0o644))

	health, err := AutoRecover(ctx, eventsDir, dbPath, nil)
	require.NoError(t, err)
	require.Equal(t, int64(10), health.TornBytesRemoved)
	require.True(t, health.ProjectionRebuilt)
	require.Equal(t, 1, health.RebuildReport.EventCount)
	require.NoError(t, projection.CheckHealth(ctx, dbPath))

	// A healthy project is a no-op.
	health, err = AutoRecover(ctx, eventsDir, dbPath, nil)
	require.NoError(t, err)
	require.Zero(t, health.TornBytesRemoved)
	require.False(t, health.ProjectionRebuilt)
}
