package projection

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/shard"
)

// RebuildReport summarizes a completed rebuild.
type RebuildReport struct {
	EventCount int
	ItemCount  int
	ShardCount int
	ErrorCount int
}

// Rebuild replays every shard in eventsDir into a fresh database at a
// temporary path, then atomically renames it over dbPath. A corrupt or
// unparsable line is logged and skipped rather than aborting the whole
// pass, matching the "failed projection of an event is logged and
// skipped" contract; counts of both are returned in the report.
func Rebuild(ctx context.Context, eventsDir, dbPath string) (RebuildReport, error) {
	mgr, err := shard.New(eventsDir)
	if err != nil {
		return RebuildReport{}, err
	}

	tmpPath := dbPath + ".rebuild"
	_ = os.Remove(tmpPath)
	store, err := Open(ctx, tmpPath)
	if err != nil {
		return RebuildReport{}, err
	}

	var report RebuildReport
	proj := NewProjector(store)
	itemsSeen := map[string]bool{}

	full, err := mgr.Replay()
	if err != nil {
		_ = store.Close()
		return report, err
	}
	var lastHash string
	for _, line := range strings.Split(full, "\n") {
		if line == "" || line[0] == '#' {
			continue
		}
		e, err := event.DecodeLine(line)
		if err != nil {
			slog.Warn("projection: skipping unparsable shard line", "error", err)
			report.ErrorCount++
			continue
		}
		if err := event.Verify(e); err != nil {
			slog.Warn("projection: skipping event with bad hash", "error", err, "item", e.ItemID)
			report.ErrorCount++
			continue
		}
		if err := proj.ProjectEvent(ctx, e); err != nil {
			slog.Warn("projection: skipping event", "error", err, "item", e.ItemID)
			report.ErrorCount++
			continue
		}
		report.EventCount++
		itemsSeen[string(e.ItemID)] = true
		lastHash = string(e.Hash)
	}
	report.ItemCount = len(itemsSeen)

	names, err := mgr.ListShards()
	if err == nil {
		report.ShardCount = len(names)
	}

	var one int
	if err := store.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		_ = store.Close()
		return report, fmt.Errorf("projection: sanity check after rebuild: %w", err)
	}
	// Advance the replay cursor to the end of the stream just
	// projected, so the next incremental pass starts where this rebuild
	// left off instead of rescanning the whole log.
	if _, err := store.db.ExecContext(ctx, `
		UPDATE projection_meta
		SET last_rebuild_at_us = ?, schema_version = ?, last_event_offset = ?, last_event_hash = ?
		WHERE id = 1`,
		time.Now().UnixMicro(), SchemaVersion, len(full), lastHash); err != nil {
		_ = store.Close()
		return report, err
	}
	if err := store.Close(); err != nil {
		return report, err
	}

	if err := os.Rename(tmpPath, dbPath); err != nil {
		return report, fmt.Errorf("projection: renaming rebuilt db into place: %w", err)
	}
	return report, nil
}
