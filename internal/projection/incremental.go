package projection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/crdt"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/shard"
)

// IncrementalReport summarizes an incremental projection pass.
type IncrementalReport struct {
	EventCount int
	ErrorCount int
	NewOffset  int
}

// Incremental reads the replay cursor from projection_meta, scans only
// the shard bytes appended since then, and advances the cursor to the
// new end of the combined replay stream. The cursor's offset is a byte
// position into shard.Manager.Replay()'s
// concatenated text, so rotation and new shard files are transparent:
// the new shard's bytes simply extend the stream the old offset was
// already a position into.
func Incremental(ctx context.Context, store *Store, eventsDir string) (IncrementalReport, error) {
	mgr, err := shard.New(eventsDir)
	if err != nil {
		return IncrementalReport{}, err
	}
	full, err := mgr.Replay()
	if err != nil {
		return IncrementalReport{}, err
	}

	var offset int
	err = store.db.QueryRowContext(ctx, `SELECT last_event_offset FROM projection_meta WHERE id = 1`).Scan(&offset)
	if err != nil {
		return IncrementalReport{}, fmt.Errorf("projection: reading cursor: %w", err)
	}
	if offset > len(full) {
		return IncrementalReport{}, &CorruptProjectionError{Reason: "replay cursor is past end of shard stream (shards truncated or replaced)"}
	}

	// A cache miss means the item's history lives entirely in the
	// already-projected prefix; fold it back out of the replay text the
	// cursor has covered.
	prefix := full[:offset]
	proj := NewProjector(store).WithHydration(func(id bn.ItemID) (*crdt.ItemState, error) {
		var state *crdt.ItemState
		for _, line := range strings.Split(prefix, "\n") {
			if line == "" || line[0] == '#' {
				continue
			}
			e, err := event.DecodeLine(line)
			if err != nil || e.ItemID != id {
				continue
			}
			next, err := crdt.ApplyEvent(state, e)
			if err != nil {
				continue
			}
			state = next
		}
		return state, nil
	})
	var report IncrementalReport
	var lastHash string

	for _, line := range strings.Split(full[offset:], "\n") {
		offset += len(line) + 1
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
		lastHash = string(e.Hash)
	}
	// The trailing split segment after the final "\n" has no newline of
	// its own; offset as accumulated overshoots len(full) by one in that
	// case, so clamp it back to the real stream length.
	if offset > len(full) {
		offset = len(full)
	}
	report.NewOffset = offset

	if lastHash == "" {
		_, err = store.db.ExecContext(ctx, `
			UPDATE projection_meta SET last_event_offset = ? WHERE id = 1`, offset)
	} else {
		_, err = store.db.ExecContext(ctx, `
			UPDATE projection_meta SET last_event_offset = ?, last_event_hash = ? WHERE id = 1`,
			offset, lastHash)
	}
	if err != nil {
		return report, fmt.Errorf("projection: advancing cursor: %w", err)
	}
	_, _ = store.db.ExecContext(ctx, `UPDATE projection_meta SET last_rebuild_at_us = ? WHERE id = 1`, time.Now().UnixMicro())
	return report, nil
}
