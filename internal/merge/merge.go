// Package merge implements the three-way shard merge driver invoked
// when version control cannot merge an event shard textually. Events
// are content-addressed, so the merge is a union by event hash sorted
// by (wall_ts_us, event_hash) — it always converges without conflict
// markers.
package merge

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/shard"
)

// header is the comment line every shard starts with.
const header = shard.HeaderPrefix

// Merge unions the three event sets by event hash and returns them
// sorted by (wall_ts_us, event_hash). The base set participates only
// through the union: an event present in base but dropped on one side
// cannot actually be deleted (shards are append-only within a month),
// so every observed event survives.
func Merge(base, ours, theirs []event.Event) []event.Event {
	byHash := make(map[bn.EventHash]event.Event, len(base)+len(ours)+len(theirs))
	for _, set := range [][]event.Event{base, ours, theirs} {
		for _, e := range set {
			byHash[e.Hash] = e
		}
	}
	out := make([]event.Event, 0, len(byHash))
	for _, e := range byHash {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WallTSUs != out[j].WallTSUs {
			return out[i].WallTSUs < out[j].WallTSUs
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// Files runs the merge over shard files on disk and writes the result
// to outputPath, matching the argument shape version control hands a
// merge driver (%A-style paths). A missing input file counts as empty.
func Files(outputPath, basePath, oursPath, theirsPath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := readShard(basePath)
	if err != nil {
		return fmt.Errorf("merge: reading base: %w", err)
	}
	ours, err := readShard(oursPath)
	if err != nil {
		return fmt.Errorf("merge: reading ours: %w", err)
	}
	theirs, err := readShard(theirsPath)
	if err != nil {
		return fmt.Errorf("merge: reading theirs: %w", err)
	}

	merged := Merge(base, ours, theirs)
	logger.Info("merged shard",
		slog.String("output", filepath.Base(outputPath)),
		slog.Int("base", len(base)),
		slog.Int("ours", len(ours)),
		slog.Int("theirs", len(theirs)),
		slog.Int("merged", len(merged)))

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteByte('\n')
	for _, e := range merged {
		line, err := event.EncodeLine(e)
		if err != nil {
			return fmt.Errorf("merge: encoding %s: %w", e.Hash, err)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("merge: writing output: %w", err)
	}
	return nil
}

// readShard parses every event line of a shard, skipping the comment
// header and blank lines. A line that fails to parse aborts the merge:
// the driver must not silently drop events it cannot round-trip.
func readShard(path string) ([]event.Event, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the merge-driver invocation
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := event.DecodeLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
