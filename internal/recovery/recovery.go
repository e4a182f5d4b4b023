// Package recovery repairs the damage a crash or an interrupted writer
// can leave behind: torn trailing writes on the active shard, corrupt
// mid-file lines, and stale or missing projections. Every repair is
// idempotent. A torn trailing fragment (bytes after the last newline)
// is truncated without a copy; a corrupt suffix is moved to a .corrupt
// sibling file before the shard is cut.
package recovery

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bones-project/bones/internal/event"
)

// RecoverPartialWrite truncates path to its last complete line. A
// writer that died mid-append leaves a trailing fragment with no final
// newline; everything after the last '\n' is cut. Returns how many
// bytes were removed. A file that already ends cleanly is untouched.
func RecoverPartialWrite(path string, logger *slog.Logger) (bytesRemoved int64, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is project-local
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("recovery: reading %s: %w", path, err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return 0, nil
	}
	cut := bytes.LastIndexByte(data, '\n') + 1
	removed := int64(len(data) - cut)

	f, err := os.OpenFile(path, os.O_WRONLY, 0) // #nosec G304
	if err != nil {
		return 0, fmt.Errorf("recovery: opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := f.Truncate(int64(cut)); err != nil {
		return 0, fmt.Errorf("recovery: truncating %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("recovery: fsyncing %s: %w", path, err)
	}
	logger.Warn("truncated torn write",
		slog.String("shard", filepath.Base(path)),
		slog.Int64("bytes_removed", removed))
	return removed, nil
}

// Action says what a corrupt-tail scan did.
type Action string

const (
	NoAction    Action = "no_action"
	Quarantined Action = "quarantined"
)

// TailReport is the outcome of a corrupt-tail scan.
type TailReport struct {
	EventsPreserved  int
	EventsDiscarded  int
	CorruptionOffset int64
	ActionTaken      Action
	// BackupPath is the quarantine file holding the removed suffix,
	// set only when ActionTaken is Quarantined.
	BackupPath string
}

// QuarantineCorruptTail scans the shard forward; the first line that
// fails event validation marks the corruption offset. The valid prefix
// stays in place and the suffix moves to a sibling .corrupt file so no
// bytes are lost.
func QuarantineCorruptTail(path string, logger *slog.Logger) (TailReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is project-local
	if err != nil {
		if os.IsNotExist(err) {
			return TailReport{ActionTaken: NoAction}, nil
		}
		return TailReport{}, fmt.Errorf("recovery: reading %s: %w", path, err)
	}

	report := TailReport{ActionTaken: NoAction}
	corruptAt := int64(-1)
	for _, line := range splitKeepOffsets(data) {
		text := line.text
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if _, err := event.DecodeLine(text); err != nil {
			corruptAt = line.start
			break
		}
		report.EventsPreserved++
	}
	if corruptAt < 0 {
		return report, nil
	}

	// Count discarded event-shaped lines in the suffix.
	suffix := data[corruptAt:]
	for _, line := range strings.Split(string(suffix), "\n") {
		if line != "" && !strings.HasPrefix(line, "#") {
			report.EventsDiscarded++
		}
	}
	report.CorruptionOffset = corruptAt
	report.BackupPath = path + ".corrupt"
	report.ActionTaken = Quarantined

	if err := os.WriteFile(report.BackupPath, suffix, 0o644); err != nil {
		return TailReport{}, fmt.Errorf("recovery: writing quarantine %s: %w", report.BackupPath, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0) // #nosec G304
	if err != nil {
		return TailReport{}, fmt.Errorf("recovery: opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := f.Truncate(corruptAt); err != nil {
		return TailReport{}, fmt.Errorf("recovery: truncating %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return TailReport{}, fmt.Errorf("recovery: fsyncing %s: %w", path, err)
	}
	logger.Warn("quarantined corrupt shard tail",
		slog.String("shard", filepath.Base(path)),
		slog.Int64("offset", corruptAt),
		slog.Int("events_discarded", report.EventsDiscarded),
		slog.String("backup", report.BackupPath))
	return report, nil
}

type lineSpan struct {
	text       string
	start, end int64
}

// splitKeepOffsets yields complete lines with their byte offsets. A
// trailing fragment without a newline is still yielded so the caller
// can flag it; RecoverPartialWrite runs first in AutoRecover, so by
// then there is none.
func splitKeepOffsets(data []byte) []lineSpan {
	var spans []lineSpan
	var start int64
	for start < int64(len(data)) {
		idx := bytes.IndexByte(data[start:], '\n')
		if idx < 0 {
			spans = append(spans, lineSpan{text: string(data[start:]), start: start, end: int64(len(data))})
			break
		}
		end := start + int64(idx) + 1
		spans = append(spans, lineSpan{text: string(data[start : end-1]), start: start, end: end})
		start = end
	}
	return spans
}

// MoveAside renames a projection database out of the way before a
// rebuild, keeping its sidecar files (-wal, -shm) with it.
func MoveAside(dbPath string) (string, error) {
	backup := dbPath + ".stale"
	if err := os.Rename(dbPath, backup); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("recovery: moving %s aside: %w", dbPath, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Rename(dbPath+suffix, backup+suffix)
	}
	return backup, nil
}
