package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bones-project/bones/internal/event"
)

// Append adds newEvents to the cache file at path, rewriting it in
// place via a temp-file-plus-rename (internal/shard's rotation uses the
// same pattern for the same reason: a reader must never observe a
// half-written file). If path does not yet exist, Append creates it.
func Append(path string, newEvents []event.Event) error {
	var existing []event.Event
	if data, err := os.ReadFile(path); err == nil {
		existing, err = Decode(data)
		if err != nil {
			return fmt.Errorf("cache: decoding existing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cache: reading %s: %w", path, err)
	}

	combined := make([]event.Event, 0, len(existing)+len(newEvents))
	combined = append(combined, existing...)
	combined = append(combined, newEvents...)

	encoded, err := Encode(combined, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("cache: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cache: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Rebuild writes a fresh cache file at path from events, discarding any
// existing contents. Unlike Append it never reads the current file.
func Rebuild(path string, events []event.Event, createdAtUs int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: creating %s: %w", filepath.Dir(path), err)
	}
	encoded, err := Encode(events, createdAtUs)
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("cache: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cache: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}
