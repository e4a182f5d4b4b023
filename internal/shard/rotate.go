package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RotateIfNeeded creates a fresh shard file when the wall clock has
// entered a new month since the last rotation, and repoints
// current.events at it. It is a no-op if the current month's shard
// already exists.
func (m *Manager) RotateIfNeeded() error {
	now := m.clock.Now()
	year, month := now.Year(), int(now.Month())
	path := m.shardPath(year, month)

	if _, err := os.Stat(path); err == nil {
		return m.updateCurrentSymlink(path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("shard: stat %s: %w", path, err)
	}

	header := fmt.Sprintf("%s %04d-%02d opened %s\n", HeaderPrefix, year, month, now.Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("shard: creating %s: %w", path, err)
	}
	return m.updateCurrentSymlink(path)
}

func (m *Manager) updateCurrentSymlink(target string) error {
	link := m.currentSymlinkPath()
	rel, err := filepath.Rel(m.dir, target)
	if err != nil {
		rel = target
	}
	_ = os.Remove(link)
	if err := os.Symlink(rel, link); err != nil {
		return fmt.Errorf("shard: symlinking current.events: %w", err)
	}
	return nil
}
