package shard

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bones-project/bones/internal/lockfile"
)

// withReadLock holds the log's shared advisory lock for the duration
// of fn, so a replay never observes a half-flushed append. A busy lock
// is retried briefly; writers hold the exclusive lock only across one
// line's write and fsync.
func (m *Manager) withReadLock(fn func() error) error {
	f, err := os.OpenFile(m.writeLockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("shard: opening read lock: %w", err)
	}
	defer func() { _ = f.Close() }()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = lockPollInterval
	bo.MaxElapsedTime = 5 * time.Second
	err = backoff.Retry(func() error {
		err := lockfile.FlockSharedNonBlock(f)
		if err != nil && !lockfile.IsBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		return fmt.Errorf("shard: acquiring read lock: %w", err)
	}
	defer func() { _ = lockfile.FlockUnlock(f) }()

	return fn()
}

// Replay concatenates every shard file in calendar order and returns
// the combined text. Comment lines (shard headers) are preserved;
// callers that only want events should
// filter lines starting with "#".
func (m *Manager) Replay() (string, error) {
	var sb strings.Builder
	err := m.withReadLock(func() error {
		keys, err := m.listShards()
		if err != nil {
			return err
		}
		for _, k := range keys {
			data, err := os.ReadFile(m.shardPath(k.year, k.month))
			if err != nil {
				return fmt.Errorf("shard: reading %04d-%02d: %w", k.year, k.month, err)
			}
			sb.Write(data)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ReplayEvents is Replay followed by a parse of every non-comment,
// non-blank line, in file order.
func (m *Manager) ReplayEvents(decode func(line string) error) error {
	full, err := m.Replay()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(full, "\n") {
		if line == "" || line[0] == '#' {
			continue
		}
		if err := decode(line); err != nil {
			return err
		}
	}
	return nil
}
