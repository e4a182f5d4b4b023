package shard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"github.com/bones-project/bones/internal/event"
)

const lockPollInterval = 20 * time.Millisecond

// Append validates line, then appends it to the active shard under an
// exclusive advisory lock held across write and fsync, so no two
// processes ever observe an inconsistent append. Validation runs before
// the lock is taken. If
// skipClockCheck is false and line's wall_ts_us looks skewed against
// the local clock, a warning is
// logged but the append still proceeds — clock skew is never a reason
// to reject an event.
func (m *Manager) Append(line string, skipClockCheck bool, timeout time.Duration) error {
	year, month, err := m.ActiveShard()
	if err != nil {
		return err
	}
	return m.appendTo(year, month, line, skipClockCheck, timeout)
}

// AppendRaw writes line directly to the named shard, bypassing
// timestamp allocation and clock-skew checks. Used by migration and
// compaction, which replay or replace already-sealed-adjacent content
// under their own ordering guarantees.
func (m *Manager) AppendRaw(year, month int, line string) error {
	return m.appendTo(year, month, line, true, 30*time.Second)
}

func (m *Manager) appendTo(year, month int, line string, skipClockCheck bool, timeout time.Duration) error {
	if m.IsSealed(year, month) {
		return &SealedShardMutationError{Year: year, Month: month}
	}

	decoded, err := event.DecodeLine(line)
	if err != nil {
		return &InvalidLineError{Err: err}
	}
	if err := event.Verify(decoded); err != nil {
		return &InvalidLineError{Err: err}
	}

	if !skipClockCheck {
		m.checkClockSkew(decoded)
	}

	return m.withLock(year, month, timeout, func() error {
		f, err := os.OpenFile(m.shardPath(year, month), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("shard: opening %s: %w", m.shardPath(year, month), err)
		}
		defer f.Close()

		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("shard: writing to %s: %w", m.shardPath(year, month), err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("shard: fsyncing %s: %w", m.shardPath(year, month), err)
		}
		return nil
	})
}

// checkClockSkew warns (never rejects) when an event's advisory
// wall_ts_us is far from this process's idea of now.
func (m *Manager) checkClockSkew(e event.Event) {
	nowUs := m.clock.Now().UnixMicro()
	delta := nowUs - e.WallTSUs
	if delta < 0 {
		delta = -delta
	}
	const skewThresholdUs = int64(5 * time.Minute / time.Microsecond)
	if delta > skewThresholdUs {
		slog.Warn("shard: clock skew detected on append",
			"item_id", e.ItemID, "wall_ts_us", e.WallTSUs, "local_now_us", nowUs)
	}
}

// withLock acquires the log's exclusive advisory lock, runs fn, and
// releases it. Acquisition retries with exponential backoff until the
// timeout elapses; expiry surfaces as *LockTimeoutError with no side
// effects.
func (m *Manager) withLock(year, month int, timeout time.Duration, fn func() error) error {
	lock := flock.New(m.writeLockPath())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = lockPollInterval
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = timeout
	err := backoff.Retry(func() error {
		locked, err := lock.TryLock()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("shard: acquiring write lock: %w", err))
		}
		if !locked {
			return errLockHeld
		}
		return nil
	}, bo)
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return &LockTimeoutError{Year: year, Month: month}
		}
		return err
	}
	defer lock.Unlock()

	return fn()
}

var errLockHeld = errors.New("write lock held elsewhere")
