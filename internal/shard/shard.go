// Package shard owns .bones/events/: the append-only, monthly-rotated
// event log every other component is ultimately derived from. Each
// month gets its own TSJSON file; once a month is sealed with a
// manifest it never changes again.
package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Manager owns a .bones/events/ directory. The zero value is not usable;
// construct with New.
type Manager struct {
	dir   string
	clock Clock
	ts    *timestampAllocator
}

// New returns a Manager rooted at dir, creating dir if it does not exist.
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shard: creating %s: %w", dir, err)
	}
	return &Manager{
		dir:   dir,
		clock: realClock{},
		ts:    newTimestampAllocator(realClock{}),
	}, nil
}

// withClock overrides the manager's notion of "now", for tests.
func (m *Manager) withClock(c Clock) {
	m.clock = c
	m.ts = newTimestampAllocator(c)
}

// HeaderPrefix opens every shard file; the trailing digit is the
// format version MigrateShards keys off.
const HeaderPrefix = "# bones event log v1"

var shardFileName = regexp.MustCompile(`^(\d{4})-(\d{2})\.events$`)

func shardBaseName(year int, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

func (m *Manager) shardPath(year, month int) string {
	return filepath.Join(m.dir, shardBaseName(year, month)+".events")
}

// ShardPath exposes the on-disk path of a shard file for the recovery
// and verification passes, which operate on raw bytes.
func (m *Manager) ShardPath(year, month int) string {
	return m.shardPath(year, month)
}

// writeLockPath is the single advisory lock guarding the whole event
// log: exclusive for append/rotate, shared for reads.
func (m *Manager) writeLockPath() string {
	return filepath.Join(m.dir, ".write.lock")
}

func (m *Manager) manifestPath(year, month int) string {
	return filepath.Join(m.dir, shardBaseName(year, month)+".manifest.json")
}

func (m *Manager) currentSymlinkPath() string {
	return filepath.Join(m.dir, "current.events")
}

// ActiveShard returns the (year, month) of the shard new appends go to:
// the current wall-clock month, or the latest existing shard file if
// none exists yet for the current month and rotation hasn't run.
func (m *Manager) ActiveShard() (year, month int, err error) {
	now := m.clock.Now()
	y, mo := now.Year(), int(now.Month())
	if _, err := os.Stat(m.shardPath(y, mo)); err == nil {
		return y, mo, nil
	}
	existing, err := m.listShards()
	if err != nil {
		return 0, 0, err
	}
	if len(existing) == 0 {
		return y, mo, nil
	}
	last := existing[len(existing)-1]
	return last.year, last.month, nil
}

// ListShards returns the "YYYY-MM" name of every existing shard, in
// calendar order, for callers (projection, verify) that need to report
// or iterate over shard files without reaching into shard internals.
func (m *Manager) ListShards() ([]string, error) {
	keys, err := m.listShards()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = shardBaseName(k.year, k.month)
	}
	return names, nil
}

type shardKey struct{ year, month int }

func (k shardKey) less(o shardKey) bool {
	if k.year != o.year {
		return k.year < o.year
	}
	return k.month < o.month
}

// listShards returns every existing shard (year, month) pair, sorted in
// calendar order.
func (m *Manager) listShards() ([]shardKey, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("shard: listing %s: %w", m.dir, err)
	}
	var keys []shardKey
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := shardFileName.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		year, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		keys = append(keys, shardKey{year, month})
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].less(keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys, nil
}

// Clock abstracts wall-clock time so rotation and timestamp allocation
// are deterministically testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }
