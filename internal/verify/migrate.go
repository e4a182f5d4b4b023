package verify

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/shard"
)

// MigrateResult is the outcome of migrating one shard file.
type MigrateResult struct {
	ShardName   string
	FromVersion int
	Migrated    int
	BackupPath  string
}

var headerVersion = regexp.MustCompile(`^# bones event log v(\d+)`)

// MigrateShards upgrades every shard to the current event format: each
// file is backed up to a .bak sibling, its version detected from the
// comment header, every event passed through the migration hook, and
// the shard (plus its manifest, when sealed) rewritten. The rewritten
// shard starts with the plain header line and drops any other comment
// lines; events of a shard already at the current version come out
// unchanged, which keeps the pass idempotent.
func MigrateShards(mgr *shard.Manager, logger *slog.Logger) ([]MigrateResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	names, err := mgr.ListShards()
	if err != nil {
		return nil, err
	}
	var results []MigrateResult
	for _, name := range names {
		year, month, err := splitShardName(name)
		if err != nil {
			return nil, err
		}
		res, err := migrateShard(mgr, year, month)
		if err != nil {
			return results, fmt.Errorf("verify: migrating %s: %w", name, err)
		}
		if res.FromVersion != event.CurrentFormatVersion {
			logger.Info("migrated shard format",
				slog.String("shard", name),
				slog.Int("from_version", res.FromVersion),
				slog.Int("events", res.Migrated))
		}
		results = append(results, res)
	}
	return results, nil
}

func migrateShard(mgr *shard.Manager, year, month int) (MigrateResult, error) {
	path := mgr.ShardPath(year, month)
	data, err := os.ReadFile(path) // #nosec G304 -- path is project-local
	if err != nil {
		return MigrateResult{}, err
	}

	res := MigrateResult{
		ShardName:   fmt.Sprintf("%04d-%02d.events", year, month),
		FromVersion: detectVersion(string(data)),
		BackupPath:  path + ".bak",
	}
	if err := os.WriteFile(res.BackupPath, data, 0o644); err != nil {
		return MigrateResult{}, fmt.Errorf("writing backup: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(shard.HeaderPrefix)
	sb.WriteByte('\n')
	for i, line := range strings.Split(string(data), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := event.DecodeLine(line)
		if err != nil {
			return MigrateResult{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		migrated, err := event.MigrateEvent(e, res.FromVersion)
		if err != nil {
			return MigrateResult{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		out, err := event.EncodeLine(migrated)
		if err != nil {
			return MigrateResult{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		sb.WriteString(out)
		sb.WriteByte('\n')
		res.Migrated++
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return MigrateResult{}, fmt.Errorf("writing migrated shard: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return MigrateResult{}, fmt.Errorf("replacing shard: %w", err)
	}
	if mgr.IsSealed(year, month) {
		if _, err := mgr.WriteManifest(year, month); err != nil {
			return MigrateResult{}, err
		}
	}
	return res, nil
}

// detectVersion reads the format version from the shard's comment
// header; a shard with no recognizable header is treated as current.
func detectVersion(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if m := headerVersion.FindStringSubmatch(line); m != nil {
			v, err := strconv.Atoi(m[1])
			if err == nil {
				return v
			}
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			break
		}
	}
	return event.CurrentFormatVersion
}
