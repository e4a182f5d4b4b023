package recovery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bones-project/bones/internal/projection"
	"github.com/bones-project/bones/internal/shard"
)

// Health describes what AutoRecover found and did at project open.
type Health struct {
	TornBytesRemoved  int64
	Tail              TailReport
	ProjectionRebuilt bool
	RebuildReport     projection.RebuildReport
}

// AutoRecover runs the full open-time repair pass: torn-write
// truncation on the active shard, corrupt-tail quarantine, and a
// projection rebuild if the database is missing or fails its schema
// check. It is safe to run repeatedly; a healthy project is a no-op.
func AutoRecover(ctx context.Context, eventsDir, dbPath string, logger *slog.Logger) (Health, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var health Health

	mgr, err := shard.New(eventsDir)
	if err != nil {
		return health, err
	}
	year, month, err := mgr.ActiveShard()
	if err != nil {
		return health, err
	}
	activePath := mgr.ShardPath(year, month)

	health.TornBytesRemoved, err = RecoverPartialWrite(activePath, logger)
	if err != nil {
		return health, err
	}
	health.Tail, err = QuarantineCorruptTail(activePath, logger)
	if err != nil {
		return health, err
	}

	if err := projection.CheckHealth(ctx, dbPath); err != nil {
		var corrupt *projection.CorruptProjectionError
		var missing *projection.MissingProjectionError
		switch {
		case errors.As(err, &corrupt):
			logger.Warn("projection failed schema check, rebuilding", slog.String("db", dbPath))
			if _, err := MoveAside(dbPath); err != nil {
				return health, err
			}
		case errors.As(err, &missing):
			logger.Info("projection missing, rebuilding", slog.String("db", dbPath))
		default:
			return health, err
		}
		report, err := projection.Rebuild(ctx, eventsDir, dbPath)
		if err != nil {
			return health, err
		}
		health.ProjectionRebuilt = true
		health.RebuildReport = report
	}
	return health, nil
}
