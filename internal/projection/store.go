// Package projection implements the disposable SQLite projection: a
// queryable cache rebuilt deterministically from the event log, kept
// current incrementally via a replay cursor. Storage is raw
// database/sql against modernc.org/sqlite (pure Go, no cgo) with an
// FTS5 shadow table for lexical search.
//
// Projector folds already-sealed events onto an in-memory
// map[bn.ItemID]*crdt.ItemState (reusing internal/crdt directly, so
// the projector applies the exact LWW/OR-Set/epoch-phase priority
// order rather than a re-implementation of it in SQL) and flushes each
// touched item's state to the relevant tables.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Store owns an open projection database handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the projection database at path and
// brings its schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(30000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("projection: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle for callers (graph, search, score)
// that need to run their own read queries directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CheckHealth runs the schema sanity checks MissingProjection/
// CorruptProjection rely on: the file must exist, be openable, and
// carry a projection_meta row whose schema version is not newer than
// this build's.
func CheckHealth(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &MissingProjectionError{DBPath: path}
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return &CorruptProjectionError{DBPath: path, Reason: err.Error()}
	}
	defer func() { _ = db.Close() }()

	var version int
	err = db.QueryRowContext(ctx, `SELECT schema_version FROM projection_meta WHERE id = 1`).Scan(&version)
	if err != nil {
		return &CorruptProjectionError{DBPath: path, Reason: fmt.Sprintf("reading projection_meta: %v", err)}
	}
	if version > SchemaVersion {
		return &CorruptProjectionError{DBPath: path, Reason: fmt.Sprintf("schema version %d is newer than this build understands (%d)", version, SchemaVersion)}
	}
	return nil
}
