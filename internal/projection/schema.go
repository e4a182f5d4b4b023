package projection

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current projection schema version, stored in
// both `pragma user_version` and `projection_meta.schema_version`.
// Migrations are additive; a full rebuild is always legal.
const SchemaVersion = 1

// migration is one named, idempotent schema step. Each step checks
// what it needs before applying, so re-running a migration against an
// already-migrated database is a no-op.
type migration struct {
	name string
	fn   func(ctx context.Context, db *sql.DB) error
}

var migrations = []migration{
	{"001_initial_schema", migrateInitialSchema},
}

// runMigrations executes every registered migration in order.
func runMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if err := m.fn(ctx, db); err != nil {
			return fmt.Errorf("projection: migration %s: %w", m.name, err)
		}
	}
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("projection: reading user_version: %w", err)
	}
	if version < SchemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
			return fmt.Errorf("projection: setting user_version: %w", err)
		}
	}
	return nil
}

func migrateInitialSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			item_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			title_itc TEXT, title_wall_ts_us INTEGER, title_agent TEXT, title_hash TEXT,
			description TEXT NOT NULL DEFAULT '',
			description_itc TEXT, description_wall_ts_us INTEGER, description_agent TEXT, description_hash TEXT,
			kind TEXT NOT NULL DEFAULT '',
			kind_itc TEXT, kind_wall_ts_us INTEGER, kind_agent TEXT, kind_hash TEXT,
			size TEXT NOT NULL DEFAULT '',
			size_itc TEXT, size_wall_ts_us INTEGER, size_agent TEXT, size_hash TEXT,
			urgency TEXT NOT NULL DEFAULT '',
			urgency_itc TEXT, urgency_wall_ts_us INTEGER, urgency_agent TEXT, urgency_hash TEXT,
			parent_id TEXT NOT NULL DEFAULT '',
			parent_id_itc TEXT, parent_id_wall_ts_us INTEGER, parent_id_agent TEXT, parent_id_hash TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_itc TEXT, deleted_wall_ts_us INTEGER, deleted_agent TEXT, deleted_hash TEXT,
			epoch INTEGER NOT NULL DEFAULT 0,
			phase TEXT NOT NULL DEFAULT 'open',
			created_at_us INTEGER NOT NULL DEFAULT 0,
			updated_at_us INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_phase ON items(phase)`,
		`CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id)`,

		`CREATE TABLE IF NOT EXISTS item_labels (
			item_id TEXT NOT NULL REFERENCES items(item_id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			PRIMARY KEY (item_id, label)
		)`,
		`CREATE TABLE IF NOT EXISTS item_assignees (
			item_id TEXT NOT NULL REFERENCES items(item_id) ON DELETE CASCADE,
			agent TEXT NOT NULL,
			PRIMARY KEY (item_id, agent)
		)`,
		`CREATE TABLE IF NOT EXISTS item_dependencies (
			item_id TEXT NOT NULL,
			target_item_id TEXT NOT NULL,
			link_type TEXT NOT NULL,
			PRIMARY KEY (item_id, target_item_id, link_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_item_dependencies_target ON item_dependencies(target_item_id)`,
		`CREATE TABLE IF NOT EXISTS item_comments (
			event_hash TEXT PRIMARY KEY,
			item_id TEXT NOT NULL REFERENCES items(item_id) ON DELETE CASCADE,
			agent TEXT NOT NULL,
			body TEXT NOT NULL,
			wall_ts_us INTEGER NOT NULL,
			redacted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_item_comments_item ON item_comments(item_id)`,
		`CREATE TABLE IF NOT EXISTS event_redactions (
			event_hash TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			redacted_by TEXT NOT NULL DEFAULT '',
			redacted_at_us INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS item_embeddings (
			item_id TEXT PRIMARY KEY REFERENCES items(item_id) ON DELETE CASCADE,
			model TEXT NOT NULL,
			vector BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS projection_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			last_event_offset INTEGER NOT NULL DEFAULT 0,
			last_event_hash TEXT NOT NULL DEFAULT '',
			last_rebuild_at_us INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO projection_meta (id, schema_version) VALUES (1, ` + fmt.Sprint(SchemaVersion) + `)`,
		`CREATE TABLE IF NOT EXISTS projection_errors (
			event_hash TEXT NOT NULL,
			item_id TEXT NOT NULL,
			message TEXT NOT NULL,
			occurred_at_us INTEGER NOT NULL
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
			item_id UNINDEXED,
			title,
			description,
			labels,
			tokenize = 'porter unicode61',
			prefix = '2 3'
		)`,

		// The FTS shadow is not external-content, so every sync re-inserts
		// the full row; triggers on item_labels refresh it too, since a
		// label add/remove doesn't touch the items row itself.
		`CREATE TRIGGER IF NOT EXISTS items_fts_ai AFTER INSERT ON items BEGIN
			DELETE FROM items_fts WHERE item_id = new.item_id;
			INSERT INTO items_fts(item_id, title, description, labels)
			VALUES (new.item_id, new.title, new.description,
				(SELECT group_concat(label, ' ') FROM item_labels WHERE item_id = new.item_id));
		END`,
		`CREATE TRIGGER IF NOT EXISTS items_fts_au AFTER UPDATE ON items BEGIN
			DELETE FROM items_fts WHERE item_id = new.item_id;
			INSERT INTO items_fts(item_id, title, description, labels)
			VALUES (new.item_id, new.title, new.description,
				(SELECT group_concat(label, ' ') FROM item_labels WHERE item_id = new.item_id));
		END`,
		`CREATE TRIGGER IF NOT EXISTS items_fts_ad AFTER DELETE ON items BEGIN
			DELETE FROM items_fts WHERE item_id = old.item_id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS item_labels_fts_ai AFTER INSERT ON item_labels BEGIN
			DELETE FROM items_fts WHERE item_id = new.item_id;
			INSERT INTO items_fts(item_id, title, description, labels)
			SELECT item_id, title, description,
				(SELECT group_concat(label, ' ') FROM item_labels WHERE item_id = new.item_id)
			FROM items WHERE item_id = new.item_id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS item_labels_fts_ad AFTER DELETE ON item_labels BEGIN
			DELETE FROM items_fts WHERE item_id = old.item_id;
			INSERT INTO items_fts(item_id, title, description, labels)
			SELECT item_id, title, description,
				(SELECT group_concat(label, ' ') FROM item_labels WHERE item_id = old.item_id)
			FROM items WHERE item_id = old.item_id;
		END`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
