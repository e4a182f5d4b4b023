package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bones-project/bones/internal/bn"
)

// Item is the flattened, read-only view of one projected work item.
type Item struct {
	ItemID      bn.ItemID
	Title       string
	Description string
	Kind        string
	Size        string
	Urgency     string
	ParentID    string
	Deleted     bool
	Epoch       int
	Phase       string
	CreatedAtUs int64
	UpdatedAtUs int64

	Labels    []string
	Assignees []string
}

// GetItem loads one item and its label/assignee edges, or sql.ErrNoRows
// if it isn't in the projection.
func GetItem(ctx context.Context, db *sql.DB, id bn.ItemID) (*Item, error) {
	row := db.QueryRowContext(ctx, `
		SELECT item_id, title, description, kind, size, urgency, parent_id, deleted, epoch, phase, created_at_us, updated_at_us
		FROM items WHERE item_id = ?`, string(id))
	it := &Item{}
	var deleted int
	var itemID string
	if err := row.Scan(&itemID, &it.Title, &it.Description, &it.Kind, &it.Size, &it.Urgency,
		&it.ParentID, &deleted, &it.Epoch, &it.Phase, &it.CreatedAtUs, &it.UpdatedAtUs); err != nil {
		return nil, err
	}
	it.ItemID = bn.ItemID(itemID)
	it.Deleted = deleted != 0

	labels, err := queryStrings(ctx, db, `SELECT label FROM item_labels WHERE item_id = ? ORDER BY label`, string(id))
	if err != nil {
		return nil, err
	}
	it.Labels = labels

	assignees, err := queryStrings(ctx, db, `SELECT agent FROM item_assignees WHERE item_id = ? ORDER BY agent`, string(id))
	if err != nil {
		return nil, err
	}
	it.Assignees = assignees
	return it, nil
}

// ListOpenItems returns every non-deleted item in the open or doing
// phase, ordered by item_id, for callers (graph, score) that need the
// full working set.
func ListOpenItems(ctx context.Context, db *sql.DB) ([]Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT item_id, title, description, kind, size, urgency, parent_id, deleted, epoch, phase, created_at_us, updated_at_us
		FROM items WHERE deleted = 0 AND phase IN ('open', 'doing') ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Item
	for rows.Next() {
		var it Item
		var deleted int
		var itemID string
		if err := rows.Scan(&itemID, &it.Title, &it.Description, &it.Kind, &it.Size, &it.Urgency,
			&it.ParentID, &deleted, &it.Epoch, &it.Phase, &it.CreatedAtUs, &it.UpdatedAtUs); err != nil {
			return nil, err
		}
		it.ItemID = bn.ItemID(itemID)
		it.Deleted = deleted != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

// Dependency is one row of item_dependencies.
type Dependency struct {
	ItemID   bn.ItemID
	Target   bn.ItemID
	LinkType string
}

// ListDependencies returns every dependency edge in the projection, for
// the graph builder (C10) to load in one pass.
func ListDependencies(ctx context.Context, db *sql.DB) ([]Dependency, error) {
	rows, err := db.QueryContext(ctx, `SELECT item_id, target_item_id, link_type FROM item_dependencies ORDER BY item_id, target_item_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		var itemID, target string
		if err := rows.Scan(&itemID, &target, &d.LinkType); err != nil {
			return nil, err
		}
		d.ItemID, d.Target = bn.ItemID(itemID), bn.ItemID(target)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SearchHit is one lexical match from FTS5.
type SearchHit struct {
	ItemID bn.ItemID
	Rank   float64
}

// LexicalSearch runs the FTS5 BM25 query behind lexical search: title
// weighted 3, description 2, labels 1. Lower Rank is a better
// match (SQLite's bm25() convention); callers composing fused rankings
// (C18) should negate it before combining with other rank sources.
func LexicalSearch(ctx context.Context, db *sql.DB, query string, limit int) ([]SearchHit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT item_id, bm25(items_fts, 0.0, 3.0, 2.0, 1.0) AS rank
		FROM items_fts WHERE items_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("projection: lexical search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var itemID string
		if err := rows.Scan(&itemID, &h.Rank); err != nil {
			return nil, err
		}
		h.ItemID = bn.ItemID(itemID)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
