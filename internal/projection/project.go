package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/crdt"
	"github.com/bones-project/bones/internal/event"
)

// Projector folds events into a Store, one item at a time, keeping an
// in-memory cache of each touched item's crdt.ItemState so repeated
// events against the same item don't need a round trip through SQL to
// re-derive it.
type Projector struct {
	store  *Store
	states map[bn.ItemID]*crdt.ItemState

	// hydrate recovers an item's state from the already-replayed part
	// of the log on a cache miss. A rebuild starts from offset zero and
	// never misses; an incremental pass misses for every item it didn't
	// create itself, since flat projection rows can't reconstitute the
	// lattice.
	hydrate func(id bn.ItemID) (*crdt.ItemState, error)
}

// NewProjector returns a Projector writing to store.
func NewProjector(store *Store) *Projector {
	return &Projector{store: store, states: map[bn.ItemID]*crdt.ItemState{}}
}

// WithHydration installs the cache-miss loader used by incremental
// projection.
func (p *Projector) WithHydration(fn func(id bn.ItemID) (*crdt.ItemState, error)) *Projector {
	p.hydrate = fn
	return p
}

// ProjectEvent applies e to the relevant item's CRDT state and flushes
// the result to the projection tables. A failure to project is
// recorded in projection_errors and returned to the caller; it is the
// caller's job (rebuild/incremental) to log and continue rather than
// abort the whole pass.
func (p *Projector) ProjectEvent(ctx context.Context, e event.Event) error {
	prior, cached := p.states[e.ItemID]
	if !cached && p.hydrate != nil {
		loaded, err := p.hydrate(e.ItemID)
		if err != nil {
			p.recordError(ctx, e, err)
			return &ProjectionError{EventHash: e.Hash, ItemID: e.ItemID, Msg: err.Error()}
		}
		prior = loaded
		p.states[e.ItemID] = loaded
	}
	state, err := crdt.ApplyEvent(prior, e)
	if err != nil {
		p.recordError(ctx, e, err)
		return &ProjectionError{EventHash: e.Hash, ItemID: e.ItemID, Msg: err.Error()}
	}
	p.states[e.ItemID] = state

	tx, err := p.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("projection: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := flushItem(ctx, tx, state); err != nil {
		_ = tx.Rollback()
		p.recordError(ctx, e, err)
		return &ProjectionError{EventHash: e.Hash, ItemID: e.ItemID, Msg: err.Error()}
	}
	if err := applySideEffects(ctx, tx, e); err != nil {
		_ = tx.Rollback()
		p.recordError(ctx, e, err)
		return &ProjectionError{EventHash: e.Hash, ItemID: e.ItemID, Msg: err.Error()}
	}
	return tx.Commit()
}

func (p *Projector) recordError(ctx context.Context, e event.Event, cause error) {
	_, _ = p.store.db.ExecContext(ctx, `
		INSERT INTO projection_errors (event_hash, item_id, message, occurred_at_us)
		VALUES (?, ?, ?, ?)`, string(e.Hash), string(e.ItemID), cause.Error(), e.WallTSUs)
}

// flushItem rewrites every table derived from one item's CRDT state.
// items/item_labels/item_assignees and the blocked_by/related_to slice
// of item_dependencies are fully replaced on every call, since the
// projection is explicitly disposable and rebuildable; "blocks" rows
// are maintained separately in applySideEffects
// because that link type is a no-op at the CRDT layer ([[internal/crdt]]).
func flushItem(ctx context.Context, tx *sql.Tx, s *crdt.ItemState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO items (
			item_id, title, title_itc, title_wall_ts_us, title_agent, title_hash,
			description, description_itc, description_wall_ts_us, description_agent, description_hash,
			kind, kind_itc, kind_wall_ts_us, kind_agent, kind_hash,
			size, size_itc, size_wall_ts_us, size_agent, size_hash,
			urgency, urgency_itc, urgency_wall_ts_us, urgency_agent, urgency_hash,
			parent_id, parent_id_itc, parent_id_wall_ts_us, parent_id_agent, parent_id_hash,
			deleted, deleted_itc, deleted_wall_ts_us, deleted_agent, deleted_hash,
			epoch, phase, created_at_us, updated_at_us
		) VALUES (?,?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?,?)
		ON CONFLICT(item_id) DO UPDATE SET
			title=excluded.title, title_itc=excluded.title_itc, title_wall_ts_us=excluded.title_wall_ts_us, title_agent=excluded.title_agent, title_hash=excluded.title_hash,
			description=excluded.description, description_itc=excluded.description_itc, description_wall_ts_us=excluded.description_wall_ts_us, description_agent=excluded.description_agent, description_hash=excluded.description_hash,
			kind=excluded.kind, kind_itc=excluded.kind_itc, kind_wall_ts_us=excluded.kind_wall_ts_us, kind_agent=excluded.kind_agent, kind_hash=excluded.kind_hash,
			size=excluded.size, size_itc=excluded.size_itc, size_wall_ts_us=excluded.size_wall_ts_us, size_agent=excluded.size_agent, size_hash=excluded.size_hash,
			urgency=excluded.urgency, urgency_itc=excluded.urgency_itc, urgency_wall_ts_us=excluded.urgency_wall_ts_us, urgency_agent=excluded.urgency_agent, urgency_hash=excluded.urgency_hash,
			parent_id=excluded.parent_id, parent_id_itc=excluded.parent_id_itc, parent_id_wall_ts_us=excluded.parent_id_wall_ts_us, parent_id_agent=excluded.parent_id_agent, parent_id_hash=excluded.parent_id_hash,
			deleted=excluded.deleted, deleted_itc=excluded.deleted_itc, deleted_wall_ts_us=excluded.deleted_wall_ts_us, deleted_agent=excluded.deleted_agent, deleted_hash=excluded.deleted_hash,
			epoch=excluded.epoch, phase=excluded.phase, created_at_us=excluded.created_at_us, updated_at_us=excluded.updated_at_us
	`,
		string(s.ItemID), s.Title.Value, itcText(s.Title.Tag), s.Title.Tag.WallTSUs, string(s.Title.Tag.Agent), string(s.Title.Tag.Hash),
		s.Description.Value, itcText(s.Description.Tag), s.Description.Tag.WallTSUs, string(s.Description.Tag.Agent), string(s.Description.Tag.Hash),
		string(s.Kind.Value), itcText(s.Kind.Tag), s.Kind.Tag.WallTSUs, string(s.Kind.Tag.Agent), string(s.Kind.Tag.Hash),
		string(s.Size.Value), itcText(s.Size.Tag), s.Size.Tag.WallTSUs, string(s.Size.Tag.Agent), string(s.Size.Tag.Hash),
		string(s.Urgency.Value), itcText(s.Urgency.Tag), s.Urgency.Tag.WallTSUs, string(s.Urgency.Tag.Agent), string(s.Urgency.Tag.Hash),
		s.ParentID.Value, itcText(s.ParentID.Tag), s.ParentID.Tag.WallTSUs, string(s.ParentID.Tag.Agent), string(s.ParentID.Tag.Hash),
		boolToInt(s.Deleted.Value), itcText(s.Deleted.Tag), s.Deleted.Tag.WallTSUs, string(s.Deleted.Tag.Agent), string(s.Deleted.Tag.Hash),
		s.Lifecycle.Epoch, string(s.Lifecycle.Phase), s.CreatedAtUs, s.UpdatedAtUs,
	)
	if err != nil {
		return fmt.Errorf("upserting item %s: %w", s.ItemID, err)
	}

	if err := replaceSet(ctx, tx, "item_labels", "label", s.ItemID, s.Labels.Elements()); err != nil {
		return err
	}
	if err := replaceSet(ctx, tx, "item_assignees", "agent", s.ItemID, s.Assignees.Elements()); err != nil {
		return err
	}
	if err := replaceLinkSet(ctx, tx, s.ItemID, "blocked_by", s.BlockedBy.Elements()); err != nil {
		return err
	}
	if err := replaceLinkSet(ctx, tx, s.ItemID, "related_to", s.RelatedTo.Elements()); err != nil {
		return err
	}
	return nil
}

func replaceSet(ctx context.Context, tx *sql.Tx, table, column string, itemID bn.ItemID, elems []string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE item_id = ?`, table), string(itemID)); err != nil {
		return fmt.Errorf("clearing %s for %s: %w", table, itemID, err)
	}
	for _, elem := range elems {
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (item_id, %s) VALUES (?, ?)`, table, column)
		if _, err := tx.ExecContext(ctx, q, string(itemID), elem); err != nil {
			return fmt.Errorf("inserting %s.%s for %s: %w", table, column, itemID, err)
		}
	}
	return nil
}

func replaceLinkSet(ctx context.Context, tx *sql.Tx, itemID bn.ItemID, linkType string, targets []string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM item_dependencies WHERE item_id = ? AND link_type = ?`, string(itemID), linkType)
	if err != nil {
		return fmt.Errorf("clearing %s links for %s: %w", linkType, itemID, err)
	}
	for _, target := range targets {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO item_dependencies (item_id, target_item_id, link_type) VALUES (?, ?, ?)`,
			string(itemID), target, linkType)
		if err != nil {
			return fmt.Errorf("inserting %s link %s->%s: %w", linkType, itemID, target, err)
		}
	}
	return nil
}

// applySideEffects handles the parts of an event that don't live in the
// per-item CRDT semilattice: comment bodies, "blocks" dependency edges,
// and redaction.
func applySideEffects(ctx context.Context, tx *sql.Tx, e event.Event) error {
	switch e.Type {
	case event.TypeComment:
		var p event.CommentPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO item_comments (event_hash, item_id, agent, body, wall_ts_us)
			VALUES (?, ?, ?, ?, ?)`,
			string(e.Hash), string(e.ItemID), string(e.Agent), p.Body, e.WallTSUs)
		return err

	case event.TypeLink, event.TypeUnlink:
		var p event.LinkPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return err
		}
		if p.LinkType != event.LinkBlocks {
			return nil
		}
		if e.Type == event.TypeLink {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO item_dependencies (item_id, target_item_id, link_type)
				VALUES (?, ?, 'blocks')`, string(e.ItemID), p.Target)
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM item_dependencies WHERE item_id = ? AND target_item_id = ? AND link_type = 'blocks'`,
			string(e.ItemID), p.Target)
		return err

	case event.TypeRedact:
		var p event.RedactPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return err
		}
		now := e.WallTSUs
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO event_redactions (event_hash, reason, redacted_by, redacted_at_us)
			VALUES (?, ?, ?, ?)`, p.TargetEventHash, p.Reason, p.RedactedBy, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE item_comments SET body = '', redacted = 1 WHERE event_hash = ?`, p.TargetEventHash); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE items SET description = '' WHERE description_hash = ?`, p.TargetEventHash)
		return err

	default:
		return nil
	}
}

func itcText(t crdt.Tag) string {
	return t.ITCText()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
