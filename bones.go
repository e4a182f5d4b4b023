// Package bones is the storage-and-replay engine behind the work
// tracker: an append-only event log with content-hashed TSJSON records,
// a CRDT state machine replayed into a disposable SQLite projection,
// and the triage ranker built on top. This file is the facade: it owns
// the .bones/ directory layout and wires the internal packages into
// one Project handle. Everything user-facing (CLI parsing, rendering,
// config files) lives outside this module and talks to Project.
package bones

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/config"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/idgen"
	"github.com/bones-project/bones/internal/itc"
	"github.com/bones-project/bones/internal/projection"
	"github.com/bones-project/bones/internal/recovery"
	"github.com/bones-project/bones/internal/shard"
)

// Config re-exports the engine tunables so embedding callers don't
// import internal packages.
type Config = config.Config

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config { return config.DefaultConfig() }

// Layout resolves every path under a project root.
type Layout struct {
	Root string
}

func (l Layout) BonesDir() string         { return filepath.Join(l.Root, ".bones") }
func (l Layout) EventsDir() string        { return filepath.Join(l.BonesDir(), "events") }
func (l Layout) DBPath() string           { return filepath.Join(l.BonesDir(), "bones.db") }
func (l Layout) CacheDir() string         { return filepath.Join(l.BonesDir(), "cache") }
func (l Layout) CachePath() string        { return filepath.Join(l.CacheDir(), "events.bin") }
func (l Layout) ITCAgentsDir() string     { return filepath.Join(l.BonesDir(), "itc", "agents") }
func (l Layout) AgentProfilesDir() string { return filepath.Join(l.BonesDir(), "agent_profiles") }
func (l Layout) ConfigPath() string       { return filepath.Join(l.BonesDir(), "config.toml") }

// gitignoreBody keeps derived state out of version control; only the
// event log and config are meant to be committed.
const gitignoreBody = "bones.db\nbones.db-wal\nbones.db-shm\ncache/\nfeedback.jsonl\nagent_profiles/\n"

// Project is an open bones project. It is not safe for concurrent use
// by multiple goroutines; cross-process safety comes from the shard
// manager's advisory locks.
type Project struct {
	layout Layout
	cfg    Config
	logger *slog.Logger

	shards *shard.Manager
	store  *projection.Store
	health recovery.Health
}

// Init creates the .bones/ structure under root and opens the project.
// Initializing an already-initialized root is an error.
func Init(root string, cfg Config, logger *slog.Logger) (*Project, error) {
	layout := Layout{Root: root}
	if _, err := os.Stat(layout.BonesDir()); err == nil {
		return nil, fmt.Errorf("bones: %s is already initialized", root)
	}
	for _, dir := range []string{
		layout.EventsDir(),
		layout.CacheDir(),
		layout.ITCAgentsDir(),
		layout.AgentProfilesDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bones: creating %s: %w", dir, err)
		}
	}
	gitignore := filepath.Join(layout.BonesDir(), ".gitignore")
	if err := os.WriteFile(gitignore, []byte(gitignoreBody), 0o644); err != nil {
		return nil, fmt.Errorf("bones: writing .gitignore: %w", err)
	}
	mgr, err := shard.New(layout.EventsDir())
	if err != nil {
		return nil, err
	}
	if err := mgr.RotateIfNeeded(); err != nil {
		return nil, err
	}
	return Open(root, cfg, logger)
}

// Open opens an existing project, running the auto-recovery pass
// (torn-write repair, corrupt-tail quarantine, projection rebuild)
// before anything else touches the data.
func Open(root string, cfg Config, logger *slog.Logger) (*Project, error) {
	if logger == nil {
		logger = slog.Default()
	}
	layout := Layout{Root: root}
	if _, err := os.Stat(layout.BonesDir()); err != nil {
		return nil, &NotInitializedError{Root: root}
	}

	ctx := context.Background()
	health, err := recovery.AutoRecover(ctx, layout.EventsDir(), layout.DBPath(), logger)
	if err != nil {
		return nil, err
	}
	mgr, err := shard.New(layout.EventsDir())
	if err != nil {
		return nil, err
	}
	store, err := projection.Open(ctx, layout.DBPath())
	if err != nil {
		return nil, err
	}
	p := &Project{
		layout: layout,
		cfg:    cfg,
		logger: logger,
		shards: mgr,
		store:  store,
		health: health,
	}
	if !health.ProjectionRebuilt {
		// Catch up on shard bytes appended by other processes since the
		// projection last moved.
		if _, err := projection.Incremental(ctx, store, layout.EventsDir()); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return p, nil
}

// Close releases the projection handle. The shard manager holds no
// long-lived resources.
func (p *Project) Close() error { return p.store.Close() }

// Health reports what recovery did when the project was opened.
func (p *Project) Health() recovery.Health { return p.health }

// Layout exposes the resolved paths, for callers that integrate with
// external tooling (git hooks, config loaders).
func (p *Project) Layout() Layout { return p.layout }

// DB exposes the projection database for read-only queries. The
// projection is a disposable cache; writers must go through events.
func (p *Project) DB() *sql.DB { return p.store.DB() }

// ResolveID expands an item-ID prefix to the full ID. An exact match
// wins outright; otherwise exactly one prefix match is required.
func (p *Project) ResolveID(ctx context.Context, prefix string) (bn.ItemID, error) {
	if item, err := projection.GetItem(ctx, p.store.DB(), bn.ItemID(prefix)); err == nil {
		return item.ItemID, nil
	}
	rows, err := p.store.DB().QueryContext(ctx,
		`SELECT item_id FROM items WHERE item_id LIKE ? || '%' ORDER BY item_id LIMIT 10`, prefix)
	if err != nil {
		return "", fmt.Errorf("bones: resolving %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()
	var matches []bn.ItemID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		matches = append(matches, bn.ItemID(id))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", &ItemNotFoundError{ItemID: bn.ItemID(prefix)}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousIDError{Prefix: prefix, Matches: matches}
	}
}

// CreateItem appends an item.create event with a fresh hash-derived ID
// and returns it.
func (p *Project) CreateItem(ctx context.Context, agent bn.AgentID, payload event.CreatePayload) (bn.ItemID, error) {
	if payload.Labels == nil {
		payload.Labels = []string{}
	}
	if payload.Urgency == "" {
		payload.Urgency = event.UrgencyDefault
	}
	now := time.UnixMicro(p.shards.NextTimestamp())
	var id bn.ItemID
	for nonce := 0; ; nonce++ {
		candidate, err := idgen.NewItemID(payload.Title, payload.Description, string(agent), now, 6, nonce)
		if err != nil {
			return "", err
		}
		if _, err := projection.GetItem(ctx, p.store.DB(), candidate); err == sql.ErrNoRows {
			id = candidate
			break
		} else if err != nil {
			return "", err
		}
		if nonce >= 32 {
			return "", fmt.Errorf("bones: could not find a free item id after %d attempts", nonce)
		}
	}
	if _, err := p.appendEvent(ctx, agent, event.TypeCreate, id, payload); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateItem appends an item.update event for one LWW field (or a
// label add/remove).
func (p *Project) UpdateItem(ctx context.Context, agent bn.AgentID, id bn.ItemID, payload event.UpdatePayload) error {
	if _, err := p.requireItem(ctx, id); err != nil {
		return err
	}
	_, err := p.appendEvent(ctx, agent, event.TypeUpdate, id, payload)
	return err
}

// MoveItem appends an item.move event after validating the lifecycle
// transition: moving to the current phase is rejected, as is leaving
// archived for anything but open (an archived item must be reopened
// first).
func (p *Project) MoveItem(ctx context.Context, agent bn.AgentID, id bn.ItemID, state event.Phase, reason string) error {
	item, err := p.requireItem(ctx, id)
	if err != nil {
		return err
	}
	from := event.Phase(item.Phase)
	if from == state {
		return &InvalidTransitionError{ItemID: id, From: from, To: state}
	}
	if from == event.PhaseArchived && state != event.PhaseOpen {
		return &InvalidTransitionError{ItemID: id, From: from, To: state}
	}
	_, err = p.appendEvent(ctx, agent, event.TypeMove, id, event.MovePayload{State: state, Reason: reason})
	return err
}

// AssignItem appends an item.assign event.
func (p *Project) AssignItem(ctx context.Context, agent bn.AgentID, id bn.ItemID, assignee bn.AgentID, action event.AssignAction) error {
	if _, err := p.requireItem(ctx, id); err != nil {
		return err
	}
	_, err := p.appendEvent(ctx, agent, event.TypeAssign, id, event.AssignPayload{
		Agent: string(assignee), Action: action,
	})
	return err
}

// CommentItem appends an item.comment event and returns the comment's
// event hash (the handle a later redaction targets).
func (p *Project) CommentItem(ctx context.Context, agent bn.AgentID, id bn.ItemID, body string) (bn.EventHash, error) {
	if _, err := p.requireItem(ctx, id); err != nil {
		return "", err
	}
	e, err := p.appendEvent(ctx, agent, event.TypeComment, id, event.CommentPayload{Body: body})
	if err != nil {
		return "", err
	}
	return e.Hash, nil
}

// LinkItems appends an item.link event. Blocking links are checked
// against the dependency graph first; a link whose reverse path already
// exists is rejected with the graph's cycle error and nothing is
// written.
func (p *Project) LinkItems(ctx context.Context, agent bn.AgentID, id, target bn.ItemID, linkType event.LinkType) error {
	if _, err := p.requireItem(ctx, id); err != nil {
		return err
	}
	if _, err := p.requireItem(ctx, target); err != nil {
		return err
	}
	if existing, err := p.linkExists(ctx, id, target, linkType); err != nil {
		return err
	} else if existing {
		return &DuplicateLinkError{ItemID: id, Target: target, LinkType: linkType}
	}
	if linkType == event.LinkBlocks || linkType == event.LinkBlockedBy {
		g, err := p.Graph(ctx)
		if err != nil {
			return err
		}
		from, to := id, target
		if linkType == event.LinkBlockedBy {
			from, to = target, id
		}
		if err := g.CheckAcyclic(from, to); err != nil {
			return err
		}
	}
	_, err := p.appendEvent(ctx, agent, event.TypeLink, id, event.LinkPayload{
		Target: target.String(), LinkType: linkType,
	})
	return err
}

// UnlinkItems appends an item.unlink event.
func (p *Project) UnlinkItems(ctx context.Context, agent bn.AgentID, id, target bn.ItemID, linkType event.LinkType) error {
	if _, err := p.requireItem(ctx, id); err != nil {
		return err
	}
	_, err := p.appendEvent(ctx, agent, event.TypeUnlink, id, event.LinkPayload{
		Target: target.String(), LinkType: linkType,
	})
	return err
}

// DeleteItem appends an item.delete tombstone and records it in the
// deletion log so other replicas can answer "is this known deleted"
// before they have replayed the shard that holds the event.
func (p *Project) DeleteItem(ctx context.Context, agent bn.AgentID, id bn.ItemID, reason string) error {
	if _, err := p.requireItem(ctx, id); err != nil {
		return err
	}
	e, err := p.appendEvent(ctx, agent, event.TypeDelete, id, event.DeletePayload{Reason: reason})
	if err != nil {
		return err
	}
	return p.recordDeletion(e, reason)
}

// RedactEvent appends an item.redact event targeting a prior event's
// hash. The target must belong to the given item.
func (p *Project) RedactEvent(ctx context.Context, agent bn.AgentID, id bn.ItemID, target bn.EventHash, reason string) error {
	if _, err := p.requireItem(ctx, id); err != nil {
		return err
	}
	_, err := p.appendEvent(ctx, agent, event.TypeRedact, id, event.RedactPayload{
		TargetEventHash: target.String(), Reason: reason, RedactedBy: string(agent),
	})
	return err
}

// GetItem loads one projected item.
func (p *Project) GetItem(ctx context.Context, id bn.ItemID) (*projection.Item, error) {
	return p.requireItem(ctx, id)
}

func (p *Project) requireItem(ctx context.Context, id bn.ItemID) (*projection.Item, error) {
	item, err := projection.GetItem(ctx, p.store.DB(), id)
	if err == sql.ErrNoRows {
		return nil, &ItemNotFoundError{ItemID: id}
	}
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, &ItemNotFoundError{ItemID: id}
	}
	return item, nil
}

func (p *Project) linkExists(ctx context.Context, id, target bn.ItemID, linkType event.LinkType) (bool, error) {
	var n int
	err := p.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM item_dependencies
		WHERE item_id = ? AND target_item_id = ? AND link_type = ?`,
		string(id), string(target), string(linkType)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// appendEvent is the single write path: validate the payload, advance
// the agent's ITC stamp, seal the event, append it under the shard
// lock, persist the stamp, and fold the new bytes into the projection.
func (p *Project) appendEvent(ctx context.Context, agent bn.AgentID, typ event.Type, id bn.ItemID, payload interface{}) (event.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("bones: marshaling %s payload: %w", typ, err)
	}
	if err := event.ValidatePayload(typ, data); err != nil {
		return event.Event{}, err
	}

	stamp, err := p.loadAgentStamp(agent)
	if err != nil {
		return event.Event{}, err
	}
	stamp = stamp.Event()
	itcText, err := stamp.MarshalText()
	if err != nil {
		return event.Event{}, err
	}

	parents, err := p.lastEventHash(ctx)
	if err != nil {
		return event.Event{}, err
	}

	e := event.Event{
		WallTSUs: p.shards.NextTimestamp(),
		Agent:    agent,
		ITC:      itcText,
		Parents:  parents,
		Type:     typ,
		ItemID:   id,
		Data:     data,
	}
	sealed, err := event.Seal(e)
	if err != nil {
		return event.Event{}, err
	}
	line, err := event.EncodeLine(sealed)
	if err != nil {
		return event.Event{}, err
	}

	if err := p.shards.RotateIfNeeded(); err != nil {
		return event.Event{}, err
	}
	if err := p.shards.Append(line, false, p.cfg.LockTimeout); err != nil {
		return event.Event{}, err
	}
	if err := p.saveAgentStamp(agent, stamp); err != nil {
		return event.Event{}, err
	}
	if _, err := projection.Incremental(ctx, p.store, p.layout.EventsDir()); err != nil {
		return event.Event{}, err
	}
	p.logger.Info("appended event",
		slog.String("event_type", string(typ)),
		slog.String("item_id", id.String()),
		slog.String("event_hash", sealed.Hash.String()))
	return sealed, nil
}

// lastEventHash returns the projection cursor's last event hash as the
// causal parent for the next append, or nil on an empty log.
func (p *Project) lastEventHash(ctx context.Context) ([]bn.EventHash, error) {
	var hash string
	err := p.store.DB().QueryRowContext(ctx,
		`SELECT last_event_hash FROM projection_meta WHERE id = 1`).Scan(&hash)
	if err != nil {
		return nil, fmt.Errorf("bones: reading cursor: %w", err)
	}
	if hash == "" {
		return nil, nil
	}
	return []bn.EventHash{bn.EventHash(hash)}, nil
}

// loadAgentStamp reads the agent's persisted ITC stamp, seeding a new
// one deterministically from the agent id on first use.
func (p *Project) loadAgentStamp(agent bn.AgentID) (itc.Stamp, error) {
	path := p.agentStampPath(agent)
	data, err := os.ReadFile(path) // #nosec G304 -- path is project-local and agent-encoded
	if err != nil {
		if os.IsNotExist(err) {
			return itc.SeedForAgent(string(agent)), nil
		}
		return itc.Stamp{}, fmt.Errorf("bones: reading stamp for %s: %w", agent, err)
	}
	stamp, err := itc.UnmarshalBinary(data)
	if err != nil {
		return itc.Stamp{}, fmt.Errorf("bones: parsing stamp for %s: %w", agent, err)
	}
	return stamp, nil
}

// saveAgentStamp atomically replaces the agent's stamp file.
func (p *Project) saveAgentStamp(agent bn.AgentID, stamp itc.Stamp) error {
	data, err := stamp.MarshalBinary()
	if err != nil {
		return err
	}
	path := p.agentStampPath(agent)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("bones: writing stamp for %s: %w", agent, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("bones: replacing stamp for %s: %w", agent, err)
	}
	return nil
}

func (p *Project) agentStampPath(agent bn.AgentID) string {
	return filepath.Join(p.layout.ITCAgentsDir(), encodePathSegment(string(agent))+".itc")
}
