package bones

import (
	"context"
	"net/url"
	"time"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/bsync"
	"github.com/bones-project/bones/internal/cache"
	"github.com/bones-project/bones/internal/compact"
	"github.com/bones-project/bones/internal/deletions"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/projection"
	"github.com/bones-project/bones/internal/recovery"
	"github.com/bones-project/bones/internal/verify"
)

// replayEvents decodes every event in the log, in shard order.
func (p *Project) replayEvents() ([]event.Event, error) {
	var events []event.Event
	err := p.shards.ReplayEvents(func(line string) error {
		e, err := event.DecodeLine(line)
		if err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Rebuild discards and re-derives the projection from the event log.
func (p *Project) Rebuild(ctx context.Context) (projection.RebuildReport, error) {
	if err := p.store.Close(); err != nil {
		return projection.RebuildReport{}, err
	}
	report, err := projection.Rebuild(ctx, p.layout.EventsDir(), p.layout.DBPath())
	if err != nil {
		return report, err
	}
	store, err := projection.Open(ctx, p.layout.DBPath())
	if err != nil {
		return report, err
	}
	p.store = store
	return report, nil
}

// RefreshCache rewrites the binary columnar snapshot from the full
// event log.
func (p *Project) RefreshCache() error {
	events, err := p.replayEvents()
	if err != nil {
		return err
	}
	return cache.Rebuild(p.layout.CachePath(), events, time.Now().UnixMicro())
}

// OpenCache memory-maps the binary snapshot for bulk reads.
func (p *Project) OpenCache() (*cache.Reader, error) {
	return cache.Open(p.layout.CachePath())
}

// Compact snapshots every item that has been done or archived for at
// least the configured minimum age, then refreshes the projection.
func (p *Project) Compact(ctx context.Context, agent bn.AgentID) (compact.Report, error) {
	stamp, err := p.loadAgentStamp(agent)
	if err != nil {
		return compact.Report{}, err
	}
	c := &compact.Compactor{
		Manager: p.shards,
		Stamp:   stamp,
		Options: compact.Options{
			MinAge:      p.cfg.CompactMinAge,
			Concurrency: p.cfg.CompactConcurrency,
			Agent:       agent,
		},
		Logger: p.logger,
	}
	report, newStamp, err := c.Run(ctx, p.shards.NextTimestamp())
	if err != nil {
		return report, err
	}
	if err := p.saveAgentStamp(agent, newStamp); err != nil {
		return report, err
	}
	_, err = projection.Incremental(ctx, p.store, p.layout.EventsDir())
	return report, err
}

// SealShard writes the manifest for a past month, after which the
// shard is immutable.
func (p *Project) SealShard(year, month int) error {
	_, err := p.shards.WriteManifest(year, month)
	return err
}

// VerifyReport aggregates every verification pass.
type VerifyReport struct {
	Manifests   []verify.ManifestResult
	ActiveShard error
	Redactions  verify.RedactionReport
}

// Verify runs the manifest checks, the active-shard parse sanity
// check, and the redaction completeness audit. With repair set,
// mismatched manifests are regenerated instead of reported as failed.
func (p *Project) Verify(ctx context.Context, repair bool) (VerifyReport, error) {
	var report VerifyReport
	var err error
	report.Manifests, err = verify.CheckManifests(p.shards, repair, p.logger)
	if err != nil {
		return report, err
	}
	report.ActiveShard = verify.CheckActiveShard(p.shards)

	events, err := p.replayEvents()
	if err != nil {
		return report, err
	}
	report.Redactions, err = verify.AuditRedactions(ctx, p.store.DB(), events, p.logger)
	return report, err
}

// SyncWith reconciles this project's event log with another replica's
// over the in-memory transport, then folds anything new into the local
// projection.
func (p *Project) SyncWith(ctx context.Context, other *Project) (bsync.Report, error) {
	report, err := bsync.Sync(ctx, &shardPeer{p}, &shardPeer{other})
	if err != nil {
		return report, err
	}
	if _, err := projection.Incremental(ctx, p.store, p.layout.EventsDir()); err != nil {
		return report, err
	}
	if _, err := projection.Incremental(ctx, other.store, other.layout.EventsDir()); err != nil {
		return report, err
	}
	return report, nil
}

// shardPeer adapts a Project to the sync engine's Peer interface: the
// event log is the authoritative set, keyed by event hash.
type shardPeer struct {
	p *Project
}

func (s *shardPeer) Tree(ctx context.Context) (*bsync.Tree, error) {
	events, err := s.p.replayEvents()
	if err != nil {
		return nil, err
	}
	hashes := make([]bn.EventHash, len(events))
	for i, e := range events {
		hashes[i] = e.Hash
	}
	return bsync.Build(hashes), nil
}

func (s *shardPeer) Fetch(ctx context.Context, want []bn.EventHash) ([]event.Event, error) {
	events, err := s.p.replayEvents()
	if err != nil {
		return nil, err
	}
	wanted := make(map[bn.EventHash]bool, len(want))
	for _, h := range want {
		wanted[h] = true
	}
	var out []event.Event
	for _, e := range events {
		if wanted[e.Hash] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *shardPeer) Apply(ctx context.Context, incoming []event.Event) error {
	if len(incoming) == 0 {
		return nil
	}
	if err := s.p.shards.RotateIfNeeded(); err != nil {
		return err
	}
	year, month, err := s.p.shards.ActiveShard()
	if err != nil {
		return err
	}
	for _, e := range incoming {
		if err := event.Verify(e); err != nil {
			return err
		}
		line, err := event.EncodeLine(e)
		if err != nil {
			return err
		}
		if err := s.p.shards.AppendRaw(year, month, line); err != nil {
			return err
		}
	}
	return nil
}

// recordDeletion appends the tombstone to the project's deletion log.
func (p *Project) recordDeletion(e event.Event, reason string) error {
	log := deletions.Log{Path: p.deletionLogPath()}
	return log.Append(deletions.Record{
		ItemID:    e.ItemID,
		EventHash: e.Hash,
		Agent:     e.Agent,
		WallTSUs:  e.WallTSUs,
		Reason:    reason,
	})
}

// KnownDeletions loads the deletion log, tolerating and reporting
// malformed lines rather than failing the read.
func (p *Project) KnownDeletions() (deletions.LoadResult, error) {
	log := deletions.Log{Path: p.deletionLogPath()}
	return log.Load()
}

func (p *Project) deletionLogPath() string {
	return p.layout.BonesDir() + "/deletions.jsonl"
}

func encodePathSegment(s string) string {
	return url.PathEscape(s)
}

// Doctor re-runs the open-time recovery pass on demand.
func (p *Project) Doctor(ctx context.Context) (recovery.Health, error) {
	if err := p.store.Close(); err != nil {
		return recovery.Health{}, err
	}
	health, err := recovery.AutoRecover(ctx, p.layout.EventsDir(), p.layout.DBPath(), p.logger)
	if err != nil {
		return health, err
	}
	store, err := projection.Open(ctx, p.layout.DBPath())
	if err != nil {
		return health, err
	}
	p.store = store
	p.health = health
	return health, nil
}
