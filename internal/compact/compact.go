// Package compact folds the event history of long-finished items into
// single item.snapshot events. The snapshot carries the item's final
// lattice state, so it commutes with any original-event sequence under
// CRDT merge — replicas can compact independently and still converge.
// Nothing is written unless the snapshot provably reproduces the state
// the original events fold to.
package compact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/crdt"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
	"github.com/bones-project/bones/internal/shard"
)

// Options tunes a compaction run.
type Options struct {
	// MinAge is how long an item must have been done or archived.
	MinAge time.Duration
	// Concurrency bounds the verification worker pool; verification
	// (double replay per item) dominates the cost and items are
	// independent.
	Concurrency int
	// Agent identifies the compacting actor on the snapshot events.
	Agent bn.AgentID
}

// Report summarizes a compaction run.
type Report struct {
	Eligible  int
	Compacted int
	Skipped   []SkippedItem
}

// SkippedItem records an item whose snapshot failed verification and
// was therefore not written.
type SkippedItem struct {
	ItemID bn.ItemID
	Reason string
}

// Compactor runs snapshot compaction against a shard manager.
type Compactor struct {
	Manager *shard.Manager
	Stamp   itc.Stamp
	Options Options
	Logger  *slog.Logger
}

// Run replays the full log, snapshots every eligible item, verifies
// each snapshot against the original history, and appends the
// snapshots that pass. The per-agent stamp advanced by the emitted
// snapshot events is returned for the caller to persist.
func (c *Compactor) Run(ctx context.Context, nowUs int64) (Report, itc.Stamp, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stamp := c.Stamp

	byItem := make(map[bn.ItemID][]event.Event)
	var order []bn.ItemID
	err := c.Manager.ReplayEvents(func(line string) error {
		e, err := event.DecodeLine(line)
		if err != nil {
			// A line recovery has not quarantined yet; compaction must
			// not guess around it.
			return fmt.Errorf("compact: replay: %w", err)
		}
		if _, ok := byItem[e.ItemID]; !ok {
			order = append(order, e.ItemID)
		}
		byItem[e.ItemID] = append(byItem[e.ItemID], e)
		return nil
	})
	if err != nil {
		return Report{}, stamp, err
	}

	var eligible []bn.ItemID
	states := make(map[bn.ItemID]*crdt.ItemState, len(order))
	for _, id := range order {
		state := foldState(byItem[id])
		if state == nil {
			continue
		}
		states[id] = state
		if c.isEligible(state, byItem[id], nowUs) {
			eligible = append(eligible, id)
		}
	}
	report := Report{Eligible: len(eligible)}

	type outcome struct {
		id      bn.ItemID
		payload *event.SnapshotPayload
		reason  string
	}
	results := make([]outcome, len(eligible))
	sem := make(chan struct{}, max(c.Options.Concurrency, 1))
	var wg sync.WaitGroup
	for i, id := range eligible {
		wg.Add(1)
		go func(i int, id bn.ItemID) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			payload, reason := buildAndVerify(byItem[id], states[id])
			results[i] = outcome{id: id, payload: payload, reason: reason}
		}(i, id)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return report, stamp, err
	}

	year, month, err := c.Manager.ActiveShard()
	if err != nil {
		return report, stamp, err
	}
	for _, res := range results {
		if res.payload == nil {
			logger.Warn("skipping item: snapshot failed verification",
				slog.String("item_id", res.id.String()),
				slog.String("reason", res.reason))
			report.Skipped = append(report.Skipped, SkippedItem{ItemID: res.id, Reason: res.reason})
			continue
		}
		stamp = stamp.Event()
		line, err := c.sealSnapshot(res.id, res.payload, stamp, nowUs)
		if err != nil {
			return report, stamp, err
		}
		if err := c.Manager.AppendRaw(year, month, line); err != nil {
			return report, stamp, err
		}
		report.Compacted++
		logger.Info("compacted item",
			slog.String("item_id", res.id.String()),
			slog.Int("replaced", len(res.payload.ReplacedHashes)))
	}
	return report, stamp, nil
}

// isEligible wants the item finished (done or archived), untouched for
// MinAge, and not already a single snapshot.
func (c *Compactor) isEligible(state *crdt.ItemState, history []event.Event, nowUs int64) bool {
	if state.Deleted.Value {
		return false
	}
	switch state.Lifecycle.Phase {
	case event.PhaseDone, event.PhaseArchived:
	default:
		return false
	}
	if alreadyCompacted(history) {
		return false
	}
	age := time.Duration(nowUs-state.UpdatedAtUs) * time.Microsecond
	return age >= c.Options.MinAge
}

// alreadyCompacted reports whether some snapshot in the history
// already replaces every other event, in which case another snapshot
// would add nothing.
func alreadyCompacted(history []event.Event) bool {
	replaced := make(map[string]bool)
	var snapshotHashes []bn.EventHash
	for _, e := range history {
		if e.Type != event.TypeSnapshot {
			continue
		}
		snapshotHashes = append(snapshotHashes, e.Hash)
		var p event.SnapshotPayload
		if json.Unmarshal(e.Data, &p) == nil {
			for _, h := range p.ReplacedHashes {
				replaced[h] = true
			}
		}
	}
	if len(snapshotHashes) == 0 {
		return false
	}
	snapshots := make(map[bn.EventHash]bool, len(snapshotHashes))
	for _, h := range snapshotHashes {
		snapshots[h] = true
	}
	for _, e := range history {
		if snapshots[e.Hash] {
			continue
		}
		if !replaced[e.Hash.String()] {
			return false
		}
	}
	return true
}

func foldState(history []event.Event) *crdt.ItemState {
	var state *crdt.ItemState
	for _, e := range history {
		next, err := crdt.ApplyEvent(state, e)
		if err != nil {
			continue
		}
		state = next
	}
	return state
}

// buildAndVerify packages the final state and replays both the
// original history and the snapshot-only sequence, requiring identical
// observable state before the snapshot may be written.
func buildAndVerify(history []event.Event, state *crdt.ItemState) (*event.SnapshotPayload, string) {
	blob, err := crdt.EncodeSnapshot(state)
	if err != nil {
		return nil, fmt.Sprintf("encoding state: %v", err)
	}
	payload := &event.SnapshotPayload{StateBlob: blob}
	for _, e := range history {
		payload.ReplacedHashes = append(payload.ReplacedHashes, e.Hash.String())
		if e.Type == event.TypeRedact {
			var p event.RedactPayload
			if json.Unmarshal(e.Data, &p) == nil {
				payload.RedactedHashes = append(payload.RedactedHashes, p.TargetEventHash)
			}
		}
	}
	sort.Strings(payload.RedactedHashes)

	original := foldState(history)
	fromSnapshot, err := crdt.DecodeSnapshot(state.ItemID, blob, "", crdt.Tag{})
	if err != nil {
		return nil, fmt.Sprintf("decoding state: %v", err)
	}
	if !observablyEqual(original, fromSnapshot) {
		return nil, "snapshot state diverges from replayed state"
	}
	return payload, ""
}

// observablyEqual compares the state a user can query: registers,
// set membership, lifecycle, and timestamps. Internal tags may differ
// (the snapshot re-tags set membership) without affecting equality.
func observablyEqual(a, b *crdt.ItemState) bool {
	return a.Title.Value == b.Title.Value &&
		a.Description.Value == b.Description.Value &&
		a.Kind.Value == b.Kind.Value &&
		a.Size.Value == b.Size.Value &&
		a.Urgency.Value == b.Urgency.Value &&
		a.ParentID.Value == b.ParentID.Value &&
		a.Deleted.Value == b.Deleted.Value &&
		a.Lifecycle == b.Lifecycle &&
		a.CreatedAtUs == b.CreatedAtUs &&
		a.UpdatedAtUs == b.UpdatedAtUs &&
		equalStrings(a.Labels.Elements(), b.Labels.Elements()) &&
		equalStrings(a.Assignees.Elements(), b.Assignees.Elements()) &&
		equalStrings(a.BlockedBy.Elements(), b.BlockedBy.Elements()) &&
		equalStrings(a.RelatedTo.Elements(), b.RelatedTo.Elements()) &&
		equalHashes(a.Comments.Elements(), b.Comments.Elements())
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalHashes(a, b []bn.EventHash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *Compactor) sealSnapshot(id bn.ItemID, payload *event.SnapshotPayload, stamp itc.Stamp, nowUs int64) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("compact: marshaling snapshot: %w", err)
	}
	itcText, err := stamp.MarshalText()
	if err != nil {
		return "", fmt.Errorf("compact: encoding stamp: %w", err)
	}
	var parents []bn.EventHash
	if n := len(payload.ReplacedHashes); n > 0 {
		parents = append(parents, bn.EventHash(payload.ReplacedHashes[n-1]))
	}
	e := event.Event{
		WallTSUs: nowUs,
		Agent:    c.Options.Agent,
		ITC:      itcText,
		Parents:  parents,
		Type:     event.TypeSnapshot,
		ItemID:   id,
		Data:     data,
	}
	sealed, err := event.Seal(e)
	if err != nil {
		return "", fmt.Errorf("compact: sealing snapshot: %w", err)
	}
	return event.EncodeLine(sealed)
}
