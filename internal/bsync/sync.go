package bsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
)

// Peer is one side of a sync: it can summarize its event set as a
// Prolly tree, fetch event bodies by hash, and accept events it was
// missing. Transport is deliberately unspecified here — in-memory for
// local merges, any reliable stream for remote — an implementation may
// satisfy Peer purely in memory (two
// ShardPeers over local directories) or by proxying Tree/Fetch/Apply
// across a network connection.
type Peer interface {
	Tree(ctx context.Context) (*Tree, error)
	Fetch(ctx context.Context, hashes []bn.EventHash) ([]event.Event, error)
	Apply(ctx context.Context, events []event.Event) error
}

// Report summarizes one Sync call.
type Report struct {
	PushedToRemote   int
	PulledFromRemote int
}

// Sync reconciles local and remote so each ends up holding the union of
// both event sets. It never rejects an event for arriving out of
// causal order — either side may have been offline for months — but
// within a single exchanged batch it sends parents
// before children so an incremental projector can apply the batch in
// one pass. Calling Sync again immediately afterward diffs two equal
// trees and transfers nothing, satisfying the idempotence requirement.
func Sync(ctx context.Context, local, remote Peer) (Report, error) {
	var report Report

	localTree, err := local.Tree(ctx)
	if err != nil {
		return report, fmt.Errorf("bsync: building local tree: %w", err)
	}
	remoteTree, err := remote.Tree(ctx)
	if err != nil {
		return report, fmt.Errorf("bsync: building remote tree: %w", err)
	}

	onlyLocal, onlyRemote := Diff(localTree, remoteTree)

	if len(onlyLocal) > 0 {
		events, err := local.Fetch(ctx, onlyLocal)
		if err != nil {
			return report, fmt.Errorf("bsync: fetching local events: %w", err)
		}
		ordered, err := topoSort(events)
		if err != nil {
			return report, err
		}
		if err := remote.Apply(ctx, ordered); err != nil {
			return report, fmt.Errorf("bsync: applying to remote: %w", err)
		}
		report.PushedToRemote = len(ordered)
	}

	if len(onlyRemote) > 0 {
		events, err := remote.Fetch(ctx, onlyRemote)
		if err != nil {
			return report, fmt.Errorf("bsync: fetching remote events: %w", err)
		}
		ordered, err := topoSort(events)
		if err != nil {
			return report, err
		}
		if err := local.Apply(ctx, ordered); err != nil {
			return report, fmt.Errorf("bsync: applying locally: %w", err)
		}
		report.PulledFromRemote = len(ordered)
	}

	return report, nil
}

// topoSort orders events so that any parent referenced by another
// event in the same batch comes first (Kahn's algorithm). Parents not
// present in the batch are assumed already known to the receiver and
// impose no ordering constraint. Ties are broken by event hash so the
// result is deterministic.
func topoSort(events []event.Event) ([]event.Event, error) {
	byHash := make(map[bn.EventHash]event.Event, len(events))
	for _, e := range events {
		byHash[e.Hash] = e
	}

	indegree := make(map[bn.EventHash]int, len(events))
	children := make(map[bn.EventHash][]bn.EventHash)
	for _, e := range events {
		for _, p := range e.Parents {
			if _, ok := byHash[p]; ok {
				indegree[e.Hash]++
				children[p] = append(children[p], e.Hash)
			}
		}
	}

	var ready []bn.EventHash
	for _, e := range events {
		if indegree[e.Hash] == 0 {
			ready = append(ready, e.Hash)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	ordered := make([]event.Event, 0, len(events))
	for len(ready) > 0 {
		h := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byHash[h])

		var unlocked []bn.EventHash
		for _, c := range children[h] {
			indegree[c]--
			if indegree[c] == 0 {
				unlocked = append(unlocked, c)
			}
		}
		if len(unlocked) > 0 {
			sort.Slice(unlocked, func(i, j int) bool { return unlocked[i] < unlocked[j] })
			ready = append(ready, unlocked...)
			sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		}
	}

	if len(ordered) != len(events) {
		return nil, &CyclicParentsError{Remaining: len(events) - len(ordered)}
	}
	return ordered, nil
}
