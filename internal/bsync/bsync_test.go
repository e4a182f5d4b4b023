package bsync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
)

func sealEvent(t *testing.T, wallTS int64, id bn.ItemID, title string, parents []bn.EventHash) event.Event {
	t.Helper()
	data, err := json.Marshal(event.CreatePayload{
		Title: title, Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})
	require.NoError(t, err)
	itcText, err := itc.SeedForAgent("agent-s").MarshalText()
	require.NoError(t, err)
	sealed, err := event.Seal(event.Event{
		WallTSUs: wallTS,
		Agent:    "agent-s",
		ITC:      itcText,
		Parents:  parents,
		Type:     event.TypeCreate,
		ItemID:   id,
		Data:     data,
	})
	require.NoError(t, err)
	return sealed
}

func hashesOf(events []event.Event) []bn.EventHash {
	out := make([]bn.EventHash, len(events))
	for i, e := range events {
		out[i] = e.Hash
	}
	return out
}

func TestBuild_OrderAndDuplicatesDoNotChangeRoot(t *testing.T) {
	var hashes []bn.EventHash
	for i := 0; i < 200; i++ {
		e := sealEvent(t, int64(1000+i), bn.ItemID(fmt.Sprintf("bn-n%d", i)), fmt.Sprintf("event %d", i), nil)
		hashes = append(hashes, e.Hash)
	}
	forward := Build(hashes)

	reversed := make([]bn.EventHash, len(hashes))
	for i, h := range hashes {
		reversed[len(hashes)-1-i] = h
	}
	withDupes := append(append([]bn.EventHash{}, reversed...), hashes[:50]...)
	require.Equal(t, forward.RootHash(), Build(withDupes).RootHash())

	require.NotEqual(t, forward.RootHash(), Build(hashes[:199]).RootHash())
}

func TestDiff_FindsSymmetricDifference(t *testing.T) {
	var shared, all []bn.EventHash
	for i := 0; i < 100; i++ {
		e := sealEvent(t, int64(i), bn.ItemID(fmt.Sprintf("bn-s%d", i)), fmt.Sprintf("shared %d", i), nil)
		shared = append(shared, e.Hash)
		all = append(all, e.Hash)
	}
	onlyA := sealEvent(t, 9001, "bn-onlya", "a side", nil).Hash
	onlyB := sealEvent(t, 9002, "bn-onlyb", "b side", nil).Hash

	a := Build(append(append([]bn.EventHash{}, shared...), onlyA))
	b := Build(append(append([]bn.EventHash{}, shared...), onlyB))

	gotA, gotB := Diff(a, b)
	require.Equal(t, []bn.EventHash{onlyA}, gotA)
	require.Equal(t, []bn.EventHash{onlyB}, gotB)

	same := Build(all)
	gotA, gotB = Diff(same, Build(all))
	require.Empty(t, gotA)
	require.Empty(t, gotB)
}

// memPeer is the in-memory Peer used for local-merge tests.
type memPeer struct {
	events map[bn.EventHash]event.Event
	// applied records the order Apply received events in, for the
	// parents-before-children assertion.
	applied []event.Event
}

func newMemPeer(events ...event.Event) *memPeer {
	p := &memPeer{events: map[bn.EventHash]event.Event{}}
	for _, e := range events {
		p.events[e.Hash] = e
	}
	return p
}

func (p *memPeer) Tree(ctx context.Context) (*Tree, error) {
	var hashes []bn.EventHash
	for h := range p.events {
		hashes = append(hashes, h)
	}
	return Build(hashes), nil
}

func (p *memPeer) Fetch(ctx context.Context, hashes []bn.EventHash) ([]event.Event, error) {
	var out []event.Event
	for _, h := range hashes {
		if e, ok := p.events[h]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *memPeer) Apply(ctx context.Context, events []event.Event) error {
	for _, e := range events {
		p.events[e.Hash] = e
		p.applied = append(p.applied, e)
	}
	return nil
}

func TestSync_S6_ConvergesThenIdempotent(t *testing.T) {
	ctx := context.Background()
	e1 := sealEvent(t, 1000, "bn-e1", "shared", nil)
	e2 := sealEvent(t, 2000, "bn-e2", "r1 only", nil)
	e3 := sealEvent(t, 3000, "bn-e3", "r1 also", nil)
	e4 := sealEvent(t, 4000, "bn-e4", "r2 only", nil)

	r1 := newMemPeer(e1, e2, e3)
	r2 := newMemPeer(e1, e4)

	report, err := Sync(ctx, r1, r2)
	require.NoError(t, err)
	require.Equal(t, 2, report.PushedToRemote)
	require.Equal(t, 1, report.PulledFromRemote)
	require.Len(t, r1.events, 4)
	require.Len(t, r2.events, 4)

	report, err = Sync(ctx, r1, r2)
	require.NoError(t, err)
	require.Zero(t, report.PushedToRemote)
	require.Zero(t, report.PulledFromRemote)
}

func TestSync_SendsParentsBeforeChildren(t *testing.T) {
	ctx := context.Background()
	parent := sealEvent(t, 1000, "bn-p", "parent", nil)
	child := sealEvent(t, 2000, "bn-c", "child", []bn.EventHash{parent.Hash})
	grandchild := sealEvent(t, 3000, "bn-g", "grandchild", []bn.EventHash{child.Hash})

	local := newMemPeer(parent, child, grandchild)
	remote := newMemPeer()

	_, err := Sync(ctx, local, remote)
	require.NoError(t, err)
	require.Len(t, remote.applied, 3)

	pos := map[bn.EventHash]int{}
	for i, e := range remote.applied {
		pos[e.Hash] = i
	}
	require.Less(t, pos[parent.Hash], pos[child.Hash])
	require.Less(t, pos[child.Hash], pos[grandchild.Hash])
}

func TestTopoSort_MissingParentsImposeNoOrder(t *testing.T) {
	absent := sealEvent(t, 500, "bn-absent", "already known remotely", nil)
	child := sealEvent(t, 1000, "bn-c", "child of absent", []bn.EventHash{absent.Hash})

	ordered, err := topoSort([]event.Event{child})
	require.NoError(t, err)
	require.Len(t, ordered, 1)
}
