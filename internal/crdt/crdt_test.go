package crdt

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
)

// sealEvent builds a fully sealed, hash-verified event for a given ITC
// stamp, used throughout these tests so ApplyEvent's stamp parsing and
// hash handling are always exercised for real.
func sealEvent(t *testing.T, stamp itc.Stamp, wallTS int64, agent string, id bn.ItemID, typ event.Type, payload interface{}) event.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	itcText, err := stamp.MarshalText()
	require.NoError(t, err)
	e := event.Event{
		WallTSUs: wallTS,
		Agent:    bn.AgentID(agent),
		ITC:      itcText,
		Type:     typ,
		ItemID:   id,
		Data:     data,
	}
	sealed, err := event.Seal(e)
	require.NoError(t, err)
	return sealed
}

func TestApplyEvent_S1_CreateMoveMoveDone(t *testing.T) {
	s := itc.SeedForAgent("agent-alice")

	create := sealEvent(t, s, 1000, "agent-alice", "bn-a", event.TypeCreate, event.CreatePayload{
		Title: "First task", Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})
	s1 := s.Event()
	doing := sealEvent(t, s1, 1100, "agent-alice", "bn-a", event.TypeMove, event.MovePayload{State: event.PhaseDoing})
	s2 := s1.Event()
	done := sealEvent(t, s2, 1200, "agent-alice", "bn-a", event.TypeMove, event.MovePayload{State: event.PhaseDone})

	var state *ItemState
	var err error
	for _, e := range []event.Event{create, doing, done} {
		state, err = ApplyEvent(state, e)
		require.NoError(t, err)
	}
	require.Equal(t, event.PhaseDone, state.Lifecycle.Phase)
}

func TestApplyEvent_S2_ThreeWayConvergence(t *testing.T) {
	root := itc.SeedForAgent("root")
	alpha, rest := root.Fork()
	beta, gamma := rest.Fork()

	create := sealEvent(t, root, 1000, "alpha", "bn-x", event.TypeCreate, event.CreatePayload{
		Title: "Orig", Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})

	alphaEv := alpha.Event()
	betaEv := beta.Event()
	gammaEv := gamma.Event()

	updA := sealEvent(t, alphaEv, 2000, "alpha", "bn-x", event.TypeUpdate, event.UpdatePayload{
		Field: "title", Value: json.RawMessage(`"A"`),
	})
	updB := sealEvent(t, betaEv, 2000, "beta", "bn-x", event.TypeUpdate, event.UpdatePayload{
		Field: "title", Value: json.RawMessage(`"B"`),
	})
	mvG := sealEvent(t, gammaEv, 2000, "gamma", "bn-x", event.TypeMove, event.MovePayload{State: event.PhaseDoing})

	// Apply in two different orders and confirm the same converged result
	// (each replica applies create first, since causally nothing else can
	// precede it).
	orderings := [][]event.Event{
		{create, updA, updB, mvG},
		{create, updB, mvG, updA},
		{create, mvG, updA, updB},
	}
	var results []*ItemState
	for _, order := range orderings {
		var state *ItemState
		var err error
		for _, e := range order {
			state, err = ApplyEvent(state, e)
			require.NoError(t, err)
		}
		results = append(results, state)
	}
	for _, r := range results {
		require.Equal(t, "B", r.Title.Value)
		require.Equal(t, event.PhaseDoing, r.Lifecycle.Phase)
	}
}

func TestMerge_ConvergesRegardlessOfOrder(t *testing.T) {
	root := itc.SeedForAgent("root")
	alpha, beta := root.Fork()

	create := sealEvent(t, root, 1000, "seed", "bn-x", event.TypeCreate, event.CreatePayload{
		Title: "Orig", Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})

	alphaEv := alpha.Event()
	betaEv := beta.Event()
	updAlpha := sealEvent(t, alphaEv, 2000, "alpha", "bn-x", event.TypeUpdate, event.UpdatePayload{
		Field: "title", Value: json.RawMessage(`"alpha-title"`),
	})
	updBeta := sealEvent(t, betaEv, 2000, "beta", "bn-x", event.TypeUpdate, event.UpdatePayload{
		Field: "title", Value: json.RawMessage(`"beta-title"`),
	})

	var sA, sB *ItemState
	var err error
	sA, err = ApplyEvent(nil, create)
	require.NoError(t, err)
	sA, err = ApplyEvent(sA, updAlpha)
	require.NoError(t, err)

	sB, err = ApplyEvent(nil, create)
	require.NoError(t, err)
	sB, err = ApplyEvent(sB, updBeta)
	require.NoError(t, err)

	merged1 := Merge(sA, sB)
	merged2 := Merge(sB, sA)
	require.Equal(t, merged1.Title.Value, merged2.Title.Value)
	require.Equal(t, "beta-title", merged1.Title.Value)
}

func TestORSet_ConcurrentAddWinsOverRemove(t *testing.T) {
	root := itc.SeedForAgent("root")
	addSide, removeSide := root.Fork()
	addEv := addSide.Event()
	removeEv := removeSide.Event()

	set := NewORSet()
	set.Add("urgent-fix", bn.EventHash("blake3:aa"), addEv)
	set.Remove("urgent-fix", bn.EventHash("blake3:bb"), removeEv)

	require.True(t, set.Contains("urgent-fix"))
}

func TestORSet_CausalRemoveWins(t *testing.T) {
	root := itc.SeedForAgent("root")
	addEv := root.Event()
	removeEv := addEv.Event() // causally after the add

	set := NewORSet()
	set.Add("label", bn.EventHash("blake3:aa"), addEv)
	set.Remove("label", bn.EventHash("blake3:bb"), removeEv)

	require.False(t, set.Contains("label"))
}

func TestORSet_ReAddAfterRemoveWins(t *testing.T) {
	root := itc.SeedForAgent("root")
	addEv := root.Event()
	removeEv := addEv.Event()
	reAddEv := removeEv.Event()

	set := NewORSet()
	set.Add("label", bn.EventHash("blake3:aa"), addEv)
	set.Remove("label", bn.EventHash("blake3:bb"), removeEv)
	set.Add("label", bn.EventHash("blake3:cc"), reAddEv)

	require.True(t, set.Contains("label"))
}

func TestEpochPhase_MergeHigherEpochWins(t *testing.T) {
	a := EpochPhase{Epoch: 1, Phase: event.PhaseDoing}
	b := EpochPhase{Epoch: 2, Phase: event.PhaseOpen}
	require.Equal(t, b, a.Merge(b))
	require.Equal(t, b, b.Merge(a))
}

func TestEpochPhase_MergeSameEpochMaxPhaseWins(t *testing.T) {
	a := EpochPhase{Epoch: 1, Phase: event.PhaseDone}
	b := EpochPhase{Epoch: 1, Phase: event.PhaseDoing}
	require.Equal(t, a, a.Merge(b))
	require.Equal(t, a, b.Merge(a))
}

func TestEpochPhase_ReopenBumpsEpoch(t *testing.T) {
	done := EpochPhase{Epoch: 0, Phase: event.PhaseDone}
	reopened := done.Move(event.PhaseOpen)
	require.Equal(t, 1, reopened.Epoch)
	require.Equal(t, event.PhaseOpen, reopened.Phase)
}

func TestSnapshotRoundTrip(t *testing.T) {
	root := itc.SeedForAgent("root")
	create := sealEvent(t, root, 1000, "agent-alice", "bn-a", event.TypeCreate, event.CreatePayload{
		Title: "Snapshot me", Kind: event.KindBug, Urgency: event.UrgencyUrgent, Labels: []string{"a", "b"},
	})
	state, err := ApplyEvent(nil, create)
	require.NoError(t, err)

	blob, err := EncodeSnapshot(state)
	require.NoError(t, err)

	stamp := root.Event()
	decoded, err := DecodeSnapshot("bn-a", blob, bn.EventHash("blake3:ff"), NewTag(9999, "compactor", stamp, "blake3:ff"))
	require.NoError(t, err)
	require.Equal(t, state.Title.Value, decoded.Title.Value)
	require.ElementsMatch(t, state.Labels.Elements(), decoded.Labels.Elements())
}

func TestTracer_RecordsLWWDecisions(t *testing.T) {
	root := itc.SeedForAgent("root")
	create := sealEvent(t, root, 1000, "agent-alice", "bn-t", event.TypeCreate, event.CreatePayload{
		Title: "Traced", Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{},
	})
	state, err := ApplyEvent(nil, create)
	require.NoError(t, err)

	var traces []TraceEvent
	state.Tracer = func(tr TraceEvent) { traces = append(traces, tr) }

	s1 := root.Event()
	upd := sealEvent(t, s1, 2000, "agent-alice", "bn-t", event.TypeUpdate, event.UpdatePayload{
		Field: "title", Value: json.RawMessage(`"Traced harder"`),
	})
	state, err = ApplyEvent(state, upd)
	require.NoError(t, err)

	require.Len(t, traces, 1)
	require.Equal(t, "title", traces[0].Field)
	require.Equal(t, bn.ItemID("bn-t"), traces[0].ItemID)
	require.True(t, traces[0].CandidateWins)
	require.Equal(t, RuleITC, traces[0].Rule)
	require.Equal(t, upd.Hash, traces[0].CandidateHash)
	require.Equal(t, "Traced harder", state.Title.Value)
}

func TestDecide_RuleLadder(t *testing.T) {
	root := itc.SeedForAgent("root")
	a, b := root.Fork()
	aEv, bEv := a.Event(), b.Event()

	// Concurrent stamps, different wall clocks: wall_ts decides.
	won, rule := Decide(
		NewTag(1000, "alpha", aEv, "blake3:aa"),
		NewTag(2000, "beta", bEv, "blake3:bb"))
	require.True(t, won)
	require.Equal(t, RuleWallTS, rule)

	// Equal wall clocks: agent decides.
	won, rule = Decide(
		NewTag(1000, "alpha", aEv, "blake3:aa"),
		NewTag(1000, "beta", bEv, "blake3:bb"))
	require.True(t, won)
	require.Equal(t, RuleAgent, rule)

	// Equal agents too: hash decides.
	won, rule = Decide(
		NewTag(1000, "alpha", aEv, "blake3:bb"),
		NewTag(1000, "alpha", bEv, "blake3:aa"))
	require.False(t, won)
	require.Equal(t, RuleHash, rule)
}

// TestConvergence_RandomPermutations folds one mixed event history in
// thousands of shuffled orders (create first, since nothing can
// causally precede it) and demands a byte-identical final state every
// time. The same histories are also split across two replicas at
// random cut points and merged, exercising Merge against the same
// reference.
func TestConvergence_RandomPermutations(t *testing.T) {
	root := itc.SeedForAgent("root")
	alice, bob := root.Fork()

	create := sealEvent(t, root, 1000, "alice", "bn-perm", event.TypeCreate, event.CreatePayload{
		Title: "Permute me", Kind: event.KindTask, Urgency: event.UrgencyDefault, Labels: []string{"seed"},
	})

	a1 := alice.Event()
	a2 := a1.Event()
	b1 := bob.Event()
	b2 := b1.Event()
	tail := []event.Event{
		sealEvent(t, a1, 2000, "alice", "bn-perm", event.TypeUpdate, event.UpdatePayload{
			Field: "title", Value: json.RawMessage(`"Renamed by alice"`),
		}),
		sealEvent(t, b1, 2000, "bob", "bn-perm", event.TypeUpdate, event.UpdatePayload{
			Field: "title", Value: json.RawMessage(`"Renamed by bob"`),
		}),
		sealEvent(t, a2, 3000, "alice", "bn-perm", event.TypeMove, event.MovePayload{State: event.PhaseDoing}),
		sealEvent(t, b2, 2500, "bob", "bn-perm", event.TypeUpdate, event.UpdatePayload{
			Field: "labels", Value: json.RawMessage(`{"action":"add","label":"urgent-ish"}`),
		}),
		sealEvent(t, a2.Event(), 3500, "alice", "bn-perm", event.TypeAssign, event.AssignPayload{
			Agent: "carol", Action: event.AssignAssign,
		}),
		sealEvent(t, b2.Event(), 2600, "bob", "bn-perm", event.TypeUpdate, event.UpdatePayload{
			Field: "labels", Value: json.RawMessage(`{"action":"remove","label":"seed"}`),
		}),
		sealEvent(t, a2.Event().Event(), 4000, "alice", "bn-perm", event.TypeComment, event.CommentPayload{
			Body: "still here after every shuffle",
		}),
	}

	fold := func(events []event.Event) *ItemState {
		state, err := ApplyEvent(nil, create)
		require.NoError(t, err)
		for _, e := range events {
			state, err = ApplyEvent(state, e)
			require.NoError(t, err)
		}
		return state
	}
	fingerprint := func(s *ItemState) string {
		blob, err := EncodeSnapshot(s)
		require.NoError(t, err)
		return string(blob)
	}

	reference := fingerprint(fold(tail))

	rng := rand.New(rand.NewPCG(11, 13))
	shuffled := make([]event.Event, len(tail))
	for trial := 0; trial < 2500; trial++ {
		copy(shuffled, tail)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		require.Equal(t, reference, fingerprint(fold(shuffled)), "trial %d", trial)

		// Replica split: each side sees a random subset (plus create),
		// the union arrives via Merge.
		var left, right []event.Event
		for _, e := range shuffled {
			if rng.IntN(2) == 0 {
				left = append(left, e)
			} else {
				right = append(right, e)
			}
		}
		merged := Merge(fold(left), fold(right))
		require.Equal(t, reference, fingerprint(merged), "merge trial %d", trial)
	}
}
