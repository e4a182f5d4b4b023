package itc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeed_IsSelfLeq(t *testing.T) {
	s := Seed()
	require.True(t, s.Leq(s))
}

func TestEvent_StrictlyAdvances(t *testing.T) {
	s := Seed()
	next := s.Event()
	require.True(t, s.Leq(next))
	require.False(t, next.Leq(s))
}

func TestFork_HalvesShareHistoryAndAdvance(t *testing.T) {
	s := Seed().Event()
	l, r := s.Fork()

	l2 := l.Event()
	r2 := r.Event()
	require.True(t, l.Leq(l2))
	require.True(t, r.Leq(r2))

	// Before either side does new work, forked halves are still
	// equivalent in causal history to the stamp they forked from.
	require.True(t, s.Leq(l))
	require.True(t, s.Leq(r))
	require.True(t, l.Leq(s))
	require.True(t, r.Leq(s))
}

func TestFork_ConcurrentAfterIndependentEvents(t *testing.T) {
	s := Seed()
	l, r := s.Fork()
	l = l.Event()
	r = r.Event()
	require.True(t, l.Concurrent(r))
}

func TestJoin_ReunitesForkedHistory(t *testing.T) {
	s := Seed()
	l, r := s.Fork()
	l = l.Event()
	r = r.Event()

	joined := l.Join(r)
	require.True(t, l.Leq(joined))
	require.True(t, r.Leq(joined))
}

func TestJoin_CommutativeAndIdempotent(t *testing.T) {
	s := Seed()
	l, r := s.Fork()
	l = l.Event()
	r = r.Event()

	j1 := l.Join(r)
	j2 := r.Join(l)
	require.True(t, j1.Leq(j2))
	require.True(t, j2.Leq(j1))

	j3 := j1.Join(j1)
	require.True(t, j1.Leq(j3))
	require.True(t, j3.Leq(j1))
}

func TestManyForksAndEventsRemainConsistent(t *testing.T) {
	s := Seed()
	stamps := []Stamp{s}
	for i := 0; i < 20; i++ {
		last := stamps[len(stamps)-1]
		a, b := last.Fork()
		a = a.Event()
		b = b.Event()
		stamps = append(stamps, a.Join(b))
	}
	final := stamps[len(stamps)-1]
	require.True(t, s.Leq(final))
}

func TestTextRoundTrip(t *testing.T) {
	s := Seed().Event()
	text, err := s.MarshalText()
	require.NoError(t, err)
	require.Contains(t, text, TextPrefix)

	parsed, err := ParseText(text)
	require.NoError(t, err)
	require.True(t, s.Leq(parsed))
	require.True(t, parsed.Leq(s))
}

func TestBinaryRoundTrip(t *testing.T) {
	l, r := Seed().Fork()
	l = l.Event()
	r = r.Event()
	joined := l.Join(r)

	bin, err := joined.MarshalBinary()
	require.NoError(t, err)
	parsed, err := UnmarshalBinary(bin)
	require.NoError(t, err)
	require.True(t, joined.Leq(parsed))
	require.True(t, parsed.Leq(joined))
}

func TestSeedForAgent_Deterministic(t *testing.T) {
	a1 := SeedForAgent("agent-alice")
	a2 := SeedForAgent("agent-alice")
	require.True(t, a1.Leq(a2))
	require.True(t, a2.Leq(a1))
}

func TestSeedForAgent_DifferentAgentsGetDifferentIdentity(t *testing.T) {
	alice := SeedForAgent("agent-alice")
	bob := SeedForAgent("agent-bob")
	// Different ids but same (empty) event history: Leq holds both ways
	// since causal comparison only looks at the Event component.
	require.True(t, alice.Leq(bob))
	require.True(t, bob.Leq(alice))
	require.NotEqual(t, alice.id, bob.id)
}
