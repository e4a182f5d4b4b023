package bones

import (
	"context"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/feedback"
	"github.com/bones-project/bones/internal/graph"
)

func newProject(t *testing.T) *Project {
	t.Helper()
	p, err := Init(t.TempDir(), DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func mustCreate(t *testing.T, p *Project, agent bn.AgentID, title string) bn.ItemID {
	t.Helper()
	id, err := p.CreateItem(context.Background(), agent, event.CreatePayload{
		Title: title, Kind: event.KindTask,
	})
	require.NoError(t, err)
	return id
}

func TestOpen_RequiresInit(t *testing.T) {
	_, err := Open(t.TempDir(), DefaultConfig(), nil)
	var notInit *NotInitializedError
	require.ErrorAs(t, err, &notInit)
	require.Equal(t, CodeNotInitialized, CodeOf(err))
}

func TestCreateMoveDone_ProjectsState(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)

	id := mustCreate(t, p, "agent-alice", "First task")
	item, err := p.GetItem(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "open", item.Phase)
	require.Equal(t, "First task", item.Title)

	require.NoError(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseDoing, ""))
	require.NoError(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseDone, "shipped"))

	var state string
	err = p.DB().QueryRowContext(ctx, `SELECT phase FROM items WHERE item_id = ?`, id.String()).Scan(&state)
	require.NoError(t, err)
	require.Equal(t, "done", state)
}

func TestMoveItem_RejectsInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	id := mustCreate(t, p, "agent-alice", "Lifecycle")

	err := p.MoveItem(ctx, "agent-alice", id, event.PhaseOpen, "")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, CodeInvalidTransition, CodeOf(err))

	require.NoError(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseDoing, ""))
	require.NoError(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseDone, ""))
	require.NoError(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseArchived, ""))

	// Archived items must be reopened before they can move anywhere
	// else; reopening bumps the epoch.
	require.ErrorAs(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseDoing, ""), &invalid)
	require.NoError(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseOpen, "reopening"))

	item, err := p.GetItem(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "open", item.Phase)
	require.Equal(t, 1, item.Epoch)
}

func TestLinkItems_RejectsCycle(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	a := mustCreate(t, p, "agent-alice", "upstream build")
	b := mustCreate(t, p, "agent-alice", "midstream deploy")
	c := mustCreate(t, p, "agent-alice", "downstream verify")

	require.NoError(t, p.LinkItems(ctx, "agent-alice", a, b, event.LinkBlocks))
	require.NoError(t, p.LinkItems(ctx, "agent-alice", b, c, event.LinkBlocks))

	err := p.LinkItems(ctx, "agent-alice", c, a, event.LinkBlocks)
	var cycle *graph.CycleError
	require.ErrorAs(t, err, &cycle)
	require.Equal(t, CodeCycleDetected, CodeOf(err))

	// Nothing was written: the dependency table still has two edges.
	var n int
	require.NoError(t, p.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM item_dependencies`).Scan(&n))
	require.Equal(t, 2, n)

	// The same edge twice is a duplicate, also rejected.
	err = p.LinkItems(ctx, "agent-alice", a, b, event.LinkBlocks)
	var dup *DuplicateLinkError
	require.ErrorAs(t, err, &dup)
}

func TestResolveID(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	a := mustCreate(t, p, "agent-alice", "resolve target")

	got, err := p.ResolveID(ctx, a.String())
	require.NoError(t, err)
	require.Equal(t, a, got)

	got, err = p.ResolveID(ctx, a.String()[:5])
	require.NoError(t, err)
	require.Equal(t, a, got)

	_, err = p.ResolveID(ctx, "bn-nope")
	require.Equal(t, CodeItemNotFound, CodeOf(err))

	mustCreate(t, p, "agent-alice", "another one")
	_, err = p.ResolveID(ctx, "bn-")
	var ambiguous *AmbiguousIDError
	require.ErrorAs(t, err, &ambiguous)
	require.Len(t, ambiguous.Matches, 2)
}

func TestCommentRedactAndVerify(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	id := mustCreate(t, p, "agent-alice", "Sensitive")

	hash, err := p.CommentItem(ctx, "agent-alice", id, "password is hunter2")
	require.NoError(t, err)
	require.NoError(t, p.RedactEvent(ctx, "agent-alice", id, hash, "credentials"))

	var body string
	var redacted int
	err = p.DB().QueryRowContext(ctx,
		`SELECT body, redacted FROM item_comments WHERE event_hash = ?`, hash.String()).Scan(&body, &redacted)
	require.NoError(t, err)
	require.Empty(t, body)
	require.Equal(t, 1, redacted)

	report, err := p.Verify(ctx, false)
	require.NoError(t, err)
	require.NoError(t, report.ActiveShard)
	require.Equal(t, 1, report.Redactions.Checked)
	require.Zero(t, report.Redactions.Failed)
}

func TestDeleteItem_RecordsDeletionLog(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	id := mustCreate(t, p, "agent-alice", "Doomed")

	require.NoError(t, p.DeleteItem(ctx, "agent-alice", id, "duplicate"))

	_, err := p.GetItem(ctx, id)
	require.Equal(t, CodeItemNotFound, CodeOf(err))

	known, err := p.KnownDeletions()
	require.NoError(t, err)
	require.Contains(t, known.Records, id)
	require.Equal(t, "duplicate", known.Records[id].Reason)
}

func TestTriage_RanksByStructure(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	root := mustCreate(t, p, "agent-alice", "root blocker")
	mid := mustCreate(t, p, "agent-alice", "middle work")
	leaf := mustCreate(t, p, "agent-alice", "leaf polish")

	require.NoError(t, p.LinkItems(ctx, "agent-alice", root, mid, event.LinkBlocks))
	require.NoError(t, p.LinkItems(ctx, "agent-alice", mid, leaf, event.LinkBlocks))

	report, err := p.Triage(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Ranked, 3)
	require.Equal(t, 3, report.PathLength)
	require.Equal(t, []bn.ItemID{root, mid, leaf}, report.CriticalPath)

	// Only the root is unblocked.
	require.Len(t, report.Unblocked, 1)
	require.Equal(t, root, report.Unblocked[0].ItemID)

	plan, err := p.ExecutionPlan(ctx, "")
	require.NoError(t, err)
	require.Equal(t, [][]bn.ItemID{{root}, {mid}, {leaf}}, plan)
}

func TestSyncWith_ConvergesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p1 := newProject(t)
	p2 := newProject(t)

	a := mustCreate(t, p1, "agent-alpha", "from replica one")
	b := mustCreate(t, p2, "agent-beta", "from replica two")

	report, err := p1.SyncWith(ctx, p2)
	require.NoError(t, err)
	require.Positive(t, report.PushedToRemote)
	require.Positive(t, report.PulledFromRemote)

	for _, p := range []*Project{p1, p2} {
		_, err := p.GetItem(ctx, a)
		require.NoError(t, err)
		_, err = p.GetItem(ctx, b)
		require.NoError(t, err)
	}

	// Idempotence: a second sync transfers nothing.
	report, err = p1.SyncWith(ctx, p2)
	require.NoError(t, err)
	require.Zero(t, report.PushedToRemote)
	require.Zero(t, report.PulledFromRemote)
}

func TestRebuildMatchesIncremental(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	id := mustCreate(t, p, "agent-alice", "Rebuild me")
	require.NoError(t, p.MoveItem(ctx, "agent-alice", id, event.PhaseDoing, ""))

	before, err := p.GetItem(ctx, id)
	require.NoError(t, err)

	report, err := p.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.EventCount)

	after, err := p.GetItem(ctx, id)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestFeedbackRoundTrip(t *testing.T) {
	p := newProject(t)
	require.NoError(t, p.RecordFeedback("agent-alice", true, []feedback.Driver{feedback.DriverPageRank}))
	require.NoError(t, p.RecordFeedback("agent-alice", false, []feedback.Driver{feedback.DriverStaleness}))

	entries, err := os.ReadDir(p.Layout().AgentProfilesDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	w, err := p.SampleWeights("agent-alice", rand.New(rand.NewPCG(5, 5)))
	require.NoError(t, err)
	total := w.CritPath + w.PageRank + w.Betweenness + w.Urgency + w.Staleness
	require.InDelta(t, 1.0, total, 1e-9)
}
