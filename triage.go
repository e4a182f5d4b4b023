package bones

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/centrality"
	"github.com/bones-project/bones/internal/critpath"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/feedback"
	"github.com/bones-project/bones/internal/graph"
	"github.com/bones-project/bones/internal/projection"
	"github.com/bones-project/bones/internal/score"
	"github.com/bones-project/bones/internal/search"
)

// Graph loads the current dependency graph from the projection.
func (p *Project) Graph(ctx context.Context) (*graph.RawGraph, error) {
	return graph.FromSQLite(ctx, p.store.DB())
}

// TriageReport is the full ranked answer to "what should be worked on
// next".
type TriageReport struct {
	Ranked    []score.Ranked
	Unblocked []score.Ranked
	// CriticalPath is the longest blocker chain through the active
	// graph, blocker-first.
	CriticalPath []bn.ItemID
	PathLength   int
	GraphHash    string
	PageRank     centrality.PageRankResult
}

// Triage builds the dependency graph, condenses it, runs the
// centrality metrics and critical-path timing, and fuses everything
// into the ranked list. Weights come from the config unless the caller
// overrides them (e.g. with feedback-sampled weights).
func (p *Project) Triage(ctx context.Context, weights *score.Weights) (*TriageReport, error) {
	w := p.cfg.ScoreWeights
	if weights != nil {
		w = *weights
	}

	g, err := p.Graph(ctx)
	if err != nil {
		return nil, err
	}
	dag := graph.Condense(g)
	pr := centrality.PageRank(g, dag)
	bc := centrality.Betweenness(dag)
	cp := critpath.Compute(dag)

	items, err := projection.ListOpenItems(ctx, p.store.DB())
	if err != nil {
		return nil, err
	}
	active := make(map[bn.ItemID]bool, len(items))
	for _, it := range items {
		active[it.ItemID] = true
	}
	nowUs := time.Now().UnixMicro()

	inputs := make([]score.Input, 0, len(items))
	for _, it := range items {
		in := score.Input{
			ItemID:      it.ItemID,
			Urgency:     event.Urgency(it.Urgency),
			UpdatedAtUs: it.UpdatedAtUs,
			CritPath:    float64(cp.EarliestFinish[it.ItemID]),
			PageRank:    pr.Scores[it.ItemID],
			Betweenness: bc[it.ItemID],
		}
		if event.Phase(it.Phase) == event.PhaseDoing {
			in.DaysInDoing = float64(nowUs-it.UpdatedAtUs) / float64(24*time.Hour/time.Microsecond)
		}
		for _, blocker := range g.BlockedBy(it.ItemID) {
			if active[blocker] {
				in.ActiveBlockers++
			}
		}
		for _, blocked := range g.Blocks(it.ItemID) {
			if active[blocked] {
				in.UnblocksActive++
			}
		}
		inputs = append(inputs, in)
	}

	ranked := score.Rank(inputs, w)
	return &TriageReport{
		Ranked:       ranked,
		Unblocked:    score.Unblocked(ranked),
		CriticalPath: cp.Path,
		PathLength:   cp.TotalLength,
		GraphHash:    g.ContentHash(),
		PageRank:     pr,
	}, nil
}

// ExecutionPlan returns the topological layers of the condensed graph:
// everything in one layer can proceed in parallel once the previous
// layers are done. A non-empty scope restricts the plan to that item
// and its hierarchical children.
func (p *Project) ExecutionPlan(ctx context.Context, scope string) ([][]bn.ItemID, error) {
	g, err := p.Graph(ctx)
	if err != nil {
		return nil, err
	}
	return critpath.Layers(graph.Condense(g), scope), nil
}

// Searcher returns a search engine over the current projection and
// graph, with the optional embedder enabling the semantic rank source.
func (p *Project) Searcher(ctx context.Context, embedder search.Embedder) (*search.Engine, error) {
	g, err := p.Graph(ctx)
	if err != nil {
		return nil, err
	}
	return &search.Engine{
		DB:       p.store.DB(),
		Graph:    g,
		Embedder: embedder,
		Options: search.Options{
			Limit:              p.cfg.SearchLimit,
			RRFK:               p.cfg.RRFK,
			DuplicateCutoff:    p.cfg.DuplicateCutoff,
			RelatedCutoff:      p.cfg.RelatedCutoff,
			MaybeRelatedCutoff: p.cfg.MaybeRelatedCutoff,
		},
	}, nil
}

// SampleWeights draws composite weights from the agent's feedback
// posterior, for passing into Triage.
func (p *Project) SampleWeights(agent bn.AgentID, rng *rand.Rand) (score.Weights, error) {
	store := feedback.Store{Dir: p.layout.AgentProfilesDir()}
	profile, err := store.Load(agent)
	if err != nil {
		return score.Weights{}, err
	}
	return profile.SampleWeights(rng), nil
}

// RecordFeedback folds one accept/skip decision into the agent's
// posterior and persists it.
func (p *Project) RecordFeedback(agent bn.AgentID, accepted bool, drivers []feedback.Driver) error {
	store := feedback.Store{Dir: p.layout.AgentProfilesDir()}
	profile, err := store.Load(agent)
	if err != nil {
		return err
	}
	profile.Observe(accepted, drivers)
	if err := store.Save(profile); err != nil {
		return fmt.Errorf("bones: saving feedback for %s: %w", agent, err)
	}
	return nil
}
