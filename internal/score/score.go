// Package score fuses the structural metrics with urgency and
// staleness into one priority per item and produces the ranked triage
// list. The composite is P = α·CP + β·PR + γ·BC + δ·U + ε·D over
// min-max-normalized inputs, with urgent/punt overriding the blend
// entirely.
package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
)

// Weights are the composite coefficients, in input order: critical
// path, PageRank, betweenness, urgency, days-in-doing staleness.
type Weights struct {
	CritPath    float64 `json:"crit_path"`
	PageRank    float64 `json:"pagerank"`
	Betweenness float64 `json:"betweenness"`
	Urgency     float64 `json:"urgency"`
	Staleness   float64 `json:"staleness"`
}

// DefaultWeights returns the stock blend (0.25, 0.25, 0.20, 0.15, 0.15).
func DefaultWeights() Weights {
	return Weights{CritPath: 0.25, PageRank: 0.25, Betweenness: 0.20, Urgency: 0.15, Staleness: 0.15}
}

// Input is one item's raw scoring signals, gathered by the caller from
// the projection and the metric passes.
type Input struct {
	ItemID      bn.ItemID
	Urgency     event.Urgency
	UpdatedAtUs int64

	// Raw metric values; Rank normalizes them over the active set.
	CritPath    float64
	PageRank    float64
	Betweenness float64

	// DaysInDoing is how long the item has sat in the doing phase;
	// zero for items not in doing.
	DaysInDoing float64

	// ActiveBlockers counts open or doing blockers; a positive count
	// excludes the item from the unblocked sublist.
	ActiveBlockers int
	// UnblocksActive counts active items this one transitively holds
	// up, used as the first tie-break.
	UnblocksActive int
}

// Ranked is one scored item in final order.
type Ranked struct {
	ItemID         bn.ItemID
	Score          float64
	Blocked        bool
	ActiveBlockers int
	UnblocksActive int
	Explanation    string
}

// driver is one named contribution to the composite, kept so the
// explanation can name the two largest.
type driver struct {
	name  string
	value float64 // weighted contribution
}

// Rank scores and sorts the active item set: score descending, then
// unblocks-active descending, then updated-at descending, then item ID
// ascending.
func Rank(inputs []Input, w Weights) []Ranked {
	cpN := normalizer(inputs, func(in Input) float64 { return in.CritPath })
	prN := normalizer(inputs, func(in Input) float64 { return in.PageRank })
	bcN := normalizer(inputs, func(in Input) float64 { return in.Betweenness })

	out := make([]Ranked, 0, len(inputs))
	updated := make(map[bn.ItemID]int64, len(inputs))
	for _, in := range inputs {
		updated[in.ItemID] = in.UpdatedAtUs

		cp := w.CritPath * cpN(in.CritPath)
		pr := w.PageRank * prN(in.PageRank)
		bc := w.Betweenness * bcN(in.Betweenness)
		u := w.Urgency * urgencyValue(in.Urgency)
		d := w.Staleness * clamp01(in.DaysInDoing/14)

		score := cp + pr + bc + u + d
		switch in.Urgency {
		case event.UrgencyUrgent:
			score = math.Inf(1)
		case event.UrgencyPunt:
			score = math.Inf(-1)
		}

		drivers := []driver{
			{"critical path", cp},
			{"pagerank", pr},
			{"betweenness", bc},
			{"urgency", u},
			{"staleness", d},
		}
		out = append(out, Ranked{
			ItemID:         in.ItemID,
			Score:          score,
			Blocked:        in.ActiveBlockers > 0,
			ActiveBlockers: in.ActiveBlockers,
			UnblocksActive: in.UnblocksActive,
			Explanation:    explain(in, drivers),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.UnblocksActive != b.UnblocksActive {
			return a.UnblocksActive > b.UnblocksActive
		}
		if updated[a.ItemID] != updated[b.ItemID] {
			return updated[a.ItemID] > updated[b.ItemID]
		}
		return a.ItemID < b.ItemID
	})
	return out
}

// Unblocked filters a ranked list down to items with no active
// blockers, preserving order.
func Unblocked(ranked []Ranked) []Ranked {
	out := make([]Ranked, 0, len(ranked))
	for _, r := range ranked {
		if !r.Blocked {
			out = append(out, r)
		}
	}
	return out
}

// normalizer returns a min-max normalizer over the active set for one
// signal. A flat signal maps everything to zero rather than dividing
// by zero.
func normalizer(inputs []Input, get func(Input) float64) func(float64) float64 {
	if len(inputs) == 0 {
		return func(float64) float64 { return 0 }
	}
	lo, hi := get(inputs[0]), get(inputs[0])
	for _, in := range inputs[1:] {
		v := get(in)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return func(float64) float64 { return 0 }
	}
	span := hi - lo
	return func(v float64) float64 { return (v - lo) / span }
}

func urgencyValue(u event.Urgency) float64 {
	switch u {
	case event.UrgencyUrgent:
		return 1.0
	case event.UrgencyPunt:
		return 0.0
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// explain names the two largest weighted drivers, or the override for
// urgent/punt items, plus the blocker status.
func explain(in Input, drivers []driver) string {
	var head string
	switch in.Urgency {
	case event.UrgencyUrgent:
		head = "urgent override"
	case event.UrgencyPunt:
		head = "punted"
	default:
		sort.SliceStable(drivers, func(i, j int) bool { return drivers[i].value > drivers[j].value })
		head = fmt.Sprintf("driven by %s and %s", drivers[0].name, drivers[1].name)
	}
	if in.ActiveBlockers > 0 {
		return fmt.Sprintf("%s; blocked by %d active item(s)", head, in.ActiveBlockers)
	}
	return head + "; unblocked"
}
