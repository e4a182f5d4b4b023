// Package config holds the in-process tunables for the engine. The
// core never reads config files itself; the embedding CLI populates
// Config from its own config layer and passes it in.
package config

import (
	"time"

	"github.com/bones-project/bones/internal/score"
)

// Config collects every tunable a caller can set. Zero values are not
// meaningful; start from DefaultConfig and override fields.
type Config struct {
	// LockTimeout bounds advisory-lock acquisition for appends and
	// rotation.
	LockTimeout time.Duration

	// CompactMinAge is how long an item must have been done or
	// archived before compaction may snapshot it.
	CompactMinAge time.Duration

	// CompactConcurrency bounds the compaction worker pool.
	CompactConcurrency int

	// ScoreWeights is the composite-priority blend.
	ScoreWeights score.Weights

	// RRFK is the reciprocal-rank-fusion constant.
	RRFK int

	// SearchLimit caps candidates per rank source during search.
	SearchLimit int

	// DuplicateCutoff and RelatedCutoff threshold the fused score into
	// duplicate classifications; fused scores at or above
	// DuplicateCutoff classify as likely duplicates, and so on down.
	DuplicateCutoff    float64
	RelatedCutoff      float64
	MaybeRelatedCutoff float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		LockTimeout:        5 * time.Second,
		CompactMinAge:      30 * 24 * time.Hour,
		CompactConcurrency: 5,
		ScoreWeights:       score.DefaultWeights(),
		RRFK:               60,
		SearchLimit:        50,
		DuplicateCutoff:    0.045,
		RelatedCutoff:      0.03,
		MaybeRelatedCutoff: 0.015,
	}
}
