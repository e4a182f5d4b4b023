// Package feedback learns per-agent composite-scorer weights from
// accept/skip decisions on ranked items. Each scoring driver carries a
// Beta posterior; sampling from the posteriors yields the weight
// vector that seeds the agent's next ranking, so drivers that keep
// producing accepted recommendations gradually earn more of the blend.
package feedback

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/score"
)

// Driver names one component of the composite score.
type Driver string

const (
	DriverCritPath    Driver = "crit_path"
	DriverPageRank    Driver = "pagerank"
	DriverBetweenness Driver = "betweenness"
	DriverUrgency     Driver = "urgency"
	DriverStaleness   Driver = "staleness"
)

var allDrivers = []Driver{DriverCritPath, DriverPageRank, DriverBetweenness, DriverUrgency, DriverStaleness}

// Beta is the posterior over one driver's usefulness.
type Beta struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns the posterior mean α/(α+β).
func (b Beta) Mean() float64 { return b.Alpha / (b.Alpha + b.Beta) }

// Profile is one agent's learned posterior state.
type Profile struct {
	Agent      bn.AgentID      `json:"agent"`
	Posteriors map[Driver]Beta `json:"posteriors"`
	Accepts    int             `json:"accepts"`
	Skips      int             `json:"skips"`
}

// NewProfile starts an agent at the uniform prior Beta(1, 1) on every
// driver.
func NewProfile(agent bn.AgentID) *Profile {
	p := &Profile{Agent: agent, Posteriors: make(map[Driver]Beta, len(allDrivers))}
	for _, d := range allDrivers {
		p.Posteriors[d] = Beta{Alpha: 1, Beta: 1}
	}
	return p
}

// Observe updates the posteriors for one accept/skip decision. The
// drivers that argued for the item (its two explanation drivers, or
// all of them for an override) are credited on accept and debited on
// skip.
func (p *Profile) Observe(accepted bool, drivers []Driver) {
	if accepted {
		p.Accepts++
	} else {
		p.Skips++
	}
	for _, d := range drivers {
		post, ok := p.Posteriors[d]
		if !ok {
			post = Beta{Alpha: 1, Beta: 1}
		}
		if accepted {
			post.Alpha++
		} else {
			post.Beta++
		}
		p.Posteriors[d] = post
	}
}

// SampleWeights draws one weight vector from the posteriors (Thompson
// sampling) and normalizes it to sum to 1 so the blend stays
// comparable across agents. The rng is injected for deterministic
// replay in tests.
func (p *Profile) SampleWeights(rng *rand.Rand) score.Weights {
	draw := make(map[Driver]float64, len(allDrivers))
	var sum float64
	for _, d := range allDrivers {
		post, ok := p.Posteriors[d]
		if !ok {
			post = Beta{Alpha: 1, Beta: 1}
		}
		v := sampleBeta(rng, post.Alpha, post.Beta)
		draw[d] = v
		sum += v
	}
	if sum == 0 {
		return score.DefaultWeights()
	}
	return score.Weights{
		CritPath:    draw[DriverCritPath] / sum,
		PageRank:    draw[DriverPageRank] / sum,
		Betweenness: draw[DriverBetweenness] / sum,
		Urgency:     draw[DriverUrgency] / sum,
		Staleness:   draw[DriverStaleness] / sum,
	}
}

// sampleBeta draws from Beta(a, b) via two gamma draws.
func sampleBeta(rng *rand.Rand, a, b float64) float64 {
	x := sampleGamma(rng, a)
	y := sampleGamma(rng, b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) with the Marsaglia-Tsang
// method, boosting shape < 1 through the standard power transform.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Store persists profiles under <dir>/<encoded-agent>.json with the
// write-tmp-then-rename discipline used everywhere else in the
// project.
type Store struct {
	Dir string
}

// Load returns the agent's profile, or a fresh prior if none is
// persisted yet.
func (s Store) Load(agent bn.AgentID) (*Profile, error) {
	data, err := os.ReadFile(s.path(agent)) // #nosec G304 -- path is project-local and agent-encoded
	if err != nil {
		if os.IsNotExist(err) {
			return NewProfile(agent), nil
		}
		return nil, fmt.Errorf("feedback: reading profile for %s: %w", agent, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("feedback: parsing profile for %s: %w", agent, err)
	}
	if p.Posteriors == nil {
		p.Posteriors = NewProfile(agent).Posteriors
	}
	return &p, nil
}

// Save atomically replaces the agent's profile file.
func (s Store) Save(p *Profile) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("feedback: creating %s: %w", s.Dir, err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("feedback: marshaling profile: %w", err)
	}
	path := s.path(p.Agent)
	tmp, err := os.CreateTemp(s.Dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("feedback: creating temp profile: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("feedback: writing profile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("feedback: fsyncing profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("feedback: closing profile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("feedback: replacing profile: %w", err)
	}
	return nil
}

// path percent-encodes the agent id so arbitrary identifiers map to
// safe file names.
func (s Store) path(agent bn.AgentID) string {
	return filepath.Join(s.Dir, url.PathEscape(string(agent))+".json")
}
