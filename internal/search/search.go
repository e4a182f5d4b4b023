// Package search answers "what looks like this" questions by fusing
// several rank sources — FTS5 BM25, embedding cosine similarity,
// structural overlap, and normalized-title slug matching — with
// reciprocal-rank fusion, then thresholds the fused score into
// duplicate classifications. The semantic source is optional: with no
// embedder or no stored vectors it silently drops out and the other
// sources carry the query.
package search

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/graph"
	"github.com/bones-project/bones/internal/idgen"
	"github.com/bones-project/bones/internal/projection"
)

// Embedder turns text into a vector comparable against the projection's
// item_embeddings column. Implementations live outside the core.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Classification buckets a fused score.
type Classification string

const (
	LikelyDuplicate Classification = "likely_duplicate"
	PossiblyRelated Classification = "possibly_related"
	MaybeRelated    Classification = "maybe_related"
	None            Classification = "none"
)

// Options tunes a search.
type Options struct {
	// Limit caps candidates taken from each rank source.
	Limit int
	// RRFK is the reciprocal-rank-fusion constant.
	RRFK int
	// Cutoffs map fused scores to classifications, highest first.
	DuplicateCutoff    float64
	RelatedCutoff      float64
	MaybeRelatedCutoff float64
}

// Result is one fused hit.
type Result struct {
	ItemID         bn.ItemID
	Score          float64
	Classification Classification
	// Sources names the rank lists the item appeared in.
	Sources []string
}

// Engine composes the rank sources over one projection database.
type Engine struct {
	DB       *sql.DB
	Graph    *graph.RawGraph // optional; enables the structural source
	Embedder Embedder        // optional; enables the semantic source
	Options  Options
}

// Query runs the full pipeline for a free-text query.
func (e *Engine) Query(ctx context.Context, query string) ([]Result, error) {
	limit := e.Options.Limit
	if limit <= 0 {
		limit = 50
	}

	lists := make(map[string][]bn.ItemID, 3)

	lexical, err := projection.LexicalSearch(ctx, e.DB, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: lexical: %w", err)
	}
	var lexIDs []bn.ItemID
	for _, hit := range lexical {
		lexIDs = append(lexIDs, hit.ItemID)
	}
	lists["lexical"] = lexIDs

	if e.Embedder != nil {
		semantic, err := e.semanticRank(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		if semantic != nil {
			lists["semantic"] = semantic
		}
	}

	if e.Graph != nil && len(lexIDs) > 0 {
		structural, err := e.structuralRank(ctx, lexIDs[0], lexIDs, limit)
		if err != nil {
			return nil, err
		}
		if structural != nil {
			lists["structural"] = structural
		}
	}

	return e.fuse(lists), nil
}

// Similar ranks candidates against an existing item: its title and
// description feed the lexical and semantic sources, its edges and
// labels the structural one.
func (e *Engine) Similar(ctx context.Context, id bn.ItemID) ([]Result, error) {
	item, err := projection.GetItem(ctx, e.DB, id)
	if err != nil {
		return nil, fmt.Errorf("search: loading %s: %w", id, err)
	}
	limit := e.Options.Limit
	if limit <= 0 {
		limit = 50
	}

	lists := make(map[string][]bn.ItemID, 3)

	var lexIDs []bn.ItemID
	if q := ftsAnyTerm(item.Title); q != "" {
		lexical, err := projection.LexicalSearch(ctx, e.DB, q, limit+1)
		if err != nil {
			return nil, fmt.Errorf("search: lexical: %w", err)
		}
		for _, hit := range lexical {
			if hit.ItemID != id {
				lexIDs = append(lexIDs, hit.ItemID)
			}
		}
	}
	lists["lexical"] = lexIDs

	if e.Embedder != nil {
		semantic, err := e.semanticRank(ctx, item.Title+"\n"+item.Description, limit+1)
		if err != nil {
			return nil, err
		}
		semantic = without(semantic, id)
		if semantic != nil {
			lists["semantic"] = semantic
		}
	}

	if e.Graph != nil {
		candidates := lexIDs
		if sem := lists["semantic"]; len(sem) > 0 {
			candidates = union(candidates, sem)
		}
		structural, err := e.structuralRank(ctx, id, candidates, limit)
		if err != nil {
			return nil, err
		}
		if structural != nil {
			lists["structural"] = structural
		}
	}

	// Titles that normalize to the same slug are near-certain
	// duplicates; give them their own rank list so they fuse above
	// items that merely share words.
	slugMatches, err := e.slugRank(ctx, item.Title, lexIDs)
	if err != nil {
		return nil, err
	}
	if slugMatches != nil {
		lists["slug"] = slugMatches
	}

	return e.fuse(lists), nil
}

// slugRank returns the candidates whose normalized title slug equals
// the anchor title's, in ID order.
func (e *Engine) slugRank(ctx context.Context, anchorTitle string, candidates []bn.ItemID) ([]bn.ItemID, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	slugger := idgen.NewSlugger()
	want := slugger.Slug(anchorTitle)
	var out []bn.ItemID
	for _, id := range candidates {
		item, err := projection.GetItem(ctx, e.DB, id)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		if slugger.Slug(item.Title) == want {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// fuse combines the available rank lists: score(id) = Σ 1/(k + rank).
func (e *Engine) fuse(lists map[string][]bn.ItemID) []Result {
	k := e.Options.RRFK
	if k <= 0 {
		k = 60
	}
	scores := make(map[bn.ItemID]float64)
	sources := make(map[bn.ItemID][]string)

	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for rank, id := range lists[name] {
			scores[id] += 1.0 / float64(k+rank+1)
			sources[id] = append(sources[id], name)
		}
	}

	out := make([]Result, 0, len(scores))
	for id, score := range scores {
		out = append(out, Result{
			ItemID:         id,
			Score:          score,
			Classification: e.classify(score),
			Sources:        sources[id],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func (e *Engine) classify(score float64) Classification {
	switch {
	case e.Options.DuplicateCutoff > 0 && score >= e.Options.DuplicateCutoff:
		return LikelyDuplicate
	case e.Options.RelatedCutoff > 0 && score >= e.Options.RelatedCutoff:
		return PossiblyRelated
	case e.Options.MaybeRelatedCutoff > 0 && score >= e.Options.MaybeRelatedCutoff:
		return MaybeRelated
	default:
		return None
	}
}

// semanticRank embeds the query and ranks stored vectors by cosine
// similarity. A nil return with no error means the source is
// unavailable (no vectors stored) and should drop out of fusion.
func (e *Engine) semanticRank(ctx context.Context, text string, limit int) ([]bn.ItemID, error) {
	queryVec, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("search: embedding query: %w", err)
	}
	rows, err := e.DB.QueryContext(ctx, `SELECT item_id, vector FROM item_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("search: loading embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id  bn.ItemID
		sim float64
	}
	var hits []scored
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			continue
		}
		if sim, ok := cosine(queryVec, vec); ok {
			hits = append(hits, scored{id: bn.ItemID(id), sim: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]bn.ItemID, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out, nil
}

// structuralRank orders candidates by overlap with the anchor item:
// Jaccard of labels, assignees, and blockers, plus a graph-proximity
// bonus for direct dependency neighbors.
func (e *Engine) structuralRank(ctx context.Context, anchor bn.ItemID, candidates []bn.ItemID, limit int) ([]bn.ItemID, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	anchorItem, err := projection.GetItem(ctx, e.DB, anchor)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("search: loading anchor %s: %w", anchor, err)
	}
	anchorBlockers := e.Graph.BlockedBy(anchor)
	neighbors := make(map[bn.ItemID]bool)
	for _, n := range anchorBlockers {
		neighbors[n] = true
	}
	for _, n := range e.Graph.Blocks(anchor) {
		neighbors[n] = true
	}

	type scored struct {
		id    bn.ItemID
		score float64
	}
	var hits []scored
	for _, id := range candidates {
		if id == anchor {
			continue
		}
		item, err := projection.GetItem(ctx, e.DB, id)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		score := jaccard(anchorItem.Labels, item.Labels) +
			jaccard(anchorItem.Assignees, item.Assignees) +
			jaccardIDs(anchorBlockers, e.Graph.BlockedBy(id))
		if neighbors[id] {
			score += 1.0
		}
		if score > 0 {
			hits = append(hits, scored{id: id, score: score})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]bn.ItemID, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out, nil
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	var inter int
	for _, x := range b {
		if set[x] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func jaccardIDs(a, b []bn.ItemID) float64 {
	as := make([]string, len(a))
	for i, x := range a {
		as[i] = string(x)
	}
	bs := make([]string, len(b))
	for i, x := range b {
		bs[i] = string(x)
	}
	return jaccard(as, bs)
}

// DecodeVector parses the item_embeddings BLOB column: little-endian
// float32s.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("search: vector blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// EncodeVector is DecodeVector's inverse, for writers that store
// embeddings.
func EncodeVector(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func without(ids []bn.ItemID, drop bn.ItemID) []bn.ItemID {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func union(a, b []bn.ItemID) []bn.ItemID {
	seen := make(map[bn.ItemID]bool, len(a))
	out := append([]bn.ItemID(nil), a...)
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ftsAnyTerm turns free text into an OR query of its individual terms,
// each quoted so FTS5 treats them as literals rather than query
// syntax. A phrase query would demand the exact word sequence, which
// is too strict for near-duplicate titles.
func ftsAnyTerm(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
