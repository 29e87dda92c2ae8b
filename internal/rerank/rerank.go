// Package rerank implements cross-encoder reranking and score blending
// (§4.8, C8). It sits directly downstream of fusion (C7): it groups fusion
// candidates into per-document chunk groups, asks a port.RerankPort to score
// the best chunk per document, and blends the (normalized) rerank score with
// the (normalized) fusion score using a positional tier, matching the
// teacher's NoOpReranker/Reranker split in internal/search/reranker.go.
// Absence or failure of a reranker must never fail the query, only degrade
// the blend to fusion-only.
package rerank

import (
	"context"
	"sort"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/fusion"
	"github.com/groundwork-rag/groundwork/internal/port"
	"github.com/groundwork-rag/groundwork/internal/scoring"
)

// maxChunkChars caps the text handed to the reranker per document (§4.8).
const maxChunkChars = 4000

// Config tunes the positional blend tiers (§4.8).
type Config struct {
	TopN int // candidates eligible for reranking; remainder pass through unscored

	Tier1Bound int // inclusive rank bound for the first blend tier
	Tier2Bound int // inclusive rank bound for the second blend tier

	Tier1FusionWeight, Tier1RerankWeight float64
	Tier2FusionWeight, Tier2RerankWeight float64
	Tier3FusionWeight, Tier3RerankWeight float64

	NoRerankPenalty float64 // multiplier applied to fusion score when no rerank score exists
}

// DefaultConfig matches §4.8's blend tiers exactly.
func DefaultConfig() Config {
	return Config{
		TopN:              20,
		Tier1Bound:        3,
		Tier2Bound:        10,
		Tier1FusionWeight: 0.75, Tier1RerankWeight: 0.25,
		Tier2FusionWeight: 0.6, Tier2RerankWeight: 0.4,
		Tier3FusionWeight: 0.4, Tier3RerankWeight: 0.6,
		NoRerankPenalty: 0.5,
	}
}

// Result is a fusion candidate after optional reranking and blending (§3).
type Result struct {
	Key          domain.ChunkKey
	FusionScore  float64 // raw, pre-normalization
	RerankScore  *float64
	BlendedScore float64
	Sources      []fusion.Source
	BM25Rank     *int
	VecRank      *int
}

// ChunkText resolves chunk text for a candidate, used to build the
// reranker's per-document input (§4.8: "best chunk per document, truncated
// to 4000 characters").
type ChunkText func(key domain.ChunkKey) (text string, docid string, ok bool)

// Blend reranks the top Config.TopN candidates (by fusion score) and blends
// rerank scores with normalized fusion scores across the full candidate set
// (§4.8). It degrades to a fusion-only blend whenever rerankPort is nil,
// reports itself unavailable, or its Rerank call fails.
func Blend(ctx context.Context, candidates []*fusion.Candidate, query string, chunkText ChunkText, rerankPort port.RerankPort, cfg Config) []*Result {
	results := make([]*Result, len(candidates))
	for i, c := range candidates {
		results[i] = &Result{
			Key:         c.Key,
			FusionScore: c.FusionScore,
			Sources:     c.Sources,
			BM25Rank:    c.BM25Rank,
			VecRank:     c.VecRank,
		}
	}

	rerankerRan := false
	if rerankAvailable(ctx, rerankPort) {
		rerankerRan = rerankTopN(ctx, results, query, chunkText, rerankPort, cfg.TopN)
	}

	blendScores(results, cfg, rerankerRan)

	sort.SliceStable(results, func(i, j int) bool {
		return scoring.LessTieBreak(results[i].BlendedScore, results[j].BlendedScore, results[i].Key.String(), results[j].Key.String())
	})

	return results
}

func rerankAvailable(ctx context.Context, rerankPort port.RerankPort) bool {
	if rerankPort == nil {
		return false
	}
	return rerankPort.Available(ctx)
}

// rerankTopN groups the first topN results by document, truncates each
// document's best chunk to maxChunkChars, sends one document per rerank
// input, and scatters scores back onto every result sharing that document.
// Failure (chunk-fetch or reranker error) leaves RerankScore nil for all of
// them, degrading to the fusion-only path for this call. It reports whether
// the reranker returned scores.
func rerankTopN(ctx context.Context, results []*Result, query string, chunkText ChunkText, rerankPort port.RerankPort, topN int) bool {
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}
	head := results[:topN]

	type docGroup struct {
		docid   string
		text    string
		members []*Result
	}
	order := make([]string, 0, len(head))
	groups := make(map[string]*docGroup, len(head))

	for _, r := range head {
		text, docid, ok := chunkText(r.Key)
		if !ok {
			continue
		}
		g, exists := groups[docid]
		if !exists {
			g = &docGroup{docid: docid, text: truncate(text, maxChunkChars)}
			groups[docid] = g
			order = append(order, docid)
		}
		g.members = append(g.members, r)
	}
	if len(order) == 0 {
		return false
	}

	docs := make([]string, len(order))
	for i, docid := range order {
		docs[i] = groups[docid].text
	}

	hits, err := rerankPort.Rerank(ctx, query, docs)
	if err != nil {
		return false
	}

	for _, hit := range hits {
		if hit.Index < 0 || hit.Index >= len(order) {
			continue
		}
		score := hit.Score
		for _, member := range groups[order[hit.Index]].members {
			member.RerankScore = &score
		}
	}
	return true
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}

// blendScores normalizes fusion scores (globally, across all candidates) and
// rerank scores (over the subset that has one), then applies the positional
// tier blend (§4.8 step 6). When no reranker ran at all, the blend is just
// normalize_minmax(fusion_score) for every candidate (§4.8 step 1), no
// penalty. The NoRerankPenalty only applies to the remainder left unscored
// by a reranker that did run (§4.8 step 6's "remaining bucket").
func blendScores(results []*Result, cfg Config, rerankerRan bool) {
	if len(results) == 0 {
		return
	}

	fusionRaw := make([]float64, len(results))
	for i, r := range results {
		fusionRaw[i] = r.FusionScore
	}
	fusionNorm := scoring.NormalizeMinMax(fusionRaw)

	var rerankIdx []int
	var rerankRaw []float64
	for i, r := range results {
		if r.RerankScore != nil {
			rerankIdx = append(rerankIdx, i)
			rerankRaw = append(rerankRaw, *r.RerankScore)
		}
	}
	rerankNorm := scoring.NormalizeMinMax(rerankRaw)
	normalizedRerank := make(map[int]float64, len(rerankIdx))
	for j, i := range rerankIdx {
		normalizedRerank[i] = rerankNorm[j]
	}

	for i, r := range results {
		if rn, ok := normalizedRerank[i]; ok {
			fw, rw := tierWeights(i+1, cfg)
			r.BlendedScore = fw*fusionNorm[i] + rw*rn
			continue
		}
		if !rerankerRan {
			r.BlendedScore = clamp01(fusionNorm[i])
			continue
		}
		r.BlendedScore = clamp01(fusionNorm[i] * cfg.NoRerankPenalty)
	}
}

func tierWeights(rank int, cfg Config) (fusionWeight, rerankWeight float64) {
	switch {
	case rank <= cfg.Tier1Bound:
		return cfg.Tier1FusionWeight, cfg.Tier1RerankWeight
	case rank <= cfg.Tier2Bound:
		return cfg.Tier2FusionWeight, cfg.Tier2RerankWeight
	default:
		return cfg.Tier3FusionWeight, cfg.Tier3RerankWeight
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
