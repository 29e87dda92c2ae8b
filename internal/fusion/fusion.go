// Package fusion implements Reciprocal Rank Fusion over weighted, tagged
// ranked lists (§4.7, C7). It is deliberately independent of the retrieval
// packages (C5/C6): it only ever sees ranked (mirror_hash, seq) lists
// tagged by source, matching §5's ordering guarantee ("ranked inputs to
// fusion are consumed in the order they are built").
package fusion

import (
	"sort"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/scoring"
)

// Source tags a ranked list by where it came from (§4.7).
type Source string

const (
	SourceBM25         Source = "bm25"
	SourceBM25Variant  Source = "bm25_variant"
	SourceVector       Source = "vector"
	SourceVectorVariant Source = "vector_variant"
	SourceHyDE         Source = "hyde"
)

// sourceOrder fixes a deterministic iteration/printing order for a
// candidate's Sources slice, independent of map iteration order.
var sourceOrder = []Source{SourceBM25, SourceBM25Variant, SourceVector, SourceVectorVariant, SourceHyDE}

func isBM25Source(s Source) bool {
	return s == SourceBM25 || s == SourceBM25Variant
}

func isVectorSource(s Source) bool {
	return s == SourceVector || s == SourceVectorVariant || s == SourceHyDE
}

// RankedList is a single ranked input to fusion: Items[i] has 1-based rank
// i+1.
type RankedList struct {
	Source Source
	Items  []domain.ChunkKey
}

// Config holds the weights, RRF constant, and top-rank bonus tuning from
// §4.7. Defaults match the spec exactly.
type Config struct {
	WBM25            float64
	WVec             float64
	K                int
	TopRankBonus     float64
	TopRankThreshold int
}

// DefaultConfig returns the spec's default fusion configuration.
func DefaultConfig() Config {
	return Config{
		WBM25:            1,
		WVec:             1,
		K:                60,
		TopRankBonus:     0.1,
		TopRankThreshold: 5,
	}
}

func (c Config) weight(source Source) float64 {
	switch source {
	case SourceBM25:
		return 2 * c.WBM25
	case SourceBM25Variant:
		return 0.5 * c.WBM25
	case SourceVector:
		return 2 * c.WVec
	case SourceVectorVariant:
		return 0.5 * c.WVec
	case SourceHyDE:
		return 0.7 * c.WVec
	default:
		return 0
	}
}

// Candidate is a fusion candidate (§3): unique per (mirror_hash, seq).
type Candidate struct {
	Key         domain.ChunkKey
	BM25Rank    *int
	VecRank     *int
	FusionScore float64
	Sources     []Source

	hasRank1  bool
	hasTopN   bool
	sourceSet map[Source]bool
}

// Fuse combines the given ranked lists using weighted, tiered RRF (§4.7).
// Lists are processed in the order given; the output is fully sorted and
// deterministic (§8: "two runs on the same ranked inputs yield the same
// order byte-for-byte").
func Fuse(lists []RankedList, cfg Config) []*Candidate {
	if cfg.K <= 0 {
		cfg.K = 60
	}

	byKey := make(map[domain.ChunkKey]*Candidate)
	var order []domain.ChunkKey // first-seen order, for determinism before sort

	for _, list := range lists {
		weight := cfg.weight(list.Source)
		for i, key := range list.Items {
			rank := i + 1

			cand, ok := byKey[key]
			if !ok {
				cand = &Candidate{Key: key, sourceSet: make(map[Source]bool)}
				byKey[key] = cand
				order = append(order, key)
			}

			cand.FusionScore += scoring.RRFContribution(rank, cfg.K, weight)

			if !cand.sourceSet[list.Source] {
				cand.sourceSet[list.Source] = true
			}

			if isBM25Source(list.Source) {
				if cand.BM25Rank == nil || rank < *cand.BM25Rank {
					r := rank
					cand.BM25Rank = &r
				}
			}
			if isVectorSource(list.Source) {
				if cand.VecRank == nil || rank < *cand.VecRank {
					r := rank
					cand.VecRank = &r
				}
			}

			switch {
			case rank == 1:
				cand.hasRank1 = true
			case rank <= cfg.TopRankThreshold:
				cand.hasTopN = true
			}
		}
	}

	out := make([]*Candidate, 0, len(order))
	for _, key := range order {
		cand := byKey[key]
		if cand.hasRank1 {
			cand.FusionScore += cfg.TopRankBonus
		} else if cand.hasTopN {
			cand.FusionScore += 0.4 * cfg.TopRankBonus
		}
		cand.Sources = sourcesInFixedOrder(cand.sourceSet)
		cand.sourceSet = nil
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return scoring.LessTieBreak(out[i].FusionScore, out[j].FusionScore, out[i].Key.String(), out[j].Key.String())
	})

	return out
}

func sourcesInFixedOrder(set map[Source]bool) []Source {
	out := make([]Source, 0, len(set))
	for _, s := range sourceOrder {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
