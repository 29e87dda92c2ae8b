// Package scoring implements the score-normalization and RRF-contribution
// math specified in §4.1. It has no dependency on any other core package;
// every other component calls into this one.
package scoring

import "math"

// epsilon is the "range too small to normalize meaningfully" threshold used
// throughout §4.1 and §4.8.
const epsilon = 1e-9

// NormalizeMinMaxBM25 normalizes raw BM25 scores to [0, 1] using per-query
// min-max, where "best" is the most negative score (FTS5 convention):
// best = min(s), worst = max(s). If worst-best < epsilon every score maps
// to 1. Otherwise score i maps to clamp((worst - s_i) / (worst - best)).
func NormalizeMinMaxBM25(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	best, worst := scores[0], scores[0]
	for _, s := range scores {
		if s < best {
			best = s
		}
		if s > worst {
			worst = s
		}
	}

	spread := worst - best
	if spread < epsilon {
		for i := range out {
			out[i] = 1
		}
		return out
	}

	for i, s := range scores {
		v := (worst - s) / spread
		out[i] = clamp01(v)
	}
	return out
}

// NormalizeMinMax is the generic ascending-is-better min-max normalization
// used for fusion and rerank scores (§4.8): best = max(s), worst = min(s).
// A single-element input always normalizes to 1 (§8).
func NormalizeMinMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	spread := hi - lo
	if spread < epsilon {
		for i := range out {
			out[i] = 1
		}
		return out
	}

	for i, s := range scores {
		out[i] = clamp01((s - lo) / spread)
	}
	return out
}

// NormalizeVectorDistance maps a cosine distance (0..2) to a [0,1]
// similarity score via 1 - d/2, clamped (§4.1).
func NormalizeVectorDistance(distance float64) float64 {
	return clamp01(1 - distance/2)
}

// StrongSignalSigmoid implements the auxiliary "strong signal" normalization
// from §4.1: sigmoid((|s| - center) / scale). Constants are configurable
// per §9 ("tuned empirically; keep them configurable").
func StrongSignalSigmoid(rawScore, center, scale float64) float64 {
	x := (math.Abs(rawScore) - center) / scale
	return 1 / (1 + math.Exp(-x))
}

// RRFContribution computes the Reciprocal Rank Fusion contribution for a
// 1-based rank r, constant k, and weight w: w / (k + r) (§4.1, GLOSSARY).
func RRFContribution(rank, k int, weight float64) float64 {
	return weight / float64(k+rank)
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

// LessTieBreak implements the deterministic tie-break used in every sort in
// the pipeline: descending score, then ascending "mirror_hash:seq" (§4.1,
// §9). It returns true if a should sort before b.
func LessTieBreak(scoreA, scoreB float64, keyA, keyB string) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	return keyA < keyB
}
