// Package bm25search implements keyword retrieval (§4.5, C5): it delegates
// to port.StorePort's full-text index, batch-resolves chunk text, dedups and
// normalizes, and projects everything onto domain.SearchResult.
package bm25search

import (
	"context"
	"fmt"
	"sort"

	"github.com/groundwork-rag/groundwork/internal/chunklookup"
	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
	"github.com/groundwork-rag/groundwork/internal/scoring"
)

// Options configures Search (§4.5).
type Options struct {
	Limit       int
	MinScore    float64
	Collection  string
	Lang        string
	Full        bool
	LineNumbers bool
	TagsAll     []string
	TagsAny     []string
}

// Meta describes a bm25-only result set (§4.9: mode is always "bm25" here;
// the hybrid orchestrator reports "bm25_only"/"hybrid" instead).
type Meta struct {
	Query         string
	Mode          string
	TotalResults  int
	Collection    string
	Lang          string
	QueryLanguage string
}

// Results is the BM25 retrieval outcome.
type Results struct {
	Results []domain.SearchResult
	Meta    Meta
}

// row is an internal working record carrying both the raw FTS row and its
// resolved chunk, kept together until normalization and projection.
type row struct {
	fts   port.FtsRow
	chunk *domain.Chunk
}

// Search runs the BM25 retrieval protocol against store (§4.5).
func Search(ctx context.Context, store port.StorePort, query string, opts Options) (*Results, error) {
	snippet := !(opts.Full || opts.LineNumbers)

	ftsRows, err := store.SearchFts(ctx, query, port.FtsOptions{
		Limit:      opts.Limit * 2,
		Collection: opts.Collection,
		Language:   opts.Lang,
		Snippet:    snippet,
		TagsAll:    opts.TagsAll,
		TagsAny:    opts.TagsAny,
	})
	if err != nil {
		if errs.GetCode(err) == errs.InvalidInput {
			return nil, err
		}
		return nil, errs.QueryFailedErr("bm25 search failed", err)
	}

	deduped := dedupeByURIOrFallback(ftsRows)

	hashes := make([]string, 0, len(deduped))
	seen := make(map[string]bool, len(deduped))
	for _, r := range deduped {
		if !seen[r.MirrorHash] {
			seen[r.MirrorHash] = true
			hashes = append(hashes, r.MirrorHash)
		}
	}
	chunksByHash, err := store.GetChunksBatch(ctx, hashes)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to batch-fetch chunks", err)
	}
	lookup := chunklookup.NewTable(chunksByHash)

	rows := make([]row, 0, len(deduped))
	for _, r := range deduped {
		chunk, _ := lookup.Get(r.MirrorHash, r.Seq)
		rows = append(rows, row{fts: r, chunk: chunk})
	}

	if opts.Full {
		rows = collapseByDocidBestScore(rows)
		for i := range rows {
			content, err := store.GetContent(ctx, rows[i].fts.MirrorHash)
			if err != nil {
				return nil, errs.QueryFailedErr("failed to fetch full content", err)
			}
			rows[i].fts.Snippet = content
		}
	}

	scores := make([]float64, len(rows))
	for i, r := range rows {
		scores[i] = r.fts.Score
	}
	normalized := scoring.NormalizeMinMaxBM25(scores)

	results := make([]domain.SearchResult, 0, len(rows))
	for i, r := range rows {
		if normalized[i] < opts.MinScore {
			continue
		}
		results = append(results, projectResult(r, normalized[i], opts.Full))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return scoring.LessTieBreak(results[i].Score, results[j].Score, tieKey(results[i]), tieKey(results[j]))
	})

	return &Results{
		Results: results,
		Meta: Meta{
			Query:        query,
			Mode:         "bm25",
			TotalResults: len(results),
			Collection:   opts.Collection,
			Lang:         opts.Lang,
		},
	}, nil
}

// RankedKeys runs the FTS delegation and dedup steps only (§4.5 steps 1-3)
// and returns the surviving rows as a rank-ordered key list, the shape C9
// needs to feed fusion (§4.9 step 3), as opposed to Search's fully projected
// SearchResult set. opts.Limit is used as-is here; callers that want the
// "limit x2" retrieval headroom from §4.9 must pass that already doubled.
func RankedKeys(ctx context.Context, store port.StorePort, query string, opts Options) ([]domain.ChunkKey, error) {
	ftsRows, err := store.SearchFts(ctx, query, port.FtsOptions{
		Limit:      opts.Limit,
		Collection: opts.Collection,
		Language:   opts.Lang,
		Snippet:    false,
		TagsAll:    opts.TagsAll,
		TagsAny:    opts.TagsAny,
	})
	if err != nil {
		if errs.GetCode(err) == errs.InvalidInput {
			return nil, err
		}
		return nil, errs.QueryFailedErr("bm25 search failed", err)
	}

	deduped := dedupeByURIOrFallback(ftsRows)
	sort.SliceStable(deduped, func(i, j int) bool {
		return scoring.LessTieBreak(-deduped[i].Score, -deduped[j].Score,
			fmt.Sprintf("%s:%d", deduped[i].MirrorHash, deduped[i].Seq),
			fmt.Sprintf("%s:%d", deduped[j].MirrorHash, deduped[j].Seq))
	})

	keys := make([]domain.ChunkKey, len(deduped))
	for i, r := range deduped {
		keys[i] = domain.ChunkKey{MirrorHash: r.MirrorHash, Seq: r.Seq}
	}
	return keys, nil
}

func tieKey(r domain.SearchResult) string {
	if r.SnippetRange != nil {
		return fmt.Sprintf("%s:%d", r.Docid, r.SnippetRange.StartLine)
	}
	return r.Docid
}

// dedupeByURIOrFallback implements §4.5 step 3: prefer (uri, seq), falling
// back to (mirror_hash, seq, rel_path) when uri is absent.
func dedupeByURIOrFallback(rows []port.FtsRow) []port.FtsRow {
	seen := make(map[string]bool, len(rows))
	out := make([]port.FtsRow, 0, len(rows))
	for _, r := range rows {
		key := r.URI
		if key == "" {
			key = fmt.Sprintf("%s\x00%d\x00%s", r.MirrorHash, r.Seq, r.RelPath)
		} else {
			key = fmt.Sprintf("%s\x00%d", key, r.Seq)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// collapseByDocidBestScore implements §4.5 step 4: in full mode, one row
// per docid, keeping the most-negative (best) FTS score.
func collapseByDocidBestScore(rows []row) []row {
	bestIdx := make(map[string]int, len(rows))
	var order []string
	for i, r := range rows {
		docid := r.fts.Docid
		if existing, ok := bestIdx[docid]; ok {
			if r.fts.Score < rows[existing].fts.Score {
				bestIdx[docid] = i
			}
			continue
		}
		bestIdx[docid] = i
		order = append(order, docid)
	}
	out := make([]row, 0, len(order))
	for _, docid := range order {
		out = append(out, rows[bestIdx[docid]])
	}
	return out
}

func projectResult(r row, score float64, full bool) domain.SearchResult {
	result := domain.SearchResult{
		Docid:   r.fts.Docid,
		Score:   score,
		URI:     r.fts.URI,
		Title:   r.fts.Title,
		Snippet: r.fts.Snippet,
		Source:  r.fts.Source,
	}
	if full {
		result.SnippetRange = nil
		return result
	}
	if r.chunk != nil {
		result.SnippetLanguage = r.chunk.Language
		result.SnippetRange = &domain.SnippetRange{StartLine: r.chunk.StartLine, EndLine: r.chunk.EndLine}
		if result.Snippet == "" {
			result.Snippet = r.chunk.Text
		}
	}
	return result
}
