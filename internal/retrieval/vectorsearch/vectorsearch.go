// Package vectorsearch implements semantic retrieval (§4.6, C6): embeds (or
// accepts a precomputed) query vector, asks the vector index for nearest
// neighbors, and projects hits onto domain.SearchResult after collection,
// tag, and language filtering.
package vectorsearch

import (
	"context"
	"sort"

	"github.com/groundwork-rag/groundwork/internal/chunklookup"
	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
	"github.com/groundwork-rag/groundwork/internal/scoring"
)

// queryPrefix is prepended before embedding a raw query string (§4.6). It is
// never applied to a caller-supplied precomputed vector.
const queryPrefix = "task: search result | query: "

// tagFilterKInflation compensates ANN recall loss from post-filtering when
// tag filters are active (§4.6: "inflate the ANN k by a small factor").
const tagFilterKInflation = 3

// Options configures Search (§4.6).
type Options struct {
	Limit      int
	MinScore   float64
	Collection string
	Lang       string
	Full       bool
	TagsAll    []string
	TagsAny    []string

	// PrecomputedVector skips embedding entirely when the caller has already
	// embedded this query (e.g. the hybrid orchestrator embeds once and
	// reuses the vector for variants).
	PrecomputedVector []float32
}

// Meta describes a vector-only result set.
type Meta struct {
	Query        string
	Mode         string
	TotalResults int
	Collection   string
	Lang         string
}

// Results is the vector retrieval outcome.
type Results struct {
	Results []domain.SearchResult
	Meta    Meta
}

// candidate is a resolved (document, chunk) pair with its normalized score,
// carried through filtering, full-mode collapse, and projection.
type candidate struct {
	doc     *domain.Document
	chunk   *domain.Chunk
	score   float64
	content string // populated only in full mode, after collapse
}

// Search runs the vector retrieval protocol (§4.6).
func Search(ctx context.Context, store port.StorePort, index port.VectorIndexPort, embedder port.EmbeddingPort, query string, opts Options) (*Results, error) {
	if !index.Available() {
		return nil, errs.VecUnavailable("vector search is unavailable")
	}

	vec, err := resolveQueryVector(ctx, embedder, query, opts.PrecomputedVector)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to embed query", err)
	}

	k := opts.Limit
	if len(opts.TagsAll) > 0 || len(opts.TagsAny) > 0 {
		k *= tagFilterKInflation
	}

	var minScore *float64
	if opts.MinScore > 0 {
		ms := opts.MinScore
		minScore = &ms
	}

	hits, err := index.SearchNearest(ctx, vec, k, minScore)
	if err != nil {
		return nil, errs.QueryFailedErr("vector search failed", err)
	}

	docsByHash, err := documentsByMirrorHash(ctx, store, opts)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if !seen[h.MirrorHash] {
			seen[h.MirrorHash] = true
			hashes = append(hashes, h.MirrorHash)
		}
	}
	chunksByHash, err := store.GetChunksBatch(ctx, hashes)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to batch-fetch chunks", err)
	}
	lookup := chunklookup.NewTable(chunksByHash)

	var candidates []candidate
	for _, h := range hits {
		docs, ok := docsByHash[h.MirrorHash]
		if !ok {
			continue
		}
		chunk, _ := lookup.Get(h.MirrorHash, h.Seq)
		if opts.Lang != "" && (chunk == nil || chunk.Language == "" || chunk.Language != opts.Lang) {
			continue
		}
		score := scoring.NormalizeVectorDistance(float64(h.Distance))
		for _, doc := range docs {
			candidates = append(candidates, candidate{doc: doc, chunk: chunk, score: score})
		}
	}

	if opts.Full {
		candidates, err = collapseByDocidAndFetchContent(ctx, store, candidates)
		if err != nil {
			return nil, err
		}
	}

	results := make([]domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.score < opts.MinScore {
			continue
		}
		results = append(results, projectResult(c))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return scoring.LessTieBreak(results[i].Score, results[j].Score, results[i].Docid, results[j].Docid)
	})

	return &Results{
		Results: results,
		Meta: Meta{
			Query:        query,
			Mode:         "vector",
			TotalResults: len(results),
			Collection:   opts.Collection,
			Lang:         opts.Lang,
		},
	}, nil
}

// RankedKeys runs embedding and nearest-neighbor search only, skipping the
// document/chunk resolution and filtering in Search, and returns the hits as
// a rank-ordered key list plus the query vector that produced them, the
// shape C9 needs to feed fusion (§4.9 step 3) and to reuse across variant
// and HyDE vector searches without re-embedding identical text.
func RankedKeys(ctx context.Context, index port.VectorIndexPort, embedder port.EmbeddingPort, query string, opts Options) ([]domain.ChunkKey, []float32, error) {
	if !index.Available() {
		return nil, nil, errs.VecUnavailable("vector search is unavailable")
	}

	vec, err := resolveQueryVector(ctx, embedder, query, opts.PrecomputedVector)
	if err != nil {
		return nil, nil, errs.QueryFailedErr("failed to embed query", err)
	}

	k := opts.Limit
	if len(opts.TagsAll) > 0 || len(opts.TagsAny) > 0 {
		k *= tagFilterKInflation
	}

	var minScore *float64
	if opts.MinScore > 0 {
		ms := opts.MinScore
		minScore = &ms
	}

	hits, err := index.SearchNearest(ctx, vec, k, minScore)
	if err != nil {
		return nil, nil, errs.QueryFailedErr("vector search failed", err)
	}

	keys := make([]domain.ChunkKey, len(hits))
	for i, h := range hits {
		keys[i] = domain.ChunkKey{MirrorHash: h.MirrorHash, Seq: h.Seq}
	}
	return keys, vec, nil
}

func resolveQueryVector(ctx context.Context, embedder port.EmbeddingPort, query string, precomputed []float32) ([]float32, error) {
	if precomputed != nil {
		return precomputed, nil
	}
	return embedder.Embed(ctx, queryPrefix+query)
}

// documentsByMirrorHash builds the mirror_hash -> []Document map from §4.6
// step 5, filtered by collection, tags, and active status. Multiple
// documents may legitimately share a mirror_hash (§3).
func documentsByMirrorHash(ctx context.Context, store port.StorePort, opts Options) (map[string][]*domain.Document, error) {
	docs, err := store.ListDocuments(ctx, opts.Collection)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to list documents", err)
	}

	var tagsByDocid map[string][]domain.Tag
	if len(opts.TagsAll) > 0 || len(opts.TagsAny) > 0 {
		docids := make([]string, 0, len(docs))
		for _, d := range docs {
			docids = append(docids, d.Docid)
		}
		tagsByDocid, err = store.GetTagsBatch(ctx, docids)
		if err != nil {
			return nil, errs.QueryFailedErr("failed to batch-fetch tags", err)
		}
	}

	out := make(map[string][]*domain.Document)
	for _, d := range docs {
		if !d.Active || d.MirrorHash == "" {
			continue
		}
		if !passesTagFilters(d, tagsByDocid, opts) {
			continue
		}
		out[d.MirrorHash] = append(out[d.MirrorHash], d)
	}
	return out, nil
}

func passesTagFilters(d *domain.Document, tagsByDocid map[string][]domain.Tag, opts Options) bool {
	if len(opts.TagsAll) == 0 && len(opts.TagsAny) == 0 {
		return true
	}
	present := make(map[string]bool)
	for _, t := range tagsByDocid[d.Docid] {
		present[t.Value] = true
	}
	for _, tag := range opts.TagsAll {
		if !present[tag] {
			return false
		}
	}
	if len(opts.TagsAny) > 0 {
		any := false
		for _, tag := range opts.TagsAny {
			if present[tag] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// collapseByDocidAndFetchContent implements §4.6 step 6's full-mode path:
// one row per docid keeping the highest-scoring chunk, with full mirror
// content substituted in place of the chunk snippet.
func collapseByDocidAndFetchContent(ctx context.Context, store port.StorePort, candidates []candidate) ([]candidate, error) {
	bestIdx := make(map[string]int, len(candidates))
	var order []string
	for i, c := range candidates {
		docid := c.doc.Docid
		if existing, ok := bestIdx[docid]; ok {
			if c.score > candidates[existing].score {
				bestIdx[docid] = i
			}
			continue
		}
		bestIdx[docid] = i
		order = append(order, docid)
	}

	out := make([]candidate, 0, len(order))
	contentCache := make(map[string]string, len(order))
	for _, docid := range order {
		c := candidates[bestIdx[docid]]
		content, ok := contentCache[c.doc.MirrorHash]
		if !ok {
			var err error
			content, err = store.GetContent(ctx, c.doc.MirrorHash)
			if err != nil {
				return nil, errs.QueryFailedErr("failed to fetch full content", err)
			}
			contentCache[c.doc.MirrorHash] = content
		}
		c.content = content
		c.chunk = nil
		out = append(out, c)
	}
	return out, nil
}

func projectResult(c candidate) domain.SearchResult {
	result := domain.SearchResult{
		Docid: c.doc.Docid,
		Score: c.score,
		URI:   c.doc.URI,
		Title: c.doc.Title,
		Source: domain.Source{
			Mime:    c.doc.Mime,
			Ext:     c.doc.Ext,
			Size:    c.doc.Size,
			Mtime:   c.doc.Mtime,
			SrcHash: c.doc.SrcHash,
		},
	}
	if c.doc.ConverterID != "" {
		result.Conversion = &domain.Conversion{MirrorHash: c.doc.MirrorHash, ConverterID: c.doc.ConverterID, ConverterVersion: c.doc.ConverterVersion}
	}
	if c.content != "" {
		result.Snippet = c.content
		return result
	}
	if c.chunk != nil {
		result.Snippet = c.chunk.Text
		result.SnippetLanguage = c.chunk.Language
		result.SnippetRange = &domain.SnippetRange{StartLine: c.chunk.StartLine, EndLine: c.chunk.EndLine}
	}
	return result
}
