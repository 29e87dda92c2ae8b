// Package hybrid implements the hybrid search orchestrator (§4.9, C9): it
// glues the language detector, expansion, BM25/vector retrieval, fusion, and
// reranking into one fixed pipeline, applies the post-fusion filters, and
// projects the surviving candidates onto domain.SearchResult.
package hybrid

import (
	"context"
	"fmt"

	"github.com/groundwork-rag/groundwork/internal/chunklookup"
	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/expansion"
	"github.com/groundwork-rag/groundwork/internal/fusion"
	"github.com/groundwork-rag/groundwork/internal/langdetect"
	"github.com/groundwork-rag/groundwork/internal/port"
	"github.com/groundwork-rag/groundwork/internal/rerank"
	"github.com/groundwork-rag/groundwork/internal/retrieval/bm25search"
	"github.com/groundwork-rag/groundwork/internal/retrieval/vectorsearch"
	"github.com/groundwork-rag/groundwork/internal/scoring"
)

// defaultLimit is the result count used when the caller leaves
// Options.Limit unset.
const defaultLimit = 10

// Strong-signal tuning (§4.4, §9: "tuned empirically; keep them
// configurable"). StrongSignalTopK bounds how many raw BM25 rows the
// pre-check min-max normalizes before deciding expansion is unnecessary.
// "BM25 already strong" requires both the top normalized score and the
// top-minus-second gap to clear their thresholds; a strong-but-close result
// does not skip.
const (
	defaultStrongSignalTopK         = 5
	defaultStrongSignalTopThreshold = 0.84
	defaultStrongSignalGapThreshold = 0.14
)

// Config bundles every tunable the orchestrator owns, beyond what C7/C8
// already default themselves (§9).
type Config struct {
	Fusion fusion.Config
	Rerank rerank.Config

	StrongSignalTopK         int
	StrongSignalTopThreshold float64
	StrongSignalGapThreshold float64
}

// DefaultConfig returns the spec's default tuning.
func DefaultConfig() Config {
	return Config{
		Fusion:                   fusion.DefaultConfig(),
		Rerank:                   rerank.DefaultConfig(),
		StrongSignalTopK:         defaultStrongSignalTopK,
		StrongSignalTopThreshold: defaultStrongSignalTopThreshold,
		StrongSignalGapThreshold: defaultStrongSignalGapThreshold,
	}
}

// Deps bundles the orchestrator's external collaborators. Index, Embedder,
// Expander, and Reranker are all optional; their absence degrades the
// pipeline gracefully rather than failing the call.
type Deps struct {
	Store    port.StorePort
	Index    port.VectorIndexPort
	Embedder port.EmbeddingPort
	Expander *expansion.Expander
	Reranker port.RerankPort
}

// Options configures a single hybrid Search call (§4.9).
type Options struct {
	Limit      int
	MinScore   float64
	Collection string
	Lang       string // explicit retrieval language filter; also a prompt-language hint
	Full       bool
	TagsAll    []string
	TagsAny    []string

	// QueryLanguageHint wins over Lang for prompt selection only (§4.2,
	// §9's open question: "hint wins for prompt selection, lang wins for
	// retrieval").
	QueryLanguageHint string

	NoExpand           bool
	ExpansionTimeoutMs int

	Explain bool
}

// ExplainResult is one line of the optional per-result explain breakdown
// (§4.9).
type ExplainResult struct {
	Rank        int
	Docid       string
	Score       float64
	BM25Score   *float64
	VecScore    *float64
	RerankScore *float64
}

// Meta describes a hybrid result set (§4.9 step 8).
type Meta struct {
	Mode           string // "hybrid" | "bm25_only"
	Expanded       bool
	Reranked       bool
	VectorsUsed    bool
	TotalResults   int
	Collection     string
	Lang           string
	QueryLanguage  string
	Explain        []string
	ExplainResults []ExplainResult
}

// Results is the hybrid search outcome.
type Results struct {
	Results []domain.SearchResult
	Meta    Meta
}

// Search runs the full hybrid pipeline (§4.9).
func Search(ctx context.Context, deps Deps, query string, opts Options, cfg Config) (*Results, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var explain []string

	queryLanguage := resolvedQueryLanguage(query, opts)
	explain = append(explain, fmt.Sprintf("lang: query_language=%s (hint=%q lang=%q)", queryLanguage, opts.QueryLanguageHint, opts.Lang))

	expanded, didExpand, skippedStrongBM25 := maybeExpand(ctx, deps, query, queryLanguage, opts, cfg)
	if skippedStrongBM25 {
		explain = append(explain, "expansion: skipped (strong BM25)")
	} else {
		explain = append(explain, fmt.Sprintf("expansion: expanded=%t", didExpand))
	}

	lists, vectorUsed, bm25Err := buildRankedLists(ctx, deps, query, opts, limit, expanded, &explain)
	if bm25Err != nil {
		return nil, bm25Err
	}

	candidates := fusion.Fuse(lists, cfg.Fusion)
	explain = append(explain, fmt.Sprintf("fusion: candidates=%d", len(candidates)))

	resolved, err := resolveCandidates(ctx, deps.Store, candidates, opts)
	if err != nil {
		return nil, err
	}

	chunkText := func(key domain.ChunkKey) (string, string, bool) {
		c, ok := resolved.chunks.Get(key.MirrorHash, key.Seq)
		if !ok || c == nil {
			return "", "", false
		}
		docs := resolved.docsByHash[key.MirrorHash]
		if len(docs) == 0 {
			return "", "", false
		}
		return c.Text, docs[0].Docid, true
	}

	blended := rerank.Blend(ctx, candidates, query, chunkText, deps.Reranker, cfg.Rerank)
	reranked := false
	for _, r := range blended {
		if r.RerankScore != nil {
			reranked = true
			break
		}
	}
	explain = append(explain, fmt.Sprintf("rerank: reranked=%t", reranked))

	results, explainResults, err := projectFiltered(ctx, deps.Store, blended, resolved, opts, cfg)
	if err != nil {
		return nil, err
	}

	meta := Meta{
		Mode:          mode(vectorUsed),
		Expanded:      didExpand,
		Reranked:      reranked,
		VectorsUsed:   vectorUsed,
		TotalResults:  len(results),
		Collection:    opts.Collection,
		Lang:          opts.Lang,
		QueryLanguage: queryLanguage,
	}
	if opts.Explain {
		meta.Explain = explain
		meta.ExplainResults = explainResults
	}

	return &Results{Results: results, Meta: meta}, nil
}

func mode(vectorUsed bool) string {
	if vectorUsed {
		return "hybrid"
	}
	return "bm25_only"
}

// queryLanguageFor implements §4.2/§4.9 step 1's priority: explicit hint,
// then explicit retrieval language filter, then detection.
func queryLanguageFor(opts Options) string {
	if opts.QueryLanguageHint != "" {
		return opts.QueryLanguageHint
	}
	if opts.Lang != "" {
		return opts.Lang
	}
	return ""
}

func resolvedQueryLanguage(query string, opts Options) string {
	if lang := queryLanguageFor(opts); lang != "" {
		return lang
	}
	return langdetect.Detect(query).BCP47
}

// maybeExpand decides whether to run C4 (§4.9 step 2): disabled outright
// when the caller opted out or no generation port is wired; otherwise a
// strong BM25 signal on the raw query skips expansion, and anything else
// runs C4 with queryLanguage as the prompt language. The third return value
// reports whether the skip was specifically due to the strong-BM25 check, so
// the caller can emit a distinct explain line for it.
func maybeExpand(ctx context.Context, deps Deps, query, queryLanguage string, opts Options, cfg Config) (*expansion.Result, bool, bool) {
	if opts.NoExpand || deps.Expander == nil {
		return nil, false, false
	}
	if strongBM25Signal(ctx, deps.Store, query, opts, cfg) {
		return nil, false, true
	}
	result := deps.Expander.Expand(ctx, query, expansion.Options{Lang: queryLanguage, TimeoutMs: opts.ExpansionTimeoutMs})
	return result, result != nil, false
}

// strongBM25Signal implements §4.4's "BM25 already strong" expansion-skip
// check: min-max normalize the top StrongSignalTopK raw FTS scores for the
// original query, then require both the top normalized score and the
// top-minus-second gap to clear their thresholds. Both conditions are
// required; a strong-but-close top result does not skip. Any failure, or
// fewer than two rows to compare, is treated as "not strong" so expansion
// still gets a chance to run.
func strongBM25Signal(ctx context.Context, store port.StorePort, query string, opts Options, cfg Config) bool {
	topK := cfg.StrongSignalTopK
	if topK <= 0 {
		topK = defaultStrongSignalTopK
	}

	rows, err := store.SearchFts(ctx, query, port.FtsOptions{
		Limit:      topK,
		Collection: opts.Collection,
		Language:   opts.Lang,
		Snippet:    false,
	})
	if err != nil || len(rows) < 2 {
		return false
	}

	raw := make([]float64, len(rows))
	for i, r := range rows {
		raw[i] = r.Score
	}
	normalized := scoring.NormalizeMinMaxBM25(raw)

	top, second := normalized[0], normalized[0]
	for _, n := range normalized[1:] {
		if n > top {
			second = top
			top = n
		} else if n > second {
			second = n
		}
	}

	topThreshold := cfg.StrongSignalTopThreshold
	if topThreshold == 0 {
		topThreshold = defaultStrongSignalTopThreshold
	}
	gapThreshold := cfg.StrongSignalGapThreshold
	if gapThreshold == 0 {
		gapThreshold = defaultStrongSignalGapThreshold
	}

	return top >= topThreshold && (top-second) >= gapThreshold
}

// buildRankedLists implements §4.9 step 3: bm25, bm25_variant..., vector,
// vector_variant..., hyde, in that fixed order (§5's ordering guarantee).
func buildRankedLists(ctx context.Context, deps Deps, query string, opts Options, limit int, expanded *expansion.Result, explain *[]string) ([]fusion.RankedList, bool, error) {
	var lists []fusion.RankedList

	bm25Opts := bm25search.Options{
		Limit: limit * 2, Collection: opts.Collection, Lang: opts.Lang,
		TagsAll: opts.TagsAll, TagsAny: opts.TagsAny,
	}

	bm25Keys, err := bm25search.RankedKeys(ctx, deps.Store, query, bm25Opts)
	if err != nil {
		// Original-query FTS syntax errors must fail the call (§4.9 failure
		// semantics); bm25search.RankedKeys already preserves INVALID_INPUT
		// unwrapped and wraps everything else as QUERY_FAILED.
		return nil, false, err
	}
	lists = append(lists, fusion.RankedList{Source: fusion.SourceBM25, Items: bm25Keys})
	*explain = append(*explain, fmt.Sprintf("bm25: hits=%d", len(bm25Keys)))

	if expanded != nil {
		for _, lq := range expanded.LexicalQueries {
			keys, err := bm25search.RankedKeys(ctx, deps.Store, lq, bm25Opts)
			if err != nil {
				continue // variant FTS errors are dropped silently (§4.9)
			}
			lists = append(lists, fusion.RankedList{Source: fusion.SourceBM25Variant, Items: keys})
		}
	}

	vectorUsed := false
	if deps.Index != nil && deps.Index.Available() {
		vecOpts := vectorsearch.Options{
			Limit: limit * 2, Collection: opts.Collection, Lang: opts.Lang,
			TagsAll: opts.TagsAll, TagsAny: opts.TagsAny,
		}
		vecKeys, _, vecErr := vectorsearch.RankedKeys(ctx, deps.Index, deps.Embedder, query, vecOpts)
		if vecErr == nil {
			vectorUsed = true
			lists = append(lists, fusion.RankedList{Source: fusion.SourceVector, Items: vecKeys})
			*explain = append(*explain, fmt.Sprintf("vector: hits=%d", len(vecKeys)))

			if expanded != nil {
				for _, sq := range expanded.VectorQueries {
					keys, _, err := vectorsearch.RankedKeys(ctx, deps.Index, deps.Embedder, sq, vecOpts)
					if err != nil {
						continue
					}
					lists = append(lists, fusion.RankedList{Source: fusion.SourceVectorVariant, Items: keys})
				}
				if expanded.HyDE != "" {
					keys, _, err := vectorsearch.RankedKeys(ctx, deps.Index, deps.Embedder, expanded.HyDE, vecOpts)
					if err == nil {
						lists = append(lists, fusion.RankedList{Source: fusion.SourceHyDE, Items: keys})
					}
				}
			}
		}
		// Vector index unavailable or erroring -> proceed BM25-only (§4.9).
	}

	return lists, vectorUsed, nil
}

// resolvedCandidates bundles the single batch-fetch round implementing
// §4.9 step 7's "one listDocuments call, one getCollections call, one
// getChunksBatch call" requirement.
type resolvedCandidates struct {
	docsByHash map[string][]*domain.Document
	tagsByDoc  map[string][]domain.Tag
	chunks     *chunklookup.Table
}

func resolveCandidates(ctx context.Context, store port.StorePort, candidates []*fusion.Candidate, opts Options) (*resolvedCandidates, error) {
	if _, err := store.GetCollections(ctx); err != nil {
		return nil, errs.QueryFailedErr("failed to list collections", err)
	}

	docs, err := store.ListDocuments(ctx, opts.Collection)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to list documents", err)
	}

	var tagsByDoc map[string][]domain.Tag
	if len(opts.TagsAll) > 0 || len(opts.TagsAny) > 0 {
		docids := make([]string, 0, len(docs))
		for _, d := range docs {
			docids = append(docids, d.Docid)
		}
		tagsByDoc, err = store.GetTagsBatch(ctx, docids)
		if err != nil {
			return nil, errs.QueryFailedErr("failed to batch-fetch tags", err)
		}
	}

	docsByHash := make(map[string][]*domain.Document)
	for _, d := range docs {
		if !d.Active || d.MirrorHash == "" {
			continue
		}
		docsByHash[d.MirrorHash] = append(docsByHash[d.MirrorHash], d)
	}

	hashes := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c.Key.MirrorHash] {
			seen[c.Key.MirrorHash] = true
			hashes = append(hashes, c.Key.MirrorHash)
		}
	}
	chunksByHash, err := store.GetChunksBatch(ctx, hashes)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to batch-fetch chunks", err)
	}

	return &resolvedCandidates{
		docsByHash: docsByHash,
		tagsByDoc:  tagsByDoc,
		chunks:     chunklookup.NewTable(chunksByHash),
	}, nil
}

func passesTagFilters(docid string, tagsByDoc map[string][]domain.Tag, opts Options) bool {
	if len(opts.TagsAll) == 0 && len(opts.TagsAny) == 0 {
		return true
	}
	present := make(map[string]bool)
	for _, t := range tagsByDoc[docid] {
		present[t.Value] = true
	}
	for _, tag := range opts.TagsAll {
		if !present[tag] {
			return false
		}
	}
	if len(opts.TagsAny) > 0 {
		for _, tag := range opts.TagsAny {
			if present[tag] {
				return true
			}
		}
		return false
	}
	return true
}

// projectFiltered implements §4.9 steps 6-7: filter by min_score against
// blended_score, walk candidates in order skipping those whose
// (collection, tags, lang) filters fail, and in full mode dedup by docid
// keeping the first (best-scoring) survivor with full content substituted.
func projectFiltered(ctx context.Context, store port.StorePort, blended []*rerank.Result, resolved *resolvedCandidates, opts Options, cfg Config) ([]domain.SearchResult, []ExplainResult, error) {
	var results []domain.SearchResult
	var explainResults []ExplainResult
	seenDocid := make(map[string]bool)
	contentCache := make(map[string]string)
	rank := 0

	for _, r := range blended {
		if r.BlendedScore < opts.MinScore {
			continue
		}

		docs := resolved.docsByHash[r.Key.MirrorHash]
		if len(docs) == 0 {
			continue
		}
		chunk, _ := resolved.chunks.Get(r.Key.MirrorHash, r.Key.Seq)
		if opts.Lang != "" && (chunk == nil || chunk.Language != opts.Lang) {
			continue
		}

		var doc *domain.Document
		for _, d := range docs {
			if passesTagFilters(d.Docid, resolved.tagsByDoc, opts) {
				doc = d
				break
			}
		}
		if doc == nil {
			continue
		}

		if opts.Full {
			if seenDocid[doc.Docid] {
				continue
			}
			seenDocid[doc.Docid] = true
		}

		result, err := projectResult(ctx, store, doc, chunk, r.BlendedScore, opts.Full, contentCache)
		if err != nil {
			return nil, nil, err
		}

		rank++
		results = append(results, result)
		explainResults = append(explainResults, explainResultFor(rank, doc.Docid, r, cfg))
	}

	return results, explainResults, nil
}

func explainResultFor(rank int, docid string, r *rerank.Result, cfg Config) ExplainResult {
	er := ExplainResult{Rank: rank, Docid: docid, Score: r.BlendedScore, RerankScore: r.RerankScore}
	if r.BM25Rank != nil {
		v := scoring.RRFContribution(*r.BM25Rank, cfg.Fusion.K, bm25Weight(r.Sources, cfg.Fusion))
		er.BM25Score = &v
	}
	if r.VecRank != nil {
		v := scoring.RRFContribution(*r.VecRank, cfg.Fusion.K, vecWeight(r.Sources, cfg.Fusion))
		er.VecScore = &v
	}
	return er
}

// bm25Weight/vecWeight recover the per-source weight used at fusion time for
// display in the explain trace, mirroring fusion.Config's own (unexported)
// weight schedule.
func bm25Weight(sources []fusion.Source, cfg fusion.Config) float64 {
	for _, s := range sources {
		if s == fusion.SourceBM25 {
			return 2 * cfg.WBM25
		}
	}
	return 0.5 * cfg.WBM25
}

func vecWeight(sources []fusion.Source, cfg fusion.Config) float64 {
	for _, s := range sources {
		if s == fusion.SourceVector {
			return 2 * cfg.WVec
		}
	}
	for _, s := range sources {
		if s == fusion.SourceVectorVariant {
			return 0.5 * cfg.WVec
		}
	}
	return 0.7 * cfg.WVec
}

// projectResult builds the final SearchResult, substituting full mirror
// content for the chunk snippet in full mode (§4.9 step 7: "swapping full
// content"), caching one fetch per mirror_hash across the whole walk.
func projectResult(ctx context.Context, store port.StorePort, doc *domain.Document, chunk *domain.Chunk, score float64, full bool, contentCache map[string]string) (domain.SearchResult, error) {
	result := domain.SearchResult{
		Docid: doc.Docid,
		Score: score,
		URI:   doc.URI,
		Title: doc.Title,
		Source: domain.Source{
			Mime: doc.Mime, Ext: doc.Ext, Size: doc.Size, Mtime: doc.Mtime, SrcHash: doc.SrcHash,
		},
	}
	if doc.ConverterID != "" {
		result.Conversion = &domain.Conversion{MirrorHash: doc.MirrorHash, ConverterID: doc.ConverterID, ConverterVersion: doc.ConverterVersion}
	}

	if full {
		content, ok := contentCache[doc.MirrorHash]
		if !ok {
			var err error
			content, err = store.GetContent(ctx, doc.MirrorHash)
			if err != nil {
				return domain.SearchResult{}, errs.QueryFailedErr("failed to fetch full content", err)
			}
			contentCache[doc.MirrorHash] = content
		}
		result.Snippet = content
		if chunk != nil {
			result.SnippetLanguage = chunk.Language
		}
		return result, nil
	}

	if chunk != nil {
		result.Snippet = chunk.Text
		result.SnippetLanguage = chunk.Language
		result.SnippetRange = &domain.SnippetRange{StartLine: chunk.StartLine, EndLine: chunk.EndLine}
	}
	return result, nil
}
