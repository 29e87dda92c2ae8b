package refstore

import (
	"context"
	"strings"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

// ftsIndexRow is a single chunk handed to a ftsEngine for indexing.
type ftsIndexRow struct {
	Key  domain.ChunkKey
	Text string
}

// ftsHit is a single full-text match. Score follows the FTS5 convention
// used throughout the core: more negative is a better match (§6).
type ftsHit struct {
	Key   domain.ChunkKey
	Score float64
}

// ftsEngine is the pluggable full-text backend behind Store. Both
// implementations (sqlite, bleve) index chunk text keyed by (mirror_hash,
// seq) and report hits in the same negative-is-better score convention.
type ftsEngine interface {
	IndexChunks(ctx context.Context, rows []ftsIndexRow) error
	DeleteMirror(ctx context.Context, mirrorHash string) error
	Search(ctx context.Context, query string, limit int) ([]ftsHit, error)
	Close() error
}

// searchOverfetch inflates the engine-level query limit so that
// post-filtering by collection/language/tags still leaves opts.Limit rows
// when possible, without a second round-trip to the engine.
const searchOverfetch = 4

// SearchFts implements port.StorePort's full-text search (§6). FTS syntax
// errors are reported as errs.InvalidInput; everything else as
// errs.QueryFailed.
func (s *Store) SearchFts(ctx context.Context, query string, opts port.FtsOptions) ([]port.FtsRow, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	hits, err := s.fts.Search(ctx, query, limit*searchOverfetch)
	if err != nil {
		if isFtsSyntaxError(err) {
			return nil, errs.Invalid("Invalid search query: "+err.Error(), err)
		}
		return nil, errs.QueryFailedErr("bm25 search failed", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	hashes := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if !seen[h.Key.MirrorHash] {
			seen[h.Key.MirrorHash] = true
			hashes = append(hashes, h.Key.MirrorHash)
		}
	}

	chunksByHash, err := s.GetChunksBatch(ctx, hashes)
	if err != nil {
		return nil, err
	}
	docsByHash, err := s.documentsByMirrorHash(ctx, hashes, opts.Collection)
	if err != nil {
		return nil, err
	}

	var tagsByDocid map[string][]domain.Tag
	if len(opts.TagsAll) > 0 || len(opts.TagsAny) > 0 {
		docids := make([]string, 0)
		for _, docs := range docsByHash {
			for _, d := range docs {
				docids = append(docids, d.Docid)
			}
		}
		tagsByDocid, err = s.GetTagsBatch(ctx, docids)
		if err != nil {
			return nil, err
		}
	}

	lookup := chunkIndex(chunksByHash)

	var out []port.FtsRow
	for _, h := range hits {
		docs := docsByHash[h.Key.MirrorHash]
		if len(docs) == 0 {
			continue
		}
		chunk := lookup[h.Key]
		if opts.Language != "" && (chunk == nil || chunk.Language != opts.Language) {
			continue
		}

		for _, d := range docs {
			if !passesTagFilters(d, tagsByDocid, opts) {
				continue
			}
			row := port.FtsRow{
				MirrorHash: h.Key.MirrorHash,
				Seq:        h.Key.Seq,
				Score:      h.Score,
				URI:        d.URI,
				Docid:      d.Docid,
				Title:      d.Title,
				Collection: d.Collection,
				RelPath:    d.RelPath,
				Source: domain.Source{
					Mime: d.Mime, Ext: d.Ext, Size: d.Size, Mtime: d.Mtime, SrcHash: d.SrcHash,
				},
			}
			if opts.Snippet && chunk != nil {
				row.Snippet = chunk.Text
			}
			out = append(out, row)
		}
		if len(out) >= limit {
			break
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) documentsByMirrorHash(ctx context.Context, hashes []string, collection string) (map[string][]*domain.Document, error) {
	placeholders, args := inClause(hashes)
	query := `SELECT docid, collection, rel_path, uri, title, mirror_hash, active, mime, ext, size, mtime, src_hash, converter_id, converter_version
		FROM documents WHERE active = 1 AND mirror_hash IN (` + placeholders + `)`
	if collection != "" {
		query += ` AND collection = ?`
		args = append(args, collection)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to list documents for search", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]*domain.Document, len(docs))
	for _, d := range docs {
		out[d.MirrorHash] = append(out[d.MirrorHash], d)
	}
	return out, nil
}

func chunkIndex(chunksByHash map[string][]*domain.Chunk) map[domain.ChunkKey]*domain.Chunk {
	out := make(map[domain.ChunkKey]*domain.Chunk)
	for _, chunks := range chunksByHash {
		for _, c := range chunks {
			out[c.Key()] = c
		}
	}
	return out
}

func passesTagFilters(d *domain.Document, tagsByDocid map[string][]domain.Tag, opts port.FtsOptions) bool {
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

func isFtsSyntaxError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fts5") || strings.Contains(msg, "syntax error") || strings.Contains(msg, "malformed match")
}
