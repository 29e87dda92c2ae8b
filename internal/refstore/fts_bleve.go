package refstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
)

// bleveFtsEngine is the alternate ftsEngine, adapted from the teacher's
// BleveBM25Index: same Bleve v2 index, same in-memory-when-path-is-empty
// behavior, selected by Config.Backend like the teacher's BM25Backend
// switch (bm25_factory.go).
type bleveFtsEngine struct {
	index bleve.Index
}

var _ ftsEngine = (*bleveFtsEngine)(nil)

// bleveDocument is the document shape indexed into Bleve.
type bleveDocument struct {
	Content string `json:"content"`
}

func newBleveFtsEngine(path string) (*bleveFtsEngine, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("refstore: open bleve index: %w", err)
	}

	return &bleveFtsEngine{index: idx}, nil
}

func (e *bleveFtsEngine) IndexChunks(ctx context.Context, rows []ftsIndexRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := e.index.NewBatch()
	for _, r := range rows {
		if err := batch.Index(chunkKeyString(r.Key), bleveDocument{Content: r.Text}); err != nil {
			return fmt.Errorf("refstore: bleve index row %s: %w", chunkKeyString(r.Key), err)
		}
	}
	return e.index.Batch(batch)
}

func (e *bleveFtsEngine) DeleteMirror(ctx context.Context, mirrorHash string) error {
	query := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequest(query)
	req.Size = 1 << 20
	req.Fields = nil

	result, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("refstore: bleve scan for delete: %w", err)
	}

	batch := e.index.NewBatch()
	deleted := false
	for _, hit := range result.Hits {
		if strings.HasPrefix(hit.ID, mirrorHash+":") {
			batch.Delete(hit.ID)
			deleted = true
		}
	}
	if !deleted {
		return nil
	}
	return e.index.Batch(batch)
}

// Search returns matches ordered best-first. Bleve scores are positive with
// higher meaning a better match, the opposite of the core's
// more-negative-is-better convention (§6), so scores are negated here to
// keep the rest of the pipeline backend-agnostic.
func (e *bleveFtsEngine) Search(ctx context.Context, queryStr string, limit int) ([]ftsHit, error) {
	if strings.TrimSpace(queryStr) == "" {
		return nil, nil
	}

	query := bleve.NewMatchQuery(queryStr)
	query.SetField("content")

	req := bleve.NewSearchRequest(query)
	req.Size = limit

	result, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]ftsHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		key, err := parseChunkKeyString(hit.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ftsHit{Key: key, Score: -hit.Score})
	}
	return out, nil
}

func (e *bleveFtsEngine) Close() error {
	return e.index.Close()
}
