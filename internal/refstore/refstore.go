// Package refstore provides reference port.StorePort implementations used by
// integration tests and the cmd/groundwork demo binary. The core packages
// never import this package directly (§6); they consume port.StorePort.
//
// Metadata (mirrors, documents, chunks, tags) always lives in a SQLite
// database regardless of which full-text backend is selected. Only keyword
// search is backend-pluggable, mirroring the teacher's BM25Backend switch
// between a SQLite FTS5 index and a Bleve index.
package refstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

// Backend selects the full-text index implementation behind Store.
type Backend string

const (
	// BackendSQLite uses a SQLite FTS5 virtual table in the same database as
	// the metadata tables (default).
	BackendSQLite Backend = "sqlite"
	// BackendBleve uses a Bleve v2 index at a separate path.
	BackendBleve Backend = "bleve"
)

// Config configures New.
type Config struct {
	// MetadataPath is the SQLite database file holding mirrors, documents,
	// chunks, and tags. Empty means in-memory (tests).
	MetadataPath string

	// Backend selects the full-text engine. Empty defaults to BackendSQLite.
	Backend Backend

	// BlevePath is the Bleve index directory, required when Backend is
	// BackendBleve. Empty means an in-memory Bleve index.
	BlevePath string
}

// Store is a reference port.StorePort implementation: SQLite-backed
// metadata plus a pluggable full-text engine.
type Store struct {
	db  *sql.DB
	fts ftsEngine
}

var _ port.StorePort = (*Store)(nil)

// New opens (or creates) a reference store per cfg.
func New(cfg Config) (*Store, error) {
	dsn := ":memory:"
	if cfg.MetadataPath != "" {
		if dir := filepath.Dir(cfg.MetadataPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("refstore: create metadata dir: %w", err)
			}
		}
		dsn = cfg.MetadataPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("refstore: open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("refstore: set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("refstore: init schema: %w", err)
	}

	fts, err := newFtsEngine(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, fts: fts}, nil
}

// newFtsEngine selects the full-text backend. The sqlite engine shares the
// metadata connection (one FTS5 virtual table alongside the metadata tables
// in the same file, one connection per modernc.org/sqlite's single-writer
// guidance); bleve is a genuinely separate index.
func newFtsEngine(cfg Config, metadataDB *sql.DB) (ftsEngine, error) {
	switch cfg.Backend {
	case BackendBleve:
		return newBleveFtsEngine(cfg.BlevePath)
	case BackendSQLite, "":
		return newSQLiteFtsEngine(metadataDB)
	default:
		return nil, fmt.Errorf("refstore: unknown backend %q (valid: sqlite, bleve)", cfg.Backend)
	}
}

// Close releases the metadata database and the full-text engine.
func (s *Store) Close() error {
	ftsErr := s.fts.Close()
	dbErr := s.db.Close()
	if ftsErr != nil {
		return ftsErr
	}
	return dbErr
}

// GetCollections returns the distinct active collections.
func (s *Store) GetCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents WHERE active = 1 ORDER BY collection`)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to list collections", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errs.QueryFailedErr("failed to scan collection", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListDocuments returns active documents, optionally filtered by collection.
func (s *Store) ListDocuments(ctx context.Context, collection string) ([]*domain.Document, error) {
	query := `SELECT docid, collection, rel_path, uri, title, mirror_hash, active, mime, ext, size, mtime, src_hash, converter_id, converter_version
		FROM documents WHERE active = 1`
	args := []any{}
	if collection != "" {
		query += ` AND collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY docid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to list documents", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// GetDocument fetches the active document at (collection, rel_path).
func (s *Store) GetDocument(ctx context.Context, collection, relPath string) (*domain.Document, error) {
	return s.getDocumentWhere(ctx, `collection = ? AND rel_path = ? AND active = 1`, collection, relPath)
}

// GetDocumentByDocid fetches a document by its docid, active or not.
func (s *Store) GetDocumentByDocid(ctx context.Context, docid string) (*domain.Document, error) {
	return s.getDocumentWhere(ctx, `docid = ?`, docid)
}

// GetDocumentByURI fetches the document at the given canonical URI.
func (s *Store) GetDocumentByURI(ctx context.Context, uri string) (*domain.Document, error) {
	return s.getDocumentWhere(ctx, `uri = ?`, uri)
}

func (s *Store) getDocumentWhere(ctx context.Context, where string, args ...any) (*domain.Document, error) {
	query := `SELECT docid, collection, rel_path, uri, title, mirror_hash, active, mime, ext, size, mtime, src_hash, converter_id, converter_version
		FROM documents WHERE ` + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to fetch document", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if err := s.attachTags(ctx, docs); err != nil {
		return nil, err
	}
	return docs[0], nil
}

// GetContent returns the full mirror content for mirrorHash.
func (s *Store) GetContent(ctx context.Context, mirrorHash string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM mirrors WHERE mirror_hash = ?`, mirrorHash).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errs.QueryFailedErr("failed to fetch mirror content", err)
	}
	return content, nil
}

// GetChunks returns every chunk under mirrorHash, ordered by seq.
func (s *Store) GetChunks(ctx context.Context, mirrorHash string) ([]*domain.Chunk, error) {
	m, err := s.GetChunksBatch(ctx, []string{mirrorHash})
	if err != nil {
		return nil, err
	}
	return m[mirrorHash], nil
}

// GetChunksBatch batch-fetches chunks for every mirrorHash in one query.
func (s *Store) GetChunksBatch(ctx context.Context, mirrorHashes []string) (map[string][]*domain.Chunk, error) {
	out := make(map[string][]*domain.Chunk, len(mirrorHashes))
	if len(mirrorHashes) == 0 {
		return out, nil
	}

	placeholders, args := inClause(mirrorHashes)
	query := fmt.Sprintf(`SELECT mirror_hash, seq, text, start_line, end_line, language, token_count, created_at
		FROM chunks WHERE mirror_hash IN (%s) ORDER BY mirror_hash, seq`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to batch-fetch chunks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Chunk
		var createdAtUnix int64
		if err := rows.Scan(&c.MirrorHash, &c.Seq, &c.Text, &c.StartLine, &c.EndLine, &c.Language, &c.TokenCount, &createdAtUnix); err != nil {
			return nil, errs.QueryFailedErr("failed to scan chunk", err)
		}
		if createdAtUnix > 0 {
			c.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		}
		cc := c
		out[c.MirrorHash] = append(out[c.MirrorHash], &cc)
	}
	return out, rows.Err()
}

// GetTagsBatch batch-fetches tags for every docid in one query.
func (s *Store) GetTagsBatch(ctx context.Context, docids []string) (map[string][]domain.Tag, error) {
	out := make(map[string][]domain.Tag, len(docids))
	if len(docids) == 0 {
		return out, nil
	}

	placeholders, args := inClause(docids)
	query := fmt.Sprintf(`SELECT docid, value, source FROM tags WHERE docid IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to batch-fetch tags", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docid, value, source string
		if err := rows.Scan(&docid, &value, &source); err != nil {
			return nil, errs.QueryFailedErr("failed to scan tag", err)
		}
		out[docid] = append(out[docid], domain.Tag{Value: value, Source: domain.TagSource(source)})
	}
	return out, rows.Err()
}

func (s *Store) attachTags(ctx context.Context, docs []*domain.Document) error {
	docids := make([]string, len(docs))
	for i, d := range docs {
		docids[i] = d.Docid
	}
	tagsByDocid, err := s.GetTagsBatch(ctx, docids)
	if err != nil {
		return err
	}
	for _, d := range docs {
		d.Tags = tagsByDocid[d.Docid]
	}
	return nil
}

func scanDocuments(rows *sql.Rows) ([]*domain.Document, error) {
	var out []*domain.Document
	for rows.Next() {
		var d domain.Document
		var active int
		var mtimeUnix int64
		if err := rows.Scan(&d.Docid, &d.Collection, &d.RelPath, &d.URI, &d.Title, &d.MirrorHash, &active,
			&d.Mime, &d.Ext, &d.Size, &mtimeUnix, &d.SrcHash, &d.ConverterID, &d.ConverterVersion); err != nil {
			return nil, errs.QueryFailedErr("failed to scan document", err)
		}
		d.Active = active != 0
		if mtimeUnix > 0 {
			d.Mtime = time.Unix(mtimeUnix, 0).UTC()
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func inClause(values []string) (string, []any) {
	placeholders := make([]byte, 0, len(values)*2)
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = v
	}
	return string(placeholders), args
}
