package refstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/groundwork-rag/groundwork/internal/domain"
)

// sqliteFtsEngine is the default ftsEngine: a SQLite FTS5 virtual table,
// adapted from the teacher's SQLiteBM25Index. Unlike the teacher, the
// content column stores document prose rather than code, so no code-aware
// tokenizer is applied; FTS5's built-in unicode61 tokenizer is enough.
type sqliteFtsEngine struct {
	db *sql.DB
}

var _ ftsEngine = (*sqliteFtsEngine)(nil)

// newSQLiteFtsEngine creates the fts5 virtual table in the same database
// metadataDB already points at, and reuses that connection rather than
// opening a second one to the same file.
func newSQLiteFtsEngine(metadataDB *sql.DB) (*sqliteFtsEngine, error) {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		chunk_key UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	if _, err := metadataDB.Exec(schema); err != nil {
		return nil, fmt.Errorf("refstore: init fts5 schema: %w", err)
	}

	return &sqliteFtsEngine{db: metadataDB}, nil
}

// chunkKeyString renders the FTS5 UNINDEXED identifier for a chunk key.
func chunkKeyString(k domain.ChunkKey) string {
	return k.MirrorHash + ":" + strconv.Itoa(k.Seq)
}

func parseChunkKeyString(s string) (domain.ChunkKey, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return domain.ChunkKey{}, fmt.Errorf("malformed chunk key %q", s)
	}
	seq, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return domain.ChunkKey{}, fmt.Errorf("malformed chunk key %q: %w", s, err)
	}
	return domain.ChunkKey{MirrorHash: s[:idx], Seq: seq}, nil
}

func (e *sqliteFtsEngine) IndexChunks(ctx context.Context, rows []ftsIndexRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: begin fts index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_chunks WHERE chunk_key = ?`)
	if err != nil {
		return fmt.Errorf("refstore: prepare fts delete: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_chunks(chunk_key, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("refstore: prepare fts insert: %w", err)
	}
	defer insertStmt.Close()

	for _, r := range rows {
		key := chunkKeyString(r.Key)
		// FTS5 virtual tables don't support REPLACE; delete then insert.
		if _, err := deleteStmt.ExecContext(ctx, key); err != nil {
			return fmt.Errorf("refstore: delete existing fts row %s: %w", key, err)
		}
		if _, err := insertStmt.ExecContext(ctx, key, r.Text); err != nil {
			return fmt.Errorf("refstore: insert fts row %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (e *sqliteFtsEngine) DeleteMirror(ctx context.Context, mirrorHash string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM fts_chunks WHERE chunk_key LIKE ? || ':%'`, mirrorHash)
	if err != nil {
		return fmt.Errorf("refstore: delete fts rows for mirror %s: %w", mirrorHash, err)
	}
	return nil
}

// Search returns matches ordered best-first. FTS5's bm25() returns negative
// values where lower is better, which already matches the core's
// more-negative-is-better convention (§6); no sign flip needed.
func (e *sqliteFtsEngine) Search(ctx context.Context, queryStr string, limit int) ([]ftsHit, error) {
	if strings.TrimSpace(queryStr) == "" {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT chunk_key, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?
	`, queryStr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ftsHit
	for rows.Next() {
		var keyStr string
		var score float64
		if err := rows.Scan(&keyStr, &score); err != nil {
			return nil, fmt.Errorf("refstore: scan fts hit: %w", err)
		}
		key, err := parseChunkKeyString(keyStr)
		if err != nil {
			return nil, err
		}
		out = append(out, ftsHit{Key: key, Score: score})
	}
	return out, rows.Err()
}

func (e *sqliteFtsEngine) Close() error {
	// db is owned by Store, which closes it; nothing to do here.
	return nil
}
