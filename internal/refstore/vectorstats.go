package refstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

var _ port.VectorStatsPort = (*Store)(nil)

// backlogWhere is shared by CountBacklog and GetBacklog: a chunk is pending
// for model when no vectors row for it exists, or the existing row's
// embedded_at predates the chunk's created_at (§3).
const backlogWhere = `
	FROM chunks c
	LEFT JOIN vectors v ON v.mirror_hash = c.mirror_hash AND v.seq = c.seq AND v.model_uri = ?
	WHERE v.model_uri IS NULL OR v.embedded_at < c.created_at
`

// CountBacklog returns the number of chunks pending embedding for model.
func (s *Store) CountBacklog(ctx context.Context, model string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+backlogWhere, model).Scan(&n)
	if err != nil {
		return 0, errs.QueryFailedErr("failed to count embedding backlog", err)
	}
	return n, nil
}

// GetBacklog pages through pending chunks in stable (mirror_hash, seq) order
// (§6). A chunk is reason "new" when no vectors row exists for it at all
// under any model, and "changed" when a row exists for this model but is
// stale relative to the chunk's created_at.
func (s *Store) GetBacklog(ctx context.Context, model string, page port.BacklogPage) ([]port.BacklogItem, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT c.mirror_hash, c.seq, c.text,
			EXISTS (SELECT 1 FROM vectors v2 WHERE v2.mirror_hash = c.mirror_hash AND v2.seq = c.seq) AS ever_embedded
		` + backlogWhere
	args := []any{model}

	if page.After != nil {
		query += ` AND (c.mirror_hash > ? OR (c.mirror_hash = ? AND c.seq > ?))`
		args = append(args, page.After.MirrorHash, page.After.MirrorHash, page.After.Seq)
	}
	query += ` ORDER BY c.mirror_hash, c.seq LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.QueryFailedErr("failed to read embedding backlog", err)
	}
	defer rows.Close()

	titlesByMirror := map[string]string{}
	var out []port.BacklogItem
	for rows.Next() {
		var item port.BacklogItem
		var everEmbedded bool
		if err := rows.Scan(&item.MirrorHash, &item.Seq, &item.Text, &everEmbedded); err != nil {
			return nil, errs.QueryFailedErr("failed to scan backlog row", err)
		}
		if everEmbedded {
			item.Reason = "changed"
		} else {
			item.Reason = "new"
		}
		if title, ok := titlesByMirror[item.MirrorHash]; ok {
			item.Title = title
		} else {
			title, err := s.titleForMirror(ctx, item.MirrorHash)
			if err != nil {
				return nil, err
			}
			titlesByMirror[item.MirrorHash] = title
			item.Title = title
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) titleForMirror(ctx context.Context, mirrorHash string) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM documents WHERE mirror_hash = ? ORDER BY docid LIMIT 1`, mirrorHash).Scan(&title)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errs.QueryFailedErr("failed to fetch backlog title", err)
	}
	return title, nil
}

// MarkEmbedded records that keys now have a current vector under model,
// stamped with the current time. It is the backlog worker's write-back after
// a successful VectorIndexPort.UpsertVectors batch (§4.11); without it
// GetBacklog would return the same rows on every page forever.
func (s *Store) MarkEmbedded(ctx context.Context, model string, keys []domain.ChunkKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.InternalErr("failed to begin mark-embedded transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (mirror_hash, seq, model_uri, embedded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (mirror_hash, seq, model_uri) DO UPDATE SET embedded_at = excluded.embedded_at
	`)
	if err != nil {
		return errs.InternalErr("failed to prepare mark-embedded statement", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.MirrorHash, k.Seq, model, now); err != nil {
			return errs.InternalErr(fmt.Sprintf("failed to mark %s embedded", k), err)
		}
	}
	return tx.Commit()
}
