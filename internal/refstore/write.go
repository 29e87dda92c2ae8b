package refstore

import (
	"context"
	"fmt"

	"github.com/groundwork-rag/groundwork/internal/domain"
)

// UpsertMirror writes (or replaces) the immutable mirror content addressed
// by mirrorHash. Ingestion/conversion is an external collaborator (§1); this
// is the write-side counterpart tests and cmd/groundwork use to seed a
// reference store.
func (s *Store) UpsertMirror(ctx context.Context, mirrorHash, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mirrors(mirror_hash, content) VALUES (?, ?)
		 ON CONFLICT(mirror_hash) DO UPDATE SET content = excluded.content`,
		mirrorHash, content)
	if err != nil {
		return fmt.Errorf("refstore: upsert mirror %s: %w", mirrorHash, err)
	}
	return nil
}

// UpsertDocument writes (or replaces) a document row and its tags.
func (s *Store) UpsertDocument(ctx context.Context, d *domain.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: begin document upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	active := 0
	if d.Active {
		active = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents(docid, collection, rel_path, uri, title, mirror_hash, active, mime, ext, size, mtime, src_hash, converter_id, converter_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(docid) DO UPDATE SET
			collection = excluded.collection,
			rel_path = excluded.rel_path,
			uri = excluded.uri,
			title = excluded.title,
			mirror_hash = excluded.mirror_hash,
			active = excluded.active,
			mime = excluded.mime,
			ext = excluded.ext,
			size = excluded.size,
			mtime = excluded.mtime,
			src_hash = excluded.src_hash,
			converter_id = excluded.converter_id,
			converter_version = excluded.converter_version
	`, d.Docid, d.Collection, d.RelPath, d.URI, d.Title, d.MirrorHash, active,
		d.Mime, d.Ext, d.Size, d.Mtime.Unix(), d.SrcHash, d.ConverterID, d.ConverterVersion)
	if err != nil {
		return fmt.Errorf("refstore: upsert document %s: %w", d.Docid, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE docid = ?`, d.Docid); err != nil {
		return fmt.Errorf("refstore: clear tags for %s: %w", d.Docid, err)
	}
	for _, t := range d.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tags(docid, value, source) VALUES (?, ?, ?)`, d.Docid, t.Value, string(t.Source)); err != nil {
			return fmt.Errorf("refstore: insert tag %s for %s: %w", t.Value, d.Docid, err)
		}
	}

	return tx.Commit()
}

// DeleteDocument marks a document inactive without touching its mirror
// content or chunks, since other documents may share the same mirror_hash
// (§3 invariant).
func (s *Store) DeleteDocument(ctx context.Context, docid string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET active = 0 WHERE docid = ?`, docid)
	if err != nil {
		return fmt.Errorf("refstore: deactivate document %s: %w", docid, err)
	}
	return nil
}

// UpsertChunks replaces every chunk under mirrorHash atomically (§3: "chunks
// for a given mirror_hash are replaced atomically by ingestion; core treats
// them as immutable per hash") and reindexes them into the full-text engine.
func (s *Store) UpsertChunks(ctx context.Context, mirrorHash string, chunks []*domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: begin chunk replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE mirror_hash = ?`, mirrorHash); err != nil {
		return fmt.Errorf("refstore: clear chunks for %s: %w", mirrorHash, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks(mirror_hash, seq, text, start_line, end_line, language, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("refstore: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, mirrorHash, c.Seq, c.Text, c.StartLine, c.EndLine, c.Language, c.TokenCount, c.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("refstore: insert chunk (%s, %d): %w", mirrorHash, c.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("refstore: commit chunk replace: %w", err)
	}

	if err := s.fts.DeleteMirror(ctx, mirrorHash); err != nil {
		return fmt.Errorf("refstore: clear fts rows for %s: %w", mirrorHash, err)
	}
	ftsRows := make([]ftsIndexRow, len(chunks))
	for i, c := range chunks {
		ftsRows[i] = ftsIndexRow{Key: c.Key(), Text: c.Text}
	}
	if err := s.fts.IndexChunks(ctx, ftsRows); err != nil {
		return fmt.Errorf("refstore: index chunks for %s: %w", mirrorHash, err)
	}

	return nil
}
