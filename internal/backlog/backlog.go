// Package backlog implements the embedding backlog worker (§4.11, C11): it
// walks pending (mirror_hash, seq) rows for a model via seek pagination,
// embeds them in batches, and upserts the results into the vector index. A
// gofrs/flock advisory lock enforces the one-pass-per-model_uri invariant
// from §5 ("the embedding backlog worker is the sole writer of the vector
// table for a given model_uri during its run").
package backlog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

// DefaultBatchSize matches §4.11's default.
const DefaultBatchSize = 32

// Report summarizes one backlog run (§4.11).
type Report struct {
	Embedded int
	Errors   int
}

// Run embeds the full backlog for modelURI, batch by batch, until a backlog
// query returns an empty page (§4.11). batchSize <= 0 falls back to
// DefaultBatchSize.
func Run(ctx context.Context, stats port.VectorStatsPort, embedder port.EmbeddingPort, index port.VectorIndexPort, modelURI string, batchSize int) (Report, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var report Report
	var cursor *domain.ChunkKey

	for {
		items, err := stats.GetBacklog(ctx, modelURI, port.BacklogPage{Limit: batchSize, After: cursor})
		if err != nil {
			return report, errs.QueryFailedErr("failed to read embedding backlog", err)
		}
		if len(items) == 0 {
			return report, nil
		}

		last := items[len(items)-1]
		cursor = &domain.ChunkKey{MirrorHash: last.MirrorHash, Seq: last.Seq}

		texts := make([]string, len(items))
		for i, item := range items {
			texts[i] = formatEmbedInput(item)
		}

		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil || len(vectors) < len(items) {
			report.Errors += len(items)
			continue
		}

		rows := make([]port.VectorUpsertRow, len(items))
		for i, item := range items {
			rows[i] = port.VectorUpsertRow{
				MirrorHash: item.MirrorHash,
				Seq:        item.Seq,
				ModelURI:   modelURI,
				Vector:     vectors[i],
			}
		}

		if err := index.UpsertVectors(ctx, rows); err != nil {
			report.Errors += len(items)
			continue
		}

		keys := make([]domain.ChunkKey, len(items))
		for i, item := range items {
			keys[i] = domain.ChunkKey{MirrorHash: item.MirrorHash, Seq: item.Seq}
		}
		if err := stats.MarkEmbedded(ctx, modelURI, keys); err != nil {
			return report, errs.QueryFailedErr("failed to record embedding currency", err)
		}

		report.Embedded += len(items)
	}
}

// formatEmbedInput builds the per-item embedding text (§4.11):
// "title: <title or 'none'> | text: <chunk_text>".
func formatEmbedInput(item port.BacklogItem) string {
	title := item.Title
	if title == "" {
		title = "none"
	}
	return fmt.Sprintf("title: %s | text: %s", title, item.Text)
}

// Lock is an advisory, process-wide guard against two concurrent backlog
// passes for the same model_uri (§5). lockDir is a writable directory the
// caller controls (typically alongside the store's on-disk layout).
type Lock struct {
	flock *flock.Flock
}

// NewLock builds the lock file path for modelURI under lockDir without
// acquiring it.
func NewLock(lockDir, modelURI string) *Lock {
	path := filepath.Join(lockDir, lockFileName(modelURI))
	return &Lock{flock: flock.New(path)}
}

func lockFileName(modelURI string) string {
	return "backlog-" + sanitizeForFilename(modelURI) + ".lock"
}

func sanitizeForFilename(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// ErrAlreadyRunning is returned by TryRun when another process (or goroutine)
// already holds the lock for this model_uri.
var ErrAlreadyRunning = errs.New(errs.Internal, "a backlog pass is already running for this model_uri", nil)

// TryRun acquires the advisory lock, runs Run, and releases it. It returns
// ErrAlreadyRunning without running anything if the lock is already held.
func (l *Lock) TryRun(ctx context.Context, stats port.VectorStatsPort, embedder port.EmbeddingPort, index port.VectorIndexPort, modelURI string, batchSize int) (Report, error) {
	locked, err := l.flock.TryLock()
	if err != nil {
		return Report{}, errs.InternalErr("failed to acquire backlog lock", err)
	}
	if !locked {
		return Report{}, ErrAlreadyRunning
	}
	defer l.flock.Unlock()

	return Run(ctx, stats, embedder, index, modelURI, batchSize)
}
