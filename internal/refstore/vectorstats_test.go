package refstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/port"
)

func seedChunkWithCreatedAt(t *testing.T, s *Store, mirrorHash string, seq int, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.UpsertChunks(context.Background(), mirrorHash, []*domain.Chunk{
		{MirrorHash: mirrorHash, Seq: seq, Text: "text", CreatedAt: createdAt},
	}))
}

func TestVectorStats_NewChunkIsBacklogged(t *testing.T) {
	s := newTestStore(t)
	seedChunkWithCreatedAt(t, s, "h1", 1, time.Now())

	n, err := s.CountBacklog(context.Background(), "model-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := s.GetBacklog(context.Background(), "model-a", port.BacklogPage{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].Reason)
	assert.Equal(t, "h1", items[0].MirrorHash)
	assert.Equal(t, 1, items[0].Seq)
}

func TestVectorStats_MarkEmbeddedClearsBacklog(t *testing.T) {
	s := newTestStore(t)
	seedChunkWithCreatedAt(t, s, "h1", 1, time.Now().Add(-time.Hour))

	require.NoError(t, s.MarkEmbedded(context.Background(), "model-a", []domain.ChunkKey{{MirrorHash: "h1", Seq: 1}}))

	n, err := s.CountBacklog(context.Background(), "model-a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVectorStats_ChangedChunkReembedsAsChanged(t *testing.T) {
	s := newTestStore(t)
	seedChunkWithCreatedAt(t, s, "h1", 1, time.Now().Add(-time.Hour))
	require.NoError(t, s.MarkEmbedded(context.Background(), "model-a", []domain.ChunkKey{{MirrorHash: "h1", Seq: 1}}))

	// Chunk content changes, bumping created_at past the recorded embedded_at.
	seedChunkWithCreatedAt(t, s, "h1", 1, time.Now().Add(time.Hour))

	items, err := s.GetBacklog(context.Background(), "model-a", port.BacklogPage{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "changed", items[0].Reason)
}

func TestVectorStats_BacklogIsPerModel(t *testing.T) {
	s := newTestStore(t)
	seedChunkWithCreatedAt(t, s, "h1", 1, time.Now())
	require.NoError(t, s.MarkEmbedded(context.Background(), "model-a", []domain.ChunkKey{{MirrorHash: "h1", Seq: 1}}))

	n, err := s.CountBacklog(context.Background(), "model-b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorStats_GetBacklogSeeksPastCursor(t *testing.T) {
	s := newTestStore(t)
	seedChunkWithCreatedAt(t, s, "h1", 1, time.Now())
	seedChunkWithCreatedAt(t, s, "h1", 2, time.Now())
	seedChunkWithCreatedAt(t, s, "h2", 1, time.Now())

	first, err := s.GetBacklog(context.Background(), "model-a", port.BacklogPage{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	cursor := &domain.ChunkKey{MirrorHash: first[len(first)-1].MirrorHash, Seq: first[len(first)-1].Seq}
	rest, err := s.GetBacklog(context.Background(), "model-a", port.BacklogPage{Limit: 2, After: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "h2", rest[0].MirrorHash)
}
