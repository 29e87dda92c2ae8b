package refvector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwork-rag/groundwork/internal/port"
)

func vec(vals ...float32) []float32 { return vals }

func TestIndex_SearchNearestFindsClosestVector(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)

	require.NoError(t, idx.UpsertVectors(context.Background(), []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "m1", Vector: vec(1, 0)},
		{MirrorHash: "h2", Seq: 1, ModelURI: "m1", Vector: vec(0, 1)},
	}))

	rows, err := idx.SearchNearest(context.Background(), vec(1, 0.01), 1, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "h1", rows[0].MirrorHash)
}

func TestIndex_UpsertVectorsRejectsDimensionMismatch(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)

	err = idx.UpsertVectors(context.Background(), []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "m1", Vector: vec(1, 0, 0)},
	})
	assert.Error(t, err)
}

func TestIndex_UpsertVectorsRejectsModelMismatch(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)

	err = idx.UpsertVectors(context.Background(), []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "other-model", Vector: vec(1, 0)},
	})
	assert.Error(t, err)
}

func TestIndex_UpsertVectorsReplacesExistingKey(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.UpsertVectors(ctx, []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "m1", Vector: vec(0, 1)},
	}))
	require.NoError(t, idx.UpsertVectors(ctx, []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "m1", Vector: vec(1, 0)},
	}))

	assert.Equal(t, 1, idx.Len())

	rows, err := idx.SearchNearest(ctx, vec(1, 0), 2, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0, rows[0].Distance, 0.01)
}

func TestIndex_SearchNearestAppliesMinScore(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.UpsertVectors(ctx, []port.VectorUpsertRow{
		{MirrorHash: "close", Seq: 1, ModelURI: "m1", Vector: vec(1, 0)},
		{MirrorHash: "far", Seq: 1, ModelURI: "m1", Vector: vec(-1, 0)},
	}))

	min := 0.9
	rows, err := idx.SearchNearest(ctx, vec(1, 0), 5, &min)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "close", rows[0].MirrorHash)
}

func TestIndex_SearchNearestOnEmptyIndexReturnsNoRows(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)

	rows, err := idx.SearchNearest(context.Background(), vec(1, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIndex_RebuildVecIndexDropsOrphansButKeepsLiveVectors(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.UpsertVectors(ctx, []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "m1", Vector: vec(1, 0)},
	}))
	// Orphans the first node's graph entry by replacing the same key.
	require.NoError(t, idx.UpsertVectors(ctx, []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "m1", Vector: vec(1, 0)},
	}))
	require.NoError(t, idx.UpsertVectors(ctx, []port.VectorUpsertRow{
		{MirrorHash: "h2", Seq: 1, ModelURI: "m1", Vector: vec(0, 1)},
	}))

	require.NoError(t, idx.RebuildVecIndex(ctx))

	assert.Equal(t, 2, idx.Len())
	rows, err := idx.SearchNearest(ctx, vec(1, 0), 5, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestIndex_SaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.hnsw")

	idx, err := New(Config{Dimensions: 2, ModelURI: "m1", PersistPath: path})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.UpsertVectors(ctx, []port.VectorUpsertRow{
		{MirrorHash: "h1", Seq: 1, ModelURI: "m1", Vector: vec(1, 0)},
	}))
	require.NoError(t, idx.SyncVecIndex(ctx))

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := New(Config{Dimensions: 2, ModelURI: "m1", PersistPath: path})
	require.NoError(t, err)

	rows, err := reloaded.SearchNearest(ctx, vec(1, 0), 1, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "h1", rows[0].MirrorHash)
}

func TestIndex_SyncVecIndexNoopWhenMemoryOnly(t *testing.T) {
	idx, err := New(Config{Dimensions: 2, ModelURI: "m1"})
	require.NoError(t, err)
	assert.NoError(t, idx.SyncVecIndex(context.Background()))
}

func TestIndex_AvailableDimensionsAndModel(t *testing.T) {
	idx, err := New(Config{Dimensions: 3, ModelURI: "m1"})
	require.NoError(t, err)

	assert.True(t, idx.Available())
	assert.Equal(t, 3, idx.Dimensions())
	assert.Equal(t, "m1", idx.Model())
}
