package backlog

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/port"
)

type fakeStats struct {
	pages        [][]port.BacklogItem
	calls        int
	seen         []*domain.ChunkKey
	marked       []domain.ChunkKey
	markEmbedErr error
}

func (f *fakeStats) CountBacklog(context.Context, string) (int, error) { return 0, nil }
func (f *fakeStats) GetBacklog(_ context.Context, _ string, page port.BacklogPage) ([]port.BacklogItem, error) {
	f.seen = append(f.seen, page.After)
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	items := f.pages[f.calls]
	f.calls++
	return items, nil
}
func (f *fakeStats) MarkEmbedded(_ context.Context, _ string, keys []domain.ChunkKey) error {
	if f.markEmbedErr != nil {
		return f.markEmbedErr
	}
	f.marked = append(f.marked, keys...)
	return nil
}

type fakeEmbedder struct {
	vectorsPerBatch [][][]float32
	errs            []error
	call            int
}

func (f *fakeEmbedder) Dimensions() int  { return 4 }
func (f *fakeEmbedder) ModelURI() string { return "m" }
func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, nil }
func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	defer func() { f.call++ }()
	if f.call < len(f.errs) && f.errs[f.call] != nil {
		return nil, f.errs[f.call]
	}
	if f.call < len(f.vectorsPerBatch) {
		return f.vectorsPerBatch[f.call], nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 0, 0}
	}
	return out, nil
}

type fakeIndex struct {
	upserted  [][]port.VectorUpsertRow
	upsertErr error
}

func (f *fakeIndex) Available() bool { return true }
func (f *fakeIndex) Dimensions() int  { return 4 }
func (f *fakeIndex) Model() string    { return "m" }
func (f *fakeIndex) UpsertVectors(_ context.Context, rows []port.VectorUpsertRow) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, rows)
	return nil
}
func (f *fakeIndex) SearchNearest(context.Context, []float32, int, *float64) ([]port.VectorRow, error) {
	return nil, nil
}
func (f *fakeIndex) RebuildVecIndex(context.Context) error { return nil }
func (f *fakeIndex) SyncVecIndex(context.Context) error    { return nil }

func items(n int, startSeq int) []port.BacklogItem {
	out := make([]port.BacklogItem, n)
	for i := 0; i < n; i++ {
		out[i] = port.BacklogItem{MirrorHash: "h", Seq: startSeq + i, Title: "t", Text: "text", Reason: "new"}
	}
	return out
}

func TestRun_EmbedsAllPagesUntilEmpty(t *testing.T) {
	stats := &fakeStats{pages: [][]port.BacklogItem{items(2, 1), items(1, 3), {}}}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}

	report, err := Run(context.Background(), stats, embedder, index, "m", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Embedded)
	assert.Equal(t, 0, report.Errors)
	assert.Len(t, index.upserted, 2)
}

func TestRun_MarksSuccessfullyEmbeddedItemsCurrent(t *testing.T) {
	stats := &fakeStats{pages: [][]port.BacklogItem{items(2, 1), {}}}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}

	_, err := Run(context.Background(), stats, embedder, index, "m", 2)
	require.NoError(t, err)
	require.Len(t, stats.marked, 2)
	assert.Equal(t, domain.ChunkKey{MirrorHash: "h", Seq: 1}, stats.marked[0])
	assert.Equal(t, domain.ChunkKey{MirrorHash: "h", Seq: 2}, stats.marked[1])
}

func TestRun_UpsertFailureSkipsMarkEmbedded(t *testing.T) {
	stats := &fakeStats{pages: [][]port.BacklogItem{items(2, 1), {}}}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{upsertErr: errors.New("upsert failed")}

	_, err := Run(context.Background(), stats, embedder, index, "m", 2)
	require.NoError(t, err)
	assert.Empty(t, stats.marked)
}

func TestRun_AdvancesCursorToLastItemEvenOnEmbedFailure(t *testing.T) {
	stats := &fakeStats{pages: [][]port.BacklogItem{items(2, 1), {}}}
	embedder := &fakeEmbedder{errs: []error{errors.New("embed failed")}}
	index := &fakeIndex{}

	report, err := Run(context.Background(), stats, embedder, index, "m", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Embedded)
	assert.Equal(t, 2, report.Errors)

	require.Len(t, stats.seen, 2)
	require.NotNil(t, stats.seen[1])
	assert.Equal(t, 2, stats.seen[1].Seq)
}

func TestRun_FewerVectorsThanItemsChargesWholeBatchAsErrors(t *testing.T) {
	stats := &fakeStats{pages: [][]port.BacklogItem{items(3, 1), {}}}
	embedder := &fakeEmbedder{vectorsPerBatch: [][][]float32{{{0, 0, 0, 0}}}} // only 1 vector for 3 items
	index := &fakeIndex{}

	report, err := Run(context.Background(), stats, embedder, index, "m", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Embedded)
	assert.Equal(t, 3, report.Errors)
}

func TestRun_UpsertFailureChargesBatchAsErrors(t *testing.T) {
	stats := &fakeStats{pages: [][]port.BacklogItem{items(2, 1), {}}}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{upsertErr: errors.New("upsert failed")}

	report, err := Run(context.Background(), stats, embedder, index, "m", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Embedded)
	assert.Equal(t, 2, report.Errors)
}

func TestRun_FormatsEmbedInputWithTitleFallback(t *testing.T) {
	stats := &fakeStats{pages: [][]port.BacklogItem{
		{{MirrorHash: "h", Seq: 1, Title: "", Text: "body"}},
		{},
	}}
	var captured []string
	embedder := &captureEmbedder{fakeEmbedder: fakeEmbedder{}, capture: &captured}
	index := &fakeIndex{}

	_, err := Run(context.Background(), stats, embedder, index, "m", 2)
	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, "title: none | text: body", captured[0])
}

type captureEmbedder struct {
	fakeEmbedder
	capture *[]string
}

func (c *captureEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	*c.capture = append(*c.capture, texts...)
	return c.fakeEmbedder.EmbedBatch(ctx, texts)
}

func TestLock_TryRunBlocksConcurrentPassForSameModel(t *testing.T) {
	dir := t.TempDir()
	lock1 := NewLock(dir, "model-a")
	lock2 := NewLock(dir, "model-a")

	stats := &fakeStats{pages: [][]port.BacklogItem{{}}}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}

	held, err := lock1.flock.TryLock()
	require.NoError(t, err)
	require.True(t, held)
	defer lock1.flock.Unlock()

	_, err = lock2.TryRun(context.Background(), stats, embedder, index, "model-a", 2)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestLock_DifferentModelsDoNotContend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	lockA := NewLock(dir, "model-a")
	lockB := NewLock(dir, "model-b")

	heldA, err := lockA.flock.TryLock()
	require.NoError(t, err)
	require.True(t, heldA)
	defer lockA.flock.Unlock()

	stats := &fakeStats{pages: [][]port.BacklogItem{{}}}
	report, err := lockB.TryRun(context.Background(), stats, &fakeEmbedder{}, &fakeIndex{}, "model-b", 2)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}
