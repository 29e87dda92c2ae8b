package vectorsearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

type fakeStore struct {
	docs       []*domain.Document
	chunks     map[string][]*domain.Chunk
	content    map[string]string
	tagsByDoc  map[string][]domain.Tag
	contentErr error
}

func (f *fakeStore) GetCollections(context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) ListDocuments(context.Context, string) ([]*domain.Document, error) {
	return f.docs, nil
}
func (f *fakeStore) GetDocument(context.Context, string, string) (*domain.Document, error) {
	return nil, nil
}
func (f *fakeStore) GetDocumentByDocid(context.Context, string) (*domain.Document, error) {
	return nil, nil
}
func (f *fakeStore) GetDocumentByURI(context.Context, string) (*domain.Document, error) {
	return nil, nil
}
func (f *fakeStore) GetContent(_ context.Context, mirrorHash string) (string, error) {
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.content[mirrorHash], nil
}
func (f *fakeStore) GetChunks(context.Context, string) ([]*domain.Chunk, error) { return nil, nil }
func (f *fakeStore) GetChunksBatch(_ context.Context, hashes []string) (map[string][]*domain.Chunk, error) {
	out := make(map[string][]*domain.Chunk, len(hashes))
	for _, h := range hashes {
		out[h] = f.chunks[h]
	}
	return out, nil
}
func (f *fakeStore) SearchFts(context.Context, string, port.FtsOptions) ([]port.FtsRow, error) {
	return nil, nil
}
func (f *fakeStore) GetTagsBatch(_ context.Context, docids []string) (map[string][]domain.Tag, error) {
	out := make(map[string][]domain.Tag, len(docids))
	for _, id := range docids {
		out[id] = f.tagsByDoc[id]
	}
	return out, nil
}

type fakeIndex struct {
	available bool
	hits      []port.VectorRow
	err       error
	lastK     int
}

func (f *fakeIndex) Available() bool  { return f.available }
func (f *fakeIndex) Dimensions() int  { return 8 }
func (f *fakeIndex) Model() string    { return "m" }
func (f *fakeIndex) UpsertVectors(context.Context, []port.VectorUpsertRow) error { return nil }
func (f *fakeIndex) SearchNearest(_ context.Context, _ []float32, k int, _ *float64) ([]port.VectorRow, error) {
	f.lastK = k
	return f.hits, f.err
}
func (f *fakeIndex) RebuildVecIndex(context.Context) error { return nil }
func (f *fakeIndex) SyncVecIndex(context.Context) error    { return nil }

type fakeEmbedder struct {
	lastText string
}

func (f *fakeEmbedder) Dimensions() int   { return 8 }
func (f *fakeEmbedder) ModelURI() string  { return "m" }
func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.lastText = text
	return []float32{0.1, 0.2}, nil
}
func (f *fakeEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) { return nil, nil }

func doc(docid, hash string, active bool) *domain.Document {
	return &domain.Document{Docid: docid, MirrorHash: hash, Active: active, URI: "doc://c/" + docid}
}

func TestSearch_UnavailableIndexReturnsVecUnavailable(t *testing.T) {
	_, err := Search(context.Background(), &fakeStore{}, &fakeIndex{available: false}, &fakeEmbedder{}, "q", Options{Limit: 5})
	require.Error(t, err)
	assert.Equal(t, errs.VecSearchUnavailable, errs.GetCode(err))
}

func TestSearch_EmbedsWithFixedPrefix(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := &fakeStore{docs: []*domain.Document{doc("#d1", "h1", true)}}
	index := &fakeIndex{available: true, hits: []port.VectorRow{{MirrorHash: "h1", Seq: 1, Distance: 0.2}}}
	_, err := Search(context.Background(), store, index, embedder, "hello", Options{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, "task: search result | query: hello", embedder.lastText)
}

func TestSearch_PrecomputedVectorSkipsEmbed(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := &fakeStore{docs: []*domain.Document{doc("#d1", "h1", true)}}
	index := &fakeIndex{available: true, hits: []port.VectorRow{{MirrorHash: "h1", Seq: 1, Distance: 0.2}}}
	_, err := Search(context.Background(), store, index, embedder, "hello", Options{Limit: 5, PrecomputedVector: []float32{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "", embedder.lastText)
}

func TestSearch_FiltersOutInactiveAndMissingMirrorHash(t *testing.T) {
	store := &fakeStore{docs: []*domain.Document{doc("#d1", "h1", false), doc("#d2", "", true)}}
	index := &fakeIndex{available: true, hits: []port.VectorRow{{MirrorHash: "h1", Seq: 1, Distance: 0.1}}}
	out, err := Search(context.Background(), store, index, &fakeEmbedder{}, "q", Options{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestSearch_TagFiltersInflateK(t *testing.T) {
	store := &fakeStore{docs: []*domain.Document{doc("#d1", "h1", true)}, tagsByDoc: map[string][]domain.Tag{"#d1": {{Value: "work"}}}}
	index := &fakeIndex{available: true}
	_, err := Search(context.Background(), store, index, &fakeEmbedder{}, "q", Options{Limit: 5, TagsAll: []string{"work"}})
	require.NoError(t, err)
	assert.Equal(t, 15, index.lastK)
}

func TestSearch_StrictLangFilterExcludesMismatch(t *testing.T) {
	store := &fakeStore{
		docs:   []*domain.Document{doc("#d1", "h1", true)},
		chunks: map[string][]*domain.Chunk{"h1": {{MirrorHash: "h1", Seq: 1, Language: "fr", Text: "bonjour"}}},
	}
	index := &fakeIndex{available: true, hits: []port.VectorRow{{MirrorHash: "h1", Seq: 1, Distance: 0.1}}}
	out, err := Search(context.Background(), store, index, &fakeEmbedder{}, "q", Options{Limit: 5, Lang: "en"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestSearch_FullModeDedupesByDocidKeepingBestChunk(t *testing.T) {
	store := &fakeStore{
		docs: []*domain.Document{doc("#d1", "h1", true)},
		chunks: map[string][]*domain.Chunk{"h1": {
			{MirrorHash: "h1", Seq: 1, Text: "weak"},
			{MirrorHash: "h1", Seq: 2, Text: "strong"},
		}},
		content: map[string]string{"h1": "full text"},
	}
	index := &fakeIndex{available: true, hits: []port.VectorRow{
		{MirrorHash: "h1", Seq: 1, Distance: 1.5},
		{MirrorHash: "h1", Seq: 2, Distance: 0.1},
	}}
	out, err := Search(context.Background(), store, index, &fakeEmbedder{}, "q", Options{Limit: 5, Full: true})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "full text", out.Results[0].Snippet)
	assert.Nil(t, out.Results[0].SnippetRange)
}

func TestSearch_SharedMirrorHashProducesResultPerDocument(t *testing.T) {
	store := &fakeStore{docs: []*domain.Document{doc("#d1", "h1", true), doc("#d2", "h1", true)}}
	index := &fakeIndex{available: true, hits: []port.VectorRow{{MirrorHash: "h1", Seq: 1, Distance: 0.2}}}
	out, err := Search(context.Background(), store, index, &fakeEmbedder{}, "q", Options{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, out.Results, 2)
}

func TestRankedKeys_UnavailableIndexReturnsVecUnavailable(t *testing.T) {
	_, _, err := RankedKeys(context.Background(), &fakeIndex{available: false}, &fakeEmbedder{}, "q", Options{Limit: 5})
	require.Error(t, err)
	assert.Equal(t, errs.VecSearchUnavailable, errs.GetCode(err))
}

func TestRankedKeys_ReturnsHitsInIndexOrderAndResolvedVector(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{available: true, hits: []port.VectorRow{
		{MirrorHash: "h1", Seq: 1, Distance: 0.1},
		{MirrorHash: "h2", Seq: 3, Distance: 0.4},
	}}
	keys, vec, err := RankedKeys(context.Background(), index, embedder, "hello", Options{Limit: 5})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, domain.ChunkKey{MirrorHash: "h1", Seq: 1}, keys[0])
	assert.Equal(t, domain.ChunkKey{MirrorHash: "h2", Seq: 3}, keys[1])
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, "task: search result | query: hello", embedder.lastText)
}

func TestRankedKeys_PrecomputedVectorSkipsEmbedAndIsReturned(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{available: true, hits: []port.VectorRow{{MirrorHash: "h1", Seq: 1, Distance: 0.1}}}
	_, vec, err := RankedKeys(context.Background(), index, embedder, "hello", Options{Limit: 5, PrecomputedVector: []float32{9, 9}})
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9}, vec)
	assert.Equal(t, "", embedder.lastText)
}

func TestRankedKeys_TagFiltersInflateK(t *testing.T) {
	index := &fakeIndex{available: true}
	_, _, err := RankedKeys(context.Background(), index, &fakeEmbedder{}, "q", Options{Limit: 5, TagsAny: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 15, index.lastK)
}
