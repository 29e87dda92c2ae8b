package refstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedDoc(t *testing.T, s *Store, docid, collection, relPath, mirrorHash, text string, tags ...domain.Tag) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertMirror(ctx, mirrorHash, "full content for "+docid))
	require.NoError(t, s.UpsertDocument(ctx, &domain.Document{
		Docid: docid, Collection: collection, RelPath: relPath,
		URI: "doc://" + collection + "/" + relPath, Title: "Title " + docid,
		MirrorHash: mirrorHash, Active: true, Mtime: time.Unix(1700000000, 0), Tags: tags,
	}))
	require.NoError(t, s.UpsertChunks(ctx, mirrorHash, []*domain.Chunk{
		{MirrorHash: mirrorHash, Seq: 1, Text: text, StartLine: 1, EndLine: 2},
	}))
}

func TestStore_ListDocumentsAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "hello world")

	docs, err := s.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "#d1", docs[0].Docid)

	byDocid, err := s.GetDocumentByDocid(context.Background(), "#d1")
	require.NoError(t, err)
	require.NotNil(t, byDocid)
	assert.Equal(t, "doc://notes/a.md", byDocid.URI)

	byURI, err := s.GetDocumentByURI(context.Background(), "doc://notes/a.md")
	require.NoError(t, err)
	require.NotNil(t, byURI)
	assert.Equal(t, "#d1", byURI.Docid)

	byPath, err := s.GetDocument(context.Background(), "notes", "a.md")
	require.NoError(t, err)
	require.NotNil(t, byPath)
}

func TestStore_GetCollectionsReturnsDistinctActiveCollections(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "hello")
	seedDoc(t, s, "#d2", "work", "b.md", "h2", "world")

	cols, err := s.GetCollections(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"notes", "work"}, cols)
}

func TestStore_DeleteDocumentExcludesFromListAndCollections(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "hello")

	require.NoError(t, s.DeleteDocument(context.Background(), "#d1"))

	docs, err := s.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_GetContentAndChunksBatch(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "hello world")

	content, err := s.GetContent(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "full content for #d1", content)

	chunksByHash, err := s.GetChunksBatch(context.Background(), []string{"h1", "missing"})
	require.NoError(t, err)
	require.Len(t, chunksByHash["h1"], 1)
	assert.Equal(t, "hello world", chunksByHash["h1"][0].Text)
	assert.Empty(t, chunksByHash["missing"])
}

func TestStore_GetTagsBatch(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "hello", domain.Tag{Value: "work", Source: domain.TagSourceUser})

	tagsByDocid, err := s.GetTagsBatch(context.Background(), []string{"#d1"})
	require.NoError(t, err)
	require.Len(t, tagsByDocid["#d1"], 1)
	assert.Equal(t, "work", tagsByDocid["#d1"][0].Value)
}

func TestStore_SearchFts_ReturnsMatch(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "the quick brown fox")

	rows, err := s.SearchFts(context.Background(), "quick", port.FtsOptions{Limit: 10, Snippet: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "#d1", rows[0].Docid)
	assert.Equal(t, "the quick brown fox", rows[0].Snippet)
}

func TestStore_SearchFts_FiltersByCollection(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "quick fox")
	seedDoc(t, s, "#d2", "work", "b.md", "h2", "quick fox")

	rows, err := s.SearchFts(context.Background(), "quick", port.FtsOptions{Limit: 10, Collection: "work"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "#d2", rows[0].Docid)
}

func TestStore_SearchFts_FiltersByTagsAll(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "quick fox", domain.Tag{Value: "urgent"})
	seedDoc(t, s, "#d2", "notes", "b.md", "h2", "quick fox")

	rows, err := s.SearchFts(context.Background(), "quick", port.FtsOptions{Limit: 10, TagsAll: []string{"urgent"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "#d1", rows[0].Docid)
}

func TestStore_SearchFts_InvalidSyntaxReturnsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "hello")

	_, err := s.SearchFts(context.Background(), `"unbalanced`, port.FtsOptions{Limit: 10})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.GetCode(err))
}

func TestStore_SearchFts_OrdersBestMatchFirst(t *testing.T) {
	s := newTestStore(t)
	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "fox fox fox fox fox")
	seedDoc(t, s, "#d2", "notes", "b.md", "h2", "the quick fox ran")

	rows, err := s.SearchFts(context.Background(), "fox", port.FtsOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Score <= rows[1].Score, "more-negative score should sort first")
}

func TestNew_UnknownBackendErrors(t *testing.T) {
	_, err := New(Config{Backend: "nonsense"})
	require.Error(t, err)
}

func TestNew_BleveBackendSearchesInMemory(t *testing.T) {
	s, err := New(Config{Backend: BackendBleve})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	seedDoc(t, s, "#d1", "notes", "a.md", "h1", "the quick brown fox")

	rows, err := s.SearchFts(context.Background(), "quick", port.FtsOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "#d1", rows[0].Docid)
}
