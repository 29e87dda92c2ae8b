package expansion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	expansioncache "github.com/groundwork-rag/groundwork/internal/expansion/cache"
	"github.com/groundwork-rag/groundwork/internal/port"
)

type fakeGen struct {
	modelURI string
	response string
	err      error
	calls    int32
}

func (f *fakeGen) ModelURI() string { return f.modelURI }
func (f *fakeGen) Generate(context.Context, string, port.GenerationOptions) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.response, f.err
}

func TestExpand_NilGenerationPortReturnsNil(t *testing.T) {
	e := New(nil, nil)
	assert.Nil(t, e.Expand(context.Background(), "q", Options{}))
}

func TestExpand_HappyPath(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: `noise before {"lexicalQueries":["a","b"],"vectorQueries":["c"],"hyde":"h","notes":"n"} noise after`}
	e := New(gen, nil)

	result := e.Expand(context.Background(), "query", Options{Lang: "en"})
	require.NotNil(t, result)
	assert.Equal(t, []string{"a", "b"}, result.LexicalQueries)
	assert.Equal(t, []string{"c"}, result.VectorQueries)
	assert.Equal(t, "h", result.HyDE)
}

func TestExpand_GenerationErrorReturnsNil(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", err: errors.New("boom")}
	e := New(gen, nil)
	assert.Nil(t, e.Expand(context.Background(), "q", Options{}))
}

func TestExpand_UnparsableOutputReturnsNil(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: "no json here at all"}
	e := New(gen, nil)
	assert.Nil(t, e.Expand(context.Background(), "q", Options{}))
}

func TestExpand_MalformedJSONReturnsNil(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: `{"lexicalQueries": [1,2,3]}`}
	e := New(gen, nil)
	assert.Nil(t, e.Expand(context.Background(), "q", Options{}))
}

func TestExpand_CapsArraysAtFiveNonEmpty(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: `{"lexicalQueries":["a","","b","c","d","e","f"],"vectorQueries":[]}`}
	e := New(gen, nil)
	result := e.Expand(context.Background(), "q", Options{})
	require.NotNil(t, result)
	assert.Len(t, result.LexicalQueries, 5)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, result.LexicalQueries)
}

func TestExpand_CacheHitSkipsGeneration(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: `{"lexicalQueries":["fresh"]}`}
	c := expansioncache.New(10)
	e := New(gen, c)

	first := e.Expand(context.Background(), "q", Options{Lang: "en"})
	require.NotNil(t, first)
	assert.EqualValues(t, 1, gen.calls)

	second := e.Expand(context.Background(), "q", Options{Lang: "en"})
	require.NotNil(t, second)
	assert.EqualValues(t, 1, gen.calls, "second call should be served from cache")
	assert.Equal(t, first.LexicalQueries, second.LexicalQueries)
}

func TestExpand_DifferentLangProducesDifferentCacheKey(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: `{"lexicalQueries":["x"]}`}
	c := expansioncache.New(10)
	e := New(gen, c)

	e.Expand(context.Background(), "q", Options{Lang: "en"})
	e.Expand(context.Background(), "q", Options{Lang: "fr"})
	assert.EqualValues(t, 2, gen.calls)
}

func TestExpand_ConcurrentIdenticalRequestsCollapseToOneGeneration(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: `{"lexicalQueries":["x"]}`}
	e := New(gen, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Expand(context.Background(), "same query", Options{})
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, gen.calls)
}

func TestExpand_AbsentCacheNeverChangesCorrectness(t *testing.T) {
	gen := &fakeGen{modelURI: "m1", response: `{"lexicalQueries":["x"],"vectorQueries":["y"]}`}
	withCache := New(gen, expansioncache.New(10))
	withoutCache := New(gen, nil)

	a := withCache.Expand(context.Background(), "q", Options{})
	b := withoutCache.Expand(context.Background(), "q", Options{})
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.LexicalQueries, b.LexicalQueries)
	assert.Equal(t, a.VectorQueries, b.VectorQueries)
}
