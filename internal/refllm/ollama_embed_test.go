package refllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeEmbedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var n int
		switch v := req.Input.(type) {
		case string:
			n = 1
		case []any:
			n = len(v)
		}
		embeddings := make([][]float64, n)
		for i := range embeddings {
			vec := make([]float64, dims)
			for j := range vec {
				vec[j] = float64(j+1) * 0.1
			}
			embeddings[i] = vec
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings})
	}))
}

func TestOllamaEmbedder_DetectsDimensionsOnStartup(t *testing.T) {
	srv := newFakeEmbedServer(t, 4)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaEmbedConfig{Host: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())
}

func TestOllamaEmbedder_EmbedReturnsVector(t *testing.T) {
	srv := newFakeEmbedServer(t, 4)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaEmbedConfig{Host: srv.URL, Dimensions: 4, SkipHealthCheck: true})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestOllamaEmbedder_EmbedBlankTextSkipsRoundTrip(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 2, 3, 4}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaEmbedConfig{Host: srv.URL, Dimensions: 4, SkipHealthCheck: true})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vec)
	assert.Equal(t, 0, calls)
}

func TestOllamaEmbedder_EmbedBatchPreservesOrderAndBatchesRequests(t *testing.T) {
	srv := newFakeEmbedServer(t, 2)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaEmbedConfig{Host: srv.URL, Dimensions: 2, BatchSize: 2, SkipHealthCheck: true})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], 2)
	assert.Equal(t, make([]float32, 2), vecs[1])
	assert.Len(t, vecs[2], 2)
}

func TestOllamaEmbedder_EmbedRetriesOnTransientFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 2}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaEmbedConfig{Host: srv.URL, Dimensions: 2, MaxRetries: 3, SkipHealthCheck: true})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 2, attempts)
}

func TestOllamaEmbedder_AvailableReflectsServerHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaEmbedConfig{Host: srv.URL, Dimensions: 2, SkipHealthCheck: true})
	require.NoError(t, err)

	assert.True(t, e.Available(context.Background()))
	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
}
