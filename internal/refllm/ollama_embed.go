// Package refllm provides reference port.EmbeddingPort, port.GenerationPort,
// and port.RerankPort implementations speaking Ollama's and a generic
// cross-encoder server's HTTP APIs. Core packages never import this package
// directly (§6); they consume the port interfaces.
package refllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/groundwork-rag/groundwork/internal/port"
)

// Ollama embedding defaults, adapted from the teacher's embed.OllamaConfig.
const (
	DefaultOllamaHost      = "http://localhost:11434"
	DefaultEmbedModel      = "qwen3-embedding:0.6b"
	DefaultEmbedBatchSize  = 32
	DefaultEmbedTimeout    = 30 * time.Second
	DefaultEmbedMaxRetries = 3
	DefaultEmbedPoolSize   = 4
)

// OllamaEmbedConfig configures NewOllamaEmbedder.
type OllamaEmbedConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect from the first embedding
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
	PoolSize   int

	// SkipHealthCheck skips the startup health check and dimension probe,
	// for tests that don't have a live Ollama server.
	SkipHealthCheck bool
}

// ollamaEmbedRequest is the Ollama /api/embed request body.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the Ollama /api/embed response body.
type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder implements port.EmbeddingPort over Ollama's /api/embed.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaEmbedConfig
	modelURI  string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ port.EmbeddingPort = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder against cfg.Host, auto-detecting
// vector dimensions from a sample embedding unless cfg.Dimensions is set.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaEmbedConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbedModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEmbedTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultEmbedMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultEmbedPoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelURI:  cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck && e.dims == 0 {
		dims, err := e.detectDimensions(ctx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("refllm: detect embedding dimensions: %w", err)
		}
		e.dims = dims
	}

	return e, nil
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.doEmbed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("refllm: empty embedding returned by probe")
	}
	return len(vecs[0]), nil
}

// Dimensions returns the embedding width.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelURI identifies the embedding model, used for vector-index/cache
// keying (§6).
func (e *OllamaEmbedder) ModelURI() string { return e.modelURI }

// Embed embeds a single piece of text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}
	vecs, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("refllm: no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch embeds multiple texts, chunked by config.BatchSize. Empty/
// whitespace-only entries embed to a zero vector without a round-trip.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		vecs, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("refllm: embed batch: %w", err)
		}
		for i, v := range vecs {
			results[batch[i].idx] = v
		}
	}

	return results, nil
}

func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		vecs, err := e.doEmbed(timeoutCtx, texts)
		cancel()
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("refllm: embedding failed after %d attempts: %w", e.config.MaxRetries, lastErr)
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelURI, Input: input})
	if err != nil {
		return nil, fmt.Errorf("refllm: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refllm: embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("refllm: embed failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("refllm: decode embed response: %w", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = v
	}
	return out, nil
}

// Available reports whether the Ollama server is reachable.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases the embedder's pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
