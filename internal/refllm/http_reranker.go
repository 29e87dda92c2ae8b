package refllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

// Reranker server defaults, adapted from the teacher's
// search.DefaultRerankerEndpoint/Model/Timeout.
const (
	DefaultRerankEndpoint = "http://localhost:9659"
	DefaultRerankModel    = "reranker-small"
	DefaultRerankTimeout  = 10 * time.Second
)

// HTTPRerankConfig configures NewHTTPReranker.
type HTTPRerankConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration

	MaxFailures  int
	ResetTimeout time.Duration
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// HTTPReranker implements port.RerankPort over a generic cross-encoder
// rerank server, guarded by a circuit breaker the way OllamaGenerator is.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankConfig
	cb     *errs.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ port.RerankPort = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker client against cfg.Endpoint.
func NewHTTPReranker(cfg HTTPRerankConfig) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRerankModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankTimeout
	}

	var opts []errs.CircuitBreakerOption
	if cfg.MaxFailures > 0 {
		opts = append(opts, errs.WithMaxFailures(cfg.MaxFailures))
	}
	if cfg.ResetTimeout > 0 {
		opts = append(opts, errs.WithResetTimeout(cfg.ResetTimeout))
	}

	return &HTTPReranker{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		cb:     errs.NewCircuitBreaker("http-reranker", opts...),
	}
}

// Rerank scores texts against query via the cross-encoder server. Results
// are returned in the server's order (already score-descending); callers
// read Index to map back onto their own array.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, texts []string) ([]port.RerankHit, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("refllm: reranker is closed")
	}

	hits, err := errs.CircuitExecuteWithResult(r.cb,
		func() ([]port.RerankHit, error) { return r.doRerank(ctx, query, texts) },
		func() ([]port.RerankHit, error) { return nil, errs.ErrCircuitOpen },
	)
	if err == errs.ErrCircuitOpen {
		return nil, errs.InternalErr("rerank unavailable", err)
	}
	return hits, err
}

func (r *HTTPReranker) doRerank(ctx context.Context, query string, texts []string) ([]port.RerankHit, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: texts, Model: r.config.Model})
	if err != nil {
		return nil, fmt.Errorf("refllm: marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refllm: rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("refllm: rerank failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("refllm: decode rerank response: %w", err)
	}

	hits := make([]port.RerankHit, len(result.Results))
	for i, h := range result.Results {
		hits[i] = port.RerankHit{Index: h.Index, Score: h.Score}
	}
	return hits, nil
}

// Available reports whether the rerank server is reachable and the circuit
// is not open.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed || !r.cb.Allow() {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close marks the reranker closed; subsequent Rerank calls fail fast.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
