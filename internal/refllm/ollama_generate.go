package refllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/groundwork-rag/groundwork/internal/errs"
	"github.com/groundwork-rag/groundwork/internal/port"
)

// Ollama generation defaults, adapted from the teacher's
// index.DefaultContextModel/DefaultContextHost/DefaultContextTimeout.
const (
	DefaultGenerateModel   = "qwen3:0.6b"
	DefaultGenerateHost    = "http://localhost:11434"
	DefaultGenerateTimeout = 30 * time.Second
)

// OllamaGenerateConfig configures NewOllamaGenerator.
type OllamaGenerateConfig struct {
	Host    string
	Model   string
	Timeout time.Duration

	// CircuitBreaker options; zero values use errs.NewCircuitBreaker's
	// defaults (5 failures, 30s reset).
	MaxFailures  int
	ResetTimeout time.Duration
}

// ollamaGenerateRequest is the Ollama /api/generate request body.
type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options *ollamaGenerateOptions `json:"options,omitempty"`
}

type ollamaGenerateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Seed        *int64  `json:"seed,omitempty"`
}

// ollamaGenerateResponse is the Ollama /api/generate response body
// (stream=false returns the full response in one object).
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaGenerator implements port.GenerationPort over Ollama's /api/generate,
// guarded by a circuit breaker so a stuck Ollama process fails fast instead
// of stalling every downstream request.
type OllamaGenerator struct {
	client *http.Client
	config OllamaGenerateConfig
	cb     *errs.CircuitBreaker
}

var _ port.GenerationPort = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator against cfg.Host.
func NewOllamaGenerator(cfg OllamaGenerateConfig) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = DefaultGenerateHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGenerateModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGenerateTimeout
	}

	var opts []errs.CircuitBreakerOption
	if cfg.MaxFailures > 0 {
		opts = append(opts, errs.WithMaxFailures(cfg.MaxFailures))
	}
	if cfg.ResetTimeout > 0 {
		opts = append(opts, errs.WithResetTimeout(cfg.ResetTimeout))
	}

	return &OllamaGenerator{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		cb:     errs.NewCircuitBreaker("ollama-generate", opts...),
	}
}

// ModelURI identifies the generation model, used for cache keying (§6).
func (g *OllamaGenerator) ModelURI() string { return g.config.Model }

// Generate produces raw text for prompt. When the circuit breaker is open
// (the Ollama server has been failing), it returns errs.Internal wrapping
// errs.ErrCircuitOpen rather than attempting the request.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, opts port.GenerationOptions) (string, error) {
	text, err := g.cb.ExecuteWithResult(
		func() (string, error) { return g.doGenerate(ctx, prompt, opts) },
		func() (string, error) { return "", errs.ErrCircuitOpen },
	)
	if err != nil {
		if err == errs.ErrCircuitOpen {
			return "", errs.InternalErr("generation unavailable", err)
		}
		return "", err
	}
	return text, nil
}

func (g *OllamaGenerator) doGenerate(ctx context.Context, prompt string, opts port.GenerationOptions) (string, error) {
	reqBody := ollamaGenerateRequest{Model: g.config.Model, Prompt: prompt, Stream: false}
	if opts.Temperature != 0 || opts.MaxTokens != 0 || opts.Seed != nil {
		reqBody.Options = &ollamaGenerateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
			Seed:        opts.Seed,
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("refllm: marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refllm: generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("refllm: generate failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("refllm: decode generate response: %w", err)
	}
	return result.Response, nil
}
