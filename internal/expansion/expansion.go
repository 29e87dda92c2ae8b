// Package expansion implements query expansion (§4.4, C4): a single LLM
// call that proposes lexical/semantic query variants and an optional
// hypothetical-document passage, cached by a hash of the prompt inputs.
// Grounded on the teacher's HybridClassifier (internal/search/classifier.go):
// an LRU-cached LLM call with graceful fallback on any failure, generalized
// here from query classification to query expansion, and with
// singleflight added to collapse concurrent cache misses for the same key
// onto a single generation call.
package expansion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/groundwork-rag/groundwork/internal/port"
)

// PromptVersion is mixed into the cache key so a prompt-template change
// invalidates previously cached expansions (§3: "Expansion cache entry").
const PromptVersion = "expand-v1"

// maxItemsPerField caps each returned array at 5 non-empty strings (§4.4).
const maxItemsPerField = 5

// fixedSeed makes expansion decoding reproducible across calls (§4.4:
// "deterministic decoding").
var fixedSeed = int64(7)

// defaultMaxTokens bounds the expansion completion.
const defaultMaxTokens = 512

// Options configures a single Expand call (§4.4).
type Options struct {
	Lang      string
	TimeoutMs int
}

// Result is the parsed, validated expansion output (§4.4, §3).
type Result struct {
	LexicalQueries []string `json:"lexicalQueries"`
	VectorQueries  []string `json:"vectorQueries"`
	HyDE           string   `json:"hyde,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// Expander runs query expansion against a generation port, with an optional
// cache and stampede protection for concurrent identical requests.
type Expander struct {
	gen   port.GenerationPort
	cache port.ExpansionCache
	group singleflight.Group
}

// New builds an Expander. cache may be nil; absence of a cache never
// changes correctness, only cost (§4.4).
func New(gen port.GenerationPort, cache port.ExpansionCache) *Expander {
	return &Expander{gen: gen, cache: cache}
}

// Expand runs the expansion protocol (§4.4). It returns nil on any failure
// (parse, schema, port error, or timeout) rather than propagating an error,
// since expansion is always an optional pipeline stage (§7).
func (e *Expander) Expand(ctx context.Context, query string, opts Options) *Result {
	if e.gen == nil {
		return nil
	}

	key := cacheKey(e.gen.ModelURI(), query, opts.Lang)

	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			if result := decode(cached); result != nil {
				return result
			}
		}
	}

	out, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.generate(ctx, query, opts)
	})
	if err != nil || out == nil {
		return nil
	}
	result := out.(*Result)

	if e.cache != nil {
		if encoded, err := json.Marshal(result); err == nil {
			_ = e.cache.Set(ctx, key, string(encoded))
		}
	}
	return result
}

func (e *Expander) generate(ctx context.Context, query string, opts Options) (*Result, error) {
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	prompt := buildPrompt(query, opts.Lang)
	raw, err := e.gen.Generate(ctx, prompt, port.GenerationOptions{
		Temperature: 0,
		MaxTokens:   defaultMaxTokens,
		Seed:        &fixedSeed,
	})
	if err != nil {
		return nil, err
	}

	object, ok := extractBalancedJSON(raw)
	if !ok {
		return nil, errNoJSON
	}

	var decoded Result
	if err := json.Unmarshal([]byte(object), &decoded); err != nil {
		return nil, err
	}

	decoded.LexicalQueries = capNonEmpty(decoded.LexicalQueries, maxItemsPerField)
	decoded.VectorQueries = capNonEmpty(decoded.VectorQueries, maxItemsPerField)
	return &decoded, nil
}

var errNoJSON = jsonExtractionError("no balanced JSON object in generation output")

type jsonExtractionError string

func (e jsonExtractionError) Error() string { return string(e) }

// promptTemplate mirrors the teacher's contextual_llm.go prompt style:
// short, directive, format-constrained.
const promptTemplate = `You expand a search query into alternative phrasings for a retrieval system.
Respond in %s. Return ONLY a single JSON object, no prose, matching this shape:
{"lexicalQueries": string[], "vectorQueries": string[], "hyde": string, "notes": string}

Rules:
- lexicalQueries: keyword-style reformulations suited to a BM25 search engine.
- vectorQueries: natural-language reformulations suited to a semantic search engine.
- hyde: one short hypothetical passage that would answer the query, or omit it.
- Each array holds at most 5 items. Omit fields you have nothing to contribute.

Query: %s`

func buildPrompt(query, lang string) string {
	language := lang
	if language == "" {
		language = "the query's language"
	}
	return fmt.Sprintf(promptTemplate, language, query)
}

func capNonEmpty(items []string, max int) []string {
	out := make([]string, 0, max)
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
		if len(out) == max {
			break
		}
	}
	return out
}

// extractBalancedJSON scans for the first top-level balanced {...} object,
// tolerating braces inside string literals.
func extractBalancedJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func decode(serialized string) *Result {
	var result Result
	if err := json.Unmarshal([]byte(serialized), &result); err != nil {
		return nil
	}
	return &result
}

func cacheKey(modelURI, query, lang string) string {
	h := sha256.New()
	h.Write([]byte(PromptVersion))
	h.Write([]byte{0})
	h.Write([]byte(modelURI))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(lang))
	return hex.EncodeToString(h.Sum(nil))
}
