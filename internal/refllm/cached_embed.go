package refllm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/groundwork-rag/groundwork/internal/port"
)

// DefaultEmbedCacheSize is the default number of embeddings kept in memory,
// adapted from the teacher's embed.DefaultEmbeddingCacheSize.
const DefaultEmbedCacheSize = 1000

// CachedEmbedder wraps a port.EmbeddingPort with an LRU cache keyed on
// text+model, avoiding redundant embedding round-trips for repeated queries
// (e.g. expansion variants that collapse back to an already-seen string).
type CachedEmbedder struct {
	inner port.EmbeddingPort
	cache *lru.Cache[string, []float32]
}

var _ port.EmbeddingPort = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with an LRU cache of the given size (0 uses
// DefaultEmbedCacheSize).
func NewCachedEmbedder(inner port.EmbeddingPort, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbedCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelURI()))
	return hex.EncodeToString(sum[:])
}

// Dimensions passes through to the wrapped embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelURI passes through to the wrapped embedder.
func (c *CachedEmbedder) ModelURI() string { return c.inner.ModelURI() }

// Embed returns the cached vector if present, otherwise computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

// EmbedBatch embeds only the cache misses, preserving input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := c.cacheKey(text)
		if v, ok := c.cache.Get(key); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = computed[j]
		c.cache.Add(c.cacheKey(texts[idx]), computed[j])
	}
	return results, nil
}
