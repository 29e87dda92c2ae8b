// Package cache implements port.ExpansionCache over an in-process LRU,
// grounded on the teacher's HybridClassifier cache
// (internal/search/classifier.go, github.com/hashicorp/golang-lru/v2).
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize matches the teacher's classifier cache sizing rationale
// (DefaultClassifierCacheSize): large enough for a session's worth of
// distinct queries without meaningful memory pressure.
const DefaultSize = 10000

// LRU is an in-process, non-persistent port.ExpansionCache.
type LRU struct {
	cache *lru.Cache[string, string]
}

// New builds an LRU-backed cache with the given capacity. size <= 0 falls
// back to DefaultSize.
func New(size int) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	c, _ := lru.New[string, string](size)
	return &LRU{cache: c}
}

// Get implements port.ExpansionCache.
func (l *LRU) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := l.cache.Get(key)
	return value, ok, nil
}

// Set implements port.ExpansionCache.
func (l *LRU) Set(_ context.Context, key string, value string) error {
	l.cache.Add(key, value)
	return nil
}
