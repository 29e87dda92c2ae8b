// Package refvector provides a reference port.VectorIndexPort implementation
// backed by github.com/coder/hnsw, a pure-Go HNSW index. It is adapted from
// the teacher's HNSWStore: same lazy-deletion scheme (orphaning a key rather
// than calling graph.Delete, which the teacher notes breaks coder/hnsw when
// the last node is removed), same cosine/L2 distance-to-score conversion,
// same gob-encoded metadata sidecar for persistence.
//
// Core packages never import this package directly (§6); they consume
// port.VectorIndexPort.
package refvector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/port"
)

// Metric selects the distance function backing the graph.
type Metric string

const (
	MetricCosine Metric = "cos"
	MetricL2     Metric = "l2"
)

// Config configures New.
type Config struct {
	Dimensions int
	ModelURI   string
	Metric     Metric // defaults to MetricCosine

	M        int // graph connectivity, defaults to 16
	EfSearch int // search breadth, defaults to 20

	// PersistPath, if set, is the .hnsw file Save/Load and SyncVecIndex use.
	// Empty means the index is memory-only.
	PersistPath string
}

// Index is a reference port.VectorIndexPort implementation.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[domain.ChunkKey]uint64
	keyMap  map[uint64]domain.ChunkKey
	vectors map[domain.ChunkKey][]float32 // normalized vectors, kept for RebuildVecIndex
	nextKey uint64
}

var _ port.VectorIndexPort = (*Index)(nil)

// indexMetadata is the gob-encoded sidecar persisted alongside the graph
// export, mirroring the teacher's hnswMetadata.
type indexMetadata struct {
	IDMap   map[domain.ChunkKey]uint64
	Vectors map[domain.ChunkKey][]float32
	NextKey uint64
	Config  Config
}

// New creates an empty HNSW index per cfg. If cfg.PersistPath names an
// existing index, it is loaded.
func New(cfg Config) (*Index, error) {
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	idx := &Index{
		config:  cfg,
		idMap:   make(map[domain.ChunkKey]uint64),
		keyMap:  make(map[uint64]domain.ChunkKey),
		vectors: make(map[domain.ChunkKey][]float32),
	}
	idx.graph = newGraph(cfg)

	if cfg.PersistPath != "" {
		if _, err := os.Stat(cfg.PersistPath); err == nil {
			if err := idx.Load(cfg.PersistPath); err != nil {
				return nil, fmt.Errorf("refvector: load existing index: %w", err)
			}
		}
	}

	return idx, nil
}

func newGraph(cfg Config) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricL2:
		g.Distance = hnsw.EuclideanDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Available reports whether this index can serve queries. The reference
// implementation is always available once constructed; it never reports
// degraded state like a remote service would.
func (idx *Index) Available() bool {
	return true
}

// Dimensions returns the configured vector width.
func (idx *Index) Dimensions() int {
	return idx.config.Dimensions
}

// Model returns the embedding model URI this index's vectors are keyed to.
func (idx *Index) Model() string {
	return idx.config.ModelURI
}

// UpsertVectors inserts or replaces vectors keyed by (mirror_hash, seq).
// Rows embedded with a different model than idx.config.ModelURI are
// rejected: mixing embedding spaces in one graph would make distances
// meaningless.
func (idx *Index) UpsertVectors(ctx context.Context, rows []port.VectorUpsertRow) error {
	if len(rows) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, r := range rows {
		if r.ModelURI != "" && idx.config.ModelURI != "" && r.ModelURI != idx.config.ModelURI {
			return fmt.Errorf("refvector: row model %q does not match index model %q", r.ModelURI, idx.config.ModelURI)
		}
		if len(r.Vector) != idx.config.Dimensions {
			return fmt.Errorf("refvector: vector dimension mismatch: expected %d, got %d", idx.config.Dimensions, len(r.Vector))
		}
	}

	for _, r := range rows {
		key := domain.ChunkKey{MirrorHash: r.MirrorHash, Seq: r.Seq}

		// Lazy deletion: orphan the old graph node rather than removing it,
		// since coder/hnsw breaks when the last node in the graph is deleted.
		if existingKey, ok := idx.idMap[key]; ok {
			delete(idx.keyMap, existingKey)
			delete(idx.idMap, key)
			delete(idx.vectors, key)
		}

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		if idx.config.Metric == MetricCosine {
			normalizeInPlace(vec)
		}

		graphKey := idx.nextKey
		idx.nextKey++
		idx.graph.Add(hnsw.MakeNode(graphKey, vec))

		idx.idMap[key] = graphKey
		idx.keyMap[graphKey] = key
		idx.vectors[key] = vec
	}

	return nil
}

// SearchNearest returns the k nearest chunks to query, optionally filtered
// by a minimum similarity score.
func (idx *Index) SearchNearest(ctx context.Context, query []float32, k int, minScore *float64) ([]port.VectorRow, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.config.Dimensions {
		return nil, fmt.Errorf("refvector: query dimension mismatch: expected %d, got %d", idx.config.Dimensions, len(query))
	}
	if idx.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if idx.config.Metric == MetricCosine {
		normalizeInPlace(q)
	}

	nodes := idx.graph.Search(q, k)

	out := make([]port.VectorRow, 0, len(nodes))
	for _, node := range nodes {
		key, ok := idx.keyMap[node.Key]
		if !ok {
			// Orphaned (lazily deleted) node; skip it.
			continue
		}

		distance := idx.graph.Distance(q, node.Value)
		if minScore != nil && float64(distanceToScore(distance, idx.config.Metric)) < *minScore {
			continue
		}

		out = append(out, port.VectorRow{
			MirrorHash: key.MirrorHash,
			Seq:        key.Seq,
			Distance:   distance,
		})
	}

	return out, nil
}

// RebuildVecIndex compacts the graph by dropping orphaned (lazily deleted)
// nodes: it re-adds every live vector to a fresh graph and discards the old
// one. Grounded on the teacher's Stats().Orphans concept, which tracks the
// same graph/valid-id divergence this resolves.
func (idx *Index) RebuildVecIndex(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fresh := newGraph(idx.config)
	newIDMap := make(map[domain.ChunkKey]uint64, len(idx.idMap))
	newKeyMap := make(map[uint64]domain.ChunkKey, len(idx.idMap))
	var nextKey uint64

	for key, vec := range idx.vectors {
		graphKey := nextKey
		nextKey++
		fresh.Add(hnsw.MakeNode(graphKey, vec))
		newIDMap[key] = graphKey
		newKeyMap[graphKey] = key
	}

	idx.graph = fresh
	idx.idMap = newIDMap
	idx.keyMap = newKeyMap
	idx.nextKey = nextKey
	return nil
}

// SyncVecIndex persists the graph and its ID mappings to Config.PersistPath.
// A no-op when the index is memory-only.
func (idx *Index) SyncVecIndex(ctx context.Context) error {
	if idx.config.PersistPath == "" {
		return nil
	}
	return idx.Save(idx.config.PersistPath)
}

// Save atomically persists the graph (path) and ID mappings (path + ".meta")
// to disk, adapted from the teacher's HNSWStore.Save.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("refvector: create index dir: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("refvector: create index file: %w", err)
	}
	if err := idx.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("refvector: export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("refvector: close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("refvector: rename index file: %w", err)
	}

	return idx.saveMetadata(path + ".meta")
}

func (idx *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("refvector: create metadata file: %w", err)
	}

	meta := indexMetadata{IDMap: idx.idMap, Vectors: idx.vectors, NextKey: idx.nextKey, Config: idx.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("refvector: encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("refvector: close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces the in-memory graph and ID mappings with the ones persisted
// at path (and path + ".meta").
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("refvector: open metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta indexMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("refvector: decode metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("refvector: open index file: %w", err)
	}
	defer file.Close()

	graph := newGraph(meta.Config)
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("refvector: import graph: %w", err)
	}

	idx.graph = graph
	idx.config = meta.Config
	idx.idMap = meta.IDMap
	idx.vectors = meta.Vectors
	if idx.vectors == nil {
		idx.vectors = make(map[domain.ChunkKey][]float32)
	}
	idx.nextKey = meta.NextKey
	idx.keyMap = make(map[uint64]domain.ChunkKey, len(meta.IDMap))
	for key, graphKey := range meta.IDMap {
		idx.keyMap[graphKey] = key
	}
	return nil
}

// Len returns the number of live (non-orphaned) vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idMap)
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance value into a 0-1 similarity score for
// minScore filtering, matching the teacher's conversion.
func distanceToScore(distance float32, metric Metric) float32 {
	if metric == MetricL2 {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance/2.0
}
