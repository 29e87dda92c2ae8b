// Package chunklookup implements the O(1) (mirror_hash, seq) -> chunk getter
// specified in §4.3 (C3). Callers must batch-fetch every mirror hash they
// need (via port.StorePort.GetChunksBatch) before constructing a Table.
// This package never makes a store call itself, which is what keeps the
// rest of the pipeline free of per-candidate round-trips.
package chunklookup

import "github.com/groundwork-rag/groundwork/internal/domain"

// Table is a pre-fetched mirror_hash -> chunk lookup, built once per pipeline
// invocation from a batch fetch.
type Table struct {
	bySeq map[string]map[int]*domain.Chunk
	first map[string]*domain.Chunk
}

// NewTable builds a Table from a batch-fetched mirror_hash -> []chunk map.
func NewTable(chunksByHash map[string][]*domain.Chunk) *Table {
	t := &Table{
		bySeq: make(map[string]map[int]*domain.Chunk, len(chunksByHash)),
		first: make(map[string]*domain.Chunk, len(chunksByHash)),
	}
	for hash, chunks := range chunksByHash {
		if len(chunks) == 0 {
			continue
		}
		bySeq := make(map[int]*domain.Chunk, len(chunks))
		for _, c := range chunks {
			bySeq[c.Seq] = c
		}
		t.bySeq[hash] = bySeq
		t.first[hash] = chunks[0]
	}
	return t
}

// Get returns the chunk for (mirrorHash, seq). When the store emitted a
// document-level placeholder (seq=0) with no matching chunk under that
// hash, Get falls back to the first chunk under the hash (§4.3).
func (t *Table) Get(mirrorHash string, seq int) (*domain.Chunk, bool) {
	if bySeq, ok := t.bySeq[mirrorHash]; ok {
		if c, ok := bySeq[seq]; ok {
			return c, true
		}
	}
	if seq == 0 {
		if c, ok := t.first[mirrorHash]; ok {
			return c, true
		}
	}
	return nil, false
}
