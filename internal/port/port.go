// Package port declares the external collaborator contracts the retrieval
// core consumes (§6). Every type here is an interface; concrete adapters
// live outside this module's CORE packages (internal/refstore,
// internal/refvector, internal/refllm) and are wired in by callers.
package port

import (
	"context"

	"github.com/groundwork-rag/groundwork/internal/domain"
)

// FtsRow is a single row returned by StorePort.SearchFts.
type FtsRow struct {
	MirrorHash string
	Seq        int
	Score      float64 // FTS5 convention: more negative is a better match
	URI        string
	Docid      string
	Title      string
	Collection string
	RelPath    string
	Snippet    string
	Source     domain.Source
}

// FtsOptions configures StorePort.SearchFts.
type FtsOptions struct {
	Limit      int
	Collection string
	Language   string
	Snippet    bool
	TagsAll    []string
	TagsAny    []string
}

// StorePort is the read-mostly interface onto the mirror/chunk/document
// store (§6). The core never writes through it except via upsert calls that
// are not part of this interface; this is the read surface C5/C9/C10 use.
type StorePort interface {
	GetCollections(ctx context.Context) ([]string, error)
	ListDocuments(ctx context.Context, collection string) ([]*domain.Document, error)
	GetDocument(ctx context.Context, collection, relPath string) (*domain.Document, error)
	GetDocumentByDocid(ctx context.Context, docid string) (*domain.Document, error)
	GetDocumentByURI(ctx context.Context, uri string) (*domain.Document, error)
	GetContent(ctx context.Context, mirrorHash string) (string, error)
	GetChunks(ctx context.Context, mirrorHash string) ([]*domain.Chunk, error)
	GetChunksBatch(ctx context.Context, mirrorHashes []string) (map[string][]*domain.Chunk, error)

	// SearchFts must report FTS syntax errors as an *errs.Error with code
	// errs.InvalidInput and message "Invalid search query: ...".
	SearchFts(ctx context.Context, query string, opts FtsOptions) ([]FtsRow, error)

	GetTagsBatch(ctx context.Context, docids []string) (map[string][]domain.Tag, error)
}

// VectorRow is a single nearest-neighbor hit from VectorIndexPort.
type VectorRow struct {
	MirrorHash string
	Seq        int
	Distance   float32 // cosine distance, lower is more similar
}

// VectorUpsertRow is a single row written by VectorIndexPort.UpsertVectors.
type VectorUpsertRow struct {
	MirrorHash string
	Seq        int
	ModelURI   string
	Vector     []float32
}

// VectorIndexPort is the ANN acceleration layer (§6).
type VectorIndexPort interface {
	Available() bool
	Dimensions() int
	Model() string

	UpsertVectors(ctx context.Context, rows []VectorUpsertRow) error
	SearchNearest(ctx context.Context, query []float32, k int, minScore *float64) ([]VectorRow, error)

	RebuildVecIndex(ctx context.Context) error
	SyncVecIndex(ctx context.Context) error
}

// BacklogItem is a single pending-embedding row (§6 VectorStatsPort).
type BacklogItem struct {
	MirrorHash string
	Seq        int
	Title      string
	Text       string
	Reason     string // "new" | "changed" | "force"
}

// BacklogPage configures VectorStatsPort.GetBacklog's seek pagination.
type BacklogPage struct {
	Limit int
	After *domain.ChunkKey // exclusive cursor
}

// VectorStatsPort reports and seeks through the embedding backlog (§6), and
// records the currency bookkeeping (§3: "a chunk is current for a given
// model when a vector exists with embedded_at >= chunk.created_at") that
// CountBacklog/GetBacklog read back. MarkEmbedded is not named directly in
// §6's external-interface table, but some write path back into that
// currency record is implied by the backlog worker being "the sole writer
// of the vector table for a given model_uri during its run" (§5); without
// it GetBacklog would hand the same rows back forever. It is kept on this
// port, not VectorIndexPort, because currency is bookkeeping over the
// store's chunk rows, not a property of the ANN index itself.
type VectorStatsPort interface {
	CountBacklog(ctx context.Context, model string) (int, error)
	GetBacklog(ctx context.Context, model string, page BacklogPage) ([]BacklogItem, error)
	MarkEmbedded(ctx context.Context, model string, keys []domain.ChunkKey) error
}

// EmbeddingPort produces fixed-length float vectors for text (§6).
type EmbeddingPort interface {
	Dimensions() int
	ModelURI() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerationOptions configures a single GenerationPort.Generate call.
type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
	Seed        *int64
}

// GenerationPort is the LLM text-generation adapter (§6).
type GenerationPort interface {
	ModelURI() string
	Generate(ctx context.Context, prompt string, opts GenerationOptions) (string, error)
}

// RerankHit is a single scored document from RerankPort.Rerank, index in the
// caller's input array order.
type RerankHit struct {
	Index int
	Score float64
}

// RerankPort is the cross-encoder reranking adapter (§6).
type RerankPort interface {
	Rerank(ctx context.Context, query string, texts []string) ([]RerankHit, error)
	Available(ctx context.Context) bool
}

// ExpansionCache is the pluggable cache C4 reads before and writes after a
// successful generation (§6, §3 Expansion cache entry).
type ExpansionCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}
