package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/groundwork-rag/groundwork/internal/config"
	"github.com/groundwork-rag/groundwork/internal/expansion"
	expansioncache "github.com/groundwork-rag/groundwork/internal/expansion/cache"
	"github.com/groundwork-rag/groundwork/internal/hybrid"
	"github.com/groundwork-rag/groundwork/internal/refllm"
	"github.com/groundwork-rag/groundwork/internal/refstore"
	"github.com/groundwork-rag/groundwork/internal/refvector"
)

// loadAppConfig resolves the project root (or cwd if none is found),
// applies config.Load's layered precedence, and then overlays the
// --data-dir persistent flag if the caller set one.
func loadAppConfig() (*config.Config, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("groundwork: load config: %w", err)
	}

	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	return cfg, nil
}

// app bundles the reference adapters cmd/groundwork wires against the
// library, the only place in this binary that imports internal/ref* (§6:
// CORE never does).
type app struct {
	cfg *config.Config

	store     *refstore.Store
	index     *refvector.Index
	indexPath string
	embedder  *refllm.CachedEmbedder
	gen       *refllm.OllamaGenerator
	reranker  *refllm.HTTPReranker
	expander  *expansion.Expander
}

// newApp wires a reference store, vector index, and model adapters from cfg.
// The reranker is optional (§4.8 degrades gracefully without one); it is
// wired only when cfg.Models.RerankURL is set.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := refstore.New(refstore.Config{
		MetadataPath: filepath.Join(cfg.Paths.DataDir, "metadata.db"),
		Backend:      refstore.Backend(cfg.Store.FTSBackend),
		BlevePath:    filepath.Join(cfg.Paths.DataDir, "bleve"),
	})
	if err != nil {
		return nil, fmt.Errorf("groundwork: open store: %w", err)
	}

	rawEmbedder, err := refllm.NewOllamaEmbedder(ctx, refllm.OllamaEmbedConfig{
		Host:       cfg.Models.OllamaHost,
		Model:      cfg.Models.EmbedModel,
		BatchSize:  cfg.Backlog.BatchSize,
		Timeout:    refllm.DefaultEmbedTimeout,
		MaxRetries: refllm.DefaultEmbedMaxRetries,
		PoolSize:   refllm.DefaultEmbedPoolSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("groundwork: connect embedder: %w", err)
	}
	embedder := refllm.NewCachedEmbedder(rawEmbedder, cfg.Expansion.CacheSize)

	indexPath := filepath.Join(cfg.Paths.DataDir, "vectors.hnsw")
	index, err := refvector.New(refvector.Config{
		Dimensions:  embedder.Dimensions(),
		ModelURI:    embedder.ModelURI(),
		PersistPath: indexPath,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("groundwork: open vector index: %w", err)
	}

	gen := refllm.NewOllamaGenerator(refllm.OllamaGenerateConfig{
		Host:  cfg.Models.OllamaHost,
		Model: cfg.Models.GenerateModel,
	})

	var reranker *refllm.HTTPReranker
	if cfg.Models.RerankURL != "" {
		reranker = refllm.NewHTTPReranker(refllm.HTTPRerankConfig{
			Endpoint: cfg.Models.RerankURL,
			Timeout:  refllm.DefaultRerankTimeout,
		})
	}

	expander := expansion.New(gen, expansioncache.New(cfg.Expansion.CacheSize))

	return &app{
		cfg:       cfg,
		store:     store,
		index:     index,
		indexPath: indexPath,
		embedder:  embedder,
		gen:       gen,
		reranker:  reranker,
		expander:  expander,
	}, nil
}

// close flushes the vector index (if persistent) and releases the store and
// reranker's resources. The embedder and generator hold only HTTP clients,
// which need no explicit shutdown.
func (a *app) close() {
	if a.indexPath != "" {
		_ = a.index.Save(a.indexPath)
	}
	_ = a.store.Close()
	if a.reranker != nil {
		_ = a.reranker.Close()
	}
}

// hybridDeps projects app onto hybrid.Deps. The reranker is wrapped with a
// nil check at the call site since port.RerankPort is an interface and a
// nil *HTTPReranker would not compare equal to a nil interface otherwise.
func (a *app) hybridDeps() hybrid.Deps {
	deps := hybrid.Deps{
		Store:    a.store,
		Index:    a.index,
		Embedder: a.embedder,
		Expander: a.expander,
	}
	if a.reranker != nil {
		deps.Reranker = a.reranker
	}
	return deps
}
