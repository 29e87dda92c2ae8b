// Package config loads the tunables §9 calls out as "keep configurable":
// fusion weights/k/bonus, rerank tier bounds, strong-BM25 signal constants,
// expansion timeout/cache size, and the backlog batch size. It follows the
// teacher's own config.Load layering (defaults -> user config -> project
// config -> environment variables -> validate), generalized from the
// teacher's project-indexing tunables to this module's retrieval tunables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/groundwork-rag/groundwork/internal/fusion"
	"github.com/groundwork-rag/groundwork/internal/hybrid"
	"github.com/groundwork-rag/groundwork/internal/rerank"
)

// Config is the complete set of tunables for one groundwork instance.
type Config struct {
	Version int `yaml:"version"`

	Fusion       FusionConfig       `yaml:"fusion"`
	Rerank       RerankConfig       `yaml:"rerank"`
	StrongSignal StrongSignalConfig `yaml:"strong_signal"`
	Expansion    ExpansionConfig    `yaml:"expansion"`
	Backlog      BacklogConfig      `yaml:"backlog"`
	Store        StoreConfig        `yaml:"store"`
	Log          LogConfig          `yaml:"log"`
	Paths        PathsConfig        `yaml:"paths"`
	Models       ModelsConfig       `yaml:"models"`
}

// PathsConfig locates the on-disk reference store and vector index,
// mirroring the teacher's PathsConfig role (where data lives) generalized
// from project-source include/exclude lists to this module's data layout.
type PathsConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ModelsConfig points at the external collaborators behind port.EmbeddingPort,
// port.GenerationPort, and port.RerankPort (§6, §1's external-collaborator
// list), mirroring the teacher's EmbeddingsConfig/ContextualConfig Ollama
// wiring generalized to this spec's three model roles.
type ModelsConfig struct {
	OllamaHost     string `yaml:"ollama_host"`
	EmbedModel     string `yaml:"embed_model"`
	GenerateModel  string `yaml:"generate_model"`
	RerankURL      string `yaml:"rerank_url"` // empty disables reranking (§4.8 degrades gracefully)
}

// FusionConfig mirrors fusion.Config (§4.7).
type FusionConfig struct {
	BM25Weight       float64 `yaml:"bm25_weight"`
	VectorWeight     float64 `yaml:"vector_weight"`
	RRFConstant      int     `yaml:"rrf_constant"`
	TopRankBonus     float64 `yaml:"top_rank_bonus"`
	TopRankThreshold int     `yaml:"top_rank_threshold"`
}

// RerankConfig mirrors rerank.Config's positional blend tiers (§4.8).
type RerankConfig struct {
	TopN int `yaml:"top_n"`

	Tier1Bound int `yaml:"tier1_bound"`
	Tier2Bound int `yaml:"tier2_bound"`

	Tier1FusionWeight float64 `yaml:"tier1_fusion_weight"`
	Tier1RerankWeight float64 `yaml:"tier1_rerank_weight"`
	Tier2FusionWeight float64 `yaml:"tier2_fusion_weight"`
	Tier2RerankWeight float64 `yaml:"tier2_rerank_weight"`
	Tier3FusionWeight float64 `yaml:"tier3_fusion_weight"`
	Tier3RerankWeight float64 `yaml:"tier3_rerank_weight"`

	NoRerankPenalty float64 `yaml:"no_rerank_penalty"`
}

// StrongSignalConfig tunes §4.4's "BM25 already strong" expansion-skip
// check: top normalized BM25 score >= TopThreshold AND top-minus-second gap
// >= GapThreshold, over at most TopK min-max-normalized results. Both
// conditions are required (§9: "tuned empirically; keep them configurable").
type StrongSignalConfig struct {
	TopK         int     `yaml:"top_k"`
	TopThreshold float64 `yaml:"top_threshold"`
	GapThreshold float64 `yaml:"gap_threshold"`
}

// ExpansionConfig tunes C4 (§4.4).
type ExpansionConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
	CacheSize int `yaml:"cache_size"`
}

// BacklogConfig tunes C11 (§4.11, §5).
type BacklogConfig struct {
	BatchSize int    `yaml:"batch_size"`
	LockDir   string `yaml:"lock_dir"`
}

// StoreConfig selects the reference StorePort's full-text backend, mirroring
// the teacher's BM25Backend switch.
type StoreConfig struct {
	FTSBackend string `yaml:"fts_backend"` // "sqlite" or "bleve"
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// NewConfig returns the spec's default tuning, matching the defaults already
// hardcoded in internal/fusion, internal/rerank, and internal/hybrid.
func NewConfig() *Config {
	fc := fusion.DefaultConfig()
	rc := rerank.DefaultConfig()
	hc := hybrid.DefaultConfig()

	return &Config{
		Version: 1,
		Fusion: FusionConfig{
			BM25Weight:       fc.WBM25,
			VectorWeight:     fc.WVec,
			RRFConstant:      fc.K,
			TopRankBonus:     fc.TopRankBonus,
			TopRankThreshold: fc.TopRankThreshold,
		},
		Rerank: RerankConfig{
			TopN:              rc.TopN,
			Tier1Bound:        rc.Tier1Bound,
			Tier2Bound:        rc.Tier2Bound,
			Tier1FusionWeight: rc.Tier1FusionWeight,
			Tier1RerankWeight: rc.Tier1RerankWeight,
			Tier2FusionWeight: rc.Tier2FusionWeight,
			Tier2RerankWeight: rc.Tier2RerankWeight,
			Tier3FusionWeight: rc.Tier3FusionWeight,
			Tier3RerankWeight: rc.Tier3RerankWeight,
			NoRerankPenalty:   rc.NoRerankPenalty,
		},
		StrongSignal: StrongSignalConfig{
			TopK:         hc.StrongSignalTopK,
			TopThreshold: hc.StrongSignalTopThreshold,
			GapThreshold: hc.StrongSignalGapThreshold,
		},
		Expansion: ExpansionConfig{
			TimeoutMs: 2000,
			CacheSize: 10000,
		},
		Backlog: BacklogConfig{
			BatchSize: 32,
			LockDir:   defaultLockDir(),
		},
		Store: StoreConfig{
			FTSBackend: "sqlite",
		},
		Log: LogConfig{
			Level: "info",
			Path:  "",
		},
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Models: ModelsConfig{
			OllamaHost:    "http://localhost:11434",
			EmbedModel:    "nomic-embed-text",
			GenerateModel: "qwen3:0.6b",
			RerankURL:     "",
		},
	}
}

// defaultDataDir mirrors the teacher's defaultSessionsPath fallback-to-
// tempdir idiom.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".groundwork", "data")
	}
	return filepath.Join(home, ".groundwork", "data")
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// project config file, same heuristic as the teacher's FindProjectRoot.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("config: resolve start dir: %w", err)
	}

	dir := abs
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, nil
		}
		if fileExists(filepath.Join(dir, ".groundwork.yaml")) || fileExists(filepath.Join(dir, ".groundwork.yml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func defaultLockDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".groundwork", "locks")
	}
	return filepath.Join(home, ".groundwork", "locks")
}

// ToFusionConfig projects onto fusion.Config.
func (c *Config) ToFusionConfig() fusion.Config {
	return fusion.Config{
		WBM25:            c.Fusion.BM25Weight,
		WVec:             c.Fusion.VectorWeight,
		K:                c.Fusion.RRFConstant,
		TopRankBonus:     c.Fusion.TopRankBonus,
		TopRankThreshold: c.Fusion.TopRankThreshold,
	}
}

// ToRerankConfig projects onto rerank.Config.
func (c *Config) ToRerankConfig() rerank.Config {
	return rerank.Config{
		TopN:              c.Rerank.TopN,
		Tier1Bound:        c.Rerank.Tier1Bound,
		Tier2Bound:        c.Rerank.Tier2Bound,
		Tier1FusionWeight: c.Rerank.Tier1FusionWeight,
		Tier1RerankWeight: c.Rerank.Tier1RerankWeight,
		Tier2FusionWeight: c.Rerank.Tier2FusionWeight,
		Tier2RerankWeight: c.Rerank.Tier2RerankWeight,
		Tier3FusionWeight: c.Rerank.Tier3FusionWeight,
		Tier3RerankWeight: c.Rerank.Tier3RerankWeight,
		NoRerankPenalty:   c.Rerank.NoRerankPenalty,
	}
}

// ToHybridConfig projects onto hybrid.Config.
func (c *Config) ToHybridConfig() hybrid.Config {
	return hybrid.Config{
		Fusion:                   c.ToFusionConfig(),
		Rerank:                   c.ToRerankConfig(),
		StrongSignalTopK:         c.StrongSignal.TopK,
		StrongSignalTopThreshold: c.StrongSignal.TopThreshold,
		StrongSignalGapThreshold: c.StrongSignal.GapThreshold,
	}
}

// GetUserConfigPath follows XDG Base Directory convention, same as the
// teacher's GetUserConfigPath.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "groundwork", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "groundwork", "config.yaml")
	}
	return filepath.Join(home, ".config", "groundwork", "config.yaml")
}

// Load applies configuration in order of increasing precedence:
//  1. hardcoded defaults (NewConfig)
//  2. user config (GetUserConfigPath)
//  3. project config (.groundwork.yaml in dir)
//  4. environment variables (GROUNDWORK_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.mergeYAML(userPath); err != nil {
			return nil, fmt.Errorf("config: load user config: %w", err)
		}
	}

	if err := cfg.loadProjectConfig(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadProjectConfig(dir string) error {
	for _, name := range []string{".groundwork.yaml", ".groundwork.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.mergeYAML(path)
		}
	}
	return nil
}

// mergeYAML parses path into a zero-valued Config and overlays its non-zero
// fields onto c, matching the teacher's mergeWith "only non-zero values
// override" convention.
func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

func (c *Config) mergeWith(o *Config) {
	if o.Version != 0 {
		c.Version = o.Version
	}

	if o.Fusion.BM25Weight != 0 {
		c.Fusion.BM25Weight = o.Fusion.BM25Weight
	}
	if o.Fusion.VectorWeight != 0 {
		c.Fusion.VectorWeight = o.Fusion.VectorWeight
	}
	if o.Fusion.RRFConstant != 0 {
		c.Fusion.RRFConstant = o.Fusion.RRFConstant
	}
	if o.Fusion.TopRankBonus != 0 {
		c.Fusion.TopRankBonus = o.Fusion.TopRankBonus
	}
	if o.Fusion.TopRankThreshold != 0 {
		c.Fusion.TopRankThreshold = o.Fusion.TopRankThreshold
	}

	if o.Rerank.TopN != 0 {
		c.Rerank.TopN = o.Rerank.TopN
	}
	if o.Rerank.Tier1Bound != 0 {
		c.Rerank.Tier1Bound = o.Rerank.Tier1Bound
	}
	if o.Rerank.Tier2Bound != 0 {
		c.Rerank.Tier2Bound = o.Rerank.Tier2Bound
	}
	if o.Rerank.Tier1FusionWeight != 0 {
		c.Rerank.Tier1FusionWeight = o.Rerank.Tier1FusionWeight
	}
	if o.Rerank.Tier1RerankWeight != 0 {
		c.Rerank.Tier1RerankWeight = o.Rerank.Tier1RerankWeight
	}
	if o.Rerank.Tier2FusionWeight != 0 {
		c.Rerank.Tier2FusionWeight = o.Rerank.Tier2FusionWeight
	}
	if o.Rerank.Tier2RerankWeight != 0 {
		c.Rerank.Tier2RerankWeight = o.Rerank.Tier2RerankWeight
	}
	if o.Rerank.Tier3FusionWeight != 0 {
		c.Rerank.Tier3FusionWeight = o.Rerank.Tier3FusionWeight
	}
	if o.Rerank.Tier3RerankWeight != 0 {
		c.Rerank.Tier3RerankWeight = o.Rerank.Tier3RerankWeight
	}
	if o.Rerank.NoRerankPenalty != 0 {
		c.Rerank.NoRerankPenalty = o.Rerank.NoRerankPenalty
	}

	if o.StrongSignal.TopK != 0 {
		c.StrongSignal.TopK = o.StrongSignal.TopK
	}
	if o.StrongSignal.TopThreshold != 0 {
		c.StrongSignal.TopThreshold = o.StrongSignal.TopThreshold
	}
	if o.StrongSignal.GapThreshold != 0 {
		c.StrongSignal.GapThreshold = o.StrongSignal.GapThreshold
	}

	if o.Expansion.TimeoutMs != 0 {
		c.Expansion.TimeoutMs = o.Expansion.TimeoutMs
	}
	if o.Expansion.CacheSize != 0 {
		c.Expansion.CacheSize = o.Expansion.CacheSize
	}

	if o.Backlog.BatchSize != 0 {
		c.Backlog.BatchSize = o.Backlog.BatchSize
	}
	if o.Backlog.LockDir != "" {
		c.Backlog.LockDir = o.Backlog.LockDir
	}

	if o.Store.FTSBackend != "" {
		c.Store.FTSBackend = o.Store.FTSBackend
	}

	if o.Log.Level != "" {
		c.Log.Level = o.Log.Level
	}
	if o.Log.Path != "" {
		c.Log.Path = o.Log.Path
	}

	if o.Paths.DataDir != "" {
		c.Paths.DataDir = o.Paths.DataDir
	}

	if o.Models.OllamaHost != "" {
		c.Models.OllamaHost = o.Models.OllamaHost
	}
	if o.Models.EmbedModel != "" {
		c.Models.EmbedModel = o.Models.EmbedModel
	}
	if o.Models.GenerateModel != "" {
		c.Models.GenerateModel = o.Models.GenerateModel
	}
	if o.Models.RerankURL != "" {
		c.Models.RerankURL = o.Models.RerankURL
	}
}

// applyEnvOverrides applies GROUNDWORK_* environment variable overrides,
// the highest-precedence layer, matching the teacher's AMANMCP_* convention.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GROUNDWORK_BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 {
			c.Fusion.BM25Weight = w
		}
	}
	if v := os.Getenv("GROUNDWORK_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 {
			c.Fusion.VectorWeight = w
		}
	}
	if v := os.Getenv("GROUNDWORK_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Fusion.RRFConstant = k
		}
	}
	if v := os.Getenv("GROUNDWORK_RERANK_TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Rerank.TopN = n
		}
	}
	if v := os.Getenv("GROUNDWORK_EXPANSION_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Expansion.TimeoutMs = ms
		}
	}
	if v := os.Getenv("GROUNDWORK_BACKLOG_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Backlog.BatchSize = n
		}
	}
	if v := os.Getenv("GROUNDWORK_STORE_FTS_BACKEND"); v != "" {
		c.Store.FTSBackend = v
	}
	if v := os.Getenv("GROUNDWORK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GROUNDWORK_LOG_PATH"); v != "" {
		c.Log.Path = v
	}
	if v := os.Getenv("GROUNDWORK_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("GROUNDWORK_OLLAMA_HOST"); v != "" {
		c.Models.OllamaHost = v
	}
	if v := os.Getenv("GROUNDWORK_EMBED_MODEL"); v != "" {
		c.Models.EmbedModel = v
	}
	if v := os.Getenv("GROUNDWORK_GENERATE_MODEL"); v != "" {
		c.Models.GenerateModel = v
	}
	if v := os.Getenv("GROUNDWORK_RERANK_URL"); v != "" {
		c.Models.RerankURL = v
	}
}

// Validate checks the configuration for internally-inconsistent tunables,
// matching the teacher's Validate (DEBT-018): catch bad config before it
// reaches the pipeline rather than failing confusingly mid-query.
func (c *Config) Validate() error {
	if c.Fusion.BM25Weight < 0 {
		return fmt.Errorf("fusion.bm25_weight must be non-negative, got %f", c.Fusion.BM25Weight)
	}
	if c.Fusion.VectorWeight < 0 {
		return fmt.Errorf("fusion.vector_weight must be non-negative, got %f", c.Fusion.VectorWeight)
	}
	if c.Fusion.RRFConstant <= 0 {
		return fmt.Errorf("fusion.rrf_constant must be positive, got %d", c.Fusion.RRFConstant)
	}

	if c.Rerank.TopN < 0 {
		return fmt.Errorf("rerank.top_n must be non-negative, got %d", c.Rerank.TopN)
	}
	if c.Rerank.Tier1Bound <= 0 || c.Rerank.Tier2Bound <= c.Rerank.Tier1Bound {
		return fmt.Errorf("rerank.tier1_bound must be positive and less than tier2_bound, got %d, %d",
			c.Rerank.Tier1Bound, c.Rerank.Tier2Bound)
	}

	if c.StrongSignal.TopK <= 0 {
		return fmt.Errorf("strong_signal.top_k must be positive, got %d", c.StrongSignal.TopK)
	}
	if c.StrongSignal.TopThreshold < 0 || c.StrongSignal.TopThreshold > 1 {
		return fmt.Errorf("strong_signal.top_threshold must be between 0 and 1, got %f", c.StrongSignal.TopThreshold)
	}
	if c.StrongSignal.GapThreshold < 0 || c.StrongSignal.GapThreshold > 1 {
		return fmt.Errorf("strong_signal.gap_threshold must be between 0 and 1, got %f", c.StrongSignal.GapThreshold)
	}

	if c.Expansion.TimeoutMs < 0 {
		return fmt.Errorf("expansion.timeout_ms must be non-negative, got %d", c.Expansion.TimeoutMs)
	}

	if c.Backlog.BatchSize <= 0 {
		return fmt.Errorf("backlog.batch_size must be positive, got %d", c.Backlog.BatchSize)
	}

	backends := map[string]bool{"sqlite": true, "bleve": true}
	if !backends[strings.ToLower(c.Store.FTSBackend)] {
		return fmt.Errorf("store.fts_backend must be 'sqlite' or 'bleve', got %s", c.Store.FTSBackend)
	}

	levels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !levels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must not be empty")
	}
	if c.Models.OllamaHost == "" {
		return fmt.Errorf("models.ollama_host must not be empty")
	}
	if c.Models.EmbedModel == "" {
		return fmt.Errorf("models.embed_model must not be empty")
	}
	if c.Models.GenerateModel == "" {
		return fmt.Errorf("models.generate_model must not be empty")
	}

	return nil
}

// WriteYAML writes the configuration to path, matching the teacher's
// WriteYAML helper.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
