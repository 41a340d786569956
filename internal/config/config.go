// Package config provides the typed configuration struct for the
// knowledge-base search and embedding subsystem, loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SavePolicy controls when the index manager persists its ANN snapshot.
type SavePolicy string

const (
	SavePolicyOnEveryMutation SavePolicy = "on_every_mutation"
	SavePolicyEveryN          SavePolicy = "every_n"
	SavePolicyOnShutdown      SavePolicy = "on_shutdown"
)

// PrimaryProvider names the search provider an orchestrator prefers.
type PrimaryProvider string

const (
	PrimaryProviderVector PrimaryProvider = "vector"
	PrimaryProviderText   PrimaryProvider = "text"
)

// Config is the root typed configuration struct. Every field here is one of
// the enumerated options named by the design notes: save_policy,
// primary_provider, fallback_enabled, max_retries, topk_retrieve,
// topk_rerank, duplicate_timeout_ms, lease_ttl, poll_interval, batch_size.
type Config struct {
	Store      StoreConfig      `yaml:"store" json:"store"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`
	Duplicate  DuplicateConfig  `yaml:"duplicate" json:"duplicate"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// StoreConfig configures the relational record store.
type StoreConfig struct {
	// Path is the sqlite database file path, or ":memory:" for an
	// in-process store.
	Path string `yaml:"path" json:"path"`
}

// IndexConfig configures the ANN index manager (§4.D).
type IndexConfig struct {
	Dimensions      int        `yaml:"dimensions" json:"dimensions"`
	SnapshotPath    string     `yaml:"snapshot_path" json:"snapshot_path"`
	SavePolicy      SavePolicy `yaml:"save_policy" json:"save_policy"`
	SaveEveryN      int        `yaml:"save_every_n" json:"save_every_n"`
	RebuildThreshold int       `yaml:"rebuild_threshold" json:"rebuild_threshold"`
	M               int        `yaml:"m" json:"m"`
	EfSearch        int        `yaml:"ef_search" json:"ef_search"`
}

// SearchConfig configures the orchestrator and providers (§4.F, §4.H).
type SearchConfig struct {
	PrimaryProvider PrimaryProvider `yaml:"primary_provider" json:"primary_provider"`
	FallbackEnabled bool            `yaml:"fallback_enabled" json:"fallback_enabled"`
	MaxRetries      int             `yaml:"max_retries" json:"max_retries"`
	TopKRetrieve    int             `yaml:"topk_retrieve" json:"topk_retrieve"`
	TopKRerank      int             `yaml:"topk_rerank" json:"topk_rerank"`
	SearchTimeout   time.Duration   `yaml:"search_timeout" json:"search_timeout"`
	EmbedCacheSize  int             `yaml:"embed_cache_size" json:"embed_cache_size"`
}

// WorkerConfig configures the embedding worker (§4.I).
type WorkerConfig struct {
	LeaseTTL     time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
}

// DuplicateConfig configures the duplicate-detection probe (§4.J).
type DuplicateConfig struct {
	TimeoutMS          int     `yaml:"duplicate_timeout_ms" json:"duplicate_timeout_ms"`
	RetrieveThreshold  float64 `yaml:"retrieve_threshold" json:"retrieve_threshold"`
	RecommendThreshold float64 `yaml:"recommend_threshold" json:"recommend_threshold"`
}

// LoggingConfig configures the ambient logging stack.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// Default returns sensible defaults (R=100 retrieval breadth, K=40 rerank
// fan-in, 750ms duplicate timeout, 30s lease TTL, 0.60/0.85 duplicate
// thresholds).
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path: "kb.sqlite",
		},
		Index: IndexConfig{
			Dimensions:       768,
			SnapshotPath:     "kb.index",
			SavePolicy:       SavePolicyEveryN,
			SaveEveryN:       20,
			RebuildThreshold: 500,
			M:                16,
			EfSearch:         20,
		},
		Search: SearchConfig{
			PrimaryProvider: PrimaryProviderVector,
			FallbackEnabled: true,
			MaxRetries:      1,
			TopKRetrieve:    100,
			TopKRerank:      40,
			SearchTimeout:   5 * time.Second,
			EmbedCacheSize:  1000,
		},
		Worker: WorkerConfig{
			LeaseTTL:     30 * time.Second,
			PollInterval: 5 * time.Second,
			BatchSize:    10,
		},
		Duplicate: DuplicateConfig{
			TimeoutMS:          750,
			RetrieveThreshold:  0.60,
			RecommendThreshold: 0.85,
		},
		Logging: LoggingConfig{
			Level:         "info",
			FilePath:      "",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

// Load reads and parses a YAML config file, layering its values over
// built-in defaults for any field left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks enumerated option fields hold a recognized value.
func (c Config) Validate() error {
	switch c.Search.PrimaryProvider {
	case PrimaryProviderVector, PrimaryProviderText:
	default:
		return fmt.Errorf("invalid primary_provider: %q", c.Search.PrimaryProvider)
	}

	switch c.Index.SavePolicy {
	case SavePolicyOnEveryMutation, SavePolicyEveryN, SavePolicyOnShutdown:
	default:
		return fmt.Errorf("invalid save_policy: %q", c.Index.SavePolicy)
	}

	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("index.dimensions must be positive")
	}
	if c.Search.MaxRetries < 0 {
		return fmt.Errorf("search.max_retries must be >= 0")
	}

	return nil
}
