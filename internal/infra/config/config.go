package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	API       APIConfig       `yaml:"api"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// StoreConfig holds record store settings.
type StoreConfig struct {
	Path string `yaml:"path" envconfig:"STORE_PATH"`
}

// OracleConfig holds extraction-oracle settings.
type OracleConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"ORACLE_BASE_URL"`
	Model       string        `yaml:"model" envconfig:"ORACLE_MODEL"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"ORACLE_TIMEOUT"`
	TokenBudget int           `yaml:"token_budget" envconfig:"ORACLE_TOKEN_BUDGET"`
	RetryAfter  time.Duration `yaml:"retry_after" envconfig:"ORACLE_RETRY_AFTER"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" envconfig:"EMBEDDING_PROVIDER"` // openai, ollama
	APIKey     string        `yaml:"api_key" envconfig:"EMBEDDING_API_KEY"`
	Model      string        `yaml:"model" envconfig:"EMBEDDING_MODEL"`
	Dimensions int           `yaml:"dimensions" envconfig:"EMBEDDING_DIMENSIONS"`
	BaseURL    string        `yaml:"base_url" envconfig:"EMBEDDING_BASE_URL"`
	CacheSize  int           `yaml:"cache_size" envconfig:"EMBEDDING_CACHE_SIZE"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"EMBEDDING_TIMEOUT"`
}

// IndexConfig holds vector index snapshot settings.
type IndexConfig struct {
	Dir       string `yaml:"dir" envconfig:"INDEX_DIR"`
	BatchSize int    `yaml:"batch_size" envconfig:"INDEX_BATCH_SIZE"`
}

// APIConfig holds discovery API settings.
type APIConfig struct {
	Addr             string `yaml:"addr" envconfig:"API_ADDR"`
	MaxResults       int    `yaml:"max_results" envconfig:"API_MAX_RESULTS"`
	RateLimitPerHour int    `yaml:"rate_limit_per_hour" envconfig:"API_RATE_LIMIT_PER_HOUR"`
	RateBurst        int    `yaml:"rate_burst" envconfig:"API_RATE_BURST"`
}

// JobsConfig holds batch job schedules and bounds.
type JobsConfig struct {
	Enabled          bool   `yaml:"enabled" envconfig:"JOBS_ENABLED"`
	LockDir          string `yaml:"lock_dir" envconfig:"JOBS_LOCK_DIR"`
	ParseSchedule    string `yaml:"parse_schedule"`
	ParseBatch       int    `yaml:"parse_batch"`
	ClassifySchedule string `yaml:"classify_schedule"`
	ClassifyBatch    int    `yaml:"classify_batch"`
	DedupeSchedule   string `yaml:"dedupe_schedule"`
	DedupeBatch      int    `yaml:"dedupe_batch"`
	RankSchedule     string `yaml:"rank_schedule"`
	IndexSchedule    string `yaml:"index_schedule"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // text, json
	Output string `yaml:"output" envconfig:"LOG_OUTPUT"` // stdout, stderr, or file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"TRACER_ENABLED"`
	Exporter string `yaml:"exporter" envconfig:"TRACER_EXPORTER"` // stdout, noop
}

// Default returns a config with sensible local defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "agentindex.db"},
		Oracle: OracleConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "qwen2.5:7b",
			Timeout:     60 * time.Second,
			TokenBudget: 1500,
			RetryAfter:  24 * time.Hour,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BaseURL:    "http://localhost:11434",
			CacheSize:  1024,
			Timeout:    30 * time.Second,
		},
		Index: IndexConfig{Dir: "semantic_index", BatchSize: 500},
		API: APIConfig{
			Addr:             ":8080",
			MaxResults:       10,
			RateLimitPerHour: 100,
			RateBurst:        20,
		},
		Jobs: JobsConfig{
			Enabled:          true,
			LockDir:          os.TempDir(),
			ParseSchedule:    "*/10 * * * *",
			ParseBatch:       50,
			ClassifySchedule: "*/30 * * * *",
			ClassifyBatch:    20,
			DedupeSchedule:   "0 2 * * *",
			DedupeBatch:      50,
			RankSchedule:     "0 3 * * *",
			IndexSchedule:    "0 4 * * *",
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads a YAML config file, layers it over defaults, then applies
// AGENTINDEX_* environment overrides. A missing file is not an error —
// defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults + env
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process("agentindex", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.API.MaxResults <= 0 {
		return fmt.Errorf("api.max_results must be positive, got %d", c.API.MaxResults)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive, got %s", c.Oracle.Timeout)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "none":
	default:
		return fmt.Errorf("embedding.provider must be openai, ollama, or none, got %q", c.Embedding.Provider)
	}
	return nil
}
