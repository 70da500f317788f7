// Package config provides configuration loading and structs for the
// retrieval service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Index       IndexConfig       `yaml:"index"`
	Compression CompressionConfig `yaml:"compression"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Search      SearchConfig      `yaml:"search"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EmbedderConfig holds embedding backend settings.
type EmbedderConfig struct {
	URL            string  `yaml:"url"`
	RateLimit      float64 `yaml:"rate_limit"` // requests per second, 0 disables
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the request timeout as a duration.
func (e *EmbedderConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Collection    string             `yaml:"collection"`
	Quantization  QuantizationConfig `yaml:"quantization"`
	OnDiskVectors bool               `yaml:"on_disk_vectors"`
	OnDiskPayload bool               `yaml:"on_disk_payload"`
	SnapshotPath  string             `yaml:"snapshot_path"`
}

// QuantizationConfig holds binary quantization settings.
type QuantizationConfig struct {
	Enabled   bool `yaml:"enabled"`
	AlwaysRAM bool `yaml:"always_ram"`
}

// CompressionConfig holds compressed-space settings.
type CompressionConfig struct {
	Enabled bool  `yaml:"enabled"`
	Dim     int   `yaml:"dim"`
	Seed    int64 `yaml:"seed"`
	Buckets int   `yaml:"buckets"` // hyperplane count, buckets = 2^n
}

// PipelineConfig holds ingestion settings.
type PipelineConfig struct {
	BatchSize            int   `yaml:"batch_size"`
	MaxConcurrentBatches int   `yaml:"max_concurrent_batches"`
	Pipelined            bool  `yaml:"pipelined"`
	FailFast             bool  `yaml:"fail_fast"`
	MaxFileSizeBytes     int64 `yaml:"max_file_size_bytes"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultLimit    int     `yaml:"default_limit"`
	MaxLimit        int     `yaml:"max_limit"`
	PrefetchLimit   int     `yaml:"prefetch_limit"`
	CompressedLimit int     `yaml:"compressed_limit"`
	Oversampling    float64 `yaml:"oversampling"`
	Rescore         *bool   `yaml:"rescore"`
	CacheDir        string  `yaml:"cache_dir"` // empty disables the query cache
}

// RescoreOrDefault reports whether quantized candidates are rescored on the
// original vectors; defaults to true when unset.
func (s *SearchConfig) RescoreOrDefault() bool {
	if s.Rescore != nil {
		return *s.Rescore
	}
	return true
}

// StorageConfig holds object store and analytics settings.
type StorageConfig struct {
	// Backend selects the object store: "memory", "minio" or "s3".
	Backend      string `yaml:"backend"`
	Bucket       string `yaml:"bucket"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	DatabasePath string `yaml:"database_path"`
}

// Load reads and parses the config file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Embedder.URL == "" {
		return fmt.Errorf("embedder.url must be set")
	}
	if c.Compression.Enabled && c.Compression.Dim <= 0 {
		return fmt.Errorf("compression.dim must be positive when compression is enabled")
	}
	if c.Search.MaxLimit > 0 && c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit %d exceeds search.max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	switch c.Storage.Backend {
	case "memory", "minio", "s3":
	default:
		return fmt.Errorf("storage.backend must be memory, minio or s3, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for backend %q", c.Storage.Backend)
	}
	return nil
}
