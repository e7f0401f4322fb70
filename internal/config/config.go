// Package config loads the vecpager configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/vecpager/internal/chunk"
	"github.com/hyperjump/vecpager/internal/manager"
	"github.com/hyperjump/vecpager/internal/vector"
)

// EnvPrefix prefixes environment overrides, e.g. VECPAGER_SERVER_PORT.
const EnvPrefix = "VECPAGER"

// Chunk storage backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendS3     = "s3"
)

// Embedding providers.
const (
	ProviderHash = "hash"
	ProviderNone = "none"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	LogLevel   string           `yaml:"log_level,omitempty" envconfig:"LOG_LEVEL"`
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Storage    StorageConfig    `yaml:"storage"`
	Search     SearchConfig     `yaml:"search"`
	Compaction CompactionConfig `yaml:"compaction"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Spool      SpoolConfig      `yaml:"spool"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EngineConfig holds the parameters the storage engine cannot run without.
// The first seven fields have no defaults.
type EngineConfig struct {
	Dimension       int    `yaml:"dimension"`
	DistanceMetric  string `yaml:"distance_metric" envconfig:"DISTANCE_METRIC"`
	M               int    `yaml:"m"`
	EfConstruction  int    `yaml:"ef_construction" envconfig:"EF_CONSTRUCTION"`
	DefaultEfSearch int    `yaml:"default_ef_search" envconfig:"DEFAULT_EF_SEARCH"`
	ChunkCapacity   int    `yaml:"chunk_capacity" envconfig:"CHUNK_CAPACITY"`
	MaxActiveChunks int    `yaml:"max_active_chunks" envconfig:"MAX_ACTIVE_CHUNKS"`

	IndexType        string `yaml:"index_type" envconfig:"INDEX_TYPE"`
	MaxChunks        int    `yaml:"max_chunks,omitempty" envconfig:"MAX_CHUNKS"`
	PartitionKey     string `yaml:"partition_key,omitempty" envconfig:"PARTITION_KEY"`
	PersistGraph     *bool  `yaml:"persist_graph,omitempty" envconfig:"PERSIST_GRAPH"`
	CorruptionPolicy string `yaml:"corruption_policy" envconfig:"CORRUPTION_POLICY"`
	EvictionMode     string `yaml:"eviction_mode" envconfig:"EVICTION_MODE"`
}

// PersistGraphOrDefault returns whether chunk files carry the graph; defaults to true when unset.
func (e *EngineConfig) PersistGraphOrDefault() bool {
	if e.PersistGraph != nil {
		return *e.PersistGraph
	}
	return true
}

// StorageConfig selects the chunk backend and the catalog location.
type StorageConfig struct {
	// Backend is one of "file", "badger" or "s3".
	Backend     string   `yaml:"backend"`
	ChunksPath  string   `yaml:"chunks_path" envconfig:"CHUNKS_PATH"`
	CatalogPath string   `yaml:"catalog_path" envconfig:"CATALOG_PATH"`
	S3          S3Config `yaml:"s3,omitempty"`
}

// S3Config holds the settings of the s3 backend.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key,omitempty" envconfig:"SECRET_KEY"`
	PathStyle bool   `yaml:"path_style,omitempty" envconfig:"PATH_STYLE"`
}

// SearchConfig holds query tuning.
type SearchConfig struct {
	DefaultLimit    int           `yaml:"default_limit" envconfig:"DEFAULT_LIMIT"`
	MaxLimit        int           `yaml:"max_limit" envconfig:"MAX_LIMIT"`
	OverfetchFactor int           `yaml:"overfetch_factor" envconfig:"OVERFETCH_FACTOR"`
	Parallelism     int           `yaml:"parallelism"`
	ChunksPerBatch  int           `yaml:"chunks_per_batch" envconfig:"CHUNKS_PER_BATCH"`
	StreamTTL       time.Duration `yaml:"stream_ttl" envconfig:"STREAM_TTL"`
}

// ResultLimit applies the default and maximum result counts to a requested limit.
func (s SearchConfig) ResultLimit(requested int) int {
	if requested <= 0 {
		requested = s.DefaultLimit
	}
	if s.MaxLimit > 0 && requested > s.MaxLimit {
		requested = s.MaxLimit
	}
	return requested
}

// CompactionConfig decides when a chunk's tombstones are purged.
type CompactionConfig struct {
	MinDeleted int     `yaml:"min_deleted" envconfig:"MIN_DELETED"`
	Ratio      float64 `yaml:"ratio"`
}

// EmbeddingConfig holds settings for content-based puts and queries.
type EmbeddingConfig struct {
	// Provider is "hash" or "none".
	Provider  string `yaml:"provider"`
	CacheSize int    `yaml:"cache_size" envconfig:"CACHE_SIZE"`
}

// SpoolConfig holds the directories scanned for .jsonl record files.
type SpoolConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (s *SpoolConfig) RecursiveOrDefault() bool {
	if s.Recursive != nil {
		return *s.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies environment
// overrides and defaults, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.ChunksPath = expandPath(cfg.Storage.ChunksPath, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	for i := range cfg.Spool.Directories {
		cfg.Spool.Directories[i] = expandPath(cfg.Spool.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path. Used for persisting spool directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	e := c.Engine
	required := []struct {
		name  string
		value int
	}{
		{"engine.dimension", e.Dimension},
		{"engine.m", e.M},
		{"engine.ef_construction", e.EfConstruction},
		{"engine.default_ef_search", e.DefaultEfSearch},
		{"engine.chunk_capacity", e.ChunkCapacity},
		{"engine.max_active_chunks", e.MaxActiveChunks},
	}
	for _, r := range required {
		if r.value <= 0 {
			errs = append(errs, fmt.Errorf("%s is required and must be positive", r.name))
		}
	}
	if e.DistanceMetric == "" {
		errs = append(errs, errors.New("engine.distance_metric is required"))
	} else if _, err := vector.ParseMetric(e.DistanceMetric); err != nil {
		errs = append(errs, err)
	}
	switch vector.IndexType(e.IndexType) {
	case vector.IndexTypeHNSW, vector.IndexTypeFlat:
	default:
		errs = append(errs, fmt.Errorf("unknown engine.index_type: %q (supported: hnsw, flat)", e.IndexType))
	}
	if e.MaxChunks < 0 {
		errs = append(errs, errors.New("engine.max_chunks must not be negative"))
	}
	switch manager.CorruptionPolicy(e.CorruptionPolicy) {
	case manager.CorruptionFail, manager.CorruptionRebuildEmpty:
	default:
		errs = append(errs, fmt.Errorf("unknown engine.corruption_policy: %q", e.CorruptionPolicy))
	}
	switch manager.EvictionMode(e.EvictionMode) {
	case manager.EvictionStrict, manager.EvictionBestEffort:
	default:
		errs = append(errs, fmt.Errorf("unknown engine.eviction_mode: %q", e.EvictionMode))
	}

	switch c.Storage.Backend {
	case BackendFile, BackendBadger:
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend: %q (supported: file, badger, s3)", c.Storage.Backend))
	}

	switch c.Embedding.Provider {
	case ProviderHash, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider: %q (supported: hash, none)", c.Embedding.Provider))
	}

	if c.Compaction.Ratio < 0 || c.Compaction.Ratio > 1 {
		errs = append(errs, errors.New("compaction.ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// Metric returns the parsed distance metric. Call after Validate.
func (c *Config) Metric() vector.Metric {
	m, _ := vector.ParseMetric(c.Engine.DistanceMetric)
	return m
}

// ChunkOptions builds the per-chunk construction options.
func (c *Config) ChunkOptions() chunk.Options {
	return chunk.Options{
		IndexType: vector.IndexType(c.Engine.IndexType),
		Index: vector.Config{
			Dim:            c.Engine.Dimension,
			Metric:         c.Metric(),
			M:              c.Engine.M,
			EfConstruction: c.Engine.EfConstruction,
		},
		Capacity:     c.Engine.ChunkCapacity,
		PersistGraph: c.Engine.PersistGraphOrDefault(),
	}
}

// ManagerConfig builds the chunk manager configuration.
func (c *Config) ManagerConfig() manager.Config {
	return manager.Config{
		Chunk:            c.ChunkOptions(),
		MaxActiveChunks:  c.Engine.MaxActiveChunks,
		MaxChunks:        c.Engine.MaxChunks,
		PartitionKey:     c.Engine.PartitionKey,
		CorruptionPolicy: manager.CorruptionPolicy(c.Engine.CorruptionPolicy),
		EvictionMode:     manager.EvictionMode(c.Engine.EvictionMode),
	}
}

// CompactionPolicy returns the chunk compaction policy.
func (c *Config) CompactionPolicy() chunk.CompactionPolicy {
	return chunk.CompactionPolicy{MinDeleted: c.Compaction.MinDeleted, Ratio: c.Compaction.Ratio}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
