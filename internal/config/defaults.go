package config

import "time"

// ApplyDefaults sets default values for zero ambient settings in cfg.
// The required engine parameters are left alone so Validate can report them.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Engine.IndexType == "" {
		cfg.Engine.IndexType = "hnsw"
	}
	if cfg.Engine.CorruptionPolicy == "" {
		cfg.Engine.CorruptionPolicy = "fail"
	}
	if cfg.Engine.EvictionMode == "" {
		cfg.Engine.EvictionMode = "strict"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.ChunksPath == "" {
		cfg.Storage.ChunksPath = "/usr/local/var/vecpager/data/chunks"
	}
	if cfg.Storage.CatalogPath == "" {
		cfg.Storage.CatalogPath = "/usr/local/var/vecpager/data/catalog.db"
	}
	if cfg.Storage.S3.Region == "" {
		cfg.Storage.S3.Region = "us-east-1"
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 1000
	}
	if cfg.Search.OverfetchFactor == 0 {
		cfg.Search.OverfetchFactor = 5
	}
	if cfg.Search.Parallelism == 0 {
		cfg.Search.Parallelism = 4
	}
	if cfg.Search.ChunksPerBatch == 0 {
		cfg.Search.ChunksPerBatch = 1
	}
	if cfg.Search.StreamTTL == 0 {
		cfg.Search.StreamTTL = 5 * time.Minute
	}
	if cfg.Compaction.MinDeleted == 0 {
		cfg.Compaction.MinDeleted = 64
	}
	if cfg.Compaction.Ratio == 0 {
		cfg.Compaction.Ratio = 0.2
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderHash
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Spool.Extensions == nil {
		cfg.Spool.Extensions = []string{".jsonl"}
	}
	if cfg.Spool.Debounce == 0 {
		cfg.Spool.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Spool.Directories) > 0 && cfg.Spool.Recursive == nil {
		t := true
		cfg.Spool.Recursive = &t
	}
}
