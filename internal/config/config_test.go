package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/vecpager/internal/manager"
	"github.com/hyperjump/vecpager/internal/vector"
)

const engineYAML = `
engine:
  dimension: 4
  distance_metric: cosine
  m: 8
  ef_construction: 64
  default_ef_search: 32
  chunk_capacity: 100
  max_active_chunks: 2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, engineYAML+`
server:
  host: "127.0.0.1"
  port: 9000
storage:
  catalog_path: "/tmp/catalog.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Engine.Dimension != 4 || cfg.Engine.MaxActiveChunks != 2 {
		t.Errorf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Metric() != vector.MetricCosine {
		t.Errorf("metric = %s, want cosine", cfg.Metric())
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_missingEngineParameters(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing engine parameters")
	}
	for _, name := range []string{
		"engine.dimension", "engine.distance_metric", "engine.m", "engine.ef_construction",
		"engine.default_ef_search", "engine.chunk_capacity", "engine.max_active_chunks",
	} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should name %s: %v", name, err)
		}
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, engineYAML+`
storage:
  chunks_path: "./data/chunks"
  catalog_path: "./data/catalog.db"
spool:
  directories: ["./spool"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "chunks"); cfg.Storage.ChunksPath != want {
		t.Errorf("chunks_path = %s, want %s", cfg.Storage.ChunksPath, want)
	}
	if want := filepath.Join(dir, "data", "catalog.db"); cfg.Storage.CatalogPath != want {
		t.Errorf("catalog_path = %s, want %s", cfg.Storage.CatalogPath, want)
	}
	if len(cfg.Spool.Directories) != 1 {
		t.Fatalf("spool directories: got %d", len(cfg.Spool.Directories))
	}
	if want := filepath.Join(dir, "spool"); cfg.Spool.Directories[0] != want {
		t.Errorf("spool directory = %s, want %s", cfg.Spool.Directories[0], want)
	}
}

func TestLoad_environmentOverrides(t *testing.T) {
	t.Setenv("VECPAGER_SERVER_PORT", "9191")
	t.Setenv("VECPAGER_ENGINE_MAX_ACTIVE_CHUNKS", "7")
	t.Setenv("VECPAGER_SEARCH_STREAM_TTL", "90s")
	t.Setenv("VECPAGER_STORAGE_S3_BUCKET", "vectors")
	path := writeConfig(t, engineYAML+`
server:
  port: 9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Engine.MaxActiveChunks != 7 {
		t.Errorf("max_active_chunks = %d, want 7", cfg.Engine.MaxActiveChunks)
	}
	if cfg.Search.StreamTTL != 90*time.Second {
		t.Errorf("stream_ttl = %s, want 90s", cfg.Search.StreamTTL)
	}
	if cfg.Storage.S3.Bucket != "vectors" {
		t.Errorf("s3 bucket = %q, want vectors", cfg.Storage.S3.Bucket)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Search.OverfetchFactor != 5 {
		t.Errorf("default overfetch_factor: got %d, want 5", cfg.Search.OverfetchFactor)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("default backend: got %s", cfg.Storage.Backend)
	}
	if cfg.Engine.EvictionMode != string(manager.EvictionStrict) {
		t.Errorf("default eviction_mode: got %s", cfg.Engine.EvictionMode)
	}
	if len(cfg.Spool.Extensions) != 1 || cfg.Spool.Extensions[0] != ".jsonl" {
		t.Errorf("spool extensions: got %v", cfg.Spool.Extensions)
	}
	if cfg.Engine.Dimension != 0 || cfg.Engine.DistanceMetric != "" || cfg.Engine.MaxActiveChunks != 0 {
		t.Errorf("engine parameters must not be defaulted: %+v", cfg.Engine)
	}
}

func TestApplyDefaults_SpoolRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Spool: SpoolConfig{Directories: []string{"/tmp/spool"}}}
	ApplyDefaults(cfg)
	if cfg.Spool.Recursive == nil || !*cfg.Spool.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestSpoolConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		s := &SpoolConfig{}
		if got := s.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		s := &SpoolConfig{Recursive: &f}
		if got := s.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Engine: EngineConfig{
			Dimension: 4, DistanceMetric: "l2", M: 8, EfConstruction: 64,
			DefaultEfSearch: 32, ChunkCapacity: 10, MaxActiveChunks: 1,
		}}
		ApplyDefaults(cfg)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad_metric", func(c *Config) { c.Engine.DistanceMetric = "manhattan" }, "unknown distance metric"},
		{"bad_index_type", func(c *Config) { c.Engine.IndexType = "ivf" }, "engine.index_type"},
		{"bad_backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"s3_without_bucket", func(c *Config) { c.Storage.Backend = "s3" }, "storage.s3.bucket"},
		{"bad_eviction_mode", func(c *Config) { c.Engine.EvictionMode = "lazy" }, "engine.eviction_mode"},
		{"bad_corruption_policy", func(c *Config) { c.Engine.CorruptionPolicy = "ignore" }, "engine.corruption_policy"},
		{"bad_ratio", func(c *Config) { c.Compaction.Ratio = 2 }, "compaction.ratio"},
		{"bad_provider", func(c *Config) { c.Embedding.Provider = "onnx" }, "embedding.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestManagerConfig(t *testing.T) {
	f := false
	cfg := &Config{Engine: EngineConfig{
		Dimension: 4, DistanceMetric: "dot", M: 8, EfConstruction: 64,
		DefaultEfSearch: 32, ChunkCapacity: 10, MaxActiveChunks: 3, PersistGraph: &f,
	}}
	ApplyDefaults(cfg)
	mc := cfg.ManagerConfig()
	if err := mc.Validate(); err != nil {
		t.Fatalf("manager config invalid: %v", err)
	}
	if mc.MaxActiveChunks != 3 || mc.Chunk.Capacity != 10 {
		t.Errorf("unexpected manager config: %+v", mc)
	}
	if mc.Chunk.Index.Metric != vector.MetricDot || mc.Chunk.IndexType != vector.IndexTypeHNSW {
		t.Errorf("unexpected index options: %+v", mc.Chunk)
	}
	if mc.Chunk.PersistGraph {
		t.Error("persist_graph false should carry through")
	}
}

func TestSave(t *testing.T) {
	path := writeConfig(t, engineYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Server.Port = 9090
	cfg.Spool.Directories = append(cfg.Spool.Directories, "/tmp/spool")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if len(loaded.Spool.Directories) != 1 || loaded.Spool.Directories[0] != "/tmp/spool" {
		t.Errorf("loaded spool directories: got %v", loaded.Spool.Directories)
	}
	if loaded.Search.StreamTTL != cfg.Search.StreamTTL {
		t.Errorf("stream_ttl round trip: got %s, want %s", loaded.Search.StreamTTL, cfg.Search.StreamTTL)
	}
}

func TestSearchConfig_ResultLimit(t *testing.T) {
	s := SearchConfig{DefaultLimit: 10, MaxLimit: 100}
	tests := []struct {
		requested int
		want      int
	}{
		{0, 10},
		{-1, 10},
		{25, 25},
		{500, 100},
	}
	for _, tt := range tests {
		if got := s.ResultLimit(tt.requested); got != tt.want {
			t.Errorf("ResultLimit(%d) = %d, want %d", tt.requested, got, tt.want)
		}
	}
	if got := (SearchConfig{}).ResultLimit(7); got != 7 {
		t.Errorf("unbounded ResultLimit(7) = %d", got)
	}
}
