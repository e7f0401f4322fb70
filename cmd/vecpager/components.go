package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/config"
	"github.com/hyperjump/vecpager/internal/embedding"
	"github.com/hyperjump/vecpager/internal/indexer"
	"github.com/hyperjump/vecpager/internal/manager"
	"github.com/hyperjump/vecpager/internal/search"
	"github.com/hyperjump/vecpager/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Config   *config.Config
	Store    storage.ChunkStore
	Catalog  storage.Catalog
	Manager  *manager.Manager
	Embedder embedding.Embedder
	Indexer  *indexer.Indexer
	Engine   *search.Engine
	Streams  *search.Registry
}

// Close flushes dirty chunks and releases the stores.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if c.Streams != nil {
		c.Streams.Close()
	}
	if c.Manager != nil {
		if err := c.Manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush chunks: %w", err))
		}
	}
	if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	if c.Catalog != nil {
		errs = append(errs, c.Catalog.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

// newChunkStore opens the chunk backend named in the config.
func newChunkStore(cfg *config.Config, logger *zap.Logger) (storage.ChunkStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		return storage.NewBadgerStore(cfg.Storage.ChunksPath, logger)
	case config.BackendS3:
		s3cfg := cfg.Storage.S3
		client := storage.NewS3Client(storage.S3Options{
			Region:    s3cfg.Region,
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			PathStyle: s3cfg.PathStyle,
		})
		return storage.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix), nil
	default:
		return storage.NewFileStore(cfg.Storage.ChunksPath)
	}
}

// newEmbedder returns the content embedder, or nil when content input is disabled.
func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	if cfg.Embedding.Provider == config.ProviderNone {
		return nil, nil
	}
	hash, err := embedding.NewHashEmbedder(cfg.Engine.Dimension)
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.CacheSize > 0 {
		return embedding.NewCachedEmbedder(hash, cfg.Embedding.CacheSize), nil
	}
	return hash, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg}
	fail := func(err error) (*Components, error) {
		_ = c.Close(ctx)
		return nil, err
	}

	store, err := newChunkStore(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to open chunk store: %w", err))
	}
	c.Store = store

	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		return fail(fmt.Errorf("failed to open catalog: %w", err))
	}
	c.Catalog = catalog

	mgr, err := manager.New(ctx, cfg.ManagerConfig(), store, catalog, manager.WithLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("failed to initialize chunk manager: %w", err))
	}
	c.Manager = mgr

	emb, err := newEmbedder(cfg)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize embedder: %w", err))
	}

	idxOpts := []indexer.IndexerOption{
		indexer.WithLogger(logger),
		indexer.WithCompaction(cfg.CompactionPolicy()),
	}
	engineOpts := []search.EngineOption{search.WithLogger(logger)}
	if emb != nil {
		c.Embedder = emb
		idxOpts = append(idxOpts, indexer.WithEmbedder(emb))
		engineOpts = append(engineOpts, search.WithEmbedder(emb))
	}
	c.Indexer = indexer.NewIndexer(mgr, catalog, cfg.Engine.Dimension, idxOpts...)
	c.Engine = search.NewEngine(mgr, search.Config{
		Dimension:       cfg.Engine.Dimension,
		Metric:          cfg.Metric(),
		DefaultEfSearch: cfg.Engine.DefaultEfSearch,
		OverfetchFactor: cfg.Search.OverfetchFactor,
		Parallelism:     cfg.Search.Parallelism,
		ChunksPerBatch:  cfg.Search.ChunksPerBatch,
	}, engineOpts...)
	c.Streams = search.NewRegistry(cfg.Search.StreamTTL, logger)

	logger.Info("store opened",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("index_type", cfg.Engine.IndexType),
		zap.Int("dimension", cfg.Engine.Dimension),
		zap.Int("chunks", len(mgr.Known())),
	)
	return c, nil
}
