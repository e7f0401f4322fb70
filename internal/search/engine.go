// Package search runs hybrid vector and metadata search across chunks, either
// in one call or as a stream of bounded batches.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/embedding"
	"github.com/hyperjump/vecpager/internal/manager"
	"github.com/hyperjump/vecpager/internal/metrics"
	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/vector"
)

// Config configures the search engine.
type Config struct {
	Dimension       int
	Metric          vector.Metric
	DefaultEfSearch int
	// OverfetchFactor multiplies max_results for the per-chunk candidate count.
	OverfetchFactor int
	// Parallelism bounds concurrent chunk searches within a batch.
	Parallelism int
	// ChunksPerBatch is the default stream batch size, clamped to the residency budget.
	ChunksPerBatch int
}

// Engine runs searches against the chunks of a manager.
type Engine struct {
	manager  *manager.Manager
	embedder embedding.Embedder // optional; needed for content queries
	config   Config
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEmbedder sets the embedder used for content queries.
func WithEmbedder(emb embedding.Embedder) EngineOption {
	return func(e *Engine) { e.embedder = emb }
}

// NewEngine creates a search engine. Zero tuning values fall back to
// overfetch 5, parallelism 4 and one chunk per batch.
func NewEngine(mgr *manager.Manager, cfg Config, opts ...EngineOption) *Engine {
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = 5
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.ChunksPerBatch <= 0 {
		cfg.ChunksPerBatch = 1
	}
	e := &Engine{
		manager: mgr,
		config:  cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns the best max_results records across every chunk. It runs a
// stream to completion. When the query deadline expires the best results
// found so far are returned with Partial set.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if query.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(query.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	s, err := e.OpenStream(ctx, query)
	if err != nil {
		return nil, err
	}
	for {
		_, ok, err := s.next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok || s.Partial() {
			break
		}
	}

	resp := s.response()
	resp.QueryTime = time.Since(start).Milliseconds()
	metrics.SearchDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if resp.Partial {
		metrics.SearchPartialTotal.Inc()
		e.logger.Debug("search returned partial results",
			zap.Int("chunks_searched", resp.ChunksSearched), zap.Int("chunks_total", resp.ChunksTotal))
	}
	return resp, nil
}

// OpenStream starts a streaming search over the chunks known now. Chunks
// created later are not visited.
func (e *Engine) OpenStream(ctx context.Context, query *models.SearchQuery) (*Stream, error) {
	if err := e.prepare(ctx, query); err != nil {
		return nil, err
	}
	perBatch := query.ChunksPerBatch
	if perBatch <= 0 {
		perBatch = e.config.ChunksPerBatch
	}
	if max := e.manager.MaxActive(); perBatch > max {
		perBatch = max
	}
	ef := query.EfSearch
	if ef <= 0 {
		ef = e.config.DefaultEfSearch
	}
	return &Stream{
		engine:   e,
		query:    query,
		scorer:   newScorer(e.config.Metric, query),
		chunks:   e.manager.Known(),
		perBatch: perBatch,
		k:        query.MaxResults * e.config.OverfetchFactor,
		ef:       ef,
	}, nil
}

// prepare validates the query and embeds its content when no vector is given.
func (e *Engine) prepare(ctx context.Context, query *models.SearchQuery) error {
	if err := query.Validate(); err != nil {
		return err
	}
	if len(query.Vector) == 0 {
		if e.embedder == nil {
			return fmt.Errorf("content query: no embedder configured: %w", models.ErrInvalidInput)
		}
		vec, err := e.embedder.Embed(ctx, query.Content)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		query.Vector = vec
	}
	if len(query.Vector) != e.config.Dimension {
		return fmt.Errorf("query has %d dimensions, store has %d: %w",
			len(query.Vector), e.config.Dimension, models.ErrDimensionMismatch)
	}
	return nil
}

// isDeadline reports whether err means the search budget ran out.
func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
