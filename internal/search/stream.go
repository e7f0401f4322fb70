package search

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/vecpager/internal/chunk"
	"github.com/hyperjump/vecpager/internal/metrics"
	"github.com/hyperjump/vecpager/internal/models"
)

// Stream is a streaming search session. Each NextBatch searches the next
// group of chunks and merges them into a running top-max_results buffer, so
// memory stays bounded by the batch size and the result limit.
//
// A stream holds no chunks between pulls; abandoning it needs no cleanup.
type Stream struct {
	engine   *Engine
	query    *models.SearchQuery
	scorer   *scorer
	chunks   []string
	perBatch int
	k, ef    int

	mu       sync.Mutex
	pos      int
	buffer   []*models.SearchResult
	searched int
	filtered int
	partial  bool
}

// NextBatch searches the next chunks and returns the best results seen so
// far. It returns false once every chunk has been consumed. A deadline hit
// mid-batch keeps what was found and sets Partial. The query's TimeoutMs
// bounds each pull.
func (s *Stream) NextBatch(ctx context.Context) ([]*models.SearchResult, bool, error) {
	start := time.Now()
	if s.query.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.query.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	defer func() {
		metrics.SearchDuration.WithLabelValues("stream_batch").Observe(time.Since(start).Seconds())
	}()
	return s.next(ctx)
}

func (s *Stream) next(ctx context.Context) ([]*models.SearchResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.chunks) {
		return nil, false, nil
	}
	end := s.pos + s.perBatch
	if end > len(s.chunks) {
		end = len(s.chunks)
	}
	batch := s.chunks[s.pos:end]

	results := make([][]*models.SearchResult, len(batch))
	filtered := make([]int, len(batch))
	cut := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.engine.config.Parallelism)
	for i, id := range batch {
		g.Go(func() error {
			var cands []chunk.Candidate
			err := s.engine.manager.View(gctx, id, func(c *chunk.Chunk) error {
				var err error
				cands, err = c.Search(gctx, s.query.Vector, s.k, s.ef)
				return err
			})
			if err != nil {
				if !isDeadline(err) {
					return err
				}
				cut[i] = true
			}
			results[i], filtered[i] = s.scorer.score(cands)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	s.pos = end
	for i := range batch {
		s.buffer = mergeTop(s.buffer, results[i], s.query.MaxResults)
		s.filtered += filtered[i]
		if cut[i] {
			s.partial = true
		} else {
			s.searched++
		}
	}
	return ranked(s.buffer), true, nil
}

// IsComplete reports whether every chunk has been merged. The results are
// then the top max_results across the whole store, unless Partial is set.
func (s *Stream) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos >= len(s.chunks)
}

// Partial reports whether a deadline cut any chunk search short.
func (s *Stream) Partial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// ChunksTotal returns the number of chunks the stream visits.
func (s *Stream) ChunksTotal() int { return len(s.chunks) }

// Results returns the current buffer.
func (s *Stream) Results() []*models.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ranked(s.buffer)
}

func (s *Stream) response() *models.SearchResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := ranked(s.buffer)
	return &models.SearchResponse{
		Results:        results,
		Requested:      s.query.MaxResults,
		Incomplete:     len(results) < s.query.MaxResults,
		Partial:        s.partial,
		ChunksSearched: s.searched,
		ChunksTotal:    len(s.chunks),
		Filtered:       s.filtered,
	}
}
