package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/metrics"
	"github.com/hyperjump/vecpager/internal/models"
)

// Registry holds streams opened over HTTP under opaque handles. A stream not
// pulled for ttl is dropped by a background janitor.
type Registry struct {
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*registered
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
}

type registered struct {
	stream   *Stream
	lastUsed time.Time
}

// NewRegistry starts a registry whose janitor runs every ttl/2.
func NewRegistry(ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		ttl:     ttl,
		logger:  logger,
		streams: make(map[string]*registered),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.janitor()
	return r
}

func (r *Registry) janitor() {
	defer close(r.done)
	interval := r.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.expire(); n > 0 {
				r.logger.Debug("search expired idle streams", zap.Int("count", n))
			}
		}
	}
}

// expire drops idle streams and returns how many were dropped.
func (r *Registry) expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	n := 0
	for h, e := range r.streams {
		if e.lastUsed.Before(cutoff) {
			delete(r.streams, h)
			n++
		}
	}
	metrics.OpenStreams.Set(float64(len(r.streams)))
	return n
}

// Add registers s and returns its handle.
func (r *Registry) Add(s *Stream) string {
	h := uuid.New().String()
	r.mu.Lock()
	r.streams[h] = &registered{stream: s, lastUsed: r.now()}
	metrics.OpenStreams.Set(float64(len(r.streams)))
	r.mu.Unlock()
	return h
}

// Get returns the stream for handle and refreshes its idle timer.
// Unknown and expired handles return models.ErrNotFound.
func (r *Registry) Get(handle string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[handle]
	if !ok || e.lastUsed.Before(r.now().Add(-r.ttl)) {
		return nil, fmt.Errorf("stream %s: %w", handle, models.ErrNotFound)
	}
	e.lastUsed = r.now()
	return e.stream, nil
}

// Next pulls the next batch of the stream under handle. Once the stream has
// visited every chunk, Next keeps returning the final results with
// Exhausted set.
func (r *Registry) Next(ctx context.Context, handle string) (*models.StreamBatch, error) {
	s, err := r.Get(handle)
	if err != nil {
		return nil, err
	}
	results, ok, err := s.NextBatch(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		results = s.Results()
	}
	return &models.StreamBatch{
		Handle:    handle,
		Results:   results,
		Complete:  s.IsComplete(),
		Exhausted: !ok,
		Partial:   s.Partial(),
	}, nil
}

// Remove drops a stream. Removing an unknown handle returns models.ErrNotFound.
func (r *Registry) Remove(handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[handle]; !ok {
		return fmt.Errorf("stream %s: %w", handle, models.ErrNotFound)
	}
	delete(r.streams, handle)
	metrics.OpenStreams.Set(float64(len(r.streams)))
	return nil
}

// Len returns the number of open streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Close stops the janitor.
func (r *Registry) Close() {
	close(r.stop)
	<-r.done
}
