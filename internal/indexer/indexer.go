// Package indexer stores and removes records, keeping the chunk contents and
// the record catalog in step.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/chunk"
	"github.com/hyperjump/vecpager/internal/embedding"
	"github.com/hyperjump/vecpager/internal/manager"
	"github.com/hyperjump/vecpager/internal/metrics"
	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/storage"
)

// Indexer writes records into chunks and the catalog.
//
// A record's catalog row is written while its chunk is write-locked, so a
// chunk is never persisted by eviction between the two writes.
type Indexer struct {
	manager    *manager.Manager
	catalog    storage.Catalog
	dimension  int
	compaction chunk.CompactionPolicy
	embedder   embedding.Embedder // optional; needed for content-only input
	logger     *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output and data-loss reports.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithEmbedder sets the embedder used for records submitted as content.
func WithEmbedder(e embedding.Embedder) IndexerOption {
	return func(idx *Indexer) { idx.embedder = e }
}

// WithCompaction sets when deletes trigger a sub-index rebuild. A zero Ratio
// disables compaction on delete.
func WithCompaction(p chunk.CompactionPolicy) IndexerOption {
	return func(idx *Indexer) { idx.compaction = p }
}

// NewIndexer creates an indexer and installs catalog reconciliation as the
// manager's load hook.
func NewIndexer(mgr *manager.Manager, catalog storage.Catalog, dimension int, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		manager:   mgr,
		catalog:   catalog,
		dimension: dimension,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	mgr.SetLoadHook(idx.Reconcile)
	return idx
}

// Put stores a record and returns its id. A record whose content hash is
// already stored is not inserted again; the existing id is returned.
func (idx *Indexer) Put(ctx context.Context, req *models.PutRequest) (string, error) {
	id, _, err := idx.put(ctx, req)
	return id, err
}

// put reports whether a new record was created.
func (idx *Indexer) put(ctx context.Context, req *models.PutRequest) (string, bool, error) {
	if err := req.Validate(); err != nil {
		return "", false, err
	}
	if len(req.Vector) != idx.dimension {
		return "", false, fmt.Errorf("vector has %d dimensions, store has %d: %w",
			len(req.Vector), idx.dimension, models.ErrDimensionMismatch)
	}
	if existing, err := idx.catalog.GetByHash(ctx, req.ContentHash); err == nil {
		metrics.RecordsDeduplicatedTotal.Inc()
		idx.logger.Debug("indexer content hash already stored",
			zap.String("content_hash", req.ContentHash), zap.String("id", existing.ID))
		return existing.ID, false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return "", false, fmt.Errorf("lookup content hash: %w", err)
	}

	vec := make([]float32, len(req.Vector))
	copy(vec, req.Vector)
	rec := &models.Record{
		ID:          uuid.New().String(),
		ContentHash: req.ContentHash,
		Source:      req.Source,
		Vector:      vec,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	chunkID, err := idx.manager.Assign(ctx, idx.manager.Partition(req.Metadata))
	if err != nil {
		return "", false, err
	}
	for {
		err = idx.manager.Update(ctx, chunkID, func(c *chunk.Chunk) error {
			return idx.insertLocked(ctx, c, rec)
		})
		if !errors.Is(err, models.ErrChunkFull) {
			break
		}
		if chunkID, err = idx.manager.Advance(ctx, chunkID); err != nil {
			return "", false, err
		}
	}
	if errors.Is(err, storage.ErrDuplicateHash) {
		// A concurrent put of the same content won the catalog row.
		existing, getErr := idx.catalog.GetByHash(ctx, req.ContentHash)
		if getErr != nil {
			return "", false, fmt.Errorf("lookup content hash: %w", getErr)
		}
		metrics.RecordsDeduplicatedTotal.Inc()
		return existing.ID, false, nil
	}
	if err != nil {
		return "", false, err
	}

	metrics.RecordsInsertedTotal.Inc()
	idx.logger.Debug("indexer record stored", zap.String("id", rec.ID), zap.String("chunk_id", chunkID))
	return rec.ID, true, nil
}

// insertLocked adds rec to c and its catalog row, undoing the chunk insert if
// the catalog rejects the row. Caller holds c's write lock.
func (idx *Indexer) insertLocked(ctx context.Context, c *chunk.Chunk, rec *models.Record) error {
	if err := c.Insert(rec); err != nil {
		return err
	}
	entry := &storage.CatalogEntry{
		ID:          rec.ID,
		ChunkID:     c.ID(),
		ContentHash: rec.ContentHash,
		Source:      rec.Source,
		CreatedAt:   rec.CreatedAt,
	}
	if err := idx.catalog.PutRecord(ctx, entry); err != nil {
		if delErr := c.Delete(rec.ID); delErr != nil {
			idx.logger.Error("indexer failed to undo chunk insert",
				zap.String("id", rec.ID), zap.String("chunk_id", c.ID()), zap.Error(delErr))
		}
		return err
	}
	return nil
}

// Delete removes a record. Unknown ids return models.ErrNotFound.
func (idx *Indexer) Delete(ctx context.Context, id string) error {
	entry, err := idx.catalog.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	err = idx.manager.Update(ctx, entry.ChunkID, func(c *chunk.Chunk) error {
		if err := c.Delete(id); err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if err := idx.catalog.DeleteRecord(ctx, id); err != nil {
			return err
		}
		if idx.compaction.Ratio > 0 && c.NeedsCompaction(idx.compaction) {
			_, err := idx.compactLocked(c)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordsDeletedTotal.Inc()
	idx.logger.Debug("indexer record deleted", zap.String("id", id), zap.String("chunk_id", entry.ChunkID))
	return nil
}

// DeleteBySource removes every record ingested from source and returns how many were removed.
func (idx *Indexer) DeleteBySource(ctx context.Context, source string) (int, error) {
	entries, err := idx.catalog.RecordsBySource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("list records of %s: %w", source, err)
	}
	n := 0
	for _, e := range entries {
		if err := idx.Delete(ctx, e.ID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		idx.logger.Debug("indexer source deleted", zap.String("source", source), zap.Int("records", n))
	}
	return n, nil
}

// Get returns a stored record.
func (idx *Indexer) Get(ctx context.Context, id string) (*models.Record, error) {
	entry, err := idx.catalog.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	var rec *models.Record
	err = idx.manager.View(ctx, entry.ChunkID, func(c *chunk.Chunk) error {
		r, ok := c.Get(id)
		if !ok {
			return fmt.Errorf("record %s in chunk %s: %w", id, entry.ChunkID, models.ErrNotFound)
		}
		rec = r
		return nil
	})
	return rec, err
}

// Compact rebuilds the sub-index of every chunk whose tombstones cross the
// compaction policy and returns the number of tombstones purged.
func (idx *Indexer) Compact(ctx context.Context) (int, error) {
	// With compaction disabled on delete, an explicit compaction purges every tombstone.
	policy := idx.compaction
	if policy.Ratio <= 0 {
		policy = chunk.CompactionPolicy{MinDeleted: 1}
	}
	total := 0
	for _, id := range idx.manager.Known() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		err := idx.manager.Update(ctx, id, func(c *chunk.Chunk) error {
			if !c.NeedsCompaction(policy) {
				return nil
			}
			purged, err := idx.compactLocked(c)
			total += purged
			return err
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (idx *Indexer) compactLocked(c *chunk.Chunk) (int, error) {
	purged, err := c.Compact()
	if err != nil {
		return 0, err
	}
	metrics.ChunkCompactionsTotal.Inc()
	idx.logger.Debug("indexer chunk compacted", zap.String("chunk_id", c.ID()), zap.Int("purged", purged))
	return purged, nil
}

// Reconcile brings a freshly loaded chunk and the catalog into agreement.
// Catalog rows whose record never reached the chunk file are removed, and
// chunk records without a catalog row are tombstoned.
func (idx *Indexer) Reconcile(ctx context.Context, c *chunk.Chunk) error {
	entries, err := idx.catalog.RecordsInChunk(ctx, c.ID())
	if err != nil {
		return fmt.Errorf("list catalog rows of chunk %s: %w", c.ID(), err)
	}
	c.Lock()
	defer c.Unlock()

	cataloged := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		cataloged[e.ID] = struct{}{}
	}
	var orphaned, lost int
	for _, r := range c.Records() {
		if _, ok := cataloged[r.ID]; ok {
			continue
		}
		if err := c.Delete(r.ID); err != nil {
			return err
		}
		orphaned++
	}
	for _, e := range entries {
		if _, ok := c.Get(e.ID); ok {
			continue
		}
		if err := idx.catalog.DeleteRecord(ctx, e.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		lost++
	}
	if orphaned > 0 || lost > 0 {
		metrics.RecordsReconciledTotal.WithLabelValues("chunk").Add(float64(orphaned))
		metrics.RecordsReconciledTotal.WithLabelValues("catalog").Add(float64(lost))
		idx.logger.Warn("indexer reconciled chunk with catalog",
			zap.String("chunk_id", c.ID()),
			zap.Int("chunk_records_dropped", orphaned),
			zap.Int("catalog_rows_dropped", lost))
	}
	return nil
}

// Stats summarizes the store.
type Stats struct {
	Records         int64 `json:"records"`
	Chunks          int64 `json:"chunks"`
	ActiveChunks    int   `json:"active_chunks"`
	MaxActiveChunks int   `json:"max_active_chunks"`
}

// Stats returns record and chunk counts.
func (idx *Indexer) Stats(ctx context.Context) (*Stats, error) {
	records, err := idx.catalog.CountRecords(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := idx.catalog.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Records:         records,
		Chunks:          chunks,
		ActiveChunks:    len(idx.manager.Active()),
		MaxActiveChunks: idx.manager.MaxActive(),
	}, nil
}

// Flush persists every dirty resident chunk.
func (idx *Indexer) Flush(ctx context.Context) error {
	return idx.manager.Flush(ctx)
}
