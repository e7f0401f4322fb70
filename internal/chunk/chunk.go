// Package chunk provides the unit of paging: a bounded arena of records with
// its own sub-index, plus the binary format chunks are persisted in.
package chunk

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/vector"
)

// Options configures chunk construction.
type Options struct {
	IndexType vector.IndexType
	Index     vector.Config
	// Capacity is the maximum number of live records.
	Capacity int
	// PersistGraph writes the sub-index structure to disk. When false the
	// index is rebuilt from the record table on load.
	PersistGraph bool
}

// CompactionPolicy decides when tombstones are purged by rebuilding the sub-index.
type CompactionPolicy struct {
	MinDeleted int
	Ratio      float64
}

// Candidate is a record matched by a chunk search.
type Candidate struct {
	Record   *models.Record
	Distance float32
	ChunkID  string
}

// Chunk holds up to Capacity records and the sub-index over their vectors.
//
// Callers synchronize through Lock/RLock: mutating methods require the write
// lock, read methods the read lock.
type Chunk struct {
	mu      sync.RWMutex
	id      string
	opts    Options
	records []*models.Record // by handle; nil marks a tombstone
	byID    map[string]vector.Handle
	index   vector.Index
	dirty   bool
	evicted bool
}

// New creates an empty chunk.
func New(id string, opts Options) (*Chunk, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("chunk capacity must be positive")
	}
	idx, err := newIndex(id, opts)
	if err != nil {
		return nil, fmt.Errorf("create index for chunk %s: %w", id, err)
	}
	return &Chunk{
		id:    id,
		opts:  opts,
		byID:  make(map[string]vector.Handle),
		index: idx,
	}, nil
}

func newIndex(id string, opts Options) (vector.Index, error) {
	cfg := opts.Index
	cfg.Seed = xxhash.Sum64String(id)
	return vector.NewIndex(opts.IndexType, cfg)
}

// Lock takes the write lock required by mutating methods.
func (c *Chunk) Lock() { c.mu.Lock() }

// Unlock releases the write lock.
func (c *Chunk) Unlock() { c.mu.Unlock() }

// RLock takes the read lock shared by searches and lookups.
func (c *Chunk) RLock() { c.mu.RLock() }

// RUnlock releases the read lock.
func (c *Chunk) RUnlock() { c.mu.RUnlock() }

// ID returns the chunk identifier.
func (c *Chunk) ID() string { return c.id }

// Len returns the number of live records.
func (c *Chunk) Len() int { return len(c.byID) }

// Capacity returns the live record limit.
func (c *Chunk) Capacity() int { return c.opts.Capacity }

// Full reports whether another record would exceed capacity.
func (c *Chunk) Full() bool { return len(c.byID) >= c.opts.Capacity }

// Dirty reports whether the chunk has changes not yet persisted.
func (c *Chunk) Dirty() bool { return c.dirty }

// MarkClean records a successful persist.
func (c *Chunk) MarkClean() { c.dirty = false }

// MarkDirty forces the next eviction or flush to persist the chunk.
func (c *Chunk) MarkDirty() { c.dirty = true }

// Evicted reports whether the manager has dropped this chunk from memory.
// An evicted chunk must not be mutated; callers re-acquire a fresh copy.
func (c *Chunk) Evicted() bool { return c.evicted }

// MarkEvicted is called by the manager under the write lock.
func (c *Chunk) MarkEvicted() { c.evicted = true }

// Tombstones returns the number of deleted records still held by the sub-index.
func (c *Chunk) Tombstones() int { return c.index.Tombstones() }

// IndexType returns the sub-index type.
func (c *Chunk) IndexType() vector.IndexType { return c.index.Type() }

// Insert adds rec. It returns models.ErrChunkFull at capacity.
func (c *Chunk) Insert(rec *models.Record) error {
	if c.Full() {
		return fmt.Errorf("chunk %s holds %d records: %w", c.id, len(c.byID), models.ErrChunkFull)
	}
	return c.add(rec)
}

// add inserts rec without the capacity check.
func (c *Chunk) add(rec *models.Record) error {
	if _, ok := c.byID[rec.ID]; ok {
		return fmt.Errorf("record %s already in chunk %s", rec.ID, c.id)
	}
	h, err := c.index.Insert(rec.Vector)
	if err != nil {
		return fmt.Errorf("insert into chunk %s: %w", c.id, err)
	}
	if int(h) != len(c.records) {
		return fmt.Errorf("chunk %s: index handle %d out of step with arena size %d", c.id, h, len(c.records))
	}
	c.records = append(c.records, rec)
	c.byID[rec.ID] = h
	c.dirty = true
	return nil
}

// Delete tombstones the record with the given id.
func (c *Chunk) Delete(id string) error {
	h, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("record %s in chunk %s: %w", id, c.id, models.ErrNotFound)
	}
	if err := c.index.Delete(h); err != nil {
		return fmt.Errorf("delete from chunk %s: %w", c.id, err)
	}
	c.records[h] = nil
	delete(c.byID, id)
	c.dirty = true
	return nil
}

// Get returns a live record by id.
func (c *Chunk) Get(id string) (*models.Record, bool) {
	h, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return c.records[h], true
}

// Records returns the live records in handle order.
func (c *Chunk) Records() []*models.Record {
	out := make([]*models.Record, 0, len(c.byID))
	for _, r := range c.records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Search returns up to k live records nearest to query. On context expiry the
// candidates found so far are returned with the context error.
func (c *Chunk) Search(ctx context.Context, query []float32, k, ef int) ([]Candidate, error) {
	hits, err := c.index.Search(ctx, query, k, ef)
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		rec := c.records[h.Handle]
		if rec == nil {
			continue
		}
		out = append(out, Candidate{Record: rec, Distance: h.Distance, ChunkID: c.id})
	}
	return out, err
}

// NeedsCompaction reports whether the tombstone count crosses the policy.
func (c *Chunk) NeedsCompaction(p CompactionPolicy) bool {
	deleted := c.index.Tombstones()
	if deleted == 0 || deleted < p.MinDeleted {
		return false
	}
	return float64(deleted)/float64(c.index.Slots()) >= p.Ratio
}

// Compact rebuilds the sub-index from live records, renumbering handles.
// It returns the number of tombstones purged.
func (c *Chunk) Compact() (int, error) {
	purged := c.index.Tombstones()
	if purged == 0 {
		return 0, nil
	}
	idx, err := newIndex(c.id, c.opts)
	if err != nil {
		return 0, err
	}
	records := make([]*models.Record, 0, len(c.byID))
	byID := make(map[string]vector.Handle, len(c.byID))
	for _, r := range c.records {
		if r == nil {
			continue
		}
		h, err := idx.Insert(r.Vector)
		if err != nil {
			return 0, fmt.Errorf("compact chunk %s: %w", c.id, err)
		}
		records = append(records, r)
		byID[r.ID] = h
	}
	c.index, c.records, c.byID = idx, records, byID
	c.dirty = true
	return purged, nil
}
