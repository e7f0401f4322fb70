// Package manager keeps a bounded working set of chunks in memory, loading
// them from a chunk store on demand and evicting the least recently used.
package manager

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/vecpager/internal/chunk"
	"github.com/hyperjump/vecpager/internal/metrics"
	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/storage"
)

// DefaultPartition holds records without a partition key value.
const DefaultPartition = "default"

// maxUpdateRetries bounds how often Update re-acquires a chunk evicted under it.
const maxUpdateRetries = 8

// CorruptionPolicy decides what happens when a chunk fails to decode.
type CorruptionPolicy string

const (
	// CorruptionFail surfaces models.ErrChunkCorrupted to the caller.
	CorruptionFail CorruptionPolicy = "fail"
	// CorruptionRebuildEmpty logs the loss and replaces the chunk with an empty one.
	CorruptionRebuildEmpty CorruptionPolicy = "rebuild_empty"
)

// EvictionMode decides what happens when persisting an evicted chunk fails.
type EvictionMode string

const (
	// EvictionStrict keeps the chunk resident and returns the error.
	EvictionStrict EvictionMode = "strict"
	// EvictionBestEffort logs the loss and drops the chunk anyway.
	EvictionBestEffort EvictionMode = "best_effort"
)

// Config configures a Manager.
type Config struct {
	Chunk           chunk.Options
	MaxActiveChunks int
	// MaxChunks caps the number of chunks; 0 means unlimited.
	MaxChunks        int
	PartitionKey     string
	CorruptionPolicy CorruptionPolicy
	EvictionMode     EvictionMode
}

// Validate checks the configuration. There are no defaults.
func (c *Config) Validate() error {
	if c.MaxActiveChunks <= 0 {
		return fmt.Errorf("max_active_chunks must be positive, got %d", c.MaxActiveChunks)
	}
	if c.Chunk.Capacity <= 0 {
		return fmt.Errorf("chunk_capacity must be positive, got %d", c.Chunk.Capacity)
	}
	switch c.CorruptionPolicy {
	case CorruptionFail, CorruptionRebuildEmpty:
	default:
		return fmt.Errorf("unknown corruption policy %q", c.CorruptionPolicy)
	}
	switch c.EvictionMode {
	case EvictionStrict, EvictionBestEffort:
	default:
		return fmt.Errorf("unknown eviction mode %q", c.EvictionMode)
	}
	return nil
}

// LoadHook runs once on every chunk read from the store, before it becomes
// visible to other callers.
type LoadHook func(ctx context.Context, c *chunk.Chunk) error

type entry struct {
	id    string
	chunk *chunk.Chunk
}

// Manager owns chunk residency.
//
// Lock order is manager before chunk: the manager may take a chunk's write
// lock while evicting, so callbacks passed to Update and View must not call
// back into the Manager.
type Manager struct {
	cfg      Config
	store    storage.ChunkStore
	catalog  storage.Catalog
	logger   *zap.Logger
	loadHook LoadHook

	mu      sync.Mutex
	active  map[string]*list.Element
	lru     *list.List // front is least recently used
	gen     map[string]uint64
	known   map[string]storage.ChunkInfo
	openSeq map[string]int

	loads singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithLoadHook sets a hook run on every loaded chunk.
func WithLoadHook(h LoadHook) Option {
	return func(m *Manager) {
		m.loadHook = h
	}
}

// New creates a Manager and discovers existing chunks from the catalog and the store.
func New(ctx context.Context, cfg Config, store storage.ChunkStore, catalog storage.Catalog, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		logger:  zap.NewNop(),
		active:  make(map[string]*list.Element),
		lru:     list.New(),
		gen:     make(map[string]uint64),
		known:   make(map[string]storage.ChunkInfo),
		openSeq: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.discover(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// SetLoadHook replaces the load hook. Used when the hook owner is built after the Manager.
func (m *Manager) SetLoadHook(h LoadHook) {
	m.mu.Lock()
	m.loadHook = h
	m.mu.Unlock()
}

func (m *Manager) discover(ctx context.Context) error {
	infos, err := m.catalog.Chunks(ctx)
	if err != nil {
		return fmt.Errorf("list catalog chunks: %w", err)
	}
	for _, info := range infos {
		m.addKnown(info)
	}

	// Chunks present in the store but missing from the catalog are adopted.
	ids, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list stored chunks: %w", err)
	}
	for _, id := range ids {
		if _, ok := m.known[id]; ok {
			continue
		}
		info, ok := ParseChunkID(id)
		if !ok {
			m.logger.Warn("manager ignoring unrecognized chunk", zap.String("chunk_id", id))
			continue
		}
		if err := m.catalog.RegisterChunk(ctx, info); err != nil {
			return err
		}
		m.addKnown(info)
		m.logger.Info("manager adopted chunk missing from catalog", zap.String("chunk_id", id))
	}
	m.logger.Debug("manager discovered chunks", zap.Int("count", len(m.known)))
	return nil
}

func (m *Manager) addKnown(info storage.ChunkInfo) {
	m.known[info.ID] = info
	if seq, ok := m.openSeq[info.Partition]; !ok || info.Seq > seq {
		m.openSeq[info.Partition] = info.Seq
	}
}

// ParseChunkID splits "<partition>-<seq>".
func ParseChunkID(id string) (storage.ChunkInfo, bool) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return storage.ChunkInfo{}, false
	}
	seq, err := strconv.Atoi(id[i+1:])
	if err != nil || seq < 0 {
		return storage.ChunkInfo{}, false
	}
	return storage.ChunkInfo{ID: id, Partition: id[:i], Seq: seq}, true
}

// Partition returns the partition of a record with the given metadata.
func (m *Manager) Partition(metadata map[string]string) string {
	if m.cfg.PartitionKey == "" {
		return DefaultPartition
	}
	v, ok := metadata[m.cfg.PartitionKey]
	if !ok || v == "" {
		return DefaultPartition
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(v))
}

// Assign returns the open chunk of partition, registering it if the partition is new.
func (m *Manager) Assign(ctx context.Context, partition string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.openSeq[partition]
	if ok {
		return storage.ChunkID(partition, seq), nil
	}
	info := storage.ChunkInfo{ID: storage.ChunkID(partition, 0), Partition: partition, Seq: 0}
	if err := m.registerLocked(ctx, info); err != nil {
		return "", err
	}
	return info.ID, nil
}

// Advance moves the partition of a full chunk to a fresh chunk. Concurrent
// callers that saw the same full chunk advance only once.
func (m *Manager) Advance(ctx context.Context, fullID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.known[fullID]
	if !ok {
		return "", fmt.Errorf("chunk %s: %w", fullID, models.ErrNotFound)
	}
	if seq := m.openSeq[info.Partition]; seq > info.Seq {
		return storage.ChunkID(info.Partition, seq), nil
	}
	next := storage.ChunkInfo{ID: storage.ChunkID(info.Partition, info.Seq+1), Partition: info.Partition, Seq: info.Seq + 1}
	if err := m.registerLocked(ctx, next); err != nil {
		return "", err
	}
	m.logger.Debug("manager opened chunk", zap.String("chunk_id", next.ID))
	return next.ID, nil
}

func (m *Manager) registerLocked(ctx context.Context, info storage.ChunkInfo) error {
	if m.cfg.MaxChunks > 0 && len(m.known) >= m.cfg.MaxChunks {
		return fmt.Errorf("store holds %d chunks: %w", len(m.known), models.ErrCapacityExceeded)
	}
	if err := m.catalog.RegisterChunk(ctx, info); err != nil {
		return err
	}
	m.addKnown(info)
	return nil
}

// Acquire returns a resident chunk, loading it if needed and evicting the
// least recently used chunks to stay within MaxActiveChunks.
func (m *Manager) Acquire(ctx context.Context, id string) (*chunk.Chunk, error) {
	for {
		m.mu.Lock()
		if el, ok := m.active[id]; ok {
			m.lru.MoveToBack(el)
			m.mu.Unlock()
			metrics.ChunkLoadsTotal.WithLabelValues("hit").Inc()
			return el.Value.(*entry).chunk, nil
		}
		if _, ok := m.known[id]; !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("chunk %s: %w", id, models.ErrNotFound)
		}
		gen := m.gen[id]
		m.mu.Unlock()

		// The shared load must not inherit one caller's cancellation; each
		// caller stops waiting on its own context instead.
		loaded := m.loads.DoChan(id, func() (interface{}, error) {
			return m.load(context.WithoutCancel(ctx), id)
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-loaded:
		}
		if res.Err != nil {
			metrics.ChunkLoadsTotal.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		c := res.Val.(*chunk.Chunk)

		m.mu.Lock()
		if el, ok := m.active[id]; ok {
			m.lru.MoveToBack(el)
			m.mu.Unlock()
			return el.Value.(*entry).chunk, nil
		}
		if m.gen[id] != gen {
			// Evicted while loading; the bytes read may predate its last persist.
			m.mu.Unlock()
			continue
		}
		if err := m.makeRoomLocked(ctx, 1); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.active[id] = m.lru.PushBack(&entry{id: id, chunk: c})
		metrics.ActiveChunks.Set(float64(len(m.active)))
		m.mu.Unlock()
		return c, nil
	}
}

// load reads and decodes a chunk outside the manager lock.
func (m *Manager) load(ctx context.Context, id string) (*chunk.Chunk, error) {
	start := time.Now()
	data, err := m.store.Read(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		metrics.ChunkLoadsTotal.WithLabelValues("created").Inc()
		c, err := chunk.New(id, m.cfg.Chunk)
		if err != nil {
			return nil, err
		}
		return c, m.runHook(ctx, c)
	}
	if err != nil {
		return nil, err
	}

	c, err := chunk.Decode(id, data, m.cfg.Chunk)
	metrics.ChunkLoadDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, models.ErrChunkCorrupted) {
		metrics.ChunkLoadsTotal.WithLabelValues("corrupted").Inc()
		if m.cfg.CorruptionPolicy != CorruptionRebuildEmpty {
			m.logger.Error("manager chunk corrupted", zap.String("chunk_id", id), zap.Error(err))
			return nil, err
		}
		m.logger.Error("manager chunk corrupted, records lost, rebuilding empty",
			zap.String("chunk_id", id), zap.Error(err))
		c, err = chunk.New(id, m.cfg.Chunk)
		if err != nil {
			return nil, err
		}
		c.MarkDirty()
		return c, m.runHook(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	metrics.ChunkLoadsTotal.WithLabelValues("loaded").Inc()
	m.logger.Debug("manager loaded chunk", zap.String("chunk_id", id), zap.Int("records", c.Len()))
	return c, m.runHook(ctx, c)
}

func (m *Manager) runHook(ctx context.Context, c *chunk.Chunk) error {
	m.mu.Lock()
	hook := m.loadHook
	m.mu.Unlock()
	if hook == nil {
		return nil
	}
	if err := hook(ctx, c); err != nil {
		return fmt.Errorf("load hook for chunk %s: %w", c.ID(), err)
	}
	return nil
}

// makeRoomLocked evicts until incoming more chunks fit in the budget.
func (m *Manager) makeRoomLocked(ctx context.Context, incoming int) error {
	for len(m.active)+incoming > m.cfg.MaxActiveChunks {
		if err := m.evictLocked(ctx, m.lru.Front()); err != nil {
			return err
		}
	}
	return nil
}

// evictLocked persists a dirty chunk and drops it from the working set. The
// chunk's write lock is held across persist and removal, so no writer can
// slip a change in between.
func (m *Manager) evictLocked(ctx context.Context, el *list.Element) error {
	e := el.Value.(*entry)
	c := e.chunk
	c.Lock()
	result := "clean"
	if c.Dirty() {
		if err := m.persist(context.WithoutCancel(ctx), c); err != nil {
			if m.cfg.EvictionMode != EvictionBestEffort {
				c.Unlock()
				metrics.ChunkEvictionsTotal.WithLabelValues("failed").Inc()
				m.logger.Error("manager eviction persist failed, chunk kept resident",
					zap.String("chunk_id", e.id), zap.Error(err))
				return fmt.Errorf("evict chunk %s: %w", e.id, err)
			}
			result = "dropped"
			m.logger.Error("manager eviction persist failed, unsaved records lost",
				zap.String("chunk_id", e.id), zap.Error(err))
		} else {
			result = "persisted"
		}
	}
	c.MarkEvicted()
	c.Unlock()

	m.lru.Remove(el)
	delete(m.active, e.id)
	m.gen[e.id]++
	metrics.ChunkEvictionsTotal.WithLabelValues(result).Inc()
	metrics.ActiveChunks.Set(float64(len(m.active)))
	m.logger.Debug("manager evicted chunk", zap.String("chunk_id", e.id), zap.String("result", result))
	return nil
}

// persist writes c to the store. Caller holds the chunk's write lock.
func (m *Manager) persist(ctx context.Context, c *chunk.Chunk) error {
	data, err := chunk.Encode(c)
	if err != nil {
		return fmt.Errorf("encode chunk %s: %w", c.ID(), err)
	}
	if err := m.store.Write(ctx, c.ID(), data); err != nil {
		return err
	}
	c.MarkClean()
	return nil
}

// Touch marks a resident chunk as most recently used.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	if el, ok := m.active[id]; ok {
		m.lru.MoveToBack(el)
	}
	m.mu.Unlock()
}

// EnforceBudget evicts until the working set is within MaxActiveChunks.
func (m *Manager) EnforceBudget(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.makeRoomLocked(ctx, 0)
}

// Update runs fn with the chunk's write lock held and the chunk resident.
func (m *Manager) Update(ctx context.Context, id string, fn func(*chunk.Chunk) error) error {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		c, err := m.Acquire(ctx, id)
		if err != nil {
			return err
		}
		c.Lock()
		if c.Evicted() {
			c.Unlock()
			continue
		}
		err = fn(c)
		c.Unlock()
		return err
	}
	return fmt.Errorf("chunk %s evicted %d times during update", id, maxUpdateRetries)
}

// View runs fn with the chunk's read lock held. The chunk may be evicted
// while fn runs; its contents stay consistent.
func (m *Manager) View(ctx context.Context, id string, fn func(*chunk.Chunk) error) error {
	c, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}
	c.RLock()
	defer c.RUnlock()
	return fn(c)
}

// Flush persists every dirty resident chunk.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	chunks := make([]*chunk.Chunk, 0, len(m.active))
	for el := m.lru.Front(); el != nil; el = el.Next() {
		chunks = append(chunks, el.Value.(*entry).chunk)
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range chunks {
		c.Lock()
		if c.Dirty() && !c.Evicted() {
			if err := m.persist(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
		c.Unlock()
	}
	return errors.Join(errs...)
}

// Close flushes all dirty chunks.
func (m *Manager) Close(ctx context.Context) error {
	return m.Flush(ctx)
}

// Active returns resident chunk ids from least to most recently used.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for el := m.lru.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*entry).id)
	}
	return ids
}

// Known returns all chunk ids in lexical order.
func (m *Manager) Known() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.known))
	for id := range m.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaxActive returns the residency budget.
func (m *Manager) MaxActive() int { return m.cfg.MaxActiveChunks }
