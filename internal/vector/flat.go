package vector

import (
	"bufio"
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hyperjump/vecpager/internal/models"
)

var flatMagic = [4]byte{'F', 'L', 'A', 'T'}

// Flat is a brute-force index. It scans every live vector on each search and
// is exact, which makes it the reference for graph recall in tests.
type Flat struct {
	cfg     Config
	vectors [][]float32
	deleted []bool
	live    int
}

var _ Index = (*Flat)(nil)

// NewFlat creates an empty brute-force index.
func NewFlat(cfg Config) (*Flat, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	return &Flat{cfg: cfg}, nil
}

// Type returns IndexTypeFlat.
func (f *Flat) Type() IndexType { return IndexTypeFlat }

// Config returns the construction parameters.
func (f *Flat) Config() Config { return f.cfg }

// Len returns the number of live vectors.
func (f *Flat) Len() int { return f.live }

// Slots returns the number of allocated handles.
func (f *Flat) Slots() int { return len(f.vectors) }

// Tombstones returns the number of deleted handles.
func (f *Flat) Tombstones() int { return len(f.vectors) - f.live }

// Vector returns the vector of a live handle.
func (f *Flat) Vector(h Handle) ([]float32, bool) {
	if int(h) >= len(f.vectors) || f.deleted[h] {
		return nil, false
	}
	return f.vectors[h], true
}

// Insert appends vec.
func (f *Flat) Insert(vec []float32) (Handle, error) {
	if len(vec) != f.cfg.Dim {
		return 0, fmt.Errorf("insert: got %d, want %d: %w", len(vec), f.cfg.Dim, models.ErrDimensionMismatch)
	}
	if err := models.CheckFinite(vec); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	if f.cfg.MaxElements > 0 && len(f.vectors) >= f.cfg.MaxElements {
		return 0, fmt.Errorf("insert: %d slots in use: %w", len(f.vectors), models.ErrCapacityExceeded)
	}
	v := make([]float32, len(vec))
	copy(v, vec)
	f.vectors = append(f.vectors, v)
	f.deleted = append(f.deleted, false)
	f.live++
	return Handle(len(f.vectors) - 1), nil
}

// Delete tombstones h.
func (f *Flat) Delete(h Handle) error {
	if int(h) >= len(f.vectors) || f.deleted[h] {
		return fmt.Errorf("delete handle %d: %w", h, models.ErrNotFound)
	}
	f.deleted[h] = true
	f.live--
	return nil
}

// Search scans all live vectors. ef is ignored.
func (f *Flat) Search(ctx context.Context, query []float32, k, ef int) ([]Hit, error) {
	if len(query) != f.cfg.Dim {
		return nil, fmt.Errorf("search: got %d, want %d: %w", len(query), f.cfg.Dim, models.ErrDimensionMismatch)
	}
	if k <= 0 || f.live == 0 {
		return nil, nil
	}
	var top maxDistHeap
	var err error
	for i, v := range f.vectors {
		if i%256 == 0 {
			if err = ctx.Err(); err != nil {
				break
			}
		}
		if f.deleted[i] {
			continue
		}
		it := distItem{Handle(i), f.cfg.Metric.Distance(query, v)}
		if top.Len() < k {
			heap.Push(&top, it)
		} else if closer(it, top[0]) {
			top[0] = it
			heap.Fix(&top, 0)
		}
	}
	hits := make([]Hit, len(top))
	for i, it := range top {
		hits[i] = Hit{Handle: it.h, Distance: it.dist}
	}
	sortHits(hits)
	return hits, err
}

// WriteGraph writes the slot count and tombstone vectors.
func (f *Flat) WriteGraph(w io.Writer) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian
	if _, err := bw.Write(flatMagic[:]); err != nil {
		return fmt.Errorf("write flat magic: %w", err)
	}
	if err := binary.Write(bw, le, uint32(len(f.vectors))); err != nil {
		return err
	}
	for i, d := range f.deleted {
		if !d {
			if err := binary.Write(bw, le, uint8(0)); err != nil {
				return err
			}
			continue
		}
		if err := binary.Write(bw, le, uint8(1)); err != nil {
			return err
		}
		if err := binary.Write(bw, le, f.vectors[i]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadGraph restores the slot layout written by WriteGraph.
func (f *Flat) ReadGraph(r io.Reader, vectors [][]float32) error {
	br := bufio.NewReader(r)
	le := binary.LittleEndian
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return fmt.Errorf("read flat magic: %w", err)
	}
	if magic != flatMagic {
		return fmt.Errorf("invalid flat magic %q", magic[:])
	}
	var slots uint32
	if err := binary.Read(br, le, &slots); err != nil {
		return err
	}
	if int(slots) != len(vectors) {
		return fmt.Errorf("flat index has %d slots, record table has %d", slots, len(vectors))
	}
	vecs := make([][]float32, slots)
	deleted := make([]bool, slots)
	live := 0
	for i := range vecs {
		var d uint8
		if err := binary.Read(br, le, &d); err != nil {
			return fmt.Errorf("read slot %d: %w", i, err)
		}
		if d == 1 {
			v := make([]float32, f.cfg.Dim)
			if err := binary.Read(br, le, v); err != nil {
				return fmt.Errorf("read tombstone %d: %w", i, err)
			}
			vecs[i], deleted[i] = v, true
			continue
		}
		if len(vectors[i]) != f.cfg.Dim {
			return fmt.Errorf("slot %d: %d dims, want %d", i, len(vectors[i]), f.cfg.Dim)
		}
		vecs[i] = vectors[i]
		live++
	}
	f.vectors, f.deleted, f.live = vecs, deleted, live
	return nil
}
