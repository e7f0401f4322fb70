// Package vector provides the per-chunk approximate nearest neighbor sub-index.
package vector

import (
	"context"
	"io"
)

// Handle addresses an element inside one index. Handles are dense, start at
// zero and are never reused; a deleted handle stays allocated as a tombstone.
type Handle uint32

// Hit is a single sub-index match. Smaller Distance is closer.
type Hit struct {
	Handle   Handle
	Distance float32
}

// Index is an approximate nearest neighbor index over fixed-dimension vectors.
//
// Implementations are not safe for concurrent mutation. Callers hold a write
// lock around Insert and Delete; concurrent Search calls are safe.
type Index interface {
	// Insert indexes vec and returns its handle.
	Insert(vec []float32) (Handle, error)
	// Delete tombstones h. Tombstoned elements are never returned by Search.
	Delete(h Handle) error
	// Search returns up to k live hits ordered by ascending distance, ties by
	// ascending handle. When ctx is done before the search finishes, the hits
	// gathered so far are returned together with ctx.Err().
	Search(ctx context.Context, query []float32, k, ef int) ([]Hit, error)
	// Len returns the number of live elements.
	Len() int
	// Slots returns the number of allocated handles, live or tombstoned.
	Slots() int
	// Tombstones returns the number of deleted handles.
	Tombstones() int
	// Vector returns the stored vector for a live handle.
	Vector(h Handle) ([]float32, bool)
	Type() IndexType
	Config() Config
	// WriteGraph serializes the index structure without vectors.
	WriteGraph(w io.Writer) error
	// ReadGraph restores the structure written by WriteGraph. vectors is indexed
	// by handle; a nil entry marks a tombstone.
	ReadGraph(r io.Reader, vectors [][]float32) error
}

// Config holds the construction parameters of a sub-index.
type Config struct {
	Dim            int
	Metric         Metric
	M              int
	EfConstruction int
	// MaxElements caps the number of allocated handles. Zero means unlimited.
	MaxElements int
	// Seed derives the deterministic level assignment of graph nodes.
	Seed uint64
}
