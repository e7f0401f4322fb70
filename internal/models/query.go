package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MaxResultsLimit caps the number of results a single query may request.
const MaxResultsLimit = 1000

// SearchFilters restricts and re-weights candidates by their metadata.
type SearchFilters struct {
	// Equals requires metadata[key] == value for every entry.
	Equals map[string]string `json:"equals,omitempty"`
	// Contains requires metadata[key] to contain value as a substring for every entry.
	Contains map[string]string `json:"contains,omitempty"`
	// Boosts multiplies the score by factor for every key present in the metadata.
	Boosts map[string]float64 `json:"boosts,omitempty"`
}

// Matches reports whether metadata satisfies every equality and containment predicate.
// A missing key fails its predicate.
func (f *SearchFilters) Matches(metadata map[string]string) bool {
	if f == nil {
		return true
	}
	for k, want := range f.Equals {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	for k, sub := range f.Contains {
		got, ok := metadata[k]
		if !ok || !strings.Contains(got, sub) {
			return false
		}
	}
	return true
}

// Boost returns the product of boost factors whose key is present in
// metadata. Factors are multiplied in key order so equal inputs always give
// the same product.
func (f *SearchFilters) Boost(metadata map[string]string) float64 {
	factor := 1.0
	if f == nil || len(f.Boosts) == 0 {
		return factor
	}
	keys := make([]string, 0, len(f.Boosts))
	for k := range f.Boosts {
		if _, ok := metadata[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		factor *= f.Boosts[k]
	}
	return factor
}

// IsEmpty reports whether the filters neither restrict nor re-weight.
func (f *SearchFilters) IsEmpty() bool {
	return f == nil || (len(f.Equals) == 0 && len(f.Contains) == 0 && len(f.Boosts) == 0)
}

// SearchQuery is a hybrid vector + metadata search request.
type SearchQuery struct {
	Vector     []float32     `json:"vector,omitempty"`
	Content    string        `json:"content,omitempty"` // embedded by the server when Vector is empty
	MaxResults int           `json:"max_results,omitempty"`
	MinScore   *float64      `json:"min_score,omitempty"` // nil disables the threshold
	Filters    SearchFilters `json:"filters,omitempty"`
	EfSearch   int           `json:"ef_search,omitempty"`  // 0 uses the configured default
	TimeoutMs  int64         `json:"timeout_ms,omitempty"` // 0 means no deadline beyond the caller's context
	// ChunksPerBatch applies to streams only; 0 uses the configured default.
	ChunksPerBatch int `json:"chunks_per_batch,omitempty"`
	// IncludeVectors returns each record's vector with the result.
	IncludeVectors bool `json:"include_vectors,omitempty"`
}

// Validate ensures the query carries a vector (or content to embed) and normalizes the result limit.
func (q *SearchQuery) Validate() error {
	if len(q.Vector) == 0 && q.Content == "" {
		return fmt.Errorf("query needs a vector or content: %w", ErrInvalidInput)
	}
	if err := CheckFinite(q.Vector); err != nil {
		return fmt.Errorf("query vector: %w", err)
	}
	if q.MinScore != nil && math.IsNaN(*q.MinScore) {
		return fmt.Errorf("min_score is NaN: %w", ErrInvalidInput)
	}
	for k, b := range q.Filters.Boosts {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("boost %q is not finite: %w", k, ErrInvalidInput)
		}
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 10
	}
	if q.MaxResults > MaxResultsLimit {
		q.MaxResults = MaxResultsLimit
	}
	if q.EfSearch < 0 {
		q.EfSearch = 0
	}
	return nil
}

// Threshold returns a MinScore value for a query.
func Threshold(v float64) *float64 { return &v }

// CheckFinite rejects NaN and infinite vector components.
func CheckFinite(vec []float32) error {
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("component %d is %v: %w", i, v, ErrInvalidInput)
		}
	}
	return nil
}
