package search

import (
	"sort"

	"github.com/hyperjump/vecpager/internal/chunk"
	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/vector"
)

// scorer turns chunk candidates into ranked results for one query.
type scorer struct {
	metric         vector.Metric
	filters        *models.SearchFilters
	minScore       *float64
	includeVectors bool
}

func newScorer(metric vector.Metric, q *models.SearchQuery) *scorer {
	return &scorer{
		metric:         metric,
		filters:        &q.Filters,
		minScore:       q.MinScore,
		includeVectors: q.IncludeVectors,
	}
}

// score applies the metadata predicates, boosts and the score threshold.
// It returns the results that pass and how many candidates the predicates rejected.
func (s *scorer) score(cands []chunk.Candidate) ([]*models.SearchResult, int) {
	out := make([]*models.SearchResult, 0, len(cands))
	filtered := 0
	for _, c := range cands {
		if !s.filters.Matches(c.Record.Metadata) {
			filtered++
			continue
		}
		sim := s.metric.Similarity(c.Distance)
		score := sim * s.filters.Boost(c.Record.Metadata)
		// NaN scores fail the threshold.
		if s.minScore != nil && !(score >= *s.minScore) {
			continue
		}
		rec := c.Record
		if !s.includeVectors {
			stripped := *rec
			stripped.Vector = nil
			rec = &stripped
		}
		out = append(out, &models.SearchResult{
			Record:     rec,
			Score:      score,
			Similarity: sim,
			ChunkID:    c.ChunkID,
		})
	}
	return out, filtered
}

// sortResults orders by score descending, ties by record id ascending.
func sortResults(results []*models.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
}

// mergeTop merges incoming into buffer and keeps the best max results.
func mergeTop(buffer, incoming []*models.SearchResult, max int) []*models.SearchResult {
	merged := append(buffer, incoming...)
	sortResults(merged)
	if len(merged) > max {
		for i := max; i < len(merged); i++ {
			merged[i] = nil
		}
		merged = merged[:max]
	}
	return merged
}

// ranked returns a copy of results with 1-based ranks assigned.
func ranked(results []*models.SearchResult) []*models.SearchResult {
	out := make([]*models.SearchResult, len(results))
	for i, r := range results {
		cp := *r
		cp.Rank = i + 1
		out[i] = &cp
	}
	return out
}
