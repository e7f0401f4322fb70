package search

import (
	"fmt"
	"testing"

	"github.com/hyperjump/vecpager/internal/models"
)

func BenchmarkMergeTop(b *testing.B) {
	batch := func(offset int) []*models.SearchResult {
		out := make([]*models.SearchResult, 50)
		for i := range out {
			out[i] = &models.SearchResult{
				Record: &models.Record{ID: fmt.Sprintf("r%d", offset+i)},
				Score:  float64((offset+i*7)%100) / 100,
			}
		}
		return out
	}
	buffer, incoming := batch(0), batch(50)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := append([]*models.SearchResult(nil), buffer...)
		_ = mergeTop(buf, incoming, 10)
	}
}
