package vector

import (
	"context"
	"math/rand"
	"testing"
)

func benchVectors(n, dim int) [][]float32 {
	rng := rand.New(rand.NewSource(1))
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = make([]float32, dim)
		for j := range vecs[i] {
			vecs[i][j] = rng.Float32()*2 - 1
		}
	}
	return vecs
}

func benchIndex(b *testing.B, indexType IndexType, n int) (Index, []float32) {
	b.Helper()
	idx, err := NewIndex(indexType, Config{Dim: 384, Metric: MetricCosine, M: 16, EfConstruction: 100})
	if err != nil {
		b.Fatal(err)
	}
	vecs := benchVectors(n+1, 384)
	for _, v := range vecs[:n] {
		if _, err := idx.Insert(v); err != nil {
			b.Fatal(err)
		}
	}
	return idx, vecs[n]
}

func BenchmarkFlatSearch(b *testing.B) {
	idx, query := benchIndex(b, IndexTypeFlat, 1000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 10, 0)
	}
}

func BenchmarkHNSWSearch(b *testing.B) {
	idx, query := benchIndex(b, IndexTypeHNSW, 1000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 10, 64)
	}
}

func BenchmarkHNSWInsert(b *testing.B) {
	vecs := benchVectors(b.N, 128)
	idx, err := NewHNSW(Config{Dim: 128, Metric: MetricL2, M: 16, EfConstruction: 100})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Insert(vecs[i])
	}
}
