package utils

import (
	"fmt"

	"github.com/viterin/vek/vek32"
)

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	norm := vek32.Norm(x)
	if norm == 0 {
		return
	}
	vek32.MulNumber_Inplace(x, 1/norm)
}

// Combine returns the weighted sum of vectors, normalized to unit length.
// A nil weights slice weighs every vector equally.
func Combine(vectors [][]float32, weights []float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to combine")
	}
	if weights != nil && len(weights) != len(vectors) {
		return nil, fmt.Errorf("got %d weights for %d vectors", len(weights), len(vectors))
	}
	dim := len(vectors[0])
	out := make([]float32, dim)
	scaled := make([]float32, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), dim)
		}
		w := 1 / float32(len(vectors))
		if weights != nil {
			w = weights[i]
		}
		copy(scaled, v)
		vek32.MulNumber_Inplace(scaled, w)
		vek32.Add_Inplace(out, scaled)
	}
	NormalizeL2(out)
	return out, nil
}
