package utils

import (
	"math"
	"testing"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if !approx(x[0], 0.6) || !approx(x[1], 0.8) {
		t.Errorf("NormalizeL2 = %v, want [0.6 0.8]", x)
	}

	zero := []float32{0, 0, 0}
	NormalizeL2(zero)
	for _, v := range zero {
		if v != 0 {
			t.Fatalf("zero vector changed: %v", zero)
		}
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name    string
		vectors [][]float32
		weights []float32
		want    []float32
		wantErr bool
	}{
		{"equal weights", [][]float32{{1, 0}, {0, 1}}, nil, []float32{0.70710677, 0.70710677}, false},
		{"weighted", [][]float32{{1, 0}, {0, 1}}, []float32{3, 4}, []float32{0.6, 0.8}, false},
		{"single", [][]float32{{2, 0, 0}}, nil, []float32{1, 0, 0}, false},
		{"empty", nil, nil, nil, true},
		{"weight count", [][]float32{{1, 0}}, []float32{1, 2}, nil, true},
		{"dimension mismatch", [][]float32{{1, 0}, {1}}, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Combine(tt.vectors, tt.weights)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Combine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Combine() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if !approx(got[i], tt.want[i]) {
					t.Errorf("Combine() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
