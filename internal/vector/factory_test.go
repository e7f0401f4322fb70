package vector

import (
	"testing"
)

func TestNewIndex_Types(t *testing.T) {
	cfg := Config{Dim: 3, Metric: MetricCosine, M: 4, EfConstruction: 16}
	for _, typ := range []IndexType{IndexTypeHNSW, IndexTypeFlat} {
		t.Run(string(typ), func(t *testing.T) {
			idx, err := NewIndex(typ, cfg)
			if err != nil {
				t.Fatalf("NewIndex(%s): %v", typ, err)
			}
			if idx.Type() != typ {
				t.Errorf("Type()=%s, want %s", idx.Type(), typ)
			}
			if idx.Len() != 0 {
				t.Errorf("Len()=%d, want 0", idx.Len())
			}
			got, err := IndexTypeFromCode(typ.Code())
			if err != nil || got != typ {
				t.Errorf("code round trip: %s, %v", got, err)
			}
		})
	}
}

func TestNewIndex_Unknown(t *testing.T) {
	_, err := NewIndex("faiss", Config{Dim: 3})
	if err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNewHNSW_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero dim", Config{Dim: 0, M: 4, EfConstruction: 8}},
		{"m too small", Config{Dim: 2, M: 1, EfConstruction: 8}},
		{"zero ef", Config{Dim: 2, M: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHNSW(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
