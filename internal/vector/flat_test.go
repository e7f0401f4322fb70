package vector

import (
	"bytes"
	"context"
	"testing"
)

func TestFlat_InsertSearch(t *testing.T) {
	idx, err := NewFlat(Config{Dim: 3, Metric: MetricCosine})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, v := range [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}} {
		if _, err := idx.Insert(v); err != nil {
			t.Fatal(err)
		}
	}
	if idx.Len() != 3 {
		t.Errorf("Len=%d", idx.Len())
	}

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Handle != 0 || hits[1].Handle != 1 {
		t.Errorf("got %d,%d want 0,1", hits[0].Handle, hits[1].Handle)
	}
}

func TestFlat_DeleteAndRoundTrip(t *testing.T) {
	idx, _ := NewFlat(Config{Dim: 2, Metric: MetricL2})
	_, _ = idx.Insert([]float32{1, 0})
	_, _ = idx.Insert([]float32{0, 1})
	if err := idx.Delete(0); err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 1 {
		t.Errorf("expected 1 live vector, got %d", idx.Len())
	}

	var buf bytes.Buffer
	if err := idx.WriteGraph(&buf); err != nil {
		t.Fatal(err)
	}
	restored, _ := NewFlat(Config{Dim: 2, Metric: MetricL2})
	if err := restored.ReadGraph(&buf, [][]float32{nil, {0, 1}}); err != nil {
		t.Fatal(err)
	}
	if restored.Len() != 1 || restored.Tombstones() != 1 {
		t.Errorf("Len=%d Tombstones=%d", restored.Len(), restored.Tombstones())
	}
	hits, _ := restored.Search(context.Background(), []float32{1, 0}, 5, 0)
	if len(hits) != 1 || hits[0].Handle != 1 {
		t.Errorf("hits=%+v", hits)
	}
}
