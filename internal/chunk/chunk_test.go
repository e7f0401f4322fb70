package chunk

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/vector"
)

func testOptions(dim, capacity int) Options {
	return Options{
		IndexType:    vector.IndexTypeHNSW,
		Index:        vector.Config{Dim: dim, Metric: vector.MetricCosine, M: 8, EfConstruction: 64},
		Capacity:     capacity,
		PersistGraph: true,
	}
}

func record(id string, vec []float32, meta map[string]string) *models.Record {
	return &models.Record{ID: id, ContentHash: "h-" + id, Vector: vec, Metadata: meta}
}

func randomRecords(n, dim int, seed int64) []*models.Record {
	r := rand.New(rand.NewSource(seed))
	out := make([]*models.Record, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()*2 - 1
		}
		out[i] = record(fmt.Sprintf("r%03d", i), v, map[string]string{"n": fmt.Sprint(i)})
	}
	return out
}

func fill(t *testing.T, c *Chunk, recs []*models.Record) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, c.Insert(r))
	}
}

func TestChunk_InsertGetDelete(t *testing.T) {
	c, err := New("default-000000", testOptions(4, 10))
	require.NoError(t, err)

	a := record("a", []float32{1, 0, 0, 0}, nil)
	require.NoError(t, c.Insert(a))
	assert.True(t, c.Dirty())
	assert.Equal(t, 1, c.Len())

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, a, got)

	require.NoError(t, c.Delete("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Tombstones())
	assert.ErrorIs(t, c.Delete("a"), models.ErrNotFound)
}

func TestChunk_Full(t *testing.T) {
	c, err := New("p-000000", testOptions(2, 2))
	require.NoError(t, err)
	fill(t, c, []*models.Record{record("a", []float32{1, 0}, nil), record("b", []float32{0, 1}, nil)})
	assert.True(t, c.Full())
	assert.ErrorIs(t, c.Insert(record("c", []float32{1, 1}, nil)), models.ErrChunkFull)

	// Deleting frees capacity.
	require.NoError(t, c.Delete("a"))
	assert.NoError(t, c.Insert(record("c", []float32{1, 1}, nil)))
}

func TestChunk_DimensionMismatch(t *testing.T) {
	c, err := New("p-000000", testOptions(4, 10))
	require.NoError(t, err)
	err = c.Insert(record("a", []float32{1, 0}, nil))
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	assert.Equal(t, 0, c.Len())
}

func TestChunk_Search(t *testing.T) {
	c, err := New("p-000000", testOptions(4, 10))
	require.NoError(t, err)
	fill(t, c, []*models.Record{
		record("A", []float32{1, 0, 0, 0}, nil),
		record("B", []float32{0, 1, 0, 0}, nil),
		record("C", []float32{0.9, 0.1, 0, 0}, nil),
	})
	got, err := c.Search(context.Background(), []float32{1, 0, 0, 0}, 2, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Record.ID)
	assert.Equal(t, "C", got[1].Record.ID)
	assert.Equal(t, "p-000000", got[0].ChunkID)
}

func TestChunk_Compaction(t *testing.T) {
	c, err := New("p-000000", testOptions(8, 100))
	require.NoError(t, err)
	recs := randomRecords(40, 8, 1)
	fill(t, c, recs)

	policy := CompactionPolicy{MinDeleted: 10, Ratio: 0.25}
	for i := 0; i < 9; i++ {
		require.NoError(t, c.Delete(recs[i].ID))
	}
	assert.False(t, c.NeedsCompaction(policy), "below min deleted")
	require.NoError(t, c.Delete(recs[9].ID))
	assert.True(t, c.NeedsCompaction(policy))

	purged, err := c.Compact()
	require.NoError(t, err)
	assert.Equal(t, 10, purged)
	assert.Equal(t, 0, c.Tombstones())
	assert.Equal(t, 30, c.Len())

	for _, r := range recs[10:] {
		got, ok := c.Get(r.ID)
		require.True(t, ok)
		assert.Equal(t, r.ID, got.ID)
		hits, err := c.Search(context.Background(), r.Vector, 1, 64)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, r.ID, hits[0].Record.ID)
	}
}
