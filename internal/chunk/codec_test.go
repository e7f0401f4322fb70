package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/vector"
)

func topIDs(t *testing.T, c *Chunk, q []float32, k int) []string {
	t.Helper()
	hits, err := c.Search(context.Background(), q, k, 32)
	require.NoError(t, err)
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Record.ID
	}
	return ids
}

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		persistGraph bool
		indexType    vector.IndexType
	}{
		{"hnsw with graph", true, vector.IndexTypeHNSW},
		{"hnsw rebuilt on load", false, vector.IndexTypeHNSW},
		{"flat", true, vector.IndexTypeFlat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(8, 200)
			opts.PersistGraph = tt.persistGraph
			opts.IndexType = tt.indexType
			c, err := New("abc-000001", opts)
			require.NoError(t, err)
			fill(t, c, randomRecords(100, 8, 2))

			data, err := Encode(c)
			require.NoError(t, err)
			loaded, err := Decode("abc-000001", data, opts)
			require.NoError(t, err)

			assert.Equal(t, c.Len(), loaded.Len())
			assert.False(t, loaded.Dirty())
			for _, r := range c.Records() {
				got, ok := loaded.Get(r.ID)
				require.True(t, ok, r.ID)
				assert.Equal(t, r.ContentHash, got.ContentHash)
				assert.Equal(t, r.Metadata, got.Metadata)
				assert.Equal(t, r.Vector, got.Vector)
			}
			for _, q := range randomRecords(10, 8, 3) {
				assert.Equal(t, topIDs(t, c, q.Vector, 10), topIDs(t, loaded, q.Vector, 10))
			}
		})
	}
}

func TestCodec_RoundTripWithTombstones(t *testing.T) {
	opts := testOptions(8, 200)
	c, err := New("abc-000002", opts)
	require.NoError(t, err)
	recs := randomRecords(60, 8, 4)
	fill(t, c, recs)
	require.NoError(t, c.Delete(recs[5].ID))
	require.NoError(t, c.Delete(recs[30].ID))

	data, err := Encode(c)
	require.NoError(t, err)
	loaded, err := Decode("abc-000002", data, opts)
	require.NoError(t, err)

	assert.Equal(t, 58, loaded.Len())
	assert.Equal(t, 2, loaded.Tombstones())
	_, ok := loaded.Get(recs[5].ID)
	assert.False(t, ok)
	for _, q := range randomRecords(5, 8, 5) {
		assert.Equal(t, topIDs(t, c, q.Vector, 10), topIDs(t, loaded, q.Vector, 10))
	}
}

func TestCodec_Corruption(t *testing.T) {
	opts := testOptions(4, 10)
	c, err := New("x-000000", opts)
	require.NoError(t, err)
	fill(t, c, []*models.Record{record("a", []float32{1, 0, 0, 0}, map[string]string{"k": "v"})})
	data, err := Encode(c)
	require.NoError(t, err)

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)/2] ^= 0xff
		_, err := Decode("x-000000", bad, opts)
		assert.ErrorIs(t, err, models.ErrChunkCorrupted)
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := Decode("x-000000", data[:10], opts)
		assert.ErrorIs(t, err, models.ErrChunkCorrupted)
	})
	t.Run("dimension change", func(t *testing.T) {
		other := testOptions(8, 10)
		_, err := Decode("x-000000", data, other)
		assert.ErrorIs(t, err, models.ErrChunkCorrupted)
	})
}

func TestCodec_IndexTypeChangeRebuilds(t *testing.T) {
	opts := testOptions(4, 10)
	c, err := New("x-000000", opts)
	require.NoError(t, err)
	fill(t, c, []*models.Record{
		record("A", []float32{1, 0, 0, 0}, nil),
		record("B", []float32{0, 1, 0, 0}, nil),
	})
	data, err := Encode(c)
	require.NoError(t, err)

	flat := opts
	flat.IndexType = vector.IndexTypeFlat
	loaded, err := Decode("x-000000", data, flat)
	require.NoError(t, err)
	assert.Equal(t, vector.IndexTypeFlat, loaded.IndexType())
	assert.True(t, loaded.Dirty())
	assert.Equal(t, []string{"A"}, topIDs(t, loaded, []float32{1, 0, 0, 0}, 1))
}

func TestCodec_GraphParamChangeRebuilds(t *testing.T) {
	opts := testOptions(8, 200)
	c, err := New("x-000000", opts)
	require.NoError(t, err)
	fill(t, c, randomRecords(50, 8, 6))
	data, err := Encode(c)
	require.NoError(t, err)

	tests := []struct {
		name   string
		change func(*Options)
	}{
		{"m", func(o *Options) { o.Index.M = 12 }},
		{"ef_construction", func(o *Options) { o.Index.EfConstruction = 128 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := opts
			tt.change(&changed)
			loaded, err := Decode("x-000000", data, changed)
			require.NoError(t, err)
			assert.True(t, loaded.Dirty(), "rebuilt chunk must be persisted again")
			assert.Equal(t, c.Len(), loaded.Len())
			for _, r := range c.Records()[:5] {
				assert.Equal(t, []string{r.ID}, topIDs(t, loaded, r.Vector, 1))
			}
		})
	}

	same, err := Decode("x-000000", data, opts)
	require.NoError(t, err)
	assert.False(t, same.Dirty())
}
