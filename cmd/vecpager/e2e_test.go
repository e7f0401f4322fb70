package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/models"
)

type corpusDoc struct {
	ID      string
	Content string
}

// buildCorpus returns n documents, each with a unique signature phrase.
func buildCorpus(n int) []corpusDoc {
	topics := []string{
		"distributed consensus with raft leaders",
		"columnar storage for analytics",
		"approximate nearest neighbor graphs",
		"write ahead logs and crash recovery",
		"bloom filters in key value stores",
		"tokenizers for multilingual text",
	}
	docs := make([]corpusDoc, n)
	for i := range docs {
		docs[i] = corpusDoc{
			ID:      fmt.Sprintf("doc-%03d", i),
			Content: fmt.Sprintf("%s, signature %d-%x", topics[i%len(topics)], i, i*7919),
		}
	}
	return docs
}

func writeSpoolFile(t *testing.T, path string, docs []corpusDoc) {
	t.Helper()
	f, err := os.Create(path + ".tmp")
	require.NoError(t, err)
	enc := json.NewEncoder(f)
	for _, d := range docs {
		require.NoError(t, enc.Encode(models.RecordInput{
			Content:  d.Content,
			Metadata: map[string]interface{}{"doc": d.ID},
		}))
	}
	require.NoError(t, f.Close())
	// Rename so the watcher sees one complete file.
	require.NoError(t, os.Rename(path+".tmp", path))
}

func waitForRecords(t *testing.T, c *Components, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var got int64
	for time.Now().Before(deadline) {
		stats, err := c.Indexer.Stats(context.Background())
		require.NoError(t, err)
		if got = stats.Records; got == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("records = %d, want %d", got, want)
}

func TestE2E_SpoolIngestAndSearch(t *testing.T) {
	cfg, _, err := loadConfig(writeTestConfig(t))
	require.NoError(t, err)
	cfg.Engine.ChunkCapacity = 8
	cfg.Engine.MaxActiveChunks = 2
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = components.Close(ctx) })

	spoolDir := t.TempDir()
	spool := newSpool([]string{spoolDir}, []string{".jsonl"}, true, 50*time.Millisecond, components.Indexer, zap.NewNop())
	require.NoError(t, spool.Start(ctx))
	t.Cleanup(spool.Stop)

	docs := buildCorpus(60)
	path := filepath.Join(spoolDir, "corpus.jsonl")
	writeSpoolFile(t, path, docs)
	waitForRecords(t, components, int64(len(docs)))
	assert.GreaterOrEqual(t, len(components.Manager.Known()), len(docs)/8)

	b := &directBackend{c: components}
	for i := 0; i < len(docs); i += 7 {
		d := docs[i]
		resp, err := b.Search(ctx, &models.SearchQuery{Content: d.Content, MaxResults: 3})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Results, "query for %s", d.ID)
		assert.Equal(t, d.ID, resp.Results[0].Record.Metadata["doc"], "self retrieval for %s", d.ID)
		assert.Equal(t, resp.ChunksTotal, resp.ChunksSearched)
	}

	// Rewriting the file with the same lines adds nothing.
	writeSpoolFile(t, path, docs)
	time.Sleep(200 * time.Millisecond)
	waitForRecords(t, components, int64(len(docs)))

	require.NoError(t, os.Remove(path))
	waitForRecords(t, components, 0)
}
