package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/server"
)

const testConfigYAML = `
engine:
  dimension: 4
  distance_metric: cosine
  m: 8
  ef_construction: 32
  default_ef_search: 16
  chunk_capacity: 2
  max_active_chunks: 2
storage:
  chunks_path: ./chunks
  catalog_path: ./catalog.db
compaction:
  min_deleted: 1
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0600))
	return path
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"vectors"}, "vectors"},
		{"multiple words", []string{"paged", "vectors"}, "paged vectors"},
		{"quoted phrase", []string{"paged vectors"}, "paged vectors"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestQueryFlags_Build(t *testing.T) {
	q := &queryFlags{
		vector:   "1,0,0,0",
		limit:    3,
		equals:   []string{"lang=go"},
		contains: []string{"path=chunk"},
		boosts:   []string{"pinned=2"},
	}
	query, err := q.build([]string{"ignored", "text"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, query.Vector)
	assert.Empty(t, query.Content, "vector queries do not carry text")
	assert.Equal(t, 3, query.MaxResults)
	assert.Equal(t, "go", query.Filters.Equals["lang"])
	assert.Equal(t, "chunk", query.Filters.Contains["path"])
	assert.Equal(t, 2.0, query.Filters.Boosts["pinned"])

	query, err = (&queryFlags{}).build([]string{"paged", "storage"})
	require.NoError(t, err)
	assert.Equal(t, "paged storage", query.Content)

	_, err = (&queryFlags{}).build(nil)
	assert.Error(t, err)
	_, err = (&queryFlags{vector: "1", boosts: []string{"x=y"}}).build(nil)
	assert.Error(t, err)
}

func TestQueryFlags_MinScoreOnlyWhenSet(t *testing.T) {
	cmd := &cobra.Command{Use: "search"}
	q := &queryFlags{}
	q.bind(cmd)

	query, err := q.build([]string{"paged"})
	require.NoError(t, err)
	assert.Nil(t, query.MinScore)

	require.NoError(t, cmd.Flags().Set("min-score", "0"))
	query, err = q.build([]string{"paged"})
	require.NoError(t, err)
	require.NotNil(t, query.MinScore)
	assert.Equal(t, 0.0, *query.MinScore)
}

// compactIDs returns the record id column of compact search output.
func compactIDs(out string) []string {
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if fields := strings.Split(line, "\t"); len(fields) > 2 {
			ids = append(ids, fields[2])
		}
	}
	return ids
}

func TestLoadConfig_CwdFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfigYAML), 0600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, path, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), path)
	assert.Equal(t, 4, cfg.Engine.Dimension)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "vecpager version dev\n", out)
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, "--output", "xml", "version")
	assert.Error(t, err)
}

func TestDirectMode(t *testing.T) {
	cfgPath := writeTestConfig(t)
	base := []string{"--server", "", "--config", cfgPath}

	put := func(vector, hash string, meta ...string) string {
		args := append(append([]string{}, base...), "put", "--vector", vector, "--hash", hash)
		for _, m := range meta {
			args = append(args, "--meta", m)
		}
		out, err := run(t, args...)
		require.NoError(t, err)
		return strings.TrimSpace(out)
	}
	idA := put("1,0,0,0", "a", "lang=go")
	idB := put("0,1,0,0", "b", "lang=rust")
	idC := put("0.9,0.1,0,0", "c", "lang=go")
	require.NotEmpty(t, idA)
	assert.Equal(t, idA, put("1,0,0,0", "a"), "same content hash returns the stored id")

	out, err := run(t, append(base, "--output", "compact", "search", "--vector", "1,0,0,0", "--limit", "2")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], idA)
	assert.Contains(t, lines[1], idC)

	out, err = run(t, append(base, "--output", "compact", "search", "--vector", "1,0,0,0", "--eq", "lang=rust")...)
	require.NoError(t, err)
	assert.Contains(t, out, idB)
	assert.NotContains(t, out, idA)

	out, err = run(t, append(base, "--output", "compact", "search", "--vector=-1,0,0,0", "--min-score", "0")...)
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, compactIDs(out), "a zero threshold drops negative scores")

	out, err = run(t, append(base, "stream", "--vector", "1,0,0,0", "--limit", "1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "over 2 chunks")
	assert.Contains(t, out, "ID: "+idA)

	out, err = run(t, append(base, "get", idB)...)
	require.NoError(t, err)
	assert.Contains(t, out, "lang=rust")

	_, err = run(t, append(base, "delete", idB)...)
	require.NoError(t, err)
	_, err = run(t, append(base, "get", idB)...)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The delete already compacted the chunk: one tombstone of two slots passes min_deleted 1 and ratio 0.2.
	out, err = run(t, append(base, "compact")...)
	require.NoError(t, err)
	assert.Equal(t, "Purged 0 deleted records\n", out)

	out, err = run(t, append(base, "status")...)
	require.NoError(t, err)
	assert.Contains(t, out, "records:            2")
}

func TestDeleteNeedsIDOrSource(t *testing.T) {
	_, err := run(t, "--server", "", "--config", writeTestConfig(t), "delete")
	assert.Error(t, err)
}

func TestSpoolNeedsServer(t *testing.T) {
	_, err := run(t, "--server", "", "spool", "list")
	assert.Error(t, err)
}

func TestRemoteMode(t *testing.T) {
	cfg, _, err := loadConfig(writeTestConfig(t))
	require.NoError(t, err)
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = components.Close(ctx) })

	spoolDir := t.TempDir()
	spool := newSpool(nil, cfg.Spool.Extensions, true, cfg.Spool.Debounce, components.Indexer, zap.NewNop())
	require.NoError(t, spool.Start(ctx))
	t.Cleanup(spool.Stop)

	srv := server.NewServer(components.Engine, components.Indexer, components.Streams, cfg, zap.NewNop(), spool, "")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	base := []string{"--server", ts.URL}

	out, err := run(t, append(base, "put", "--vector", "0,0,1,0", "--hash", "r1", "--source", "/tmp/r.jsonl")...)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = run(t, append(base, "--output", "json", "search", "--vector", "0,0,1,0")...)
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = run(t, append(base, "delete", "--source", "/tmp/r.jsonl")...)
	require.NoError(t, err)
	assert.Equal(t, "Deleted 1 records from /tmp/r.jsonl\n", out)

	_, err = run(t, append(base, "get", id)...)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = run(t, append(base, "spool", "add", "--no-sync", spoolDir)...)
	require.NoError(t, err)
	out, err = run(t, append(base, "spool", "list")...)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(spoolDir)+"\n", out)
	_, err = run(t, append(base, "spool", "remove", spoolDir)...)
	require.NoError(t, err)

	_, err = run(t, append(base, "flush")...)
	require.NoError(t, err)
}
