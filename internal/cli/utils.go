// Package cli provides output formatting, argument parsing and an HTTP
// client for the vecpager command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/vecpager/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, response)
	case OutputCompact:
		writeResultsCompact(w, response.Results)
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d of %d results in %dms (%d/%d chunks searched, %d filtered)\n",
		len(response.Results), response.Requested, response.QueryTime,
		response.ChunksSearched, response.ChunksTotal, response.Filtered)
	if response.Partial {
		fmt.Fprintln(w, "Deadline reached: results are partial.")
	}
	if response.Incomplete {
		fmt.Fprintln(w, "Fewer matches than requested.")
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Similarity: %.4f) | Chunk: %s\n",
		result.Rank, result.Score, result.Similarity, result.ChunkID)
	fmt.Fprintf(w, "ID: %s\n", result.Record.ID)
	if result.Record.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", result.Record.Source)
	}
	if meta := FormatMetadata(result.Record.Metadata); meta != "" {
		fmt.Fprintf(w, "Metadata: %s\n", Truncate(meta, 200))
	}
	fmt.Fprintln(w)
}

func writeResultsCompact(w io.Writer, results []*models.SearchResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.Record.ID, FormatMetadata(r.Record.Metadata))
	}
}

// WriteStreamBatch writes one pull of a streaming search.
func WriteStreamBatch(w io.Writer, batch *models.StreamBatch, pull int, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, batch)
	case OutputCompact:
		writeResultsCompact(w, batch.Results)
		return nil
	default:
		state := "in progress"
		switch {
		case batch.Exhausted:
			state = "exhausted"
		case batch.Complete:
			state = "complete"
		}
		fmt.Fprintf(w, "\nBatch %d: %d results, %s\n", pull, len(batch.Results), state)
		if batch.Partial {
			fmt.Fprintln(w, "Deadline reached: results are partial.")
		}
		for _, r := range batch.Results {
			writeOneResult(w, r)
		}
		return nil
	}
}

// WriteRecord writes a single record.
func WriteRecord(w io.Writer, rec *models.Record, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, rec)
	}
	fmt.Fprintf(w, "id:            %s\n", rec.ID)
	fmt.Fprintf(w, "content_hash:  %s\n", rec.ContentHash)
	if rec.Source != "" {
		fmt.Fprintf(w, "source:        %s\n", rec.Source)
	}
	fmt.Fprintf(w, "created_at:    %s\n", rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "dimensions:    %d\n", len(rec.Vector))
	if meta := FormatMetadata(rec.Metadata); meta != "" {
		fmt.Fprintf(w, "metadata:      %s\n", meta)
	}
	return nil
}

// WriteStatus writes the store status.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, status)
	}
	fmt.Fprintf(w, "records:            %d   # live records in the catalog\n", status.Records)
	fmt.Fprintf(w, "chunks:             %d   # chunks on disk\n", status.Chunks)
	fmt.Fprintf(w, "active_chunks:      %d   # chunks resident in memory\n", status.ActiveChunks)
	fmt.Fprintf(w, "open_streams:       %d\n", status.OpenStreams)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # chunk files + catalog\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "index_type:         %s\n", c.IndexType)
		fmt.Fprintf(w, "distance_metric:    %s\n", c.DistanceMetric)
		fmt.Fprintf(w, "dimension:          %d\n", c.Dimension)
		fmt.Fprintf(w, "chunk_capacity:     %d\n", c.ChunkCapacity)
		fmt.Fprintf(w, "max_active_chunks:  %d\n", c.MaxActiveChunks)
		fmt.Fprintf(w, "storage_backend:    %s\n", c.StorageBackend)
		if c.ChunksPath != "" {
			fmt.Fprintf(w, "chunks_path:        %s\n", c.ChunksPath)
		}
		if c.CatalogPath != "" {
			fmt.Fprintf(w, "catalog_path:       %s\n", c.CatalogPath)
		}
	}
	return nil
}

// FormatMetadata renders metadata as sorted key=value pairs.
func FormatMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + meta[k]
	}
	return strings.Join(parts, " ")
}

// ParseVector parses a comma separated list of floats such as "0.1,0.2,0.3".
func ParseVector(s string) ([]float32, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// ParsePairs parses key=value arguments such as repeated --meta flags.
func ParsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

// ParseBoosts parses key=factor arguments.
func ParseBoosts(pairs []string) (map[string]float64, error) {
	kv, err := ParsePairs(pairs)
	if err != nil || kv == nil {
		return nil, err
	}
	out := make(map[string]float64, len(kv))
	for k, v := range kv {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("boost %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
