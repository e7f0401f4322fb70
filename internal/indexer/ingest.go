package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/fileid"
	"github.com/hyperjump/vecpager/internal/models"
)

// maxLineBytes bounds a single spool line; a 4096-dim vector in JSON is ~80KB.
const maxLineBytes = 16 << 20

// ErrNoEmbedder is returned for content-only input when no embedder is configured.
var ErrNoEmbedder = errors.New("no embedder configured for content input")

// normalizeContent collapses whitespace so formatting-only edits hash the same.
func normalizeContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// PutInput stores a record submitted as RecordInput. Content is embedded when
// no vector is given and hashed when no content hash is given.
func (idx *Indexer) PutInput(ctx context.Context, in *models.RecordInput, source string) (string, error) {
	id, _, err := idx.putInput(ctx, in, source)
	return id, err
}

func (idx *Indexer) putInput(ctx context.Context, in *models.RecordInput, source string) (string, bool, error) {
	req, err := idx.toPutRequest(ctx, in, source)
	if err != nil {
		return "", false, err
	}
	return idx.put(ctx, req)
}

func (idx *Indexer) toPutRequest(ctx context.Context, in *models.RecordInput, source string) (*models.PutRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	content := normalizeContent(in.Content)
	req := &models.PutRequest{
		ContentHash: in.ContentHash,
		Source:      source,
		Vector:      in.Vector,
		Metadata:    in.StringMetadata(),
	}
	if req.ContentHash == "" {
		req.ContentHash = fileid.ContentHash([]byte(content))
	}
	if len(req.Vector) == 0 {
		if idx.embedder == nil {
			return nil, ErrNoEmbedder
		}
		vec, err := idx.embedder.Embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		req.Vector = vec
	}
	return req, nil
}

// IngestResult counts the outcome of ingesting a spool file.
type IngestResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// IngestFile stores every record of a JSON Lines file, one RecordInput per
// line, with the file path as source. Lines already stored are skipped by
// content hash, and records of this source no longer in the file are removed.
// Malformed lines are logged and counted; storage failures abort.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	source, err := fileid.SourcePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", source)
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	idx.logger.Debug("indexer ingesting file", zap.String("path", source))
	result := &IngestResult{}
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var in models.RecordInput
		if err := json.Unmarshal([]byte(text), &in); err != nil {
			idx.lineFailed(result, source, line, err)
			continue
		}
		req, err := idx.toPutRequest(ctx, &in, source)
		if err != nil {
			if errors.Is(err, ErrNoEmbedder) {
				return result, err
			}
			idx.lineFailed(result, source, line, err)
			continue
		}
		seen[req.ContentHash] = struct{}{}
		_, created, err := idx.put(ctx, req)
		switch {
		case errors.Is(err, models.ErrDimensionMismatch):
			idx.lineFailed(result, source, line, err)
		case err != nil:
			return result, fmt.Errorf("%s line %d: %w", source, line, err)
		case created:
			result.Added++
		default:
			result.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read %s: %w", source, err)
	}

	stale, err := idx.catalog.RecordsBySource(ctx, source)
	if err != nil {
		return result, fmt.Errorf("list records of %s: %w", source, err)
	}
	for _, e := range stale {
		if _, ok := seen[e.ContentHash]; ok {
			continue
		}
		if err := idx.Delete(ctx, e.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return result, err
		}
		result.Removed++
	}

	idx.logger.Info("indexer file ingested",
		zap.String("path", source),
		zap.Int("added", result.Added),
		zap.Int("skipped", result.Skipped),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (idx *Indexer) lineFailed(result *IngestResult, source string, line int, err error) {
	result.Failed++
	idx.logger.Warn("indexer skipping bad line",
		zap.String("path", source), zap.Int("line", line), zap.Error(err))
}

// RemoveSource deletes the records ingested from the file at path.
func (idx *Indexer) RemoveSource(ctx context.Context, path string) (int, error) {
	source, err := fileid.SourcePath(path)
	if err != nil {
		return 0, err
	}
	return idx.DeleteBySource(ctx, source)
}
