package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"

	"github.com/hyperjump/vecpager/internal/models"
)

const chunkExt = ".chunk"

// FileStore keeps one file per chunk in a directory. Writes go through a
// temporary file and rename, so a crash leaves the previous version intact.
type FileStore struct {
	dir string
}

var _ ChunkStore = (*FileStore)(nil)

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the chunk directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+chunkExt)
}

// Read returns the bytes of a chunk file.
func (s *FileStore) Read(_ context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("chunk %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("read chunk %s: %w: %w", id, err, models.ErrPersistence)
	}
	return data, nil
}

// Write atomically replaces a chunk file.
func (s *FileStore) Write(_ context.Context, id string, data []byte) error {
	if err := renameio.WriteFile(s.path(id), data, 0644); err != nil {
		return fmt.Errorf("write chunk %s: %w: %w", id, err, models.ErrPersistence)
	}
	return nil
}

// Delete removes a chunk file. Missing files are not an error.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete chunk %s: %w: %w", id, err, models.ErrPersistence)
	}
	return nil
}

// List returns the ids of all stored chunks in lexical order.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w: %w", err, models.ErrPersistence)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), chunkExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), chunkExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error { return nil }
