// Package storage defines the persistence interfaces for chunk files and the record catalog.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateHash is returned by the catalog when a content hash is already stored.
var ErrDuplicateHash = errors.New("content hash already stored")

// ChunkStore persists encoded chunks by id. Write replaces atomically: a
// reader sees either the previous or the new bytes, never a mix.
type ChunkStore interface {
	// Read returns models.ErrNotFound for an unknown chunk.
	Read(ctx context.Context, id string) ([]byte, error)
	Write(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// CatalogEntry locates a record and carries its identity fields.
type CatalogEntry struct {
	ID          string
	ChunkID     string
	ContentHash string
	Source      string
	CreatedAt   time.Time
}

// ChunkInfo is a chunk registered in the catalog.
type ChunkInfo struct {
	ID        string
	Partition string
	Seq       int
}

// Catalog maps records to chunks and enforces content hash uniqueness.
type Catalog interface {
	// PutRecord returns ErrDuplicateHash when the content hash exists.
	PutRecord(ctx context.Context, e *CatalogEntry) error
	GetRecord(ctx context.Context, id string) (*CatalogEntry, error)
	GetByHash(ctx context.Context, contentHash string) (*CatalogEntry, error)
	DeleteRecord(ctx context.Context, id string) error
	RecordsBySource(ctx context.Context, source string) ([]*CatalogEntry, error)
	RecordsInChunk(ctx context.Context, chunkID string) ([]*CatalogEntry, error)

	RegisterChunk(ctx context.Context, info ChunkInfo) error
	Chunks(ctx context.Context) ([]ChunkInfo, error)
	LatestSeq(ctx context.Context, partition string) (int, bool, error)

	CountRecords(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// ChunkID builds the identifier of chunk seq in partition.
func ChunkID(partition string, seq int) string {
	return fmt.Sprintf("%s-%06d", partition, seq)
}
