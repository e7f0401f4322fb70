package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/vecpager/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

var _ Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private in-memory database.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		partition TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_partition_seq ON chunks(partition, seq);

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		content_hash TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_chunk_id ON records(chunk_id);
	CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
	`
	_, err := db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// PutRecord inserts a catalog row.
func (s *SQLiteCatalog) PutRecord(ctx context.Context, e *CatalogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, chunk_id, content_hash, source, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ChunkID, e.ContentHash, e.Source, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("record %s (hash %s): %w", e.ID, e.ContentHash, ErrDuplicateHash)
	}
	if err != nil {
		return fmt.Errorf("insert record %s: %w: %w", e.ID, err, models.ErrPersistence)
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (*CatalogEntry, error) {
	var e CatalogEntry
	if err := row.Scan(&e.ID, &e.ChunkID, &e.ContentHash, &e.Source, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

const entryColumns = `id, chunk_id, content_hash, source, created_at`

// GetRecord returns the catalog row of a record.
func (s *SQLiteCatalog) GetRecord(ctx context.Context, id string) (*CatalogEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM records WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s: %w", id, models.ErrNotFound)
	}
	return e, err
}

// GetByHash returns the catalog row holding contentHash.
func (s *SQLiteCatalog) GetByHash(ctx context.Context, contentHash string) (*CatalogEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM records WHERE content_hash = ?`, contentHash))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("content hash %s: %w", contentHash, models.ErrNotFound)
	}
	return e, err
}

// DeleteRecord removes a catalog row.
func (s *SQLiteCatalog) DeleteRecord(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w: %w", id, err, models.ErrPersistence)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *SQLiteCatalog) queryEntries(ctx context.Context, query string, args ...any) ([]*CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordsBySource returns the records ingested from source.
func (s *SQLiteCatalog) RecordsBySource(ctx context.Context, source string) ([]*CatalogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM records WHERE source = ? ORDER BY id`, source)
}

// RecordsInChunk returns the records the catalog places in chunkID.
func (s *SQLiteCatalog) RecordsInChunk(ctx context.Context, chunkID string) ([]*CatalogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM records WHERE chunk_id = ? ORDER BY id`, chunkID)
}

// RegisterChunk records a chunk id. Registering an existing chunk is a no-op.
func (s *SQLiteCatalog) RegisterChunk(ctx context.Context, info ChunkInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chunks (id, partition, seq) VALUES (?, ?, ?)`,
		info.ID, info.Partition, info.Seq,
	)
	if err != nil {
		return fmt.Errorf("register chunk %s: %w: %w", info.ID, err, models.ErrPersistence)
	}
	return nil
}

// Chunks returns all registered chunks ordered by id.
func (s *SQLiteCatalog) Chunks(ctx context.Context) ([]ChunkInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, partition, seq FROM chunks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkInfo
	for rows.Next() {
		var c ChunkInfo
		if err := rows.Scan(&c.ID, &c.Partition, &c.Seq); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestSeq returns the highest sequence registered for partition.
func (s *SQLiteCatalog) LatestSeq(ctx context.Context, partition string) (int, bool, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM chunks WHERE partition = ?`, partition).Scan(&seq)
	if err != nil {
		return 0, false, err
	}
	return int(seq.Int64), seq.Valid, nil
}

// CountRecords returns the total number of records.
func (s *SQLiteCatalog) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of registered chunks.
func (s *SQLiteCatalog) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
