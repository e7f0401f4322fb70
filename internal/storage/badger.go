package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/models"
)

const badgerPrefix = "chunk/"

// BadgerStore keeps chunks as values in a BadgerDB key space.
type BadgerStore struct {
	db *badger.DB
}

var _ ChunkStore = (*BadgerStore)(nil)

// badgerLogger routes badger's log output through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...interface{})    { l.s.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }

// NewBadgerStore opens a BadgerDB at dir. An empty dir runs in memory only.
func NewBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{s: logger.Named("badger").Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Read returns the stored bytes of a chunk.
func (s *BadgerStore) Read(_ context.Context, id string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + id))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("chunk %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w: %w", id, err, models.ErrPersistence)
	}
	return val, nil
}

// Write stores a chunk in a single transaction.
func (s *BadgerStore) Write(_ context.Context, id string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+id), data)
	})
	if err != nil {
		return fmt.Errorf("write chunk %s: %w: %w", id, err, models.ErrPersistence)
	}
	return nil
}

// Delete removes a chunk. Missing keys are not an error.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerPrefix + id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete chunk %s: %w: %w", id, err, models.ErrPersistence)
	}
	return nil
}

// List returns all chunk ids in key order.
func (s *BadgerStore) List(_ context.Context) ([]string, error) {
	var ids []string
	prefix := []byte(badgerPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().KeyCopy(nil)), badgerPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w: %w", err, models.ErrPersistence)
	}
	return ids, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
