package models

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrCapacityExceeded is returned when an index cannot accept another element.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrChunkCorrupted is returned when a persisted chunk fails validation on load.
	ErrChunkCorrupted = errors.New("chunk corrupted")
	// ErrPersistence wraps storage I/O failures. It is retryable.
	ErrPersistence = errors.New("persistence error")
	// ErrNotFound is returned for unknown records, chunks, and stream handles.
	ErrNotFound = errors.New("not found")
	// ErrChunkFull is returned by a chunk at capacity; the manager rolls over to a new chunk.
	ErrChunkFull = errors.New("chunk full")
	// ErrInvalidInput is returned for malformed records and queries.
	ErrInvalidInput = errors.New("invalid input")
)

// IsRetryable reports whether err is a transient persistence failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
