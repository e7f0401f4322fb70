// Package models defines core data structures for embedding records, queries, and search results.
package models

import (
	"fmt"
	"time"
)

// Record is a single stored embedding with its metadata.
// Records are immutable once stored; a metadata change is a delete followed by a put.
type Record struct {
	ID          string            `json:"id" msgpack:"id"`
	ContentHash string            `json:"content_hash" msgpack:"content_hash"`
	Source      string            `json:"source,omitempty" msgpack:"source,omitempty"`
	Vector      []float32         `json:"vector,omitempty" msgpack:"vector"`
	Metadata    map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at" msgpack:"created_at"`
}

// PutRequest is the input for storing a record.
type PutRequest struct {
	ContentHash string            `json:"content_hash"`
	Source      string            `json:"source,omitempty"`
	Vector      []float32         `json:"vector"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks required fields. Dimension is checked by the index.
func (r *PutRequest) Validate() error {
	if r.ContentHash == "" {
		return fmt.Errorf("content_hash cannot be empty: %w", ErrInvalidInput)
	}
	if len(r.Vector) == 0 {
		return fmt.Errorf("vector cannot be empty: %w", ErrInvalidInput)
	}
	return CheckFinite(r.Vector)
}

// RecordInput is a record as submitted over HTTP or in a spool file. Either
// Vector or Content must be set; Content is embedded when Vector is empty and
// hashed when ContentHash is empty.
type RecordInput struct {
	ContentHash string                 `json:"content_hash,omitempty"`
	Content     string                 `json:"content,omitempty"`
	Vector      []float32              `json:"vector,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks that the input can produce a vector and a content hash.
func (in *RecordInput) Validate() error {
	if len(in.Vector) == 0 && in.Content == "" {
		return fmt.Errorf("record needs a vector or content: %w", ErrInvalidInput)
	}
	if in.ContentHash == "" && in.Content == "" {
		return fmt.Errorf("record needs a content_hash or content: %w", ErrInvalidInput)
	}
	return CheckFinite(in.Vector)
}

// StringMetadata returns the metadata with every value in its stored string form.
func (in *RecordInput) StringMetadata() map[string]string {
	if len(in.Metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		out[k] = MetadataString(v)
	}
	return out
}

// MetadataString converts an arbitrary JSON metadata value to its stored string form.
func MetadataString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}
