// Package fileid derives stable identifiers for ingested content and its source files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// ContentHash returns the hex sha256 digest of content.
// Same content always yields the same hash, so re-ingesting it is a no-op.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// SourcePath returns the normalized absolute path recorded as a record's source.
func SourcePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	return filepath.Clean(abs), nil
}
