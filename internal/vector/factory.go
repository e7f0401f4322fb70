package vector

import "fmt"

// IndexType represents the type of sub-index to build for each chunk.
type IndexType string

const (
	// IndexTypeHNSW is the graph-based approximate index.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFlat scans every vector. Good for small chunks and recall checks.
	IndexTypeFlat IndexType = "flat"
)

// Code returns the on-disk code of the index type.
func (t IndexType) Code() uint8 {
	if t == IndexTypeFlat {
		return 1
	}
	return 0
}

// IndexTypeFromCode is the inverse of Code.
func IndexTypeFromCode(c uint8) (IndexType, error) {
	switch c {
	case 0:
		return IndexTypeHNSW, nil
	case 1:
		return IndexTypeFlat, nil
	default:
		return "", fmt.Errorf("unknown index type code %d", c)
	}
}

// NewIndex creates a sub-index of the specified type.
// Supported types: "hnsw", "flat".
func NewIndex(indexType IndexType, cfg Config) (Index, error) {
	switch indexType {
	case IndexTypeHNSW:
		return NewHNSW(cfg)
	case IndexTypeFlat:
		return NewFlat(cfg)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: hnsw, flat)", indexType)
	}
}
