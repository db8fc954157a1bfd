package vector

import "fmt"

// IndexType selects the vector index implementation.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Exact, and fast
	// enough for personal corpora (<10k vectors).
	IndexTypeMemory IndexType = "memory"
	// IndexTypeHNSW uses a pure-Go HNSW graph. Approximate, scales to larger
	// corpora, and supports id-addressed point deletion.
	IndexTypeHNSW IndexType = "hnsw"
)

// New creates a vector index of the given type ("memory" by default).
func New(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeHNSW:
		return NewHNSWIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, hnsw)", indexType)
	}
}
