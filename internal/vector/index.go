// Package vector provides vector index implementations and similarity search.
package vector

import "context"

// VectorIndex defines vector storage and nearest-neighbor search keyed by
// chunk id. Implementations are safe for concurrent readers; writers are
// serialized by the index manager.
type VectorIndex interface {
	// Add upserts vectors by chunk id; re-adding an id replaces its vector.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns at most k hits sorted descending by score. Returned ids
	// may reference chunks deleted after indexing; callers re-check liveness
	// against storage.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	// Save persists the index image atomically (tmp file + rename) so a crash
	// mid-write never leaves a corrupt image.
	Save(path string) error
	Load(path string) error
	Size() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit; ID is the chunk id.
type VectorResult struct {
	ID    string
	Score float64 // inner product; equals cosine similarity for unit vectors
}
