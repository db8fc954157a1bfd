package models

// SearchMode identifies how a search response was produced. Scores from the two
// modes are never comparable: semantic results carry an inner-product score,
// keyword results carry none.
type SearchMode string

const (
	// ModeSemantic means results came from the vector index, ranked by similarity.
	ModeSemantic SearchMode = "semantic"
	// ModeKeyword means results came from a substring scan of stored chunks,
	// most recently inserted first.
	ModeKeyword SearchMode = "keyword"
)

// SearchResult is a single retrieved chunk with its parent document metadata.
type SearchResult struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	// Score is the inner-product similarity for semantic results; nil in keyword mode.
	Score *float64 `json:"score,omitempty"`
}

// SearchResponse is the full answer to a query: the mode actually used and the
// ranked results. Callers must surface Mode since it changes result semantics.
type SearchResponse struct {
	Mode    SearchMode      `json:"mode"`
	Results []*SearchResult `json:"results"`
}
