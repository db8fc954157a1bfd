// Package models defines core data structures for documents, chunks, and search results.
package models

import "time"

// Document represents an ingested document. The document row never changes after
// creation; appends replace the document's chunks, not the document itself.
type Document struct {
	ID         string    `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Filename   string    `json:"filename,omitempty" db:"filename"`
	SourcePath string    `json:"-" db:"source_path"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Chunk is a bounded span of a document's text, the unit of retrieval.
// ChunkIndex defines reconstruction order within the parent document.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Content    string    `json:"content" db:"content"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ChunkMatch is a chunk joined with its parent document's title, as returned
// by keyword search against storage.
type ChunkMatch struct {
	Chunk
	Title string `json:"title"`
}

// IngestResult reports the outcome of a document ingest.
type IngestResult struct {
	DocumentID string `json:"id"`
	Chunks     int    `json:"chunks"`
	// Note is set when ingest degraded (e.g. no text could be extracted and a
	// placeholder chunk was stored).
	Note string `json:"note,omitempty"`
}
