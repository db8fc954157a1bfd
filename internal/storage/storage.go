// Package storage defines the persistence interface for documents and chunks.
// The relational store is the system of record: every other index in the
// process can be rebuilt from it.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/bunko/internal/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Storage defines document and chunk persistence operations.
type Storage interface {
	// Document operations. Documents are immutable after creation; content
	// changes go through ReplaceChunks.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// CreateDocumentWithChunks inserts the document and its chunks in one
	// transaction, assigning ordinals 0..n-1, and returns the chunk ids in
	// order. Nothing persists if any insert fails, so a document row can
	// never exist without its chunks.
	CreateDocumentWithChunks(ctx context.Context, doc *models.Document, texts []string) ([]string, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	FindDocumentBySourcePath(ctx context.Context, path string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	// DeleteDocument removes the document and all its chunks in one transaction.
	DeleteDocument(ctx context.Context, id string) error

	// Chunk operations.
	// ReplaceChunks atomically deletes the document's chunks and inserts texts
	// with ordinals 0..n-1, returning the new chunk ids in order.
	ReplaceChunks(ctx context.Context, docID string, texts []string) ([]string, error)
	// GetChunksByIDs returns chunks in the requested order; ids that no longer
	// exist are skipped, so the result may be shorter than ids.
	GetChunksByIDs(ctx context.Context, ids []string) ([]*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	// ListChunks pages over all chunks in insertion order, for index rebuilds.
	ListChunks(ctx context.Context, offset, limit int) ([]*models.Chunk, error)
	// ReconstructContent joins the document's chunk texts by ordinal. With an
	// overlapping chunker the result is not byte-identical to the ingested text.
	ReconstructContent(ctx context.Context, docID string) (string, error)
	// FindChunksContaining is the keyword fallback: case-insensitive substring
	// match over chunk text, most recently inserted first, at most limit rows.
	FindChunksContaining(ctx context.Context, substring string, limit int) ([]*models.ChunkMatch, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
