// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/bunko/internal/models"
)

// chunkJoiner separates chunk texts when a document's content is reconstructed.
const chunkJoiner = "\n\n"

// likeEscaper neutralizes LIKE metacharacters in keyword queries.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SQLiteStorage implements Storage using SQLite in WAL mode.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		filename TEXT,
		source_path TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
	CREATE INDEX IF NOT EXISTS idx_documents_source_path ON documents(source_path);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_ordinal ON chunks(document_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document row. The id must be set by the caller.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, filename, source_path, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Filename, doc.SourcePath, doc.CreatedAt,
	)
	return err
}

// CreateDocumentWithChunks inserts the document row and its chunk rows in a
// single transaction: either both land or neither does, so a failed chunk
// insert cannot leave a chunkless document behind.
func (s *SQLiteStorage) CreateDocumentWithChunks(ctx context.Context, doc *models.Document, texts []string) ([]string, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, filename, source_path, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Filename, doc.SourcePath, doc.CreatedAt,
	); err != nil {
		return nil, err
	}
	ids, err := insertChunks(ctx, tx, doc.ID, texts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, filename, source_path, created_at
		 FROM documents WHERE id = ?`, id,
	)
	return scanDocument(row)
}

// FindDocumentBySourcePath returns the document previously ingested from path,
// or an error if none exists. Used by the drop-directory watcher to replace
// re-written files instead of accumulating duplicates.
func (s *SQLiteStorage) FindDocumentBySourcePath(ctx context.Context, path string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, filename, source_path, created_at
		 FROM documents WHERE source_path = ? ORDER BY created_at DESC LIMIT 1`, path,
	)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*models.Document, error) {
	var doc models.Document
	var filename, sourcePath sql.NullString
	err := row.Scan(&doc.ID, &doc.Title, &filename, &sourcePath, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.Filename = filename.String
	doc.SourcePath = sourcePath.String
	return &doc, nil
}

// ListDocuments returns documents newest first with offset and limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, filename, source_path, created_at
		 FROM documents ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var filename, sourcePath sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Title, &filename, &sourcePath, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Filename = filename.String
		doc.SourcePath = sourcePath.String
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document row and all its chunk rows as one
// transaction. Deleting a missing document is not an error.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceChunks atomically replaces the document's chunks with texts, assigning
// ordinals 0..n-1. Returns the new chunk ids in ordinal order. Both initial
// ingest and append go through here: chunk boundaries shift with any content
// change, so there is no incremental edit path.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, docID string, texts []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return nil, err
	}
	ids, err := insertChunks(ctx, tx, docID, texts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// insertChunks inserts texts as chunk rows with ordinals 0..n-1 inside tx and
// returns the new ids in order.
func insertChunks(ctx context.Context, tx *sql.Tx, docID string, texts []string) ([]string, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	ids := make([]string, 0, len(texts))
	for i, text := range texts {
		id := uuid.New().String()
		if _, err := stmt.ExecContext(ctx, id, docID, i, text, now); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetChunksByIDs returns chunks in the same order as the requested ids. Ids
// that no longer exist are skipped, so callers must tolerate a shorter result
// (an in-flight delete may race a search).
func (s *SQLiteStorage) GetChunksByIDs(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, created_at
		 FROM chunks WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*models.Chunk, len(ids))
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &ch.CreatedAt); err != nil {
			return nil, err
		}
		byID[ch.ID] = &ch
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	chunks := make([]*models.Chunk, 0, len(byID))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			chunks = append(chunks, ch)
		}
	}
	return chunks, nil
}

// GetChunksByDocumentID returns all chunks for a document ordered by ordinal.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, created_at
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ListChunks pages over all chunks in insertion order. Index rebuilds stream
// the whole table through here in bounded batches.
func (s *SQLiteStorage) ListChunks(ctx context.Context, offset, limit int) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, created_at
		 FROM chunks ORDER BY rowid LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &ch.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &ch)
	}
	return chunks, rows.Err()
}

// ReconstructContent joins the document's chunk texts by ordinal. Used by
// append: the current content is reconstructed, extended, and re-chunked.
// With overlap > 0 the overlapped regions are duplicated, so the result is not
// guaranteed to equal the originally ingested text byte for byte.
func (s *SQLiteStorage) ReconstructContent(ctx context.Context, docID string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID,
	)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, chunkJoiner), nil
}

// FindChunksContaining returns chunks whose text contains substring
// (case-insensitive), joined with the parent document title, most recently
// inserted first, bounded by limit.
func (s *SQLiteStorage) FindChunksContaining(ctx context.Context, substring string, limit int) ([]*models.ChunkMatch, error) {
	// The query text is a literal substring: LIKE metacharacters in it are
	// escaped so "%" or "_" in a query cannot match everything.
	pattern := "%" + likeEscaper.Replace(strings.ToLower(substring)) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.chunk_index, c.content, c.created_at, d.title
		 FROM chunks c JOIN documents d ON c.document_id = d.id
		 WHERE lower(c.content) LIKE ? ESCAPE '\'
		 ORDER BY c.rowid DESC LIMIT ?`,
		pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*models.ChunkMatch
	for rows.Next() {
		var m models.ChunkMatch
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.ChunkIndex, &m.Content, &m.CreatedAt, &m.Title); err != nil {
			return nil, err
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
