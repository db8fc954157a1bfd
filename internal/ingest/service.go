// Package ingest turns raw text and uploaded files into stored, chunked
// documents and keeps the vector index informed of every mutation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/chunker"
	"github.com/hyperjump/bunko/internal/extract"
	"github.com/hyperjump/bunko/internal/index"
	"github.com/hyperjump/bunko/internal/models"
	"github.com/hyperjump/bunko/internal/storage"
)

// ErrEmptyContent is returned when text ingest is attempted with no content.
var ErrEmptyContent = errors.New("empty content")

// noTextNote is attached to the ingest result when extraction produced nothing
// and a placeholder chunk was stored instead.
const noTextNote = "no text extracted"

// Service coordinates document mutations: storage writes happen synchronously,
// embedding work is handed to the index manager's queue. Chunks are durable
// and keyword-searchable the moment a method returns; vector visibility
// follows once the background job runs.
type Service struct {
	store     storage.Storage
	chunker   *chunker.Chunker
	extractor *extract.Extractor
	manager   *index.Manager
	logger    *zap.Logger
}

// NewService creates an ingest service.
func NewService(store storage.Storage, ch *chunker.Chunker, ex *extract.Extractor, manager *index.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		chunker:   ch,
		extractor: ex,
		manager:   manager,
		logger:    logger,
	}
}

// CreateFromText ingests raw text under the given title.
func (s *Service) CreateFromText(ctx context.Context, title, content string) (*models.IngestResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	return s.create(ctx, &models.Document{
		ID:    uuid.New().String(),
		Title: title,
	}, content, "")
}

// CreateFromFile ingests an uploaded file. Extraction failures are not fatal:
// the document is stored with a single placeholder chunk so it stays visible
// to listing and keyword search.
func (s *Service) CreateFromFile(ctx context.Context, filename string, content []byte) (*models.IngestResult, error) {
	return s.createFromFile(ctx, filename, content, "")
}

// IngestPath ingests the file at path on behalf of the drop-directory
// watcher. A document previously ingested from the same path is replaced.
func (s *Service) IngestPath(ctx context.Context, path string) (*models.IngestResult, error) {
	if prev, err := s.store.FindDocumentBySourcePath(ctx, path); err == nil {
		if err := s.Delete(ctx, prev.ID); err != nil {
			return nil, fmt.Errorf("replace %s: %w", path, err)
		}
	}
	text, err := s.extractor.Extract(path)
	if err != nil {
		s.logger.Warn("extraction failed", zap.String("path", path), zap.Error(err))
		text = ""
	}
	return s.ingestExtracted(ctx, filepath.Base(path), path, text)
}

// DeleteByPath removes the document previously ingested from path, if any.
func (s *Service) DeleteByPath(ctx context.Context, path string) error {
	doc, err := s.store.FindDocumentBySourcePath(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Delete(ctx, doc.ID)
}

func (s *Service) createFromFile(ctx context.Context, filename string, content []byte, sourcePath string) (*models.IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	text, err := s.extractor.ExtractBytes(content, ext)
	if err != nil {
		s.logger.Warn("extraction failed", zap.String("filename", filename), zap.Error(err))
		text = ""
	}
	return s.ingestExtracted(ctx, filename, sourcePath, text)
}

func (s *Service) ingestExtracted(ctx context.Context, filename, sourcePath, text string) (*models.IngestResult, error) {
	doc := &models.Document{
		ID:         uuid.New().String(),
		Title:      filename,
		Filename:   filename,
		SourcePath: sourcePath,
	}
	if strings.TrimSpace(text) == "" {
		// Placeholder keeps the document discoverable by title keyword search.
		placeholder := fmt.Sprintf("[uploaded file: %s] (no text extracted)", filename)
		res, err := s.create(ctx, doc, placeholder, noTextNote)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	return s.create(ctx, doc, text, "")
}

func (s *Service) create(ctx context.Context, doc *models.Document, content, note string) (*models.IngestResult, error) {
	texts := s.chunker.Split(content)
	if len(texts) == 0 {
		return nil, ErrEmptyContent
	}
	// One transaction: a failed chunk insert must not leave a document row
	// that no keyword search can ever reach.
	ids, err := s.store.CreateDocumentWithChunks(ctx, doc, texts)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.enqueueAdd(ids, texts)
	s.logger.Info("document ingested",
		zap.String("id", doc.ID),
		zap.String("title", doc.Title),
		zap.Int("chunks", len(ids)))
	return &models.IngestResult{DocumentID: doc.ID, Chunks: len(ids), Note: note}, nil
}

// Append adds extra text to an existing document. The whole document is
// reconstructed, concatenated, and re-chunked; old chunks are replaced and
// their vectors removed in favor of the new set.
func (s *Service) Append(ctx context.Context, docID, extra string) (*models.IngestResult, error) {
	if strings.TrimSpace(extra) == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	existing, err := s.store.ReconstructContent(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("reconstruct content: %w", err)
	}
	content := extra
	if existing != "" {
		content = existing + "\n\n" + extra
	}

	oldChunks, err := s.store.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return nil, err
	}
	oldIDs := make([]string, len(oldChunks))
	for i, ch := range oldChunks {
		oldIDs[i] = ch.ID
	}

	texts := s.chunker.Split(content)
	ids, err := s.store.ReplaceChunks(ctx, docID, texts)
	if err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	s.manager.EnqueueRemove(oldIDs)
	s.enqueueAdd(ids, texts)
	s.logger.Info("document appended",
		zap.String("id", docID),
		zap.Int("chunks", len(ids)))
	return &models.IngestResult{DocumentID: docID, Chunks: len(ids)}, nil
}

// Delete removes the document and its chunks from storage synchronously and
// enqueues removal of the corresponding vectors.
func (s *Service) Delete(ctx context.Context, docID string) error {
	chunks, err := s.store.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	s.manager.EnqueueRemove(ids)
	s.logger.Info("document deleted", zap.String("id", docID), zap.Int("chunks", len(ids)))
	return nil
}

// Reindex schedules a full rebuild of the vector index from storage and
// returns immediately.
func (s *Service) Reindex() {
	s.manager.EnqueueRebuild()
}

func (s *Service) enqueueAdd(ids []string, texts []string) {
	pairs := make([]index.ChunkText, len(ids))
	for i := range ids {
		pairs[i] = index.ChunkText{ID: ids[i], Text: texts[i]}
	}
	s.manager.EnqueueAdd(pairs)
}
