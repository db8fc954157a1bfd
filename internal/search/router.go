// Package search routes queries to semantic search with keyword fallback.
package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/index"
	"github.com/hyperjump/bunko/internal/models"
	"github.com/hyperjump/bunko/internal/storage"
	"github.com/hyperjump/bunko/pkg/utils"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("empty query")

// Router answers queries. It is state-free: all state lives in the storage
// and the index manager. Semantic search is attempted when the index is
// searchable; any failure, timeout, or empty result falls back to a substring
// scan of stored chunks. The two modes are never merged and their scores are
// not comparable.
type Router struct {
	store        storage.Storage
	manager      *index.Manager
	embedder     Embedder
	logger       *zap.Logger
	snippetMax   int
	embedTimeout time.Duration
}

// Embedder abstracts the query-side embedding call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewRouter creates a search router. embedder may be nil in a degraded
// deployment; every query then uses the keyword path. snippetMax bounds
// snippet length in runes; embedTimeout bounds the query-side embedding call.
func NewRouter(store storage.Storage, manager *index.Manager, embedder Embedder, snippetMax int, embedTimeout time.Duration, logger *zap.Logger) *Router {
	if snippetMax <= 0 {
		snippetMax = 900
	}
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		store:        store,
		manager:      manager,
		embedder:     embedder,
		logger:       logger,
		snippetMax:   snippetMax,
		embedTimeout: embedTimeout,
	}
}

// Search returns the top-k results for query and the mode that produced them.
// It returns an error only for blank queries and storage failures; an
// unavailable or failing embedding subsystem is handled by falling back, not
// reported.
func (r *Router) Search(ctx context.Context, query string, topK int) (*models.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = 6
	}

	if r.manager.Searchable() {
		results, err := r.semantic(ctx, query, topK)
		if err != nil {
			r.logger.Debug("semantic search failed; falling back to keyword", zap.Error(err))
		} else if len(results) > 0 {
			return &models.SearchResponse{Mode: models.ModeSemantic, Results: results}, nil
		}
	}
	return r.keyword(ctx, query, topK)
}

func (r *Router) semantic(ctx context.Context, query string, topK int) ([]*models.SearchResult, error) {
	if r.embedder == nil {
		return nil, errors.New("no query embedder")
	}
	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()
	qvec, err := r.embedder.Embed(embedCtx, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.manager.Search(ctx, qvec, topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scoreByID[h.ID] = h.Score
	}
	// Liveness re-check: ids deleted since indexing are simply absent here.
	chunks, err := r.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	titles := make(map[string]string)
	results := make([]*models.SearchResult, 0, len(chunks))
	for _, ch := range chunks {
		title, ok := titles[ch.DocumentID]
		if !ok {
			doc, err := r.store.GetDocument(ctx, ch.DocumentID)
			if err != nil {
				continue
			}
			title = doc.Title
			titles[ch.DocumentID] = title
		}
		score := scoreByID[ch.ID]
		results = append(results, &models.SearchResult{
			ChunkID:    ch.ID,
			DocumentID: ch.DocumentID,
			Title:      title,
			Snippet:    utils.TruncateRunes(ch.Content, r.snippetMax),
			Score:      &score,
		})
	}
	return results, nil
}

func (r *Router) keyword(ctx context.Context, query string, topK int) (*models.SearchResponse, error) {
	matches, err := r.store.FindChunksContaining(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	results := make([]*models.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, &models.SearchResult{
			ChunkID:    m.ID,
			DocumentID: m.DocumentID,
			Title:      m.Title,
			Snippet:    utils.TruncateRunes(m.Content, r.snippetMax),
		})
	}
	return &models.SearchResponse{Mode: models.ModeKeyword, Results: results}, nil
}
