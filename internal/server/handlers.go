package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/config"
	"github.com/hyperjump/bunko/internal/ingest"
	"github.com/hyperjump/bunko/internal/search"
	"github.com/hyperjump/bunko/internal/storage"
)

const maxUploadBytes = 50 << 20 // 50 MiB

// authorize checks the admin token against the X-Admin-Token header, the
// `password` query parameter, and any password extracted from the request
// body. Comparison is constant-time. Writes the error response on failure.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, bodyPassword string) bool {
	token := s.cfg.Server.AdminToken
	if token == "" {
		s.respondError(w, http.StatusForbidden, "admin token not configured")
		return false
	}
	for _, candidate := range []string{
		r.Header.Get("X-Admin-Token"),
		r.URL.Query().Get("password"),
		bodyPassword,
	} {
		if candidate == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return true
		}
	}
	s.respondError(w, http.StatusUnauthorized, "unauthorized")
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	resp := map[string]interface{}{
		"documents":         docCount,
		"chunks":            chunkCount,
		"index_state":       string(s.manager.State()),
		"vector_index_size": s.manager.Size(),
		"config": map[string]interface{}{
			"vector_index_type":    s.manager.IndexType(),
			"embedding_provider":   s.cfg.Embedding.Provider,
			"embedding_dimensions": s.cfg.Embedding.Dimensions,
			"chunk_size":           s.cfg.Chunking.ChunkSize,
			"chunk_overlap":        s.cfg.Chunking.ChunkOverlap,
			"database_path":        s.cfg.Storage.DatabasePath,
			"vector_index_path":    s.cfg.Storage.VectorIndexPath,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.cfg.Storage.DatabasePath,
		s.cfg.Storage.VectorIndexPath,
		s.cfg.Storage.VectorIndexPath+".meta",
		s.cfg.Storage.UploadDir,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	docs, err := s.storage.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("get document failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	content, err := s.storage.ReconstructContent(r.Context(), id)
	if err != nil {
		s.logger.Error("reconstruct content failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"document": doc,
		"content":  content,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		TopK    int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.router.Search(r.Context(), req.Message, req.TopK)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			s.respondError(w, http.StatusBadRequest, "message is required")
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "search error")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if !s.authorize(w, r, r.FormValue("password")) {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "read upload failed")
		return
	}
	if len(content) > maxUploadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	// Keep a copy of the original under the upload directory.
	if dir := s.cfg.Storage.UploadDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err == nil {
			saved := filepath.Join(dir, uuid.New().String()+"_"+filepath.Base(header.Filename))
			if err := os.WriteFile(saved, content, 0600); err != nil {
				s.logger.Warn("failed to save upload copy", zap.Error(err))
			}
		}
	}

	res, err := s.ingest.CreateFromFile(r.Context(), filepath.Base(header.Filename), content)
	if err != nil {
		s.logger.Error("upload ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "ingest error")
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleAddText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.authorize(w, r, req.Password) {
		return
	}
	res, err := s.ingest.CreateFromText(r.Context(), req.Title, req.Content)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyContent) {
			s.respondError(w, http.StatusBadRequest, "content is required")
			return
		}
		s.logger.Error("text ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "ingest error")
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Content  string `json:"content"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.authorize(w, r, req.Password) {
		return
	}
	res, err := s.ingest.Append(r.Context(), id, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrEmptyContent):
			s.respondError(w, http.StatusBadRequest, "content is required")
		case errors.Is(err, storage.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "document not found")
		default:
			s.logger.Error("append failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "ingest error")
		}
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "") {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetDocument(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("get document failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if err := s.ingest.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "") {
		return
	}
	s.ingest.Reindex()
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "reindexing"})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req struct {
		Path     string `json:"path"`
		Sync     *bool  `json:"sync,omitempty"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.authorize(w, r, req.Password) {
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "watch error")
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	if !s.authorize(w, r, "") {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "watch error")
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	s.cfg.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.cfg)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
