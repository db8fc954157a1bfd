package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/chunker"
	"github.com/hyperjump/bunko/internal/config"
	"github.com/hyperjump/bunko/internal/embedding"
	"github.com/hyperjump/bunko/internal/extract"
	"github.com/hyperjump/bunko/internal/index"
	"github.com/hyperjump/bunko/internal/ingest"
	"github.com/hyperjump/bunko/internal/models"
	"github.com/hyperjump/bunko/internal/search"
	"github.com/hyperjump/bunko/internal/storage"
)

const testToken = "sesame"

type testServer struct {
	srv     *Server
	handler http.Handler
	store   storage.Storage
	manager *index.Manager
	ingest  *ingest.Service
}

// newTestServer wires a full server against sqlite, the mock embedder, and an
// in-memory vector index. embedder=false simulates the degraded keyword-only
// deployment.
func newTestServer(t *testing.T, adminToken string, withEmbedder bool) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var emb embedding.Embedder
	if withEmbedder {
		emb = embedding.NewMockEmbedder(16)
	}
	manager := index.NewManager(store, emb, "memory", filepath.Join(dir, "index.bin"), 64, zap.NewNop())
	manager.Start(context.Background())
	t.Cleanup(func() { manager.Close() })

	ch, _ := chunker.New(200, 40)
	svc := ingest.NewService(store, ch, extract.NewExtractor(), manager, zap.NewNop())
	router := search.NewRouter(store, manager, emb, 900, time.Second, zap.NewNop())

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.AdminToken = adminToken
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "index.bin")

	srv := NewServer(router, svc, store, manager, nil, cfg, "", zap.NewNop())
	return &testServer{srv: srv, handler: srv.Handler(), store: store, manager: manager, ingest: svc}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func adminHeader() map[string]string {
	return map[string]string{"X-Admin-Token": testToken}
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleAddText_unauthorized(t *testing.T) {
	ts := newTestServer(t, testToken, true)

	rec := ts.do(t, http.MethodPost, "/api/text",
		map[string]string{"title": "t", "content": "c"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/text",
		map[string]string{"title": "t", "content": "c", "password": "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", rec.Code)
	}
}

func TestHandleAddText_noTokenConfigured(t *testing.T) {
	ts := newTestServer(t, "", true)
	rec := ts.do(t, http.MethodPost, "/api/text",
		map[string]string{"title": "t", "content": "c", "password": "anything"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandleAddText(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	rec := ts.do(t, http.MethodPost, "/api/text",
		map[string]string{"title": "Note", "content": "hello bunko"}, adminHeader())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res models.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.DocumentID == "" || res.Chunks != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleAddText_bodyPassword(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	rec := ts.do(t, http.MethodPost, "/api/text",
		map[string]string{"title": "Note", "content": "body auth", "password": testToken}, nil)
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}

func TestHandleAddText_emptyContent(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	rec := ts.do(t, http.MethodPost, "/api/text",
		map[string]string{"title": "Note", "content": "  "}, adminHeader())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChat_keywordFallbackWithoutEmbedder(t *testing.T) {
	ts := newTestServer(t, testToken, false)
	if _, err := ts.ingest.CreateFromText(context.Background(), "Fox", "the quick brown fox"); err != nil {
		t.Fatal(err)
	}
	ts.manager.Wait()

	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "brown fox"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeKeyword {
		t.Errorf("mode = %s, want keyword", resp.Mode)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(resp.Results))
	}
	if resp.Results[0].Score != nil {
		t.Error("keyword result should have no score")
	}
}

func TestHandleChat_semantic(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	if _, err := ts.ingest.CreateFromText(context.Background(), "Fox", "the quick brown fox"); err != nil {
		t.Fatal(err)
	}
	ts.manager.Wait()

	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "the quick brown fox"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeSemantic {
		t.Errorf("mode = %s, want semantic", resp.Mode)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	if resp.Results[0].Score == nil {
		t.Error("semantic result should carry a score")
	}
}

func TestHandleChat_emptyMessage(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "  "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGetDocument(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	res, err := ts.ingest.CreateFromText(context.Background(), "Doc", "some document body")
	if err != nil {
		t.Fatal(err)
	}
	ts.manager.Wait()

	rec := ts.do(t, http.MethodGet, "/api/docs/"+res.DocumentID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Document models.Document `json:"document"`
		Content  string          `json:"content"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Document.ID != res.DocumentID || body.Content != "some document body" {
		t.Errorf("body = %+v", body)
	}

	rec = ts.do(t, http.MethodGet, "/api/docs/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing doc: status = %d, want 404", rec.Code)
	}
}

func TestHandleListDocuments(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	for _, title := range []string{"one", "two"} {
		if _, err := ts.ingest.CreateFromText(context.Background(), title, "content "+title); err != nil {
			t.Fatal(err)
		}
	}
	ts.manager.Wait()

	rec := ts.do(t, http.MethodGet, "/api/docs", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Documents []models.Document `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Documents) != 2 {
		t.Errorf("documents = %d, want 2", len(body.Documents))
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	res, err := ts.ingest.CreateFromText(context.Background(), "Doomed", "goes away")
	if err != nil {
		t.Fatal(err)
	}
	ts.manager.Wait()

	rec := ts.do(t, http.MethodDelete, "/api/docs/"+res.DocumentID, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated delete: status = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/docs/"+res.DocumentID, nil, adminHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodDelete, "/api/docs/"+res.DocumentID, nil, adminHeader())
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
}

func TestHandleAppend(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	res, err := ts.ingest.CreateFromText(context.Background(), "Log", "first")
	if err != nil {
		t.Fatal(err)
	}
	ts.manager.Wait()

	rec := ts.do(t, http.MethodPost, "/api/append/"+res.DocumentID,
		map[string]string{"content": "second"}, adminHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/append/nope",
		map[string]string{"content": "x"}, adminHeader())
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing doc: status = %d, want 404", rec.Code)
	}
}

func TestHandleUpload(t *testing.T) {
	ts := newTestServer(t, testToken, true)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("uploaded file body")); err != nil {
		t.Fatal(err)
	}
	if err := mw.WriteField("password", testToken); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res models.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 || res.Note != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleReindex(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	rec := ts.do(t, http.MethodPost, "/api/reindex", nil, adminHeader())
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	ts.manager.Wait()
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	if _, err := ts.ingest.CreateFromText(context.Background(), "Doc", "status body"); err != nil {
		t.Fatal(err)
	}
	ts.manager.Wait()

	rec := ts.do(t, http.MethodGet, "/api/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["documents"].(float64) != 1 {
		t.Errorf("documents = %v", body["documents"])
	}
	if body["index_state"] != "ready" {
		t.Errorf("index_state = %v", body["index_state"])
	}
}

func TestHandleWatchRoutes_disabled(t *testing.T) {
	ts := newTestServer(t, testToken, true)
	rec := ts.do(t, http.MethodGet, "/api/watch/dirs", nil, nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}
