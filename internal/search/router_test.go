package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/embedding"
	"github.com/hyperjump/bunko/internal/index"
	"github.com/hyperjump/bunko/internal/models"
	"github.com/hyperjump/bunko/internal/storage"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("model crashed")
}

type fixture struct {
	store   storage.Storage
	manager *index.Manager
}

// newFixture builds a store and a ready index manager. emb may be nil for the
// degraded keyword-only setup.
func newFixture(t *testing.T, emb embedding.Embedder) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	manager := index.NewManager(store, emb, "memory", filepath.Join(dir, "vectors.bin"), 8, zap.NewNop())
	manager.Start(context.Background())
	t.Cleanup(func() {
		manager.Close()
		store.Close()
	})
	return &fixture{store: store, manager: manager}
}

func (f *fixture) seed(t *testing.T, title, content string) (docID, chunkID string) {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{ID: uuid.New().String(), Title: title}
	if err := f.store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	ids, err := f.store.ReplaceChunks(ctx, doc.ID, []string{content})
	if err != nil {
		t.Fatal(err)
	}
	return doc.ID, ids[0]
}

func TestSearch_emptyQuery(t *testing.T) {
	f := newFixture(t, nil)
	r := NewRouter(f.store, f.manager, nil, 900, time.Second, nil)
	if _, err := r.Search(context.Background(), "   ", 5); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestSearch_semantic(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	f := newFixture(t, emb)
	docID, chunkID := f.seed(t, "Kickoff notes", "the budget was approved at kickoff")
	ctx := context.Background()
	if err := f.manager.EnsureReady(ctx); err != nil {
		t.Fatal(err)
	}

	r := NewRouter(f.store, f.manager, emb, 900, time.Second, nil)
	resp, err := r.Search(ctx, "budget", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeSemantic {
		t.Fatalf("mode = %s", resp.Mode)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	got := resp.Results[0]
	if got.ChunkID != chunkID || got.DocumentID != docID {
		t.Errorf("ids: %+v", got)
	}
	if got.Title != "Kickoff notes" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Score == nil {
		t.Error("semantic result should carry a score")
	}
}

func TestSearch_keywordWhenIndexUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "Plan", "ship the release on friday")
	ctx := context.Background()
	_ = f.manager.EnsureReady(ctx)

	r := NewRouter(f.store, f.manager, nil, 900, time.Second, nil)
	resp, err := r.Search(ctx, "friday", 5)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeKeyword {
		t.Fatalf("mode = %s", resp.Mode)
	}
	if len(resp.Results) != 1 || resp.Results[0].Title != "Plan" {
		t.Fatalf("results: %+v", resp.Results)
	}
	if resp.Results[0].Score != nil {
		t.Error("keyword result must not carry a score")
	}
}

func TestSearch_fallbackOnEmbedFailure(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	f := newFixture(t, emb)
	f.seed(t, "Plan", "ship the release on friday")
	ctx := context.Background()
	if err := f.manager.EnsureReady(ctx); err != nil {
		t.Fatal(err)
	}

	r := NewRouter(f.store, f.manager, failingEmbedder{}, 900, time.Second, nil)
	resp, err := r.Search(ctx, "friday", 5)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeKeyword {
		t.Errorf("mode = %s, want keyword fallback", resp.Mode)
	}
	if len(resp.Results) != 1 {
		t.Errorf("got %d results", len(resp.Results))
	}
}

func TestSearch_deletedChunkDropsOut(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	f := newFixture(t, emb)
	docID, _ := f.seed(t, "Gone", "ephemeral content")
	ctx := context.Background()
	if err := f.manager.EnsureReady(ctx); err != nil {
		t.Fatal(err)
	}

	// Delete from storage but not from the index: the liveness re-check must
	// keep the stale id out of the results.
	if err := f.store.DeleteDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}

	r := NewRouter(f.store, f.manager, emb, 900, time.Second, nil)
	resp, err := r.Search(ctx, "ephemeral", 5)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeKeyword {
		t.Errorf("mode = %s, want keyword after stale semantic hit", resp.Mode)
	}
	if len(resp.Results) != 0 {
		t.Errorf("stale results: %+v", resp.Results)
	}
}

func TestSearch_snippetTruncation(t *testing.T) {
	f := newFixture(t, nil)
	long := "目印 " + strings.Repeat("長い文章です。", 100)
	f.seed(t, "Long", long)

	r := NewRouter(f.store, f.manager, nil, 50, time.Second, nil)
	resp, err := r.Search(context.Background(), "目印", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	snippet := resp.Results[0].Snippet
	if !strings.HasSuffix(snippet, "...") {
		t.Errorf("snippet not truncated: %q", snippet)
	}
	if !utf8.ValidString(snippet) {
		t.Errorf("snippet is not valid UTF-8")
	}
	if n := len([]rune(strings.TrimSuffix(snippet, "..."))); n != 50 {
		t.Errorf("snippet runes = %d, want 50", n)
	}
}
