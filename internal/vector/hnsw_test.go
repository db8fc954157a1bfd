package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestHNSWIndex_addSearch(t *testing.T) {
	idx, err := NewHNSWIndex(4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	ids := []string{"a", "b", "c"}
	vecs := [][]float32{unit(4, 0), unit(4, 1), unit(4, 2)}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx.Size() != 3 {
		t.Errorf("size = %d, want 3", idx.Size())
	}

	results, err := idx.Search(ctx, unit(4, 1), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("results = %+v, want b", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want ~1 for identical unit vector", results[0].Score)
	}
}

func TestHNSWIndex_removeIsLazy(t *testing.T) {
	idx, _ := NewHNSWIndex(4)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"a", "b"}, [][]float32{unit(4, 0), unit(4, 1)})

	if err := idx.Remove(ctx, []string{"a"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("size = %d, want 1", idx.Size())
	}
	results, err := idx.Search(ctx, unit(4, 0), 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == "a" {
			t.Error("orphaned id still returned")
		}
	}
}

func TestHNSWIndex_readdAfterRemove(t *testing.T) {
	idx, _ := NewHNSWIndex(4)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"a"}, [][]float32{unit(4, 0)})
	_ = idx.Remove(ctx, []string{"a"})
	if err := idx.Add(ctx, []string{"a"}, [][]float32{unit(4, 2)}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	results, err := idx.Search(ctx, unit(4, 2), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("results = %+v, want a", results)
	}
}

func TestHNSWIndex_saveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.hnsw")
	ctx := context.Background()

	idx, _ := NewHNSWIndex(4)
	_ = idx.Add(ctx, []string{"a", "b", "c"}, [][]float32{unit(4, 0), unit(4, 1), unit(4, 2)})
	_ = idx.Remove(ctx, []string{"c"})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _ := NewHNSWIndex(4)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != 2 {
		t.Errorf("size = %d, want 2", loaded.Size())
	}
	results, err := loaded.Search(ctx, unit(4, 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("results = %+v, want b", results)
	}
}

func TestHNSWIndex_loadMissingImage(t *testing.T) {
	idx, _ := NewHNSWIndex(4)
	if err := idx.Load(filepath.Join(t.TempDir(), "nope.hnsw")); err != nil {
		t.Errorf("missing image should not error, got %v", err)
	}
}

func TestHNSWIndex_loadMissingMetaIsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.hnsw")
	ctx := context.Background()

	idx, _ := NewHNSWIndex(4)
	_ = idx.Add(ctx, []string{"a"}, [][]float32{unit(4, 0)})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path + ".meta"); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewHNSWIndex(4)
	if err := loaded.Load(path); err == nil {
		t.Error("expected error when image exists but meta is missing")
	}
}
