package vector

import "testing"

func TestNew(t *testing.T) {
	cases := []struct {
		indexType string
		wantType  string
	}{
		{"", "memory"},
		{"memory", "memory"},
		{"hnsw", "hnsw"},
	}
	for _, tc := range cases {
		idx, err := New(tc.indexType, 8)
		if err != nil {
			t.Fatalf("New(%q): %v", tc.indexType, err)
		}
		if idx.Type() != tc.wantType {
			t.Errorf("New(%q).Type() = %q, want %q", tc.indexType, idx.Type(), tc.wantType)
		}
		idx.Close()
	}
}

func TestNew_unknownType(t *testing.T) {
	if _, err := New("faiss", 8); err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNew_invalidDimensions(t *testing.T) {
	if _, err := New("memory", 0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}
