package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex is an approximate nearest-neighbor index backed by a pure-Go HNSW
// graph. Unlike the brute-force index it supports id-addressed point deletion,
// so document deletes do not force a full rebuild. The graph is keyed by
// uint64; a side mapping translates chunk ids, and is persisted next to the
// graph image in a ".meta" gob file.
type HNSWIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[string]uint64 // chunk id -> graph key
	keyMap  map[uint64]string // graph key -> chunk id
	nextKey uint64
}

// hnswMeta is the persisted id mapping.
type hnswMeta struct {
	Dimensions int
	IDMap      map[string]uint64
	NextKey    uint64
}

// NewHNSWIndex creates an empty HNSW index with the given dimension.
func NewHNSWIndex(dimensions int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return &HNSWIndex{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}, nil
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() string {
	return string(IndexTypeHNSW)
}

// Add inserts vectors by chunk id. Re-adding an existing id orphans the old
// graph node (lazy deletion) and inserts a fresh one; deleting nodes from the
// graph directly is avoided because it can break the graph when the last node
// is removed.
func (h *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != h.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), h.dimensions)
		}
		if oldKey, ok := h.idMap[id]; ok {
			delete(h.keyMap, oldKey)
			delete(h.idMap, id)
		}
		key := h.nextKey
		h.nextKey++
		vec := make([]float32, h.dimensions)
		copy(vec, vectors[i])
		h.graph.Add(hnsw.MakeNode(key, vec))
		h.idMap[id] = key
		h.keyMap[key] = id
	}
	return nil
}

// Search returns up to k nearest neighbors by descending similarity. Orphaned
// graph nodes (lazily deleted) are skipped.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != h.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), h.dimensions)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k <= 0 || h.graph.Len() == 0 {
		return nil, nil
	}
	// Over-fetch to compensate for orphans that will be filtered out.
	nodes := h.graph.Search(query, k+len(h.keyMap)/4+1)
	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue
		}
		// For unit vectors, inner product = 1 - cosine distance.
		dist := h.graph.Distance(query, node.Value)
		results = append(results, &VectorResult{ID: id, Score: 1 - float64(dist)})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Remove deletes vectors by chunk id. Lazy: the graph node is orphaned and
// excluded from results; graph compaction happens on the next full rebuild.
func (h *HNSWIndex) Remove(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		if key, ok := h.idMap[id]; ok {
			delete(h.keyMap, key)
			delete(h.idMap, id)
		}
	}
	return nil
}

// Save persists the graph image and the id-mapping side file, each written to
// a tmp file and renamed into place.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return h.saveMeta(path + ".meta")
}

func (h *HNSWIndex) saveMeta(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create meta file: %w", err)
	}
	meta := hnswMeta{Dimensions: h.dimensions, IDMap: h.idMap, NextKey: h.nextKey}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close meta file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load reads the graph image and id mapping from path. A missing image is not
// an error (the index stays empty); a present image with a missing or
// unreadable mapping is corruption and is reported so the manager rebuilds.
func (h *HNSWIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadMeta(path + ".meta"); err != nil {
		return err
	}
	// Import requires an io.ByteReader.
	if err := h.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (h *HNSWIndex) loadMeta(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open meta file: %w", err)
	}
	defer f.Close()
	var meta hnswMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return fmt.Errorf("decode meta: %w", err)
	}
	if meta.Dimensions != h.dimensions {
		return fmt.Errorf("dimension mismatch: meta has %d, index expects %d", meta.Dimensions, h.dimensions)
	}
	h.idMap = meta.IDMap
	h.nextKey = meta.NextKey
	h.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		h.keyMap[key] = id
	}
	return nil
}

// Size returns the number of live (non-orphaned) vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = nil
	return nil
}
