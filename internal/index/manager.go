// Package index owns the vector index lifecycle: loading the persisted image,
// rebuilding from storage, and serializing all mutations behind a single
// writer while searches proceed against the last-committed index.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/embedding"
	"github.com/hyperjump/bunko/internal/storage"
	"github.com/hyperjump/bunko/internal/vector"
)

// State is the index lifecycle state. Steady state is Ready; Unavailable is
// the first-class degraded mode entered when no embedding provider exists, in
// which all searches route to the keyword fallback.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateRebuilding    State = "rebuilding"
	StateReady         State = "ready"
	StateUnavailable   State = "unavailable"
)

// ErrNotReady is returned by Search when the index is not in the Ready state.
// Callers fall back to keyword search.
var ErrNotReady = errors.New("vector index not ready")

// ChunkText pairs a chunk id with its text for embedding jobs.
type ChunkText struct {
	ID   string
	Text string
}

// Manager owns a VectorIndex. All mutations (vector adds, removals, rebuilds)
// run on one worker goroutine and are additionally serialized by a mutation
// lock, so at most one writer proceeds at a time. Readers search the
// last-committed index concurrently; a rebuild swaps the whole index in under
// the read-write lock so a partially-built index is never observable.
type Manager struct {
	store     storage.Storage
	embedder  embedding.Embedder // nil means provider unavailable
	indexType string
	path      string
	batchSize int
	logger    *zap.Logger

	mu    sync.RWMutex // guards idx handle and state
	idx   vector.VectorIndex
	state State

	mutMu sync.Mutex // serializes mutations across worker and direct calls

	jobs    chan func(ctx context.Context)
	pending sync.WaitGroup
	done    chan struct{}
	started atomic.Bool

	closeMu sync.Mutex // serializes enqueue against Close
	closed  bool
}

// NewManager creates a manager. embedder may be nil, in which case the index
// is permanently Unavailable and searches use the keyword fallback. path is
// the persisted index image ("" disables persistence, for tests).
func NewManager(store storage.Storage, embedder embedding.Embedder, indexType, path string, batchSize int, logger *zap.Logger) *Manager {
	if batchSize <= 0 {
		batchSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		embedder:  embedder,
		indexType: indexType,
		path:      path,
		batchSize: batchSize,
		logger:    logger,
		state:     StateUninitialized,
		jobs:      make(chan func(ctx context.Context), 256),
		done:      make(chan struct{}),
	}
}

// Start launches the mutation worker. Jobs enqueued before Start are held in
// the queue and run once the worker is up.
func (m *Manager) Start(ctx context.Context) {
	if m.started.Swap(true) {
		return
	}
	go func() {
		defer close(m.done)
		for job := range m.jobs {
			job(ctx)
			m.pending.Done()
		}
	}()
}

// Close stops accepting jobs, waits for in-flight ones, and closes the index.
func (m *Manager) Close() error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	m.closeMu.Unlock()
	m.pending.Wait()
	close(m.jobs)
	if m.started.Load() {
		<-m.done
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx != nil {
		return m.idx.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether the index is in its steady state.
func (m *Manager) Ready() bool {
	return m.State() == StateReady
}

// Searchable reports whether a committed index exists to search against.
// True in Ready, and during a rebuild while the previous image still serves.
func (m *Manager) Searchable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx != nil && (m.state == StateReady || m.state == StateRebuilding)
}

// Size returns the number of indexed vectors, 0 when not ready.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.idx == nil {
		return 0
	}
	return m.idx.Size()
}

// IndexType returns the configured vector index type.
func (m *Manager) IndexType() string {
	return m.indexType
}

// Search runs a top-k query against the committed index. Returns ErrNotReady
// unless the state is Ready; callers must re-check returned chunk ids against
// storage, since a delete may race the lookup.
func (m *Manager) Search(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error) {
	m.mu.RLock()
	idx := m.idx
	state := m.state
	m.mu.RUnlock()
	if idx == nil || (state != StateReady && state != StateRebuilding) {
		return nil, ErrNotReady
	}
	return idx.Search(ctx, query, k)
}

// EnsureReady brings the index to Ready (or Unavailable): load the persisted
// image if it exists and parses, otherwise rebuild from storage. Idempotent;
// calling it twice with no intervening mutation changes nothing.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mutMu.Lock()
	defer m.mutMu.Unlock()
	return m.ensureReadyLocked(ctx)
}

func (m *Manager) ensureReadyLocked(ctx context.Context) error {
	switch m.State() {
	case StateReady, StateUnavailable:
		return nil
	}
	if m.embedder == nil {
		m.logger.Warn("embedding provider unavailable; running in keyword-only mode")
		m.setState(StateUnavailable)
		return nil
	}
	m.setState(StateLoading)

	if m.path != "" {
		if _, err := os.Stat(m.path); err == nil {
			idx, err := vector.New(m.indexType, m.embedder.Dimensions())
			if err != nil {
				m.setState(StateUninitialized)
				return err
			}
			if loadErr := idx.Load(m.path); loadErr == nil {
				m.swapIndex(idx)
				m.setState(StateReady)
				return nil
			} else {
				m.logger.Warn("index image corrupt; rebuilding from storage", zap.Error(loadErr))
				_ = idx.Close()
			}
		}
	}
	return m.rebuildLocked(ctx)
}

// rebuildLocked builds a fresh index from all chunks in storage, persists it,
// and swaps it in. Embedding failures skip the batch (those chunks stay
// reachable through keyword search only); storage failures abort.
func (m *Manager) rebuildLocked(ctx context.Context) error {
	m.setState(StateRebuilding)
	fresh, err := vector.New(m.indexType, m.embedder.Dimensions())
	if err != nil {
		m.restoreAfterFailedRebuild()
		return err
	}

	offset := 0
	for {
		chunks, err := m.store.ListChunks(ctx, offset, m.batchSize)
		if err != nil {
			m.restoreAfterFailedRebuild()
			_ = fresh.Close()
			return fmt.Errorf("list chunks for rebuild: %w", err)
		}
		if len(chunks) == 0 {
			break
		}
		ids := make([]string, len(chunks))
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
			texts[i] = ch.Content
		}
		vecs, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			m.logger.Warn("embedding batch failed during rebuild; batch skipped",
				zap.Int("offset", offset), zap.Int("batch", len(chunks)), zap.Error(err))
			offset += len(chunks)
			continue
		}
		if err := fresh.Add(ctx, ids, vecs); err != nil {
			m.restoreAfterFailedRebuild()
			_ = fresh.Close()
			return fmt.Errorf("add vectors during rebuild: %w", err)
		}
		offset += len(chunks)
	}

	if err := fresh.Save(m.path); err != nil {
		m.logger.Warn("failed to persist index image", zap.Error(err))
	}
	m.swapIndex(fresh)
	m.setState(StateReady)
	m.logger.Info("vector index ready",
		zap.String("type", fresh.Type()), zap.Int("vectors", fresh.Size()))
	return nil
}

func (m *Manager) swapIndex(idx vector.VectorIndex) {
	m.mu.Lock()
	old := m.idx
	m.idx = idx
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// restoreAfterFailedRebuild returns to Ready when a previous committed index
// still serves, otherwise back to Uninitialized so a later call can retry.
func (m *Manager) restoreAfterFailedRebuild() {
	m.mu.Lock()
	if m.idx != nil {
		m.state = StateReady
	} else {
		m.state = StateUninitialized
	}
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// enqueue submits a mutation job. Jobs are fire-and-forget: the caller gets
// no completion signal (use Wait in tests and at shutdown). The send happens
// under closeMu so Close can never close the channel between the closed check
// and the send.
func (m *Manager) enqueue(job func(ctx context.Context)) {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed {
		return
	}
	m.pending.Add(1)
	m.jobs <- job
}

// Wait blocks until all queued mutations have run.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// EnqueueAdd schedules embedding and indexing of the given chunks. Ingest
// callers return immediately; the chunks become vector-searchable once the
// job has run (they are keyword-searchable as soon as they are stored).
func (m *Manager) EnqueueAdd(pairs []ChunkText) {
	if len(pairs) == 0 {
		return
	}
	m.enqueue(func(ctx context.Context) {
		m.mutMu.Lock()
		defer m.mutMu.Unlock()
		if err := m.ensureReadyLocked(ctx); err != nil {
			m.logger.Error("index not ready for add", zap.Error(err))
			return
		}
		if m.State() != StateReady {
			return // unavailable: chunks stay keyword-only
		}
		m.addVectorsLocked(ctx, pairs)
	})
}

func (m *Manager) addVectorsLocked(ctx context.Context, pairs []ChunkText) {
	m.mu.RLock()
	idx := m.idx
	m.mu.RUnlock()
	for start := 0; start < len(pairs); start += m.batchSize {
		end := start + m.batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]
		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
			texts[i] = p.Text
		}
		vecs, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			m.logger.Warn("embedding batch failed; chunks left unindexed",
				zap.Int("batch", len(batch)), zap.Error(err))
			continue
		}
		if err := idx.Add(ctx, ids, vecs); err != nil {
			m.logger.Error("vector add failed", zap.Error(err))
			continue
		}
	}
	if err := idx.Save(m.path); err != nil {
		m.logger.Warn("failed to persist index image", zap.Error(err))
	}
}

// EnqueueRemove schedules removal of the given chunk ids from the index.
// Search correctness does not depend on it: deleted ids already fail the
// storage liveness re-check. Removal keeps the index and its image compact.
func (m *Manager) EnqueueRemove(chunkIDs []string) {
	if len(chunkIDs) == 0 {
		return
	}
	m.enqueue(func(ctx context.Context) {
		m.mutMu.Lock()
		defer m.mutMu.Unlock()
		if m.State() != StateReady {
			return
		}
		m.mu.RLock()
		idx := m.idx
		m.mu.RUnlock()
		if err := idx.Remove(ctx, chunkIDs); err != nil {
			m.logger.Error("vector remove failed", zap.Error(err))
			return
		}
		if err := idx.Save(m.path); err != nil {
			m.logger.Warn("failed to persist index image", zap.Error(err))
		}
	})
}

// EnqueueRebuild schedules a full rebuild from storage: the persisted image
// is dropped and the index reconstructed from the system of record. This is
// the universal recovery path (admin reindex, corruption) and the
// deletion-consistency backstop.
func (m *Manager) EnqueueRebuild() {
	m.enqueue(func(ctx context.Context) {
		m.mutMu.Lock()
		defer m.mutMu.Unlock()
		if m.embedder == nil {
			m.setState(StateUnavailable)
			return
		}
		if m.path != "" {
			_ = os.Remove(m.path)
			_ = os.Remove(m.path + ".meta")
		}
		if err := m.rebuildLocked(ctx); err != nil {
			m.logger.Error("index rebuild failed", zap.Error(err))
		}
	})
}
