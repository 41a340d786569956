// Package index implements the nearest-neighbor index manager: a
// coder/hnsw graph with a persisted bidirectional mapping to
// (record_id, kind, model_version) and a true tombstone set rather than
// lazy, unpersisted orphaning.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/config"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/kberrors"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

// Entity identifies what an internal vector id maps to.
type Entity struct {
	RecordID     string
	Kind         store.Kind
	ModelVersion string
}

type entityKey struct {
	RecordID string
	Kind     store.Kind
}

// Manager owns the in-memory ANN structure and its persisted mapping,
// behind a single-writer/multi-reader facade.
type Manager struct {
	mu sync.RWMutex

	graph *hnsw.Graph[uint64]
	cfg   config.IndexConfig

	modelVersion string

	idToEntity map[uint64]Entity
	liveByKey  map[entityKey][]uint64 // live (non-tombstoned) internal ids for (record, kind)
	tombstones map[uint64]struct{}

	nextID uint64

	unsavedMutations int
}

// New constructs an empty Manager for the given dimension/model version.
func New(cfg config.IndexConfig, modelVersion string) *Manager {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if cfg.M > 0 {
		graph.M = cfg.M
	}
	if cfg.EfSearch > 0 {
		graph.EfSearch = cfg.EfSearch
	}
	graph.Ml = 0.25

	return &Manager{
		graph:        graph,
		cfg:          cfg,
		modelVersion: modelVersion,
		idToEntity:   make(map[uint64]Entity),
		liveByKey:    make(map[entityKey][]uint64),
		tombstones:   make(map[uint64]struct{}),
	}
}

const dimensionTolerance = 1e-3

func isUnitNorm(v []float32) bool {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	return math.Abs(norm-1) <= dimensionTolerance
}

// Add appends vectors, assigns monotonically increasing internal ids, and
// updates the bidirectional mapping. All three slices must have equal
// length.
func (m *Manager) Add(recordIDs []string, kinds []store.Kind, vectors [][]float32) error {
	if len(recordIDs) != len(kinds) || len(recordIDs) != len(vectors) {
		return kberrors.ProviderError(kberrors.CodeIndexError, "add: mismatched slice lengths", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range vectors {
		if len(v) != m.cfg.Dimensions {
			return kberrors.ProviderError(kberrors.CodeDimensionMismatch, "add: vector dimension mismatch", nil).
				WithDetail("expected", fmt.Sprintf("%d", m.cfg.Dimensions)).
				WithDetail("got", fmt.Sprintf("%d", len(v)))
		}
		if !isUnitNorm(v) {
			return kberrors.ProviderError(kberrors.CodeIndexError, "add: vector is not unit-normalized", nil)
		}
	}

	for i, recordID := range recordIDs {
		kind := kinds[i]
		key := entityKey{RecordID: recordID, Kind: kind}

		// A new vector for the same (record, kind) supersedes existing live
		// mappings: tombstone them first so the at-most-one-live invariant
		// holds without requiring graph-level deletion.
		for _, oldID := range m.liveByKey[key] {
			m.tombstones[oldID] = struct{}{}
		}
		delete(m.liveByKey, key)

		id := m.nextID
		m.nextID++

		node := hnsw.MakeNode(id, vectors[i])
		m.graph.Add(node)

		m.idToEntity[id] = Entity{RecordID: recordID, Kind: kind, ModelVersion: m.modelVersion}
		m.liveByKey[key] = append(m.liveByKey[key], id)
	}

	m.unsavedMutations += len(recordIDs)
	return nil
}

// Search runs ANN search requesting headroom over tombstoned/mismatched
// candidates, and returns scores (cosine similarity, [-1, 1]) and internal
// ids in descending score order.
func (m *Manager) Search(q []float32, topK int, kind *store.Kind) ([]float32, []uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(q) != m.cfg.Dimensions {
		return nil, nil, kberrors.ProviderError(kberrors.CodeDimensionMismatch, "search: query dimension mismatch", nil)
	}
	if m.graph.Len() == 0 || topK <= 0 {
		return nil, nil, nil
	}

	headroom := topK + len(m.tombstones)
	if headroom > m.graph.Len() {
		headroom = m.graph.Len()
	}

	nodes := m.graph.Search(q, headroom)

	scores := make([]float32, 0, topK)
	ids := make([]uint64, 0, topK)
	for _, node := range nodes {
		if _, dead := m.tombstones[node.Key]; dead {
			continue
		}
		ent, ok := m.idToEntity[node.Key]
		if !ok {
			continue
		}
		if kind != nil && ent.Kind != *kind {
			continue
		}

		dist := m.graph.Distance(q, node.Value)
		cosineSim := 1 - dist // coder/hnsw CosineDistance returns 1 - cosine similarity

		scores = append(scores, cosineSim)
		ids = append(ids, node.Key)

		if len(ids) >= topK {
			break
		}
	}

	return scores, ids, nil
}

// Tombstone marks all live internal ids for (recordID, kind) as deleted.
// Idempotent.
func (m *Manager) Tombstone(recordID string, kind store.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{RecordID: recordID, Kind: kind}
	for _, id := range m.liveByKey[key] {
		m.tombstones[id] = struct{}{}
	}
	delete(m.liveByKey, key)
	m.unsavedMutations++
}

// GetEntity returns the mapping for an internal id, or ok=false.
func (m *Manager) GetEntity(id uint64) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.idToEntity[id]
	return ent, ok
}

// ModelVersion reports the model version the live contents were built
// against. Switching models invalidates all mappings (callers must rebuild).
func (m *Manager) ModelVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modelVersion
}

// Len reports the number of live (record, kind) pairs.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.liveByKey)
}

// RebuildFromEmbeddings clears the mapping table, creates a fresh ANN
// structure, and iterates all embeddings matching the current model
// version, re-adding them in deterministic (kind, record_id) order.
func (m *Manager) RebuildFromEmbeddings(ctx context.Context, s store.RecordStore) error {
	rows, err := s.ListEmbeddings(ctx, m.ModelVersion())
	if err != nil {
		return kberrors.ProviderError(kberrors.CodeIndexError, "rebuild: list embeddings", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].RecordID < rows[j].RecordID
	})

	m.mu.Lock()
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if m.cfg.M > 0 {
		graph.M = m.cfg.M
	}
	if m.cfg.EfSearch > 0 {
		graph.EfSearch = m.cfg.EfSearch
	}
	graph.Ml = 0.25

	m.graph = graph
	m.idToEntity = make(map[uint64]Entity)
	m.liveByKey = make(map[entityKey][]uint64)
	m.tombstones = make(map[uint64]struct{})
	m.nextID = 0
	m.unsavedMutations = 0
	m.mu.Unlock()

	for _, row := range rows {
		if err := m.Add([]string{row.RecordID}, []store.Kind{row.Kind}, [][]float32{row.Vector}); err != nil {
			return err
		}
	}

	return nil
}

// ShouldRebuildInsteadOfSave reports whether unsaved mutations have crossed
// the fragmentation-bounding threshold, in which case a full rebuild should
// run instead of an incremental save.
func (m *Manager) ShouldRebuildInsteadOfSave() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.RebuildThreshold > 0 && m.unsavedMutations >= m.cfg.RebuildThreshold
}

// ShouldSaveNow applies the configured save policy against the mutation
// counter. Callers call this after each Add/Tombstone.
func (m *Manager) ShouldSaveNow() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.cfg.SavePolicy {
	case config.SavePolicyOnEveryMutation:
		return m.unsavedMutations > 0
	case config.SavePolicyEveryN:
		n := m.cfg.SaveEveryN
		if n <= 0 {
			n = 1
		}
		return m.unsavedMutations >= n
	default: // on_shutdown
		return false
	}
}

// MarkSaved resets the unsaved-mutation counter after a successful save.
func (m *Manager) MarkSaved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsavedMutations = 0
}
