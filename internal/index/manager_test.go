package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/config"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.IndexConfig{Dimensions: 3, M: 16, EfSearch: 20, SavePolicy: config.SavePolicyEveryN, SaveEveryN: 5}
	return New(cfg, "model-v1")
}

func unit(v ...float32) []float32 {
	return v
}

func TestAddRejectsDimensionMismatch(t *testing.T) {
	m := testManager(t)
	err := m.Add([]string{"E1"}, []store.Kind{store.KindExperience}, [][]float32{{1, 0}})
	require.Error(t, err)
}

func TestAddRejectsNonUnitVector(t *testing.T) {
	m := testManager(t)
	err := m.Add([]string{"E1"}, []store.Kind{store.KindExperience}, [][]float32{{2, 0, 0}})
	require.Error(t, err)
}

func TestSearchFindsAddedVector(t *testing.T) {
	m := testManager(t)
	require.NoError(t, m.Add(
		[]string{"E1", "E2"},
		[]store.Kind{store.KindExperience, store.KindExperience},
		[][]float32{unit(1, 0, 0), unit(0, 1, 0)},
	))

	scores, ids, err := m.Search(unit(1, 0, 0), 2, nil)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	ent, ok := m.GetEntity(ids[0])
	require.True(t, ok)
	assert.Equal(t, "E1", ent.RecordID)
	assert.InDelta(t, 1.0, scores[0], 1e-3)
}

func TestTombstoneExcludesFromSearch(t *testing.T) {
	m := testManager(t)
	require.NoError(t, m.Add([]string{"S1"}, []store.Kind{store.KindSkill}, [][]float32{unit(1, 0, 0)}))

	m.Tombstone("S1", store.KindSkill)

	_, ids, err := m.Search(unit(1, 0, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTombstoneIsIdempotent(t *testing.T) {
	m := testManager(t)
	require.NoError(t, m.Add([]string{"S1"}, []store.Kind{store.KindSkill}, [][]float32{unit(1, 0, 0)}))
	m.Tombstone("S1", store.KindSkill)
	m.Tombstone("S1", store.KindSkill)
	assert.Equal(t, 0, m.Len())
}

func TestReaddSupersedesPreviousLiveMapping(t *testing.T) {
	m := testManager(t)
	require.NoError(t, m.Add([]string{"E1"}, []store.Kind{store.KindExperience}, [][]float32{unit(1, 0, 0)}))
	require.NoError(t, m.Add([]string{"E1"}, []store.Kind{store.KindExperience}, [][]float32{unit(0, 1, 0)}))

	assert.Equal(t, 1, m.Len(), "at most one live mapping per (record_id, kind, model_version)")
}

type fakeStore struct {
	embeddings []*store.EmbeddingRow
}

func (f *fakeStore) GetRecord(ctx context.Context, id string, kind store.Kind) (*store.Record, error) { return nil, nil }
func (f *fakeStore) ListPending(ctx context.Context, kind *store.Kind, limit int) ([]*store.Record, error) { return nil, nil }
func (f *fakeStore) ListFailed(ctx context.Context, kind *store.Kind, limit int) ([]*store.Record, error) { return nil, nil }
func (f *fakeStore) SetStatus(ctx context.Context, id string, kind store.Kind, status store.EmbeddingStatus) error { return nil }
func (f *fakeStore) UpsertEmbedding(ctx context.Context, id string, kind store.Kind, vec []float32, modelVersion string) error { return nil }
func (f *fakeStore) ListEmbeddings(ctx context.Context, modelVersion string) ([]*store.EmbeddingRow, error) {
	return f.embeddings, nil
}
func (f *fakeStore) GetEmbedding(ctx context.Context, id string, kind store.Kind, modelVersion string) (*store.EmbeddingRow, error) {
	return nil, nil
}
func (f *fakeStore) SearchText(ctx context.Context, tokens []string, fullQuery string, kind *store.Kind, category *string, limit int) ([]*store.Record, error) {
	return nil, nil
}
func (f *fakeStore) FindByExactTitle(ctx context.Context, title string, kind store.Kind, category *string, excludeID string) ([]*store.Record, error) {
	return nil, nil
}
func (f *fakeStore) FindByTitleSubstring(ctx context.Context, title string, kind store.Kind, category *string, excludeID string) ([]*store.Record, error) {
	return nil, nil
}
func (f *fakeStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (*store.Lease, bool, error) {
	return nil, false, nil
}
func (f *fakeStore) GetLease(ctx context.Context, name string) (*store.Lease, error) { return nil, nil }
func (f *fakeStore) ReleaseLease(ctx context.Context, name, owner string) error       { return nil }
func (f *fakeStore) Close() error                                                    { return nil }

func TestRebuildFromEmbeddingsRestoresLiveSet(t *testing.T) {
	m := testManager(t)
	fs := &fakeStore{embeddings: []*store.EmbeddingRow{
		{RecordID: "E1", Kind: store.KindExperience, ModelVersion: "model-v1", Vector: unit(1, 0, 0)},
		{RecordID: "S1", Kind: store.KindSkill, ModelVersion: "model-v1", Vector: unit(0, 1, 0)},
	}}

	require.NoError(t, m.RebuildFromEmbeddings(context.Background(), fs))
	assert.Equal(t, 2, m.Len())
}

func TestShouldSaveNowRespectsEveryNPolicy(t *testing.T) {
	m := testManager(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Add([]string{"E" + string(rune('0'+i))}, []store.Kind{store.KindExperience}, [][]float32{unit(1, 0, 0)}))
	}
	assert.False(t, m.ShouldSaveNow())

	require.NoError(t, m.Add([]string{"E9"}, []store.Kind{store.KindExperience}, [][]float32{unit(1, 0, 0)}))
	assert.True(t, m.ShouldSaveNow())
}
