package worker

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/config"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/embedder"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/index"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedPending(t *testing.T, s *store.SQLiteStore, id string, kind store.Kind, title, body string) {
	t.Helper()
	_, err := s.DB().Exec(
		`INSERT INTO records (id, kind, title, body, category_code, embedding_status, updated_at) VALUES (?, ?, ?, ?, 'OPS', 'pending', CURRENT_TIMESTAMP)`,
		id, string(kind), title, body)
	require.NoError(t, err)
}

func seedFailed(t *testing.T, s *store.SQLiteStore, id string, kind store.Kind, title, body string) {
	t.Helper()
	_, err := s.DB().Exec(
		`INSERT INTO records (id, kind, title, body, category_code, embedding_status, updated_at) VALUES (?, ?, ?, ?, 'OPS', 'failed', CURRENT_TIMESTAMP)`,
		id, string(kind), title, body)
	require.NoError(t, err)
}

func testWorker(t *testing.T, s *store.SQLiteStore) *Worker {
	t.Helper()
	emb := embedder.NewStatic(8)
	idx := index.New(config.IndexConfig{Dimensions: 8, M: 16, EfSearch: 20}, emb.ModelVersion())
	return New(s, emb, idx, Config{LeaseTTL: time.Second, PollInterval: 50 * time.Millisecond, BatchSize: 10})
}

func TestEmbeddingContentJoinsThreeFieldsForSkills(t *testing.T) {
	rec := &store.Record{
		Kind:    store.KindSkill,
		Title:   "retry with backoff",
		Summary: "exponential backoff helper",
		Body:    "wraps a function call with jittered retries",
	}
	got := embeddingContent(rec)
	assert.Equal(t, "retry with backoff\n\nexponential backoff helper\n\nwraps a function call with jittered retries", got)
}

func TestEmbeddingContentJoinsTwoFieldsForExperiences(t *testing.T) {
	rec := &store.Record{
		Kind:  store.KindExperience,
		Title: "deploy service",
		Body:  "run the deploy script",
	}
	got := embeddingContent(rec)
	assert.Equal(t, "deploy service\n\nrun the deploy script", got)
}

func TestEmbeddingContentFallsBackForSkillWithNoSummary(t *testing.T) {
	rec := &store.Record{
		Kind:  store.KindSkill,
		Title: "title only",
		Body:  "body text",
	}
	got := embeddingContent(rec)
	assert.Equal(t, "title only\n\nbody text", got)
}

func TestOwnerHasHostPidUUIDShape(t *testing.T) {
	s := newTestStore(t)
	w := testWorker(t, s)
	assert.Contains(t, w.Owner(), ":")

	parts := strings.Split(w.Owner(), ":")
	require.Len(t, parts, 3, "owner is host:pid:uuid8")
	assert.Equal(t, strconv.Itoa(os.Getpid()), parts[1])
	assert.Len(t, parts[2], 8)
}

func TestProcessBatchEmbedsPendingRecord(t *testing.T) {
	s := newTestStore(t)
	w := testWorker(t, s)
	ctx := context.Background()

	seedPending(t, s, "E1", store.KindExperience, "deploy service", "run the deploy script")

	require.NoError(t, w.processBatch(ctx))

	rec, err := s.GetRecord(ctx, "E1", store.KindExperience)
	require.NoError(t, err)
	assert.Equal(t, store.StatusEmbedded, rec.EmbeddingStatus)

	snap := w.Stats()
	assert.Equal(t, 1, snap.TotalProcessed)
	assert.Equal(t, 1, snap.TotalSucceeded)
	assert.Equal(t, 1, w.index.Len())
}

func TestProcessBatchRetriesFailedRecords(t *testing.T) {
	s := newTestStore(t)
	w := testWorker(t, s)
	ctx := context.Background()

	seedFailed(t, s, "E1", store.KindExperience, "retry me", "body text")

	require.NoError(t, w.processBatch(ctx))

	rec, err := s.GetRecord(ctx, "E1", store.KindExperience)
	require.NoError(t, err)
	assert.Equal(t, store.StatusEmbedded, rec.EmbeddingStatus)
}

func TestEnsureLeaderAcquiresAndReusesLease(t *testing.T) {
	s := newTestStore(t)
	w := testWorker(t, s)
	ctx := context.Background()

	isLeader, err := w.ensureLeader(ctx)
	require.NoError(t, err)
	assert.True(t, isLeader)

	// Within half-TTL, a second call reuses the locally cached lease without
	// a second store round trip; reusing concurrently-held state is the
	// point under test, so we just assert it still reports leadership.
	isLeader, err = w.ensureLeader(ctx)
	require.NoError(t, err)
	assert.True(t, isLeader)
}

func TestEnsureLeaderBacksOffToFollowerWhenHeldElsewhere(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, acquired, err := s.AcquireLease(ctx, leaseName, "other-owner:1:aaaaaaaa", 10*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	w := testWorker(t, s)
	isLeader, err := w.ensureLeader(ctx)
	require.NoError(t, err)
	assert.False(t, isLeader)
}

func TestPauseSkipsBatchProcessing(t *testing.T) {
	s := newTestStore(t)
	w := testWorker(t, s)
	ctx := context.Background()
	seedPending(t, s, "E1", store.KindExperience, "title", "body")

	w.Pause()
	require.NoError(t, w.runIteration(ctx))

	rec, err := s.GetRecord(ctx, "E1", store.KindExperience)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, rec.EmbeddingStatus, "paused worker must not claim records")
}

func TestStartStopTerminatesPromptly(t *testing.T) {
	s := newTestStore(t)
	w := testWorker(t, s)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	w.Stop(cancel, time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
