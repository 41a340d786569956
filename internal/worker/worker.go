// Package worker implements the background embedding worker: a cross-process
// leader-elected loop that claims pending/failed records, encodes them, and
// updates the store and index. The loop takes its cancellation from the
// caller's context rather than owning a separate stop channel.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/embedder"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/index"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/kberrors"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

const leaseName = "embedding-worker"

// Config controls lease TTL, poll cadence, and batch size.
type Config struct {
	LeaseTTL     time.Duration
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// Worker is the embedding pipeline's background leader-elected loop.
type Worker struct {
	store    store.RecordStore
	embedder embedder.Embedder
	index    *index.Manager
	cfg      Config
	owner    string

	stats stats

	mu          sync.Mutex
	doneCh      chan struct{}
	nextRefresh time.Time
	haveLease   bool
}

// New builds a Worker with a process-unique lease owner string
// "{hostname}:{pid}:{uuid8}".
func New(s store.RecordStore, emb embedder.Embedder, idx *index.Manager, cfg Config) *Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	owner := fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.New().String()[:8])

	return &Worker{
		store:    s,
		embedder: emb,
		index:    idx,
		cfg:      cfg.withDefaults(),
		owner:    owner,
	}
}

// Owner returns this worker's lease owner identity.
func (w *Worker) Owner() string { return w.owner }

// Stats returns a point-in-time snapshot of the worker's counters.
func (w *Worker) Stats() StatsSnapshot { return w.stats.snapshot() }

// Pause stops the worker from claiming new batches while it keeps renewing
// its lease, so it doesn't hand leadership to a follower spuriously.
func (w *Worker) Pause() {
	w.stats.setPaused(true)
}

// Resume allows a paused worker to claim batches again.
func (w *Worker) Resume() {
	w.stats.setPaused(false)
}

// IsPaused reports the current pause state.
func (w *Worker) IsPaused() bool { return w.stats.isPaused() }

// Start runs the worker loop until ctx is canceled. It blocks; callers that
// want a background loop should run it in its own goroutine and use Stop
// (or direct ctx cancellation) to terminate it promptly.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.stats.setRunning(true)
	defer w.stats.setRunning(false)
	defer w.releaseLeaseBestEffort()
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollDelay())
	defer ticker.Stop()

	for {
		if err := w.runIteration(ctx); err != nil && ctx.Err() == nil {
			slog.Error("worker iteration failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels the loop via cancel and blocks up to timeout for it to exit,
// releasing its lease best-effort along the way (see Start's defer).
func (w *Worker) Stop(cancel context.CancelFunc, timeout time.Duration) {
	cancel()

	w.mu.Lock()
	done := w.doneCh
	w.mu.Unlock()
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("worker did not stop within timeout", slog.Duration("timeout", timeout))
	}
}

func (w *Worker) pollDelay() time.Duration {
	d := 2 * time.Second
	if w.cfg.PollInterval < d {
		d = w.cfg.PollInterval
	}
	return d
}

// runIteration performs one lease-then-batch iteration: leaders process a
// batch, followers sleep. This is the unit the loop ticks on.
func (w *Worker) runIteration(ctx context.Context) error {
	isLeader, err := w.ensureLeader(ctx)
	if err != nil {
		return err
	}
	if !isLeader {
		return nil
	}

	if w.IsPaused() {
		return nil
	}

	return w.processBatch(ctx)
}

// ensureLeader implements the lease protocol: reuse a locally known
// unexpired lease past half-TTL refresh, otherwise attempt to
// acquire-or-renew against the store.
func (w *Worker) ensureLeader(ctx context.Context) (bool, error) {
	w.mu.Lock()
	haveLease := w.haveLease
	nextRefresh := w.nextRefresh
	w.mu.Unlock()

	if haveLease && time.Now().Before(nextRefresh) {
		return true, nil
	}

	lease, acquired, err := w.store.AcquireLease(ctx, leaseName, w.owner, w.cfg.LeaseTTL)
	if err != nil {
		w.demoteToFollower()
		return false, err
	}
	if !acquired {
		w.demoteToFollower()
		return false, nil
	}

	half := w.cfg.LeaseTTL / 2
	if half < time.Second {
		half = time.Second
	}

	w.mu.Lock()
	w.haveLease = true
	w.nextRefresh = time.Now().Add(half)
	w.mu.Unlock()

	slog.Debug("lease acquired", slog.String("owner", w.owner), slog.Time("expires_at", lease.ExpiresAt))
	return true, nil
}

func (w *Worker) demoteToFollower() {
	w.mu.Lock()
	w.haveLease = false
	w.mu.Unlock()
}

func (w *Worker) releaseLeaseBestEffort() {
	w.mu.Lock()
	held := w.haveLease
	w.mu.Unlock()
	if !held {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.store.ReleaseLease(ctx, leaseName, w.owner); err != nil {
		slog.Warn("failed to release lease on shutdown", slog.String("error", err.Error()))
	}
}

// processBatch claims up to BatchSize pending records oldest-first, then
// runs the same pipeline over failed records as a retry pass.
func (w *Worker) processBatch(ctx context.Context) error {
	pending, err := w.store.ListPending(ctx, nil, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	processed, succeeded, failed := w.processRecords(ctx, pending)

	failedRecords, err := w.store.ListFailed(ctx, nil, w.cfg.BatchSize)
	if err != nil {
		slog.Warn("retry pass: list failed failed", slog.String("error", err.Error()))
	} else {
		p2, s2, f2 := w.processRecords(ctx, failedRecords)
		processed += p2
		succeeded += s2
		failed += f2
	}

	if processed > 0 {
		w.stats.recordBatch(processed, succeeded, failed)
		slog.Info("embedding batch complete",
			slog.Int("processed", processed), slog.Int("succeeded", succeeded), slog.Int("failed", failed))
	}
	return nil
}

// processRecords runs the per-record embedding pipeline over recs in order,
// continuing past individual encoder failures.
func (w *Worker) processRecords(ctx context.Context, recs []*store.Record) (processed, succeeded, failed int) {
	for _, rec := range recs {
		if err := w.processOne(ctx, rec); err != nil {
			slog.Warn("record embedding failed", slog.String("record_id", rec.ID), slog.String("kind", string(rec.Kind)), slog.String("error", err.Error()))
			failed++
		} else {
			succeeded++
		}
		processed++
	}
	return processed, succeeded, failed
}

// processOne steps a single record through pending/failed -> processing ->
// embedded|failed, retrying store commits that hit a busy/locked database
// per kberrors.StoreBusyRetryConfig (base 0.1s, factor 2, up to 8 attempts).
func (w *Worker) processOne(ctx context.Context, rec *store.Record) error {
	retryCfg := kberrors.StoreBusyRetryConfig()

	setStatus := func(status store.EmbeddingStatus) error {
		return kberrors.Retry(ctx, retryCfg, func() error {
			err := w.store.SetStatus(ctx, rec.ID, rec.Kind, status)
			if err != nil && store.IsBusy(err) {
				return kberrors.TransientStoreError(err)
			}
			return err
		})
	}

	if err := setStatus(store.StatusProcessing); err != nil {
		return fmt.Errorf("set processing: %w", err)
	}

	content := embeddingContent(rec)
	vec, err := w.embedder.EncodeSingle(ctx, content)
	if err != nil {
		if setErr := setStatus(store.StatusFailed); setErr != nil {
			slog.Warn("failed to flush failed status", slog.String("record_id", rec.ID), slog.String("error", setErr.Error()))
		}
		return kberrors.ProviderError(kberrors.CodeEncodingFailed, "encode record", err)
	}

	err = kberrors.Retry(ctx, retryCfg, func() error {
		err := w.store.UpsertEmbedding(ctx, rec.ID, rec.Kind, vec, w.embedder.ModelVersion())
		if err != nil && store.IsBusy(err) {
			return kberrors.TransientStoreError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	if err := setStatus(store.StatusEmbedded); err != nil {
		return fmt.Errorf("set embedded: %w", err)
	}

	// Best-effort: a failure here doesn't revert the status. The next
	// rebuild reconciles the index against the embeddings table.
	if err := w.index.Add([]string{rec.ID}, []store.Kind{rec.Kind}, [][]float32{vec}); err != nil {
		slog.Warn("index add failed after embedding committed", slog.String("record_id", rec.ID), slog.String("error", err.Error()))
	}

	return nil
}

// embeddingContent builds the text handed to the embedder: title+body for
// experiences, title+summary+body for skills (Summary carries the skill's
// short description field).
func embeddingContent(rec *store.Record) string {
	if rec.Kind == store.KindSkill && rec.Summary != "" {
		return rec.Title + "\n\n" + rec.Summary + "\n\n" + rec.Body
	}
	return rec.Title + "\n\n" + rec.Body
}
