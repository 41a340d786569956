// Package service assembles the subsystem's components from a config.Config
// into a single handle the CLI (and, eventually, an HTTP layer outside this
// core) can drive: each command used to construct its own store/embedder/
// index/orchestrator stack inline; this centralizes that construction once
// per process.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/config"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/dupe"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/embedder"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/index"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/orchestrator"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
	texthandler "github.com/tyouritsugun/curated-heuristic-loop/internal/provider/text"
	vectorprovider "github.com/tyouritsugun/curated-heuristic-loop/internal/provider/vector"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/reranker"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/worker"
)

// Service bundles the wired subsystem. Close releases the store; the index
// snapshot is saved by the caller via SaveIndex before Close if desired.
type Service struct {
	Config       config.Config
	Store        store.RecordStore
	Index        *index.Manager
	Embedder     embedder.Embedder
	Orchestrator *orchestrator.Orchestrator
	Dupe         *dupe.Probe
	Worker       *worker.Worker
}

// New opens the store, loads or rebuilds the index, and wires the
// orchestrator, duplicate probe, and embedding worker against the given
// embedder. rerank may be nil, in which case reranker.NoOp is passed to the
// vector provider.
func New(cfg config.Config, emb embedder.Embedder, rerank reranker.Reranker) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	idx := index.New(cfg.Index, emb.ModelVersion())
	if err := idx.Load(cfg.Index.SnapshotPath); err != nil {
		slog.Warn("index snapshot unavailable, rebuilding from embeddings", slog.String("error", err.Error()))
		if rebuildErr := idx.RebuildFromEmbeddings(context.Background(), s); rebuildErr != nil {
			_ = s.Close()
			return nil, fmt.Errorf("rebuild index: %w", rebuildErr)
		}
	}

	if rerank == nil {
		rerank = reranker.NoOp{}
	}

	cachedEmb := embedder.NewCached(emb, cfg.Search.EmbedCacheSize)

	vecProvider := vectorprovider.New(cachedEmb, idx, rerank, s, vectorprovider.Config{
		RetrieveBreadth: cfg.Search.TopKRetrieve,
		RerankFanIn:     cfg.Search.TopKRerank,
	})
	txtProvider := texthandler.New(s)

	orch, err := orchestrator.New(cfg.Search, s, vecProvider, txtProvider)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	probe := dupe.New(orch, dupe.Config{
		TimeoutMS:          cfg.Duplicate.TimeoutMS,
		RetrieveThreshold:  cfg.Duplicate.RetrieveThreshold,
		RecommendThreshold: cfg.Duplicate.RecommendThreshold,
	})

	w := worker.New(s, emb, idx, worker.Config{
		LeaseTTL:     cfg.Worker.LeaseTTL,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
	})

	return &Service{
		Config:       cfg,
		Store:        s,
		Index:        idx,
		Embedder:     emb,
		Orchestrator: orch,
		Dupe:         probe,
		Worker:       w,
	}, nil
}

// SaveIndex persists the ANN snapshot to its configured path.
func (svc *Service) SaveIndex() error {
	return svc.Index.Save(svc.Config.Index.SnapshotPath)
}

// Close closes the underlying store.
func (svc *Service) Close() error {
	return svc.Store.Close()
}

// Search runs a single-kind search through the orchestrator.
func (svc *Service) Search(ctx context.Context, q provider.SearchQuery) ([]provider.Result, error) {
	return svc.Orchestrator.Search(ctx, q)
}
