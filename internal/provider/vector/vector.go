// Package vector implements the query-time vector search pipeline: parse →
// encode → ANN search → dedup → optional rerank → category filter → top-k,
// with dimension-mismatch detection and a query-embedding cache from
// internal/embedder.Cached.
package vector

import (
	"context"
	"sort"
	"strings"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/embedder"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/index"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/kberrors"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/query"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/reranker"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

// Provider is the nearest-neighbor-backed search provider.
type Provider struct {
	embedder embedder.Embedder
	index    *index.Manager
	reranker reranker.Reranker
	store    store.RecordStore

	retrieveBreadth int // R, default 100
	rerankFanIn     int // K, default 40
}

type Config struct {
	RetrieveBreadth int
	RerankFanIn     int
}

func New(emb embedder.Embedder, idx *index.Manager, rr reranker.Reranker, s store.RecordStore, cfg Config) *Provider {
	r := cfg.RetrieveBreadth
	if r <= 0 {
		r = 100
	}
	k := cfg.RerankFanIn
	if k <= 0 {
		k = 40
	}
	return &Provider{embedder: emb, index: idx, reranker: rr, store: s, retrieveBreadth: r, rerankFanIn: k}
}

func (p *Provider) Name() provider.Name { return provider.NameVector }

// Available reports true whenever both an embedder and an index manager are
// configured. It does not probe the embedder and does not check whether the
// index was loaded from a snapshot or rebuilt.
func (p *Provider) Available(_ context.Context) bool {
	return p.embedder != nil && p.index != nil
}

type candidate struct {
	recordID string
	kind     store.Kind
	score    float64
	rec      *store.Record
}

func projectScore(cosine float32) float64 {
	s := (float64(cosine) + 1) / 2
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}

func (p *Provider) Search(ctx context.Context, q provider.SearchQuery) ([]provider.Result, error) {
	phrase, taskContext := query.Parse(q.Query)
	if strings.TrimSpace(phrase) == "" {
		return nil, kberrors.ValidationError(kberrors.CodeEmptyQuery, "query is empty after trim")
	}

	vec, err := p.embedder.EncodeSingle(ctx, phrase)
	if err != nil {
		return nil, kberrors.ProviderError(kberrors.CodeEncodingFailed, "encode query", err)
	}

	candidates, err := p.retrieve(vec, q.Kind)
	if err != nil {
		return nil, err
	}

	candidates = dedup(candidates)

	if p.reranker != nil && len(candidates) > 1 {
		candidates, err = p.rerank(ctx, reranker.Query{Search: phrase, Task: taskContext}, candidates)
		if err != nil {
			return nil, kberrors.ProviderError(kberrors.CodeRerankFailed, "rerank candidates", err)
		}
	}

	if q.Category != nil {
		candidates = filterCategory(candidates, *q.Category)
	}
	candidates = dedup(candidates)

	topK := q.TopK
	if topK > len(candidates) {
		topK = len(candidates)
	}
	candidates = candidates[:topK]

	return toResults(candidates, provider.ReasonSemanticMatch), nil
}

// retrieve runs D.search(v, R, kind), resolves ids to records, skipping
// tombstones and kind mismatches, and projects cosine scores into [0, 1].
func (p *Provider) retrieve(vec []float32, kind *store.Kind) ([]candidate, error) {
	scores, ids, err := p.index.Search(vec, p.retrieveBreadth, kind)
	if err != nil {
		return nil, kberrors.ProviderError(kberrors.CodeIndexError, "ann search", err)
	}

	out := make([]candidate, 0, len(ids))
	for i, id := range ids {
		ent, ok := p.index.GetEntity(id)
		if !ok {
			continue
		}
		if ent.Kind != store.KindExperience && ent.Kind != store.KindSkill {
			continue
		}

		rec, err := p.store.GetRecord(context.Background(), ent.RecordID, ent.Kind)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.EmbeddingStatus == store.StatusFailed {
			continue
		}

		out = append(out, candidate{
			recordID: ent.RecordID,
			kind:     ent.Kind,
			score:    projectScore(scores[i]),
			rec:      rec,
		})
	}
	return out, nil
}

// dedup keeps the highest-scoring candidate per (record_id, kind).
func dedup(cands []candidate) []candidate {
	best := make(map[store.Kind]map[string]candidate)
	for _, c := range cands {
		if best[c.kind] == nil {
			best[c.kind] = make(map[string]candidate)
		}
		if existing, ok := best[c.kind][c.recordID]; !ok || c.score > existing.score {
			best[c.kind][c.recordID] = c
		}
	}

	out := make([]candidate, 0, len(cands))
	for _, byID := range best {
		for _, c := range byID {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].recordID < out[j].recordID
	})
	return out
}

func documentFor(c candidate) string {
	if c.kind == store.KindExperience {
		return c.rec.Title + "\n" + c.rec.Body
	}
	if c.rec.Body != "" {
		return c.rec.Body
	}
	return c.rec.Title
}

func (p *Provider) rerank(ctx context.Context, q reranker.Query, cands []candidate) ([]candidate, error) {
	if len(cands) > p.rerankFanIn {
		cands = cands[:p.rerankFanIn]
	}

	docs := make([]string, len(cands))
	for i, c := range cands {
		docs[i] = documentFor(c)
	}

	scores, err := p.reranker.Rerank(ctx, q, docs)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(cands) {
		return nil, kberrors.ProviderError(kberrors.CodeRerankFailed, "reranker returned mismatched score count", nil)
	}

	for i := range cands {
		cands[i].score = scores[i]
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].recordID < cands[j].recordID
	})

	return cands, nil
}

func filterCategory(cands []candidate, category string) []candidate {
	out := cands[:0]
	for _, c := range cands {
		if c.rec.CategoryCode == category {
			out = append(out, c)
		}
	}
	return out
}

func toResults(cands []candidate, reason provider.Reason) []provider.Result {
	out := make([]provider.Result, len(cands))
	for i, c := range cands {
		out[i] = provider.Result{
			RecordID: c.recordID,
			Kind:     c.kind,
			Score:    c.score,
			Reason:   reason,
			Provider: provider.NameVector,
			Rank:     i,
			Title:    c.rec.Title,
			Summary:  c.rec.Summary,
		}
	}
	return out
}

// FindDuplicates follows the same pipeline as Search except: the query is
// title+body (experiences) or body (skills), below-threshold candidates are
// dropped before rerank, and results carry reason=semantic_duplicate.
func (p *Provider) FindDuplicates(ctx context.Context, q provider.DuplicateQuery) ([]provider.Result, error) {
	probeText := q.Body
	if q.Kind == store.KindExperience {
		probeText = q.Title + "\n" + q.Body
	}

	vec, err := p.embedder.EncodeSingle(ctx, probeText)
	if err != nil {
		return nil, kberrors.ProviderError(kberrors.CodeEncodingFailed, "encode duplicate probe", err)
	}

	kind := q.Kind
	candidates, err := p.retrieve(vec, &kind)
	if err != nil {
		return nil, err
	}
	candidates = dedup(candidates)

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.recordID == q.ExcludeID {
			continue
		}
		if q.Category != nil && c.rec.CategoryCode != *q.Category {
			continue
		}
		if c.score < q.Threshold {
			continue
		}
		filtered = append(filtered, c)
	}
	candidates = filtered

	if p.reranker != nil && len(candidates) > 1 {
		candidates, err = p.rerank(ctx, reranker.Query{Search: probeText, Task: probeText}, candidates)
		if err != nil {
			return nil, kberrors.ProviderError(kberrors.CodeRerankFailed, "rerank duplicates", err)
		}
	}
	candidates = dedup(candidates)

	return toResults(candidates, provider.ReasonSemanticDuplicate), nil
}

// RebuildIndex delegates to the index manager's rebuild-from-embeddings.
func (p *Provider) RebuildIndex(ctx context.Context) error {
	return p.index.RebuildFromEmbeddings(ctx, p.store)
}

var _ provider.SearchProvider = (*Provider)(nil)
