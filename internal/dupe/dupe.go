// Package dupe implements the write-path duplicate-detection probe: a
// bounded-time call into the orchestrator's FindDuplicates that never blocks
// the write it guards. Uses a caller-scoped context deadline rather than a
// bespoke timer type.
package dupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/orchestrator"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

const (
	defaultTimeout           = 750 * time.Millisecond
	defaultThreshold         = 0.60
	defaultRecommendThreshold = 0.85

	recommendationReviewFirst = "review_first"
	warningTimeout            = "duplicate_check_timeout=true"
)

// Request mirrors the write pipeline's probe input.
type Request struct {
	Title     string
	Body      string
	Kind      store.Kind
	Category  *string
	ExcludeID string
}

// Response mirrors the write pipeline's probe output.
type Response struct {
	Candidates     []provider.Result
	Recommendation *string
	Warnings       []string
}

// Config controls the probe's timeout and score thresholds.
type Config struct {
	TimeoutMS          int
	RetrieveThreshold  float64
	RecommendThreshold float64
}

func (c Config) withDefaults() Config {
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = int(defaultTimeout / time.Millisecond)
	}
	if c.RetrieveThreshold <= 0 {
		c.RetrieveThreshold = defaultThreshold
	}
	if c.RecommendThreshold <= 0 {
		c.RecommendThreshold = defaultRecommendThreshold
	}
	return c
}

// Probe wraps an orchestrator with the bounded-time duplicate-check
// contract used by the write pipeline.
type Probe struct {
	orchestrator *orchestrator.Orchestrator
	cfg          Config
}

func New(o *orchestrator.Orchestrator, cfg Config) *Probe {
	return &Probe{orchestrator: o, cfg: cfg.withDefaults()}
}

// Check invokes find_duplicates through the primary provider within the
// configured deadline. On timeout it returns an empty, warned response
// instead of propagating the deadline error — the write must proceed
// either way.
func (p *Probe) Check(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	type result struct {
		candidates []provider.Result
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		candidates, err := p.orchestrator.FindDuplicates(ctx, provider.DuplicateQuery{
			Title:     req.Title,
			Body:      req.Body,
			Kind:      req.Kind,
			Category:  req.Category,
			ExcludeID: req.ExcludeID,
			Threshold: p.cfg.RetrieveThreshold,
		})
		resultCh <- result{candidates: candidates, err: err}
	}()

	select {
	case <-ctx.Done():
		slog.Warn("duplicate probe timed out", slog.String("title", req.Title))
		return Response{Candidates: []provider.Result{}, Warnings: []string{warningTimeout}}
	case r := <-resultCh:
		if r.err != nil {
			slog.Warn("duplicate probe failed", slog.String("error", r.err.Error()))
			return Response{Candidates: []provider.Result{}, Warnings: []string{r.err.Error()}}
		}
		return buildResponse(r.candidates, p.cfg.RecommendThreshold)
	}
}

func buildResponse(candidates []provider.Result, recommendThreshold float64) Response {
	res := Response{Candidates: candidates}

	var maxScore float64
	for _, c := range candidates {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	if len(candidates) > 0 && maxScore >= recommendThreshold {
		rec := recommendationReviewFirst
		res.Recommendation = &rec
	}

	return res
}
