// Merge/filter/sort/paginate/warnings shape grounded on
// other_examples/06d32fcf_developer-mesh-developer-mesh__pkg-embedding-search_unified.go.go,
// algorithm steps grounded on Python search_service.py's unified_search.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

// perKindBuffer is the extra headroom requested per kind before
// post-filtering and pagination narrow the merged result set.
const perKindBuffer = 50

const (
	vectorSoftThreshold = 0.50
	textSoftThreshold   = 0.35
)

// UnifiedSearchRequest fans a query out across multiple record kinds and
// merges, filters, sorts, and paginates the combined result set.
type UnifiedSearchRequest struct {
	Query    string
	Kinds    []store.Kind
	Category *string
	Limit    int
	Offset   int
	MinScore *float64
	// Filters is matched AND-wise, exact-string, against each candidate
	// record's opaque Metadata (e.g. "author", "section").
	Filters map[string]string
}

// UnifiedSearchResult is the merged, paginated response plus bookkeeping
// about degradation and dropped results.
type UnifiedSearchResult struct {
	Results  []provider.Result
	Total    int
	Degraded bool
	Provider Provider
	Warnings []string
}

// UnifiedSearch calls Search once per requested kind with a per-kind
// headroom buffer, merges, filters, sorts by score descending, applies
// min_score, warns below the provider's soft threshold, then paginates.
func (o *Orchestrator) UnifiedSearch(ctx context.Context, req UnifiedSearchRequest) (UnifiedSearchResult, error) {
	res := UnifiedSearchResult{Provider: o.primary}

	searchLimit := req.Limit + req.Offset + perKindBuffer

	// Per-kind searches are independent round trips to the same provider, so
	// they fan out concurrently and each goroutine captures its own
	// result/error into an index-aligned slot rather than failing the group.
	perKindResults := make([][]provider.Result, len(req.Kinds))
	perKindErrs := make([]error, len(req.Kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range req.Kinds {
		i, kind := i, kind
		if kind != store.KindExperience && kind != store.KindSkill {
			perKindErrs[i] = fmt.Errorf("unsupported entity type %q", kind)
			continue
		}

		g.Go(func() error {
			k := kind
			typeResults, err := o.Search(gctx, provider.SearchQuery{
				Query:    req.Query,
				Kind:     &k,
				Category: req.Category,
				TopK:     searchLimit,
			})
			if err != nil {
				perKindErrs[i] = err
				return nil
			}
			perKindResults[i] = typeResults
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	var all []provider.Result
	for i, kind := range req.Kinds {
		if err := perKindErrs[i]; err != nil {
			if kind != store.KindExperience && kind != store.KindSkill {
				res.Warnings = append(res.Warnings, fmt.Sprintf("unsupported entity type %q ignored", kind))
			} else {
				slog.Warn("unified search: per-kind search failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
				res.Warnings = append(res.Warnings, fmt.Sprintf("search failed for %s: %v", kind, err))
			}
			continue
		}

		typeResults := perKindResults[i]
		if len(typeResults) > 0 && typeResults[0].Provider == provider.NameText && o.primary == ProviderVector {
			res.Degraded = true
			res.Provider = ProviderText
		}

		all = append(all, typeResults...)
	}

	if len(req.Filters) > 0 {
		all = o.applyFilters(ctx, all, req.Filters)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	for i := range all {
		all[i].Rank = i
	}

	if req.MinScore != nil {
		before := len(all)
		kept := all[:0]
		for _, r := range all {
			if r.Score >= *req.MinScore {
				kept = append(kept, r)
			}
		}
		all = kept
		if dropped := before - len(all); dropped > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("filtered %d results below min_score=%.2f", dropped, *req.MinScore))
		}
	}

	if len(all) > 0 {
		threshold := textSoftThreshold
		if res.Provider == ProviderVector {
			threshold = vectorSoftThreshold
		}
		if all[0].Score < threshold {
			res.Warnings = append(res.Warnings, fmt.Sprintf("top result score (%.2f) below recommended threshold (%.2f)", all[0].Score, threshold))
		}
	}

	res.Total = len(all)
	res.Results = paginate(all, req.Offset, req.Limit)
	return res, nil
}

// applyFilters drops candidates whose stored record doesn't exact-match
// every requested key in filters. Records opaque to the core (author,
// section, ...) live in Record.Metadata; a record the store can't resolve
// is dropped rather than assumed to match.
func (o *Orchestrator) applyFilters(ctx context.Context, results []provider.Result, filters map[string]string) []provider.Result {
	if o.store == nil {
		return results
	}

	out := results[:0]
	for _, r := range results {
		rec, err := o.store.GetRecord(ctx, r.RecordID, r.Kind)
		if err != nil || rec == nil {
			continue
		}

		match := true
		for k, v := range filters {
			if rec.Metadata[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out
}

func paginate(results []provider.Result, offset, limit int) []provider.Result {
	if offset < 0 {
		offset = 0
	}
	if offset > len(results) {
		offset = len(results)
	}
	end := offset + limit
	if end < offset {
		end = offset
	}
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}
