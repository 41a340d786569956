// Package orchestrator resolves search queries through a primary provider,
// retries, and falls back to the text provider on failure, grounded on the
// teacher's internal/search.Engine dispatch shape and extended with the
// retry-then-fallback and unified multi-kind merge algorithm translated from
// the Python SearchService this subsystem replaces.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/config"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/kberrors"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

// Provider tags a registered search provider. Replaces the Python service's
// string-keyed registry with a closed sum type, per the redesign flag on
// dynamic provider registration.
type Provider string

const (
	ProviderVector Provider = "vector"
	ProviderText   Provider = "text"
)

const duplicateDefaultThreshold = 0.60

// Orchestrator holds the provider registry, the chosen primary, and the
// retry/fallback policy.
type Orchestrator struct {
	providers       map[Provider]provider.SearchProvider
	store           store.RecordStore
	primary         Provider
	fallbackEnabled bool
	maxRetries      int
}

// New constructs an Orchestrator. textProvider is always registered.
// vectorProvider is registered whenever it is non-nil, even if it is not
// available yet. If cfg.PrimaryProvider is unset, the primary defaults to
// vector when it is registered and reports available at construction time,
// else text; an explicitly named primary that isn't registered is a
// construction error.
func New(cfg config.SearchConfig, s store.RecordStore, vectorProvider, textProvider provider.SearchProvider) (*Orchestrator, error) {
	if textProvider == nil {
		return nil, fmt.Errorf("orchestrator: text provider is required")
	}

	registry := map[Provider]provider.SearchProvider{ProviderText: textProvider}
	vectorAvailable := false
	if vectorProvider != nil {
		registry[ProviderVector] = vectorProvider
		vectorAvailable = vectorProvider.Available(context.Background())
		slog.Info("vector provider registered", slog.Bool("available", vectorAvailable))
	}

	primary := Provider(cfg.PrimaryProvider)
	if primary == "" {
		if vectorAvailable {
			primary = ProviderVector
		} else {
			primary = ProviderText
		}
	}
	if _, ok := registry[primary]; !ok {
		return nil, fmt.Errorf("orchestrator: unknown primary provider %q (available: %v)", primary, availableKeys(registry))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	o := &Orchestrator{
		providers:       registry,
		store:           s,
		primary:         primary,
		fallbackEnabled: cfg.FallbackEnabled,
		maxRetries:      maxRetries,
	}

	slog.Info("orchestrator initialized",
		slog.String("primary", string(primary)),
		slog.Bool("fallback_enabled", cfg.FallbackEnabled),
		slog.Int("max_retries", maxRetries))

	return o, nil
}

func availableKeys(m map[Provider]provider.SearchProvider) []Provider {
	out := make([]Provider, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// attemptPrimary tries the primary provider up to maxRetries+1 times. On a
// ProviderError it logs and retries; on an unavailable provider it logs and
// abandons the attempt loop immediately rather than burning retries against
// an index that will not become available mid-loop.
func (o *Orchestrator) attemptPrimary(ctx context.Context, op string, call func(provider.SearchProvider) ([]provider.Result, error)) ([]provider.Result, bool) {
	p := o.providers[o.primary]

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if !p.Available(ctx) {
			slog.Warn("provider unavailable, skipping retries",
				slog.String("op", op), slog.String("provider", string(o.primary)), slog.Int("attempt", attempt+1))
			break
		}

		results, err := call(p)
		if err == nil {
			slog.Info("primary provider succeeded",
				slog.String("op", op), slog.String("provider", string(o.primary)), slog.Int("results", len(results)))
			return results, true
		}

		slog.Warn("provider failed",
			slog.String("op", op), slog.String("provider", string(o.primary)), slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}
	return nil, false
}

// fallback invokes the text provider exactly once when the primary is not
// already text and fallback is enabled, surfacing an OrchestratorError
// otherwise.
func (o *Orchestrator) fallback(ctx context.Context, op string, call func(provider.SearchProvider) ([]provider.Result, error)) ([]provider.Result, error) {
	if !o.fallbackEnabled || o.primary == ProviderText {
		return nil, kberrors.OrchestratorError(fmt.Sprintf("%s failed after %d attempts with %s", op, o.maxRetries+1, o.primary))
	}

	slog.Warn("falling back to text provider", slog.String("op", op), slog.Int("attempts", o.maxRetries+1))

	text := o.providers[ProviderText]
	results, err := call(text)
	if err != nil {
		slog.Error("fallback provider also failed", slog.String("op", op), slog.String("error", err.Error()))
		return nil, kberrors.OrchestratorError(fmt.Sprintf("all search providers failed: %v", err))
	}

	slog.Info("fallback completed", slog.String("op", op), slog.Int("results", len(results)))
	return results, nil
}

// Search routes a single-kind query through the primary, retrying, then
// falling back to text on exhaustion.
func (o *Orchestrator) Search(ctx context.Context, q provider.SearchQuery) ([]provider.Result, error) {
	call := func(p provider.SearchProvider) ([]provider.Result, error) { return p.Search(ctx, q) }
	if results, ok := o.attemptPrimary(ctx, "search", call); ok {
		return results, nil
	}
	return o.fallback(ctx, "search", call)
}

// FindDuplicates mirrors Search for the duplicate-probe entrypoint,
// defaulting threshold to the retrieve-time default when unset.
func (o *Orchestrator) FindDuplicates(ctx context.Context, q provider.DuplicateQuery) ([]provider.Result, error) {
	if q.Threshold <= 0 {
		q.Threshold = duplicateDefaultThreshold
	}

	call := func(p provider.SearchProvider) ([]provider.Result, error) { return p.FindDuplicates(ctx, q) }
	if results, ok := o.attemptPrimary(ctx, "find_duplicates", call); ok {
		return results, nil
	}
	return o.fallback(ctx, "find_duplicates", call)
}

// RebuildIndex rebuilds the named provider's index, or the primary's if
// target is nil.
func (o *Orchestrator) RebuildIndex(ctx context.Context, target *Provider) error {
	p := o.primary
	if target != nil {
		p = *target
	}

	sp, ok := o.providers[p]
	if !ok {
		return fmt.Errorf("orchestrator: unknown provider %q", p)
	}

	slog.Info("rebuilding index", slog.String("provider", string(p)))
	if err := sp.RebuildIndex(ctx); err != nil {
		slog.Error("index rebuild failed", slog.String("provider", string(p)), slog.String("error", err.Error()))
		return kberrors.OrchestratorError(fmt.Sprintf("index rebuild failed: %v", err))
	}
	slog.Info("index rebuild completed", slog.String("provider", string(p)))
	return nil
}

// AvailableProviders lists the currently available registered providers.
func (o *Orchestrator) AvailableProviders(ctx context.Context) []Provider {
	var out []Provider
	for name, p := range o.providers {
		if p.Available(ctx) {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
