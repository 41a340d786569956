// Package text implements the always-available substring-matching search
// provider, the fallback target when the vector provider is unavailable or
// fails.
package text

import (
	"context"
	"strings"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

const hintText = "semantic search was unavailable or declined; results are keyword matches only"

// Provider is the text search provider backed directly by the record
// store's title/body/summary columns.
type Provider struct {
	store store.RecordStore
}

func New(s store.RecordStore) *Provider {
	return &Provider{store: s}
}

func (p *Provider) Name() provider.Name { return provider.NameText }

// Available is always true: the text provider has no external dependency
// beyond the record store itself.
func (p *Provider) Available(_ context.Context) bool { return true }

// tokenize splits on whitespace and commas, keeping the first 5 non-empty
// tokens.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	var tokens []string
	for _, f := range fields {
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
		if len(tokens) == 5 {
			break
		}
	}
	return tokens
}

func (p *Provider) Search(ctx context.Context, q provider.SearchQuery) ([]provider.Result, error) {
	tokens := tokenize(q.Query)

	recs, err := p.store.SearchText(ctx, tokens, q.Query, q.Kind, q.Category, q.TopK)
	if err != nil {
		return nil, err
	}

	out := make([]provider.Result, 0, len(recs))
	for i, r := range recs {
		if i >= q.TopK {
			break
		}
		out = append(out, provider.Result{
			RecordID: r.ID,
			Kind:     r.Kind,
			Score:    1.0,
			Reason:   provider.ReasonTextMatch,
			Provider: provider.NameText,
			Rank:     i,
			Degraded: true,
			Hint:     hintText,
			Title:    r.Title,
			Summary:  r.Summary,
		})
	}
	return out, nil
}

// FindDuplicates tries an exact case-insensitive title match first; if none
// exist, falls back to substring-title matches. threshold is ignored: the
// text provider does not produce continuous similarities.
func (p *Provider) FindDuplicates(ctx context.Context, q provider.DuplicateQuery) ([]provider.Result, error) {
	exact, err := p.store.FindByExactTitle(ctx, q.Title, q.Kind, q.Category, q.ExcludeID)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return toDuplicateResults(exact, 1.0, provider.ReasonTextDuplicate), nil
	}

	sub, err := p.store.FindByTitleSubstring(ctx, q.Title, q.Kind, q.Category, q.ExcludeID)
	if err != nil {
		return nil, err
	}
	return toDuplicateResults(sub, 0.75, provider.ReasonTextDuplicate), nil
}

func toDuplicateResults(recs []*store.Record, score float64, reason provider.Reason) []provider.Result {
	out := make([]provider.Result, len(recs))
	for i, r := range recs {
		out[i] = provider.Result{
			RecordID: r.ID,
			Kind:     r.Kind,
			Score:    score,
			Reason:   reason,
			Provider: provider.NameText,
			Rank:     i,
			Title:    r.Title,
			Summary:  r.Summary,
		}
	}
	return out
}

// RebuildIndex is a no-op: the text provider has no secondary index.
func (p *Provider) RebuildIndex(_ context.Context) error { return nil }

var _ provider.SearchProvider = (*Provider)(nil)
