// Package provider holds the shared result and contract types both the text
// and vector search providers implement, consumed by the orchestrator.
package provider

import (
	"context"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

// Reason identifies why a result was returned.
type Reason string

const (
	ReasonTextMatch        Reason = "text_match"
	ReasonTextDuplicate    Reason = "text_duplicate"
	ReasonSemanticMatch    Reason = "semantic_match"
	ReasonSemanticDuplicate Reason = "semantic_duplicate"
)

// Name identifies a provider implementation.
type Name string

const (
	NameVector Name = "vector"
	NameText   Name = "text"
)

// Result is one search or duplicate-probe hit.
type Result struct {
	RecordID string
	Kind     store.Kind
	Score    float64
	Reason   Reason
	Provider Name
	Rank     int
	Degraded bool
	Hint     string
	Title    string
	Summary  string
}

// SearchQuery carries the parameters common to both providers' search
// entrypoint.
type SearchQuery struct {
	Query    string
	Kind     *store.Kind
	Category *string
	TopK     int
}

// DuplicateQuery carries the parameters for find_duplicates.
type DuplicateQuery struct {
	Title     string
	Body      string
	Kind      store.Kind
	Category  *string
	ExcludeID string
	Threshold float64
}

// SearchProvider is the contract both the vector and text providers
// implement; the orchestrator only depends on this interface.
type SearchProvider interface {
	Name() Name
	Available(ctx context.Context) bool
	Search(ctx context.Context, q SearchQuery) ([]Result, error)
	FindDuplicates(ctx context.Context, q DuplicateQuery) ([]Result, error)
	RebuildIndex(ctx context.Context) error
}
