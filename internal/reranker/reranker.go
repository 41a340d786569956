// Package reranker defines the narrow reranker interface the vector
// provider consumes: rerank({search, task}, documents), plus a no-op
// implementation for when no reranker is configured.
package reranker

import "context"

// Query carries both the search query and the originating task context
// unchanged to the reranker (how it internally combines them is
// model-specific).
type Query struct {
	Search string
	Task   string
}

// Reranker scores (query, document) pairs in [0, 1], typically via yes/no
// classification over last-token logits.
type Reranker interface {
	Rerank(ctx context.Context, q Query, documents []string) ([]float64, error)
}

// NoOp returns decreasing scores that preserve input order, grounded on the
// teacher's search.NoOpReranker, used when no reranker is configured.
type NoOp struct{}

func (NoOp) Rerank(_ context.Context, _ Query, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for i := range documents {
		scores[i] = 1.0 - float64(i)*0.01
	}
	return scores, nil
}

var _ Reranker = NoOp{}
