package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Static generates deterministic hash-based embeddings with no external
// dependencies. It exists for tests and offline development, not as a
// production embedding model.
type Static struct {
	dimension int
	model     string
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStatic constructs a Static embedder of the given dimension.
func NewStatic(dimension int) *Static {
	return &Static{dimension: dimension, model: "static-hash-v1"}
}

func (s *Static) ModelVersion() string { return s.model }
func (s *Static) Dimension() int       { return s.dimension }

func (s *Static) EncodeSingle(_ context.Context, text string) ([]float32, error) {
	return s.encodeOne(text), nil
}

func (s *Static) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.encodeOne(t)
	}
	return out, nil
}

func (s *Static) encodeOne(text string) []float32 {
	v := make([]float32, s.dimension)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return normalize(v)
	}

	for _, tok := range tokenRegex.FindAllString(strings.ToLower(trimmed), -1) {
		idx := hashToIndex(tok, s.dimension)
		v[idx] += 1.0
	}

	return normalize(v)
}

func hashToIndex(s string, dimension int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32()) % dimension
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		// An empty or degenerate encoding still must satisfy the
		// unit-norm invariant the index manager checks on Add.
		v[0] = 1
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f / norm
	}
	return out
}

var _ Embedder = (*Static)(nil)
