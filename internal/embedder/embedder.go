// Package embedder defines the narrow embedding-provider interface the
// worker and vector provider consume: encode/encode_single/model_version/
// dimension.
package embedder

import "context"

// Embedder encodes text into unit-normalized dense vectors of fixed
// dimension. Implementations are external collaborators; the core only
// consumes this interface.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	EncodeSingle(ctx context.Context, text string) ([]float32, error)
	ModelVersion() string
	Dimension() int
}
