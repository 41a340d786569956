package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEncodeSingleIsUnitNormalized(t *testing.T) {
	e := NewStatic(64)
	v, err := e.EncodeSingle(context.Background(), "flush redis cache on restart")
	require.NoError(t, err)

	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-3)
}

func TestStaticEncodeIsDeterministic(t *testing.T) {
	e := NewStatic(32)
	a, err := e.EncodeSingle(context.Background(), "same text")
	require.NoError(t, err)
	b, err := e.EncodeSingle(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEncodeBatchMatchesSingle(t *testing.T) {
	e := NewStatic(32)
	single, err := e.EncodeSingle(context.Background(), "a query")
	require.NoError(t, err)

	batch, err := e.Encode(context.Background(), []string{"a query"})
	require.NoError(t, err)

	assert.Equal(t, single, batch[0])
}
