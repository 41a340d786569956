package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps an Embedder with an LRU cache of query embeddings. The vector
// provider uses this to avoid re-encoding the same search phrase repeatedly.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU cache of the given size (falls back to
// 1000 entries if size <= 0).
func NewCached(inner Embedder, size int) *Cached {
	if size <= 0 {
		size = 1000
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelVersion()))
	return hex.EncodeToString(sum[:])
}

func (c *Cached) EncodeSingle(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	v, err := c.inner.EncodeSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func (c *Cached) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := c.cache.Get(c.cacheKey(t)); ok {
			results[i] = v
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(missTexts[j]), fresh[j])
	}
	return results, nil
}

func (c *Cached) ModelVersion() string { return c.inner.ModelVersion() }
func (c *Cached) Dimension() int       { return c.inner.Dimension() }

var _ Embedder = (*Cached)(nil)
