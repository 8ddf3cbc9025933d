package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes an Embedder by exact input text.
type Cached struct {
	next  Embedder
	cache *ristretto.Cache
}

// NewCached wraps next with a ristretto cache holding about maxEntries
// vectors.
func NewCached(next Embedder, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Embed returns a cached vector or computes and stores one. Failures are
// not cached.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions delegates to the wrapped embedder.
func (c *Cached) Dimensions() int {
	return c.next.Dimensions()
}

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}
