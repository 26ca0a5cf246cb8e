package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedProvider wraps a Provider with a ristretto cache keyed by text,
// so repeated embeddings of the same content skip the inner provider.
// Useful when the inner provider calls out to a model service.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCachedProvider wraps inner with a cache holding up to maxEntries
// embeddings. maxEntries <= 0 selects a 10k default.
func NewCachedProvider(inner Provider, maxEntries int64) (*CachedProvider, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to create cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func (p *CachedProvider) Dim() int { return p.inner.Dim() }

// Embed serves cached vectors where possible and batches the remaining
// misses through the inner provider in one call.
func (p *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := p.cache.Get(text); ok {
			if vec, ok := v.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := p.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		p.cache.Set(missTexts[j], vec, 1)
	}
	return out, nil
}

// Close releases the cache's resources.
func (p *CachedProvider) Close() {
	p.cache.Close()
}
