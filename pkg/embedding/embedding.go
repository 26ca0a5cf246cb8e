// Package embedding defines the provider contract used to turn memory
// content into vectors, plus a deterministic hash provider for tests and
// offline use and a ristretto-backed caching wrapper.
package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math"

	"github.com/agentmem/agentmem/pkg/index"
)

// Provider converts batches of texts to embedding vectors. All vectors
// returned by a provider have length Dim().
type Provider interface {
	// Dim returns the dimensionality of produced vectors.
	Dim() int

	// Embed converts texts to vectors, one per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HashProvider produces deterministic pseudo-random unit vectors from
// text hashes. No model involved: equal texts get equal vectors, which
// is what tests and smoke setups need.
type HashProvider struct {
	dim int
}

// NewHashProvider returns a hash provider with the given dimensionality.
// dim <= 0 selects the 384-dim default.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = 384
	}
	return &HashProvider{dim: dim}
}

func (p *HashProvider) Dim() int { return p.dim }

func (p *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *HashProvider) embedOne(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dim)
	for i := range vec {
		// LCG stepped from the text hash, mapped to [-1, 1].
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return index.Normalize(vec)
}

// Func adapts a plain function to the Provider interface.
type Func struct {
	Dimension int
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f Func) Dim() int { return f.Dimension }

func (f Func) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.EmbedFunc == nil {
		return nil, errors.New("embedding: no embed function configured")
	}
	return f.EmbedFunc(ctx, texts)
}
