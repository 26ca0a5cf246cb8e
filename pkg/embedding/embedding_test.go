package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, []string{"hello world"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := p.Embed(ctx, []string{"hello world"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("expected identical vectors for identical text")
		}
	}

	c, _ := p.Embed(ctx, []string{"something else"})
	same := true
	for i := range a[0] {
		if a[0][i] != c[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different vectors for different texts")
	}
}

func TestHashProviderDimAndNorm(t *testing.T) {
	p := NewHashProvider(0)
	if p.Dim() != 384 {
		t.Errorf("expected default dim 384, got %d", p.Dim())
	}

	vecs, err := p.Embed(context.Background(), []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for _, vec := range vecs {
		if len(vec) != 384 {
			t.Errorf("expected dim 384, got %d", len(vec))
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
			t.Errorf("expected unit vector, norm %f", math.Sqrt(norm))
		}
	}
}

func TestCachedProvider(t *testing.T) {
	calls := 0
	inner := Func{
		Dimension: 4,
		EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			calls++
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{1, 0, 0, 0}
			}
			return out, nil
		},
	}

	p, err := NewCachedProvider(inner, 100)
	if err != nil {
		t.Fatalf("NewCachedProvider failed: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if _, err := p.Embed(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 inner call, got %d", calls)
	}

	// ristretto admits asynchronously; wait for the buffered sets.
	p.cache.Wait()

	out, err := p.Embed(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 inner calls, got %d", calls)
	}
	for i, vec := range out {
		if len(vec) != 4 {
			t.Errorf("vector %d has dim %d", i, len(vec))
		}
	}
}
