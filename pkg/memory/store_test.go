package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/agentmem/agentmem/pkg/embedding"
)

func TestGetOrCreateCollectionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 4})
	if err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}
	b, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 4})
	if err != nil {
		t.Fatalf("second GetOrCreateCollection failed: %v", err)
	}
	if a != b {
		t.Error("expected the same collection instance")
	}
}

func TestGetCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetCollection("notes"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before creation, got %v", err)
	}
	a, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 4})
	if err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}
	b, err := s.GetCollection("notes")
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if a != b {
		t.Error("expected the same collection instance")
	}
}

func TestGetOrCreateCollectionDimensionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 4}); err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}
	_, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 8})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig on dimension conflict, got %v", err)
	}
}

func TestGetOrCreateCollectionProviderWinsDimension(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.GetOrCreateCollection(ctx, CollectionConfig{
		Name: "notes", Provider: embedding.NewHashProvider(16),
	})
	if err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}
	if c.Dimension() != 16 {
		t.Errorf("expected provider dimension 16, got %d", c.Dimension())
	}

	// Conflicting explicit dimension is rejected.
	_, err = s.GetOrCreateCollection(ctx, CollectionConfig{
		Name: "other", Provider: embedding.NewHashProvider(16), Dimension: 8,
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	// Neither provider nor dimension is rejected.
	_, err = s.GetOrCreateCollection(ctx, CollectionConfig{Name: "bare"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without dimension, got %v", err)
	}
}

func TestRecreateWipesEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 3})
	if err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}
	if _, err := c.Add(ctx, Fields{Content: "x", Vector: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	c2, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 3, Recreate: true})
	if err != nil {
		t.Fatalf("recreate failed: %v", err)
	}
	n, err := c2.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty collection after recreate, got %d rows", n)
	}
}

func TestDeleteCollectionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "notes", Dimension: 3})
	if err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}
	if _, err := c.Add(ctx, Fields{Content: "x", Vector: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := s.DeleteCollection(ctx, "notes"); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	// Idempotent.
	if err := s.DeleteCollection(ctx, "notes"); err != nil {
		t.Errorf("second DeleteCollection failed: %v", err)
	}

	names, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no collections, got %v", names)
	}
}

func TestListCollections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		if _, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: name, Dimension: 3}); err != nil {
			t.Fatalf("GetOrCreateCollection failed: %v", err)
		}
	}

	names, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("unexpected collections: %v", names)
	}
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	ctx := context.Background()
	if _, err := s.GetOrCreateCollection(ctx, CollectionConfig{Name: "x", Dimension: 3}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.ListCollections(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.DeleteCollection(ctx, "x"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
