package index

import (
	"fmt"
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0, 0}
	if d := CosineDistance(a, a); math.Abs(d) > 1e-9 {
		t.Errorf("identical vectors should have distance 0, got %f", d)
	}
	b := []float32{0, 1, 0}
	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal vectors should have distance 1, got %f", d)
	}
	c := []float32{-1, 0, 0}
	if d := CosineDistance(a, c); math.Abs(d-2) > 1e-9 {
		t.Errorf("opposite vectors should have distance 2, got %f", d)
	}
	zero := []float32{0, 0, 0}
	if d := CosineDistance(a, zero); d != 1 {
		t.Errorf("zero vector distance should be 1, got %f", d)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("expected unit norm, got %f", norm)
	}
}

func TestIVFTrainRequiresEnoughVectors(t *testing.T) {
	ivf := NewIVF(2, 4)
	err := ivf.Train([][]float32{{1, 0}, {0, 1}})
	if err == nil {
		t.Fatal("expected training error with too few vectors")
	}
	if ivf.Trained() {
		t.Error("index should remain untrained after failed training")
	}
}

func TestIVFAddRequiresTraining(t *testing.T) {
	ivf := NewIVF(2, 2)
	if err := ivf.Add("a", []float32{1, 0}); err != ErrNotTrained {
		t.Errorf("expected ErrNotTrained, got %v", err)
	}
	if _, _, err := ivf.Search([]float32{1, 0}, 1); err != ErrNotTrained {
		t.Errorf("expected ErrNotTrained, got %v", err)
	}
}

func trainedIVF(t *testing.T, dim, nlist int, vectors map[string][]float32) *IVF {
	t.Helper()
	ivf := NewIVF(dim, nlist)
	var training [][]float32
	for _, v := range vectors {
		training = append(training, v)
	}
	if err := ivf.Train(training); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	for id, v := range vectors {
		if err := ivf.Add(id, v); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}
	return ivf
}

func clusterVectors() map[string][]float32 {
	vectors := make(map[string][]float32)
	// Two well-separated clusters.
	for i := 0; i < 6; i++ {
		vectors[fmt.Sprintf("x%d", i)] = []float32{10 + float32(i)*0.1, 0, 0}
		vectors[fmt.Sprintf("y%d", i)] = []float32{0, 10 + float32(i)*0.1, 0}
	}
	return vectors
}

func TestIVFSearch(t *testing.T) {
	ivf := trainedIVF(t, 3, 2, clusterVectors())
	ivf.SetNProbe(2)

	ids, dists, err := ivf.Search([]float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 results, got %d", len(ids))
	}
	for i := 1; i < len(dists); i++ {
		if dists[i] < dists[i-1] {
			t.Errorf("distances not ascending: %v", dists)
		}
	}
	// All nearest neighbors come from the x cluster.
	for _, id := range ids {
		if id[0] != 'x' {
			t.Errorf("expected x-cluster id, got %s", id)
		}
	}
}

func TestIVFDelete(t *testing.T) {
	ivf := trainedIVF(t, 3, 2, clusterVectors())
	before := ivf.Size()

	if err := ivf.Delete("x0"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ivf.Size() != before-1 {
		t.Errorf("expected size %d, got %d", before-1, ivf.Size())
	}
	if err := ivf.Delete("x0"); err == nil {
		t.Error("expected error deleting missing id")
	}

	ids, _, err := ivf.Search([]float32{1, 0, 0}, before)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, id := range ids {
		if id == "x0" {
			t.Error("deleted id still returned by search")
		}
	}
}

func TestIVFReAddReplaces(t *testing.T) {
	ivf := trainedIVF(t, 3, 2, clusterVectors())
	size := ivf.Size()

	if err := ivf.Add("x0", []float32{0, 12, 0}); err != nil {
		t.Fatalf("re-Add failed: %v", err)
	}
	if ivf.Size() != size {
		t.Errorf("re-adding should not grow the index: %d != %d", ivf.Size(), size)
	}

	ids, _, err := ivf.Search([]float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected a result")
	}
}
