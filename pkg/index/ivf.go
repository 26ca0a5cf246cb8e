package index

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ErrNotTrained is returned when an IVF operation requires trained centroids.
var ErrNotTrained = errors.New("index not trained")

// IVF is an inverted-file index: vectors are assigned to the nearest of
// nlist coarse centroids, and a search probes only the closest nprobe
// partitions. Training requires at least nlist points, which is why an
// approximate index only becomes structurally valid above a minimum row
// count.
type IVF struct {
	dim    int
	nlist  int
	nprobe int

	mu        sync.RWMutex
	centroids [][]float32
	lists     [][]int
	vectors   [][]float32
	ids       []string
	slot      map[string]int
	trained   bool
}

// NewIVF creates an untrained IVF index for vectors of the given dimension.
func NewIVF(dim, nlist int) *IVF {
	if nlist < 1 {
		nlist = 1
	}
	return &IVF{
		dim:    dim,
		nlist:  nlist,
		nprobe: minInt(nlist, 8),
		lists:  make([][]int, nlist),
		slot:   make(map[string]int),
	}
}

// SetNProbe sets the number of partitions probed per search.
func (ivf *IVF) SetNProbe(nprobe int) {
	ivf.mu.Lock()
	defer ivf.mu.Unlock()
	if nprobe < 1 {
		nprobe = 1
	}
	ivf.nprobe = minInt(nprobe, ivf.nlist)
}

// Trained reports whether centroids have been learned.
func (ivf *IVF) Trained() bool {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()
	return ivf.trained
}

// Size returns the number of indexed vectors.
func (ivf *IVF) Size() int {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()
	return len(ivf.vectors)
}

// Train learns the coarse centroids with k-means++ and resets the
// inverted lists.
func (ivf *IVF) Train(vectors [][]float32) error {
	if len(vectors) < ivf.nlist {
		return fmt.Errorf("need at least %d vectors for training, got %d", ivf.nlist, len(vectors))
	}

	centroids, err := kMeans(vectors, ivf.nlist, 20)
	if err != nil {
		return fmt.Errorf("k-means training failed: %w", err)
	}

	ivf.mu.Lock()
	defer ivf.mu.Unlock()
	ivf.centroids = centroids
	ivf.lists = make([][]int, ivf.nlist)
	ivf.vectors = nil
	ivf.ids = nil
	ivf.slot = make(map[string]int)
	ivf.trained = true
	return nil
}

// Add assigns a vector to its nearest partition. Re-adding an id replaces
// the previous vector.
func (ivf *IVF) Add(id string, vector []float32) error {
	ivf.mu.Lock()
	defer ivf.mu.Unlock()

	if !ivf.trained {
		return ErrNotTrained
	}
	if len(vector) != ivf.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), ivf.dim)
	}

	if prev, ok := ivf.slot[id]; ok {
		ivf.removeSlotLocked(prev)
	}

	slot := len(ivf.vectors)
	v := make([]float32, len(vector))
	copy(v, vector)
	ivf.vectors = append(ivf.vectors, v)
	ivf.ids = append(ivf.ids, id)
	ivf.slot[id] = slot

	list := ivf.nearestCentroidLocked(vector)
	ivf.lists[list] = append(ivf.lists[list], slot)
	return nil
}

// Delete removes a vector by id.
func (ivf *IVF) Delete(id string) error {
	ivf.mu.Lock()
	defer ivf.mu.Unlock()

	if !ivf.trained {
		return ErrNotTrained
	}
	slot, ok := ivf.slot[id]
	if !ok {
		return errors.New("vector not found")
	}
	ivf.removeSlotLocked(slot)
	return nil
}

// removeSlotLocked deletes a slot and compacts indices. Callers hold the
// write lock.
func (ivf *IVF) removeSlotLocked(slot int) {
	delete(ivf.slot, ivf.ids[slot])
	ivf.ids = append(ivf.ids[:slot], ivf.ids[slot+1:]...)
	ivf.vectors = append(ivf.vectors[:slot], ivf.vectors[slot+1:]...)

	for i := range ivf.lists {
		list := ivf.lists[i][:0]
		for _, idx := range ivf.lists[i] {
			switch {
			case idx == slot:
				// dropped
			case idx > slot:
				list = append(list, idx-1)
			default:
				list = append(list, idx)
			}
		}
		ivf.lists[i] = list
	}
	for id, idx := range ivf.slot {
		if idx > slot {
			ivf.slot[id] = idx - 1
		}
	}
}

// Search probes the nprobe nearest partitions and returns up to k
// candidate ids ordered by ascending cosine distance.
func (ivf *IVF) Search(query []float32, k int) ([]string, []float64, error) {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	if !ivf.trained {
		return nil, nil, ErrNotTrained
	}
	if len(query) != ivf.dim {
		return nil, nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ivf.dim)
	}

	type scored struct {
		idx  int
		dist float64
	}

	centroidOrder := make([]scored, len(ivf.centroids))
	for i, centroid := range ivf.centroids {
		centroidOrder[i] = scored{i, EuclideanDistance(query, centroid)}
	}
	sort.Slice(centroidOrder, func(i, j int) bool {
		return centroidOrder[i].dist < centroidOrder[j].dist
	})

	var candidates []scored
	nprobe := minInt(ivf.nprobe, len(centroidOrder))
	for i := 0; i < nprobe; i++ {
		for _, slot := range ivf.lists[centroidOrder[i].idx] {
			candidates = append(candidates, scored{slot, CosineDistance(query, ivf.vectors[slot])})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return ivf.ids[candidates[i].idx] < ivf.ids[candidates[j].idx]
	})

	topK := minInt(k, len(candidates))
	ids := make([]string, topK)
	dists := make([]float64, topK)
	for i := 0; i < topK; i++ {
		ids[i] = ivf.ids[candidates[i].idx]
		dists[i] = candidates[i].dist
	}
	return ids, dists, nil
}

func (ivf *IVF) nearestCentroidLocked(vector []float32) int {
	best, bestDist := 0, math.MaxFloat64
	for i, centroid := range ivf.centroids {
		if d := EuclideanDistance(vector, centroid); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// kMeans clusters vectors into k centroids with k-means++ seeding.
func kMeans(vectors [][]float32, k, maxIters int) ([][]float32, error) {
	if len(vectors) < k {
		return nil, fmt.Errorf("need at least %d vectors, got %d", k, len(vectors))
	}
	dim := len(vectors[0])

	centroids := make([][]float32, k)
	centroids[0] = append([]float32(nil), vectors[rand.Intn(len(vectors))]...)

	for i := 1; i < k; i++ {
		weights := make([]float64, len(vectors))
		var total float64
		for j, vec := range vectors {
			minDist := math.MaxFloat64
			for c := 0; c < i; c++ {
				if d := EuclideanDistance(vec, centroids[c]); d < minDist {
					minDist = d
				}
			}
			weights[j] = minDist * minDist
			total += weights[j]
		}

		if total == 0 {
			centroids[i] = append([]float32(nil), vectors[rand.Intn(len(vectors))]...)
			continue
		}
		r := rand.Float64() * total
		var cum float64
		for j, w := range weights {
			cum += w
			if cum >= r {
				centroids[i] = append([]float32(nil), vectors[j]...)
				break
			}
		}
		if centroids[i] == nil {
			centroids[i] = append([]float32(nil), vectors[len(vectors)-1]...)
		}
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, vec := range vectors {
			best, bestDist := 0, math.MaxFloat64
			for j, centroid := range centroids {
				if d := EuclideanDistance(vec, centroid); d < bestDist {
					best, bestDist = j, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, vec := range vectors {
			cluster := assignments[i]
			counts[cluster]++
			for j, v := range vec {
				sums[cluster][j] += float64(v)
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			for j := 0; j < dim; j++ {
				centroids[i][j] = float32(sums[i][j] / float64(counts[i]))
			}
		}
	}

	return centroids, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
