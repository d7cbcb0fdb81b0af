package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var errDimension = errors.New("vector dimension mismatch")

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// cosineDistance assumes unit vectors.
func cosineDistance(a, b []float32) float64 {
	d := 1 - dot(a, b)
	if d < 0 {
		return 0
	}
	return d
}

func identical(vecs [][]float32) bool {
	for i := 1; i < len(vecs); i++ {
		if len(vecs[i]) != len(vecs[0]) {
			return false
		}
		for d := range vecs[0] {
			if vecs[i][d] != vecs[0][d] {
				return false
			}
		}
	}
	return true
}

// seedPlusPlus picks k initial centroids, each next one drawn with probability
// proportional to its distance from the closest centroid chosen so far.
func seedPlusPlus(vecs [][]float32, k int, rng *rand.Rand) [][]float32 {
	n := len(vecs)
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, append([]float32(nil), vecs[rng.Intn(n)]...))

	minDist := make([]float64, n)
	for i := range vecs {
		minDist[i] = cosineDistance(vecs[i], centroids[0])
	}

	for len(centroids) < k {
		total := 0.0
		for _, d := range minDist {
			total += d
		}
		selected := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			cum := 0.0
			selected = n - 1
			for i, d := range minDist {
				cum += d
				if cum >= target {
					selected = i
					break
				}
			}
		}
		c := append([]float32(nil), vecs[selected]...)
		centroids = append(centroids, c)
		for i := range vecs {
			if d := cosineDistance(vecs[i], c); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centroids
}

func nearest(v []float32, centroids [][]float32) int {
	best := 0
	bestScore := math.Inf(-1)
	for i, c := range centroids {
		if s := dot(v, c); s > bestScore {
			bestScore = s
			best = i
		}
	}
	return best
}

// kmeans partitions unit vectors into k groups with Lloyd iterations and
// returns the group index of every vector.
func kmeans(ctx context.Context, vecs [][]float32, k, maxIter int, rng *rand.Rand) ([]int, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no vectors for kmeans")
	}
	dim := len(vecs[0])
	for _, v := range vecs {
		if len(v) != dim || dim == 0 {
			return nil, errDimension
		}
	}
	if k > len(vecs) {
		k = len(vecs)
	}
	if maxIter <= 0 {
		maxIter = 10
	}

	centroids := seedPlusPlus(vecs, k, rng)
	assign := make([]int, len(vecs))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed := false
		for i, v := range vecs {
			if best := nearest(v, centroids); assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vecs {
			c := assign[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				centroids[c] = append([]float32(nil), vecs[rng.Intn(len(vecs))]...)
				continue
			}
			mean := make([]float32, dim)
			for d := 0; d < dim; d++ {
				mean[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = normalize(mean)
		}
	}
	return assign, nil
}
