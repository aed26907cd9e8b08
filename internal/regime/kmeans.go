package regime

import (
	"math"
	"math/rand"
)

// kMeans clusters points into k groups with Lloyd's algorithm, seeded with
// k-means++ initialization from a fixed source so results are reproducible.
// It returns the centroids and the per-point cluster labels.
func kMeans(points [][]float64, k int, seed int64, maxIter int) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	centroids := seedCentroids(points, k, rng)
	labels := make([]int, len(points))

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i, p := range points {
			best := nearestCentroid(p, centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}

		recomputeCentroids(points, labels, centroids)

		if !changed && iter > 0 {
			break
		}
	}

	return centroids, labels
}

// seedCentroids picks k initial centroids with the k-means++ scheme: the
// first at random, each next weighted by squared distance to the nearest
// chosen centroid.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clonePoint(points[rng.Intn(len(points))]))

	dists := make([]float64, len(points))

	for len(centroids) < k {
		var total float64

		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centroids {
				if sq := squaredDistance(p, c); sq < d {
					d = sq
				}
			}

			dists[i] = d
			total += d
		}

		if total == 0 {
			// All points coincide with a centroid; duplicate one.
			centroids = append(centroids, clonePoint(points[0]))
			continue
		}

		target := rng.Float64() * total
		idx := 0

		for i, d := range dists {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}

		centroids = append(centroids, clonePoint(points[idx]))
	}

	return centroids
}

func recomputeCentroids(points [][]float64, labels []int, centroids [][]float64) {
	dim := len(centroids[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))

	for i := range sums {
		sums[i] = make([]float64, dim)
	}

	for i, p := range points {
		c := labels[i]
		counts[c]++

		for j, v := range p {
			sums[c][j] += v
		}
	}

	for c := range centroids {
		if counts[c] == 0 {
			continue
		}

		for j := range centroids[c] {
			centroids[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}

func nearestCentroid(p []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)

	for i, c := range centroids {
		if d := squaredDistance(p, c); d < bestDist {
			bestDist = d
			best = i
		}
	}

	return best
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}

func clonePoint(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)

	return out
}
