package clustering

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// kmeansResult is one k-means solution.
type kmeansResult struct {
	labels  []int
	inertia float64
}

// kmeans runs nInit seeded k-means++ initializations and keeps the run with
// the lowest inertia. The same seed always yields the same labels.
func kmeans(points [][]float64, k int, seed int64, nInit, maxIter int) kmeansResult {
	rng := rand.New(rand.NewSource(seed))

	var best kmeansResult
	best.inertia = math.Inf(1)
	for run := 0; run < nInit; run++ {
		centers := seedPlusPlus(points, k, rng)
		res := lloyd(points, centers, maxIter)
		if res.inertia < best.inertia {
			best = res
		}
	}
	return best
}

// seedPlusPlus picks k initial centers, each new one sampled with
// probability proportional to its squared distance from the closest center
// already chosen.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	centers = append(centers, copyPoint(points[rng.Intn(n)]))

	dist := make([]float64, n)
	for i, p := range points {
		dist[i] = sqDist(p, centers[0])
	}

	for len(centers) < k {
		total := floats.Sum(dist)

		next := 0
		if total == 0 {
			// Every point sits on a center; any choice is as good.
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			var acc float64
			for i, d := range dist {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
				next = i
			}
		}

		center := copyPoint(points[next])
		centers = append(centers, center)
		for i, p := range points {
			if d := sqDist(p, center); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centers
}

func lloyd(points [][]float64, centers [][]float64, maxIter int) kmeansResult {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centers)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}

		if repairEmpty(points, centers, labels) {
			changed = true
		}
		updateCenters(points, centers, labels)

		if !changed {
			break
		}
	}

	var inertia float64
	for i, p := range points {
		inertia += sqDist(p, centers[labels[i]])
	}
	return kmeansResult{labels: labels, inertia: inertia}
}

// nearest returns the closest center; ties go to the lower index.
func nearest(p []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := sqDist(p, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// repairEmpty gives every empty cluster the point farthest from its own
// center, taken from a cluster that has more than one member.
func repairEmpty(points [][]float64, centers [][]float64, labels []int) bool {
	sizes := make([]int, len(centers))
	for _, l := range labels {
		sizes[l]++
	}

	repaired := false
	for c := range centers {
		if sizes[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range points {
			if sizes[labels[i]] < 2 {
				continue
			}
			if d := sqDist(p, centers[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			return repaired
		}
		sizes[labels[far]]--
		labels[far] = c
		sizes[c]++
		centers[c] = copyPoint(points[far])
		repaired = true
	}
	return repaired
}

func updateCenters(points [][]float64, centers [][]float64, labels []int) {
	dim := len(points[0])
	sums := make([][]float64, len(centers))
	counts := make([]int, len(centers))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := labels[i]
		counts[c]++
		floats.Add(sums[c], p)
	}
	for c := range centers {
		if counts[c] == 0 {
			continue
		}
		floats.ScaleTo(centers[c], 1/float64(counts[c]), sums[c])
	}
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func copyPoint(p []float64) []float64 {
	return append([]float64(nil), p...)
}
