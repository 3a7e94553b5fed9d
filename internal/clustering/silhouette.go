package clustering

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// silhouette returns the mean silhouette coefficient with euclidean
// distance. Points in singleton clusters score 0.
func silhouette(points [][]float64, labels []int, k int) float64 {
	n := len(points)
	if n == 0 {
		return 0
	}

	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}

	var total float64
	sums := make([]float64, k)
	for i := range points {
		if sizes[labels[i]] < 2 {
			continue
		}

		for c := range sums {
			sums[c] = 0
		}
		for j := range points {
			if i == j {
				continue
			}
			sums[labels[j]] += floats.Distance(points[i], points[j], 2)
		}

		own := labels[i]
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c := range sums {
			if c == own || sizes[c] == 0 {
				continue
			}
			if mean := sums[c] / float64(sizes[c]); mean < b {
				b = mean
			}
		}
		if math.IsInf(b, 1) {
			continue
		}

		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(n)
}
