package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ticket-classifier/backend/internal/similarity"
)

// Centroid predicts the class whose mean embedding is most cosine-similar
// to the input. It has no calibrated probabilities.
type Centroid struct {
	dim       int
	classes   []string
	index     map[string]int
	centroids [][]float64
	counts    []int
}

func NewCentroid(dim int) *Centroid {
	return &Centroid{dim: dim, index: make(map[string]int)}
}

func (m *Centroid) Kind() string { return KindCentroid }

func (m *Centroid) Dim() int { return m.dim }

func (m *Centroid) Classes() []string {
	out := make([]string, len(m.classes))
	copy(out, m.classes)
	return out
}

func (m *Centroid) Clone() Trainable {
	c := &Centroid{
		dim:       m.dim,
		classes:   append([]string(nil), m.classes...),
		index:     make(map[string]int, len(m.index)),
		centroids: make([][]float64, len(m.centroids)),
		counts:    append([]int(nil), m.counts...),
	}
	for k, v := range m.index {
		c.index[k] = v
	}
	for i, row := range m.centroids {
		c.centroids[i] = append([]float64(nil), row...)
	}
	return c
}

// PartialFit folds the examples into the running class means.
func (m *Centroid) PartialFit(x [][]float32, y []string) error {
	if err := checkExamples(x, y, m.dim); err != nil {
		return err
	}
	for i, label := range y {
		idx, ok := m.index[label]
		if !ok {
			idx = len(m.classes)
			m.classes = append(m.classes, label)
			m.index[label] = idx
			m.centroids = append(m.centroids, make([]float64, m.dim))
			m.counts = append(m.counts, 0)
		}
		m.counts[idx]++
		n := float64(m.counts[idx])
		// row = row*(n-1)/n + x/n
		row := m.centroids[idx]
		floats.Scale((n-1)/n, row)
		floats.AddScaled(row, 1/n, similarity.Float64s(x[i]))
	}
	return nil
}

func (m *Centroid) Predict(vector []float32) (string, error) {
	if len(m.classes) == 0 {
		return "", ErrModelUnavailable
	}
	if err := checkVector(vector, m.dim); err != nil {
		return "", err
	}

	v := similarity.Float64s(vector)
	best, bestScore := 0, math.Inf(-1)
	for c, row := range m.centroids {
		score := similarity.Cosine64(v, row)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return m.classes[best], nil
}

type centroidParams struct {
	Centroids [][]float64 `json:"centroids"`
	Counts    []int       `json:"counts"`
}

func (m *Centroid) params() centroidParams {
	return centroidParams{Centroids: m.centroids, Counts: m.counts}
}

func centroidFromParams(dim int, classes []string, p centroidParams) (*Centroid, error) {
	if len(p.Centroids) != len(classes) || len(p.Counts) != len(classes) {
		return nil, fmt.Errorf("centroid params do not match %d classes", len(classes))
	}
	m := NewCentroid(dim)
	for i, label := range classes {
		if len(p.Centroids[i]) != dim {
			return nil, fmt.Errorf("centroid %d has %d dimensions, want %d", i, len(p.Centroids[i]), dim)
		}
		m.classes = append(m.classes, label)
		m.index[label] = i
	}
	m.centroids = p.Centroids
	m.counts = p.Counts
	return m, nil
}
