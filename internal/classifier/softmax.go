package classifier

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/ticket-classifier/backend/internal/similarity"
)

type SoftmaxOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
	Seed         int64
}

func (o SoftmaxOptions) withDefaults() SoftmaxOptions {
	if o.LearningRate <= 0 {
		o.LearningRate = 0.1
	}
	if o.Epochs <= 0 {
		o.Epochs = 100
	}
	if o.L2 < 0 {
		o.L2 = 0
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	return o
}

// Softmax is a multinomial logistic regression trained with SGD. PartialFit
// continues from the current weights; unseen labels get fresh zero rows.
type Softmax struct {
	dim     int
	classes []string
	index   map[string]int
	weights [][]float64
	bias    []float64
	opts    SoftmaxOptions
}

func NewSoftmax(dim int, opts SoftmaxOptions) *Softmax {
	return &Softmax{
		dim:   dim,
		index: make(map[string]int),
		opts:  opts.withDefaults(),
	}
}

func (m *Softmax) Kind() string { return KindSoftmax }

func (m *Softmax) Dim() int { return m.dim }

func (m *Softmax) Classes() []string {
	out := make([]string, len(m.classes))
	copy(out, m.classes)
	return out
}

func (m *Softmax) Clone() Trainable {
	c := &Softmax{
		dim:     m.dim,
		classes: append([]string(nil), m.classes...),
		index:   make(map[string]int, len(m.index)),
		weights: make([][]float64, len(m.weights)),
		bias:    append([]float64(nil), m.bias...),
		opts:    m.opts,
	}
	for k, v := range m.index {
		c.index[k] = v
	}
	for i, w := range m.weights {
		c.weights[i] = append([]float64(nil), w...)
	}
	return c
}

func (m *Softmax) addClass(label string) int {
	if idx, ok := m.index[label]; ok {
		return idx
	}
	idx := len(m.classes)
	m.classes = append(m.classes, label)
	m.index[label] = idx
	m.weights = append(m.weights, make([]float64, m.dim))
	m.bias = append(m.bias, 0)
	return idx
}

func (m *Softmax) PartialFit(x [][]float32, y []string) error {
	if err := checkExamples(x, y, m.dim); err != nil {
		return err
	}
	if len(x) == 0 {
		return nil
	}

	targets := make([]int, len(y))
	for i, label := range y {
		targets[i] = m.addClass(label)
	}
	xs := make([][]float64, len(x))
	for i, v := range x {
		xs[i] = similarity.Float64s(v)
	}

	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(m.opts.Seed))
	probs := make([]float64, len(m.classes))

	for epoch := 0; epoch < m.opts.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, i := range order {
			m.probabilities(xs[i], probs)
			for c := range m.classes {
				g := probs[c]
				if c == targets[i] {
					g -= 1
				}
				// w -= lr * (g*x + l2*w)
				w := m.weights[c]
				floats.Scale(1-m.opts.LearningRate*m.opts.L2, w)
				floats.AddScaled(w, -m.opts.LearningRate*g, xs[i])
				m.bias[c] -= m.opts.LearningRate * g
			}
		}
	}
	return nil
}

// probabilities fills out with the class distribution for v.
func (m *Softmax) probabilities(v []float64, out []float64) {
	for c := range m.classes {
		out[c] = m.bias[c] + floats.Dot(m.weights[c], v)
	}
	norm := floats.LogSumExp(out)
	for c := range out {
		out[c] = math.Exp(out[c] - norm)
	}
}

func (m *Softmax) PredictProba(vector []float32) (map[string]float64, error) {
	if len(m.classes) == 0 {
		return nil, ErrModelUnavailable
	}
	if err := checkVector(vector, m.dim); err != nil {
		return nil, err
	}
	probs := make([]float64, len(m.classes))
	m.probabilities(similarity.Float64s(vector), probs)

	out := make(map[string]float64, len(m.classes))
	for c, label := range m.classes {
		out[label] = probs[c]
	}
	return out, nil
}

// Predict returns the most probable class; ties go to the class seen first.
func (m *Softmax) Predict(vector []float32) (string, error) {
	if len(m.classes) == 0 {
		return "", ErrModelUnavailable
	}
	if err := checkVector(vector, m.dim); err != nil {
		return "", err
	}
	probs := make([]float64, len(m.classes))
	m.probabilities(similarity.Float64s(vector), probs)

	return m.classes[floats.MaxIdx(probs)], nil
}

type softmaxParams struct {
	Weights      [][]float64 `json:"weights"`
	Bias         []float64   `json:"bias"`
	LearningRate float64     `json:"learning_rate"`
	Epochs       int         `json:"epochs"`
	L2           float64     `json:"l2"`
	Seed         int64       `json:"seed"`
}

func (m *Softmax) params() softmaxParams {
	return softmaxParams{
		Weights:      m.weights,
		Bias:         m.bias,
		LearningRate: m.opts.LearningRate,
		Epochs:       m.opts.Epochs,
		L2:           m.opts.L2,
		Seed:         m.opts.Seed,
	}
}

func softmaxFromParams(dim int, classes []string, p softmaxParams) (*Softmax, error) {
	if len(p.Weights) != len(classes) || len(p.Bias) != len(classes) {
		return nil, fmt.Errorf("softmax params do not match %d classes", len(classes))
	}
	for i, w := range p.Weights {
		if len(w) != dim {
			return nil, fmt.Errorf("softmax weight row %d has %d dimensions, want %d", i, len(w), dim)
		}
	}

	m := NewSoftmax(dim, SoftmaxOptions{
		LearningRate: p.LearningRate,
		Epochs:       p.Epochs,
		L2:           p.L2,
		Seed:         p.Seed,
	})
	for i, label := range classes {
		m.addClass(label)
		m.weights[i] = p.Weights[i]
		m.bias[i] = p.Bias[i]
	}
	return m, nil
}
