package classifier

import (
	"fmt"
	"math"
	"time"

	"github.com/ticket-classifier/backend/internal/apperrors"
)

var (
	ErrModelUnavailable = fmt.Errorf("%w: no model available", apperrors.ErrClassificationFailure)
	ErrMalformedVector  = fmt.Errorf("%w: malformed vector", apperrors.ErrClassificationFailure)
)

const (
	KindSoftmax  = "softmax"
	KindCentroid = "centroid"
)

// Model maps an embedding to a category.
type Model interface {
	Kind() string
	Dim() int
	Classes() []string
	Predict(vector []float32) (string, error)
}

// ProbabilityEstimator is implemented by models that can score every class.
type ProbabilityEstimator interface {
	PredictProba(vector []float32) (map[string]float64, error)
}

// Trainable models can be refined in place from labeled examples. Callers
// must Clone before fitting a model that is being served.
type Trainable interface {
	Model
	PartialFit(x [][]float32, y []string) error
	Clone() Trainable
}

// Snapshot is an immutable published model.
type Snapshot struct {
	Model     Trainable
	Version   int64
	TrainedAt time.Time
}

// New builds an untrained model of the given kind.
func New(kind string, dim int, opts SoftmaxOptions) (Trainable, error) {
	switch kind {
	case KindSoftmax, "":
		return NewSoftmax(dim, opts), nil
	case KindCentroid:
		return NewCentroid(dim), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}

func checkVector(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrMalformedVector, dim, len(vector))
	}
	for _, f := range vector {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite component", ErrMalformedVector)
		}
	}
	return nil
}

func checkExamples(x [][]float32, y []string, dim int) error {
	if len(x) != len(y) {
		return fmt.Errorf("got %d vectors and %d labels", len(x), len(y))
	}
	for i := range x {
		if err := checkVector(x[i], dim); err != nil {
			return fmt.Errorf("example %d: %w", i, err)
		}
		if y[i] == "" {
			return fmt.Errorf("example %d: empty label", i)
		}
	}
	return nil
}
