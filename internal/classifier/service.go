package classifier

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/similarity"
)

const (
	SourceModel      = "model"
	SourceSimilarity = "similarity"

	DefaultSimilarityThreshold = 0.9
	DefaultConfidence          = 0.95
)

type Prediction struct {
	Category     string
	Confidence   float64
	Source       string
	ModelVersion int64
	Shortlisted  int
}

type Service struct {
	registry          *Registry
	policy            Policy
	threshold         float64
	defaultConfidence float64
	logger            *zap.Logger
}

type ServiceConfig struct {
	Policy              Policy
	SimilarityThreshold float64
	DefaultConfidence   float64
}

func NewService(registry *Registry, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.Policy == nil {
		cfg.Policy = ModelOnly{}
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = DefaultConfidence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:          registry,
		policy:            cfg.Policy,
		threshold:         cfg.SimilarityThreshold,
		defaultConfidence: cfg.DefaultConfidence,
		logger:            logger,
	}
}

// Classify predicts a category for vector. examples are previously
// classified tickets used for the similarity shortlist; the active policy
// decides whether the shortlist affects the answer.
func (s *Service) Classify(ctx context.Context, vector []float32, examples []similarity.Candidate) (Prediction, error) {
	snapshot := s.registry.Current()
	if snapshot == nil {
		return Prediction{}, ErrModelUnavailable
	}
	model := snapshot.Model

	if err := checkVector(vector, model.Dim()); err != nil {
		return Prediction{}, err
	}

	shortlist := similarity.Shortlist(similarity.MostSimilar(vector, examples, len(examples)), s.threshold)

	category, err := model.Predict(vector)
	if err != nil {
		return Prediction{}, err
	}

	confidence := s.defaultConfidence
	if estimator, ok := model.(ProbabilityEstimator); ok {
		probs, err := estimator.PredictProba(vector)
		if err != nil {
			return Prediction{}, err
		}
		best := 0.0
		for _, p := range probs {
			if p > best {
				best = p
			}
		}
		confidence = math.Round(best*1e4) / 1e4
	}

	pred := s.policy.Decide(Prediction{
		Category:     category,
		Confidence:   confidence,
		Source:       SourceModel,
		ModelVersion: snapshot.Version,
		Shortlisted:  len(shortlist),
	}, shortlist)
	pred.Confidence = clamp(pred.Confidence)

	if len(shortlist) > 0 {
		s.logger.Debug("Similar tickets found",
			zap.Int("shortlisted", len(shortlist)),
			zap.String("policy", s.policy.Name()),
			zap.String("category", pred.Category),
		)
	}

	return pred, nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
