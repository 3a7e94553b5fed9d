package classifier

import (
	"fmt"

	"github.com/ticket-classifier/backend/internal/similarity"
)

const (
	PolicyModelOnly          = "model_only"
	PolicySimilarityOverride = "similarity_override"
)

// Policy combines the model's answer with the similarity shortlist.
type Policy interface {
	Name() string
	Decide(model Prediction, shortlist []similarity.Match) Prediction
}

func ParsePolicy(name string) (Policy, error) {
	switch name {
	case PolicyModelOnly, "":
		return ModelOnly{}, nil
	case PolicySimilarityOverride:
		return SimilarityOverride{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier policy %q", name)
	}
}

// ModelOnly always returns the model's prediction.
type ModelOnly struct{}

func (ModelOnly) Name() string { return PolicyModelOnly }

func (ModelOnly) Decide(model Prediction, _ []similarity.Match) Prediction {
	return model
}

// SimilarityOverride replaces the model's answer with the majority category
// of near-duplicate tickets when there are any.
type SimilarityOverride struct{}

func (SimilarityOverride) Name() string { return PolicySimilarityOverride }

func (SimilarityOverride) Decide(model Prediction, shortlist []similarity.Match) Prediction {
	if len(shortlist) == 0 {
		return model
	}

	counts := make(map[string]int)
	var order []string
	for _, m := range shortlist {
		if _, ok := counts[m.Candidate.Category]; !ok {
			order = append(order, m.Candidate.Category)
		}
		counts[m.Candidate.Category]++
	}

	// shortlist is best-first, so ties go to the closest ticket's category.
	winner := order[0]
	for _, category := range order[1:] {
		if counts[category] > counts[winner] {
			winner = category
		}
	}

	out := model
	out.Category = winner
	out.Confidence = float64(counts[winner]) / float64(len(shortlist))
	out.Source = SourceSimilarity
	return out
}
