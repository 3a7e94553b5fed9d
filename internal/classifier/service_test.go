package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/similarity"
)

func newTestService(t *testing.T, kind string, policy Policy) *Service {
	t.Helper()
	registry := NewRegistry(NewFileStore(t.TempDir()+"/model.json"), nil)
	registry.Publish(trainedSnapshot(t, kind))
	return NewService(registry, ServiceConfig{Policy: policy}, nil)
}

func TestClassify_NoModel(t *testing.T) {
	registry := NewRegistry(NewFileStore(t.TempDir()+"/model.json"), nil)
	svc := NewService(registry, ServiceConfig{}, nil)

	_, err := svc.Classify(context.Background(), []float32{1, 0, 0, 0}, nil)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	assert.True(t, errors.Is(err, apperrors.ErrClassificationFailure))
}

func TestClassify_MalformedVector(t *testing.T) {
	svc := newTestService(t, KindSoftmax, ModelOnly{})

	_, err := svc.Classify(context.Background(), []float32{1, 0}, nil)
	assert.True(t, errors.Is(err, ErrMalformedVector))
}

func TestClassify_ProbabilisticConfidence(t *testing.T) {
	svc := newTestService(t, KindSoftmax, ModelOnly{})

	pred, err := svc.Classify(context.Background(), []float32{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, "billing", pred.Category)
	assert.Equal(t, SourceModel, pred.Source)
	assert.Equal(t, int64(3), pred.ModelVersion)
	assert.Greater(t, pred.Confidence, 0.5)
	assert.LessOrEqual(t, pred.Confidence, 1.0)

	// Rounded to four decimal places.
	assert.InDelta(t, pred.Confidence, float64(int(pred.Confidence*1e4+0.5))/1e4, 1e-12)
}

func TestClassify_DefaultConfidenceWithoutProbabilities(t *testing.T) {
	svc := newTestService(t, KindCentroid, ModelOnly{})

	pred, err := svc.Classify(context.Background(), []float32{0, 0, 1, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fvu", pred.Category)
	assert.Equal(t, DefaultConfidence, pred.Confidence)
}

func TestClassify_Policies(t *testing.T) {
	query := []float32{1, 0, 0, 0}
	examples := []similarity.Candidate{
		{TicketID: 1, Category: "tds", Vector: []float32{1, 0, 0, 0}},
		{TicketID: 2, Category: "tds", Vector: []float32{1, 0.01, 0, 0}},
		{TicketID: 3, Category: "billing", Vector: []float32{0.99, 0, 0.01, 0}},
		{TicketID: 4, Category: "fvu", Vector: []float32{0, 0, 1, 0}},
	}

	t.Run("model only ignores the shortlist", func(t *testing.T) {
		pred, err := newTestService(t, KindSoftmax, ModelOnly{}).Classify(context.Background(), query, examples)
		require.NoError(t, err)
		assert.Equal(t, "billing", pred.Category)
		assert.Equal(t, 3, pred.Shortlisted)
	})

	t.Run("similarity override takes the majority", func(t *testing.T) {
		pred, err := newTestService(t, KindSoftmax, SimilarityOverride{}).Classify(context.Background(), query, examples)
		require.NoError(t, err)
		assert.Equal(t, "tds", pred.Category)
		assert.Equal(t, SourceSimilarity, pred.Source)
		assert.InDelta(t, 2.0/3.0, pred.Confidence, 1e-9)
	})

	t.Run("similarity override without near duplicates", func(t *testing.T) {
		pred, err := newTestService(t, KindSoftmax, SimilarityOverride{}).Classify(context.Background(), query, examples[3:])
		require.NoError(t, err)
		assert.Equal(t, "billing", pred.Category)
		assert.Equal(t, SourceModel, pred.Source)
	})
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyModelOnly, p.Name())

	p, err = ParsePolicy(PolicySimilarityOverride)
	require.NoError(t, err)
	assert.Equal(t, PolicySimilarityOverride, p.Name())

	_, err = ParsePolicy("vote")
	assert.Error(t, err)
}
