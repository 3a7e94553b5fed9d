package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/classifier"
	"github.com/ticket-classifier/backend/internal/events"
	"github.com/ticket-classifier/backend/internal/metrics"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

// Store is the training view of the record store; *sqlite.Client implements it.
type Store interface {
	LatestTrainingLog(ctx context.Context) (*models.TrainingLogEntry, error)
	TrainingDelta(ctx context.Context, sinceRevision int64) ([]models.ClassificationRecord, error)
	AppendTrainingLog(ctx context.Context, entry *models.TrainingLogEntry) error
}

type Config struct {
	// ModelKind is used when there is no model to warm-start from.
	ModelKind          string
	Dim                int
	Softmax            classifier.SoftmaxOptions
	ValidationFraction float64
	Seed               int64
}

type Result struct {
	Accuracy     float64   `json:"accuracy"`
	NumExamples  int       `json:"num_examples"`
	Skipped      int       `json:"skipped"`
	ModelVersion int64     `json:"model_version"`
	TrainedAt    time.Time `json:"trained_at"`
}

// Trainer refines the served model with records labeled or corrected since
// the last pass. Passes are serialized.
type Trainer struct {
	store     Store
	registry  *classifier.Registry
	publisher events.Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewTrainer(store Store, registry *classifier.Registry, publisher events.Publisher, cfg Config, logger *zap.Logger) *Trainer {
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		store:     store,
		registry:  registry,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Retrain runs one pass. It returns apperrors.ErrNoTrainingData, and writes
// nothing, when there is nothing new to learn from.
func (t *Trainer) Retrain(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startedAt := t.now().UTC()

	latest, err := t.store.LatestTrainingLog(ctx)
	if err != nil {
		return nil, err
	}
	// The watermark is a record revision, not a clock reading: a record
	// written while this pass runs gets a higher revision than anything the
	// delta below can return, whatever its timestamps say.
	var watermark int64
	if latest != nil {
		watermark = latest.Revision
	}

	records, err := t.store.TrainingDelta(ctx, watermark)
	if err != nil {
		return nil, err
	}

	x, y, skipped := t.examples(records)
	if skipped > 0 {
		t.logger.Warn("Skipping records without a usable embedding", zap.Int("skipped", skipped))
	}
	if len(x) == 0 {
		metrics.TrainingRuns.WithLabelValues("no_data").Inc()
		t.logger.Info("No new training data", zap.Int64("watermark", watermark))
		return nil, apperrors.ErrNoTrainingData
	}

	current := t.registry.Current()
	model, err := t.baseModel(current)
	if err != nil {
		return nil, err
	}

	trainIdx, valIdx := split(len(x), t.cfg.ValidationFraction, t.cfg.Seed)
	if err := model.PartialFit(pick(x, trainIdx), pick(y, trainIdx)); err != nil {
		metrics.TrainingRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}
	accuracy := evaluate(model, pick(x, valIdx), pick(y, valIdx))

	snapshot := &classifier.Snapshot{
		Model:     model,
		Version:   nextVersion(current, latest),
		TrainedAt: startedAt,
	}
	if err := t.commit(ctx, snapshot, len(x), accuracy, highestRevision(records)); err != nil {
		metrics.TrainingRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	t.registry.Publish(snapshot)
	metrics.TrainingRuns.WithLabelValues("trained").Inc()
	metrics.ModelAccuracy.Set(accuracy)

	result := &Result{
		Accuracy:     accuracy,
		NumExamples:  len(x),
		Skipped:      skipped,
		ModelVersion: snapshot.Version,
		TrainedAt:    startedAt,
	}

	t.logger.Info("Model retrained",
		zap.Int64("model_version", result.ModelVersion),
		zap.Int("num_examples", result.NumExamples),
		zap.Float64("accuracy", result.Accuracy),
	)

	if err := t.publisher.Publish(ctx, events.Event{
		Type: events.TypeModelRetrained,
		Key:  fmt.Sprintf("model-%d", result.ModelVersion),
		Data: map[string]any{
			"model_version": result.ModelVersion,
			"num_examples":  result.NumExamples,
			"accuracy":      result.Accuracy,
		},
	}); err != nil {
		t.logger.Warn("Failed to publish retrain event", zap.Error(err))
	}

	return result, nil
}

func (t *Trainer) examples(records []models.ClassificationRecord) ([][]float32, []string, int) {
	var x [][]float32
	var y []string
	skipped := 0
	for _, r := range records {
		if r.EmbeddingDegraded || len(r.Embedding) != t.cfg.Dim || r.Category == "" {
			skipped++
			continue
		}
		x = append(x, r.Embedding)
		y = append(y, r.Category)
	}
	return x, y, skipped
}

// baseModel returns a private copy of the served model to fit, or a fresh
// model when none is served.
func (t *Trainer) baseModel(current *classifier.Snapshot) (classifier.Trainable, error) {
	if current != nil && current.Model.Dim() == t.cfg.Dim {
		return current.Model.Clone(), nil
	}
	return classifier.New(t.cfg.ModelKind, t.cfg.Dim, t.cfg.Softmax)
}

// commit saves the artifact, then records the pass. If the log cannot be
// written the previous artifact is put back, so the log and the served
// artifact never disagree for long.
func (t *Trainer) commit(ctx context.Context, snapshot *classifier.Snapshot, numExamples int, accuracy float64, revision int64) error {
	data, err := classifier.Encode(snapshot)
	if err != nil {
		return err
	}

	artifacts := t.registry.Store()
	previous, err := artifacts.Load(ctx)
	if err != nil && !errors.Is(err, classifier.ErrArtifactNotFound) {
		return fmt.Errorf("failed to read current artifact: %w", err)
	}

	if err := artifacts.Save(ctx, data); err != nil {
		return fmt.Errorf("failed to save model artifact: %w", err)
	}

	entry := &models.TrainingLogEntry{
		Timestamp:    snapshot.TrainedAt,
		NumExamples:  numExamples,
		Accuracy:     accuracy,
		ModelVersion: snapshot.Version,
		Revision:     revision,
	}
	err = t.store.AppendTrainingLog(ctx, entry)
	if err == nil {
		return nil
	}

	var restoreErr error
	if previous == nil {
		restoreErr = artifacts.Delete(ctx)
	} else {
		restoreErr = artifacts.Save(ctx, previous)
	}
	if restoreErr != nil {
		t.logger.Error("Failed to restore previous model artifact", zap.Error(restoreErr))
	}
	return fmt.Errorf("failed to record retrain: %w", err)
}

// highestRevision is the watermark the pass leaves behind. Skipped records
// count as consumed; they would be skipped again.
func highestRevision(records []models.ClassificationRecord) int64 {
	var high int64
	for _, r := range records {
		if r.Revision > high {
			high = r.Revision
		}
	}
	return high
}

func nextVersion(current *classifier.Snapshot, latest *models.TrainingLogEntry) int64 {
	var v int64
	if current != nil {
		v = current.Version
	}
	if latest != nil && latest.ModelVersion > v {
		v = latest.ModelVersion
	}
	return v + 1
}

// split shuffles 0..n-1 with seed and holds out ceil(n*fraction) indices for
// validation. A single example, or a zero fraction, validates on the
// training set.
func split(n int, fraction float64, seed int64) (train, val []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nVal := int(math.Ceil(float64(n) * fraction))
	if n == 1 || nVal == 0 {
		return perm, perm
	}
	if nVal >= n {
		nVal = n - 1
	}
	return perm[nVal:], perm[:nVal]
}

func pick[T any](items []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

func evaluate(model classifier.Model, x [][]float32, y []string) float64 {
	if len(x) == 0 {
		return 0
	}
	correct := 0
	for i := range x {
		got, err := model.Predict(x[i])
		if err == nil && got == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x))
}
