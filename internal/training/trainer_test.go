package training

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/classifier"
	"github.com/ticket-classifier/backend/internal/events"
	"github.com/ticket-classifier/backend/internal/storage/models"
	"github.com/ticket-classifier/backend/internal/storage/sqlite"
)

const dim = 4

type fixture struct {
	db        *sqlite.Client
	artifacts *classifier.FileStore
	registry  *classifier.Registry
	recorder  *events.Recorder
	trainer   *Trainer
	clock     time.Time
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.NewClient(filepath.Join(dir, "train.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	if store == nil {
		store = db
	}

	f := &fixture{
		db:        db,
		artifacts: classifier.NewFileStore(filepath.Join(dir, "model.json")),
		recorder:  &events.Recorder{},
		clock:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.registry = classifier.NewRegistry(f.artifacts, nil)
	f.trainer = NewTrainer(store, f.registry, f.recorder, Config{
		ModelKind:          classifier.KindSoftmax,
		Dim:                dim,
		ValidationFraction: 0.2,
	}, nil)
	f.trainer.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) seed(t *testing.T, id int64, category string, vec []float32, mode models.TaggingMode) {
	t.Helper()
	at := f.clock.Add(-time.Hour)
	require.NoError(t, f.db.UpsertRecord(context.Background(), &models.ClassificationRecord{
		TicketID:    id,
		Description: fmt.Sprintf("ticket %d", id),
		Product:     "P",
		Category:    category,
		Confidence:  0.9,
		Mode:        mode,
		Embedding:   vec,
		CreatedAt:   at,
		UpdatedAt:   at,
	}))
}

func (f *fixture) seedLabeled(t *testing.T) {
	f.seed(t, 1, "billing", []float32{1, 0, 0, 0}, models.ModeExternalLabel)
	f.seed(t, 2, "billing", []float32{0.9, 0.1, 0, 0}, models.ModeExternalLabel)
	f.seed(t, 3, "fvu", []float32{0, 0, 1, 0}, models.ModeExternalLabel)
	f.seed(t, 4, "fvu", []float32{0, 0.1, 0.9, 0}, models.ModeExternalLabel)
	f.seed(t, 5, "fvu", []float32{0, 0, 1, 0.1}, models.ModeExternalLabel)
}

func TestRetrain_NoDataOnEmptyStore(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.trainer.Retrain(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNoTrainingData))

	logs, err := f.db.ListTrainingLogs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Nil(t, f.registry.Current())
}

func TestRetrain_SecondPassHasNothingNew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedLabeled(t)

	result, err := f.trainer.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.NumExamples)
	assert.Equal(t, int64(1), result.ModelVersion)
	assert.GreaterOrEqual(t, result.Accuracy, 0.0)
	assert.LessOrEqual(t, result.Accuracy, 1.0)

	require.NotNil(t, f.registry.Current())
	assert.Equal(t, int64(1), f.registry.Current().Version)

	// The artifact on disk is the published model.
	data, err := f.artifacts.Load(ctx)
	require.NoError(t, err)
	stored, err := classifier.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	f.clock = f.clock.Add(time.Minute)
	_, err = f.trainer.Retrain(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNoTrainingData))

	logs, err := f.db.ListTrainingLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	require.Len(t, f.recorder.Events(), 1)
	assert.Equal(t, events.TypeModelRetrained, f.recorder.Events()[0].Type)
}

func TestRetrain_ManualCorrectionFeedsNextPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedLabeled(t)
	f.seed(t, 6, "fvu", []float32{0, 1, 0, 0}, models.ModeModel)

	result, err := f.trainer.Retrain(ctx)
	require.NoError(t, err)
	// The model-tagged record is not a training example.
	assert.Equal(t, 5, result.NumExamples)

	f.clock = f.clock.Add(time.Minute)
	_, err = f.db.CorrectCategory(ctx, 6, "tds", f.clock)
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Minute)
	result, err = f.trainer.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NumExamples)
	assert.Equal(t, int64(2), result.ModelVersion)
	// A single example is validated on itself.
	assert.Equal(t, 1.0, result.Accuracy)

	current := f.registry.Current()
	assert.Contains(t, current.Model.Classes(), "tds")
	assert.Contains(t, current.Model.Classes(), "billing")

	logs, err := f.db.ListTrainingLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestRetrain_SkipsDegradedEmbeddings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	at := f.clock.Add(-time.Hour)
	require.NoError(t, f.db.UpsertRecord(ctx, &models.ClassificationRecord{
		TicketID:          1,
		Description:       "d",
		Product:           "p",
		Category:          "billing",
		Confidence:        0.5,
		Mode:              models.ModeExternalLabel,
		Embedding:         make([]float32, dim),
		EmbeddingDegraded: true,
		CreatedAt:         at,
		UpdatedAt:         at,
	}))

	_, err := f.trainer.Retrain(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNoTrainingData))
}

type failingArtifacts struct {
	*classifier.FileStore
	saveErr error
}

func (s *failingArtifacts) Save(ctx context.Context, data []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.FileStore.Save(ctx, data)
}

func TestRetrain_ArtifactFailureWritesNoLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedLabeled(t)

	boom := errors.New("disk full")
	f.registry = classifier.NewRegistry(&failingArtifacts{FileStore: f.artifacts, saveErr: boom}, nil)
	f.trainer.registry = f.registry

	_, err := f.trainer.Retrain(ctx)
	assert.ErrorIs(t, err, boom)

	logs, err := f.db.ListTrainingLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Nil(t, f.registry.Current())
}

var errLogLocked = errors.New("database is locked")

// logFailingStore cannot record a finished pass.
type logFailingStore struct {
	*sqlite.Client
}

func (s logFailingStore) AppendTrainingLog(context.Context, *models.TrainingLogEntry) error {
	return errLogLocked
}

func TestRetrain_LogFailureRestoresPreviousArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedLabeled(t)

	_, err := f.trainer.Retrain(ctx)
	require.NoError(t, err)
	before, err := f.artifacts.Load(ctx)
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Minute)
	_, err = f.db.CorrectCategory(ctx, 1, "tds", f.clock)
	require.NoError(t, err)
	f.clock = f.clock.Add(time.Minute)

	f.trainer.store = logFailingStore{Client: f.db}
	_, err = f.trainer.Retrain(ctx)
	assert.ErrorIs(t, err, errLogLocked)

	after, err := f.artifacts.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(1), f.registry.Current().Version)
}

func TestRetrain_LogFailureWithoutPreviousArtifactRemovesIt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedLabeled(t)
	f.trainer.store = logFailingStore{Client: f.db}

	_, err := f.trainer.Retrain(ctx)
	assert.ErrorIs(t, err, errLogLocked)

	_, err = f.artifacts.Load(ctx)
	assert.True(t, errors.Is(err, classifier.ErrArtifactNotFound))
	assert.Nil(t, f.registry.Current())
}

// writeDuringPassStore writes a record right after the pass has read its
// delta, the way a labeling batch still saving its members would.
type writeDuringPassStore struct {
	*sqlite.Client
	write func()
}

func (s *writeDuringPassStore) TrainingDelta(ctx context.Context, since int64) ([]models.ClassificationRecord, error) {
	records, err := s.Client.TrainingDelta(ctx, since)
	if s.write != nil {
		s.write()
		s.write = nil
	}
	return records, err
}

func TestRetrain_RecordWrittenDuringPassFeedsNextPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedLabeled(t)

	store := &writeDuringPassStore{Client: f.db}
	store.write = func() {
		// Stamped before the pass started, committed after it read the delta.
		f.seed(t, 7, "billing", []float32{1, 0.1, 0, 0}, models.ModeExternalLabel)
	}
	f.trainer.store = store

	result, err := f.trainer.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.NumExamples)

	f.clock = f.clock.Add(time.Minute)
	result, err = f.trainer.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NumExamples)

	_, err = f.trainer.Retrain(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNoTrainingData))

	logs, err := f.db.ListTrainingLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Less(t, logs[0].Revision, logs[1].Revision)
}

func TestSplit(t *testing.T) {
	train, val := split(1, 0.2, 42)
	assert.Equal(t, []int{0}, train)
	assert.Equal(t, []int{0}, val)

	train, val = split(10, 0.2, 42)
	assert.Len(t, train, 8)
	assert.Len(t, val, 2)

	train2, val2 := split(10, 0.2, 42)
	assert.Equal(t, train, train2)
	assert.Equal(t, val, val2)

	train, val = split(2, 0.9, 42)
	assert.Len(t, train, 1)
	assert.Len(t, val, 1)
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	f := newFixture(t, nil)

	_, err := NewScheduler("not a schedule", f.trainer, time.Minute, nil)
	assert.Error(t, err)

	s, err := NewScheduler("*/5 * * * *", f.trainer, time.Minute, nil)
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
