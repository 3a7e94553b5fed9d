package pipeline

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/classifier"
	"github.com/ticket-classifier/backend/internal/clustering"
	"github.com/ticket-classifier/backend/internal/embedding"
	"github.com/ticket-classifier/backend/internal/embedding/mock"
	"github.com/ticket-classifier/backend/internal/events"
	"github.com/ticket-classifier/backend/internal/jobs"
	"github.com/ticket-classifier/backend/internal/labeling"
	"github.com/ticket-classifier/backend/internal/llm"
	"github.com/ticket-classifier/backend/internal/storage/models"
	"github.com/ticket-classifier/backend/internal/storage/sqlite"
)

const dim = 32

type fixture struct {
	db       *sqlite.Client
	embedder *mock.Embedder
	cache    *embedding.Cache
	registry *classifier.Registry
	recorder *events.Recorder
	pipeline *Pipeline
}

func newFixture(t *testing.T, wrap func(Store) Store) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.NewClient(filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	embedder := mock.NewEmbedder(dim)
	cache, err := embedding.NewCache(embedder, mock.NewStore(), 128, dim, nil)
	require.NoError(t, err)

	registry := classifier.NewRegistry(classifier.NewFileStore(filepath.Join(dir, "model.json")), nil)
	service := classifier.NewService(registry, classifier.ServiceConfig{}, nil)

	var store Store = db
	if wrap != nil {
		store = wrap(db)
	}

	f := &fixture{db: db, embedder: embedder, cache: cache, registry: registry, recorder: &events.Recorder{}}
	f.pipeline, err = New(store, jobs.NewTracker(db, nil), cache, service, f.recorder, Config{Workers: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.pipeline.Close(context.Background()) })
	return f
}

// train publishes a model fitted on the mock embeddings of a few tickets.
func (f *fixture) train(t *testing.T) {
	t.Helper()
	examples := []models.Ticket{
		{Description: "fvu file not generated", Product: "TDS"},
		{Description: "fvu validation error", Product: "TDS"},
		{Description: "invoice amount mismatch", Product: "GST"},
		{Description: "invoice not received", Product: "GST"},
	}
	labels := []string{"FVU Generation", "FVU Generation", "Billing", "Billing"}

	x := make([][]float32, len(examples))
	for i, ex := range examples {
		x[i] = f.embedder.Vector(ex.Text())
	}
	model, err := classifier.New(classifier.KindSoftmax, dim, classifier.SoftmaxOptions{Epochs: 200})
	require.NoError(t, err)
	require.NoError(t, model.PartialFit(x, labels))
	f.registry.Publish(&classifier.Snapshot{Model: model, Version: 1})
}

var batch = []models.Ticket{
	{TicketID: 101, Description: "fvu file not generated", Product: "TDS", CreatedDate: "2024-05-01"},
	{TicketID: 102, Description: "invoice amount mismatch", Product: "GST"},
	{TicketID: 103, Description: "fvu validation error again", Product: "TDS"},
}

func TestPipeline_ClassifiesBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.train(t)

	jobID, err := f.pipeline.Submit(ctx, "req-1", batch)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	f.pipeline.Wait()

	result, err := f.pipeline.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, result.Status)
	require.Len(t, result.Results, 3)

	byID := map[int64]models.ClassificationRecord{}
	for _, r := range result.Results {
		byID[r.TicketID] = r
		assert.Equal(t, models.ModeModel, r.Mode)
		assert.Equal(t, jobID, r.JobID)
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		assert.False(t, r.Corrected())
	}
	assert.Equal(t, "FVU Generation", byID[101].Category)
	assert.Equal(t, "Billing", byID[102].Category)
	assert.Equal(t, "2024-05-01", byID[101].CreatedDate)

	evts := f.recorder.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeJobCompleted, evts[0].Type)
	assert.Equal(t, jobID, evts[0].Key)
}

func TestPipeline_RejectsInvalidBatches(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Submit(context.Background(), "req", nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidBatch))

	_, err = f.pipeline.Submit(context.Background(), "req", []models.Ticket{{TicketID: 1, Description: "x"}})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidBatch))
}

func TestPipeline_RejectsBatchesAfterClose(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.pipeline.Close(context.Background()))

	_, err := f.pipeline.Submit(context.Background(), "req", batch)
	assert.True(t, errors.Is(err, apperrors.ErrUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))
}

// keywordLabeler answers FVU Generation for anything mentioning fvu.
type keywordLabeler struct {
	calls atomic.Int64
}

func (l *keywordLabeler) LabelTicket(_ context.Context, ticketText, _ string) (*llm.TicketLabel, error) {
	l.calls.Add(1)
	if strings.Contains(strings.ToLower(ticketText), "fvu") {
		return &llm.TicketLabel{Category: "FVU Generation", Confidence: 0.9}, nil
	}
	return &llm.TicketLabel{Category: "Billing", Confidence: 0.8}, nil
}

func TestPipeline_SubmitThenClusterAndLabel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.train(t)

	tickets := []models.Ticket{
		{TicketID: 1, Description: "error in fvu file", Product: "TDS"},
		{TicketID: 2, Description: "fvu generation failed", Product: "TDS"},
		{TicketID: 3, Description: "billing invoice mismatch", Product: "GST"},
	}

	jobID, err := f.pipeline.Submit(ctx, "req-e2e", tickets)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	f.pipeline.Wait()

	status, err := f.pipeline.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Len(t, status.Results, 3)

	engine := clustering.NewEngine(f.cache, clustering.Config{}, nil)
	groups, err := engine.Cluster(ctx, tickets, 2)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	sizes := []int{len(groups[0]), len(groups[1])}
	sort.Ints(sizes)
	assert.Equal(t, []int{1, 2}, sizes)
	for _, g := range groups {
		if len(g) == 2 {
			assert.Equal(t, int64(1), g[0].TicketID)
			assert.Equal(t, int64(2), g[1].TicketID)
		}
	}

	labeler := &keywordLabeler{}
	service := labeling.NewService(labeler, engine, f.cache, f.db, nil, labeling.Config{MaxClusters: 2}, nil)
	outcome, err := service.Label(ctx, tickets)
	require.NoError(t, err)
	assert.Empty(t, outcome.Failed)
	require.Len(t, outcome.Labeled, 3)
	// One call per cluster, broadcast to its members.
	assert.Equal(t, int64(2), labeler.calls.Load())

	want := map[int64]string{1: "FVU Generation", 2: "FVU Generation", 3: "Billing"}
	for id, category := range want {
		rec, err := f.db.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, category, rec.Category, "ticket %d", id)
		assert.Equal(t, models.ModeExternalLabel, rec.Mode, "ticket %d", id)
	}

	// The labeled tickets are what the next retrain learns from.
	delta, err := f.db.TrainingDelta(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, delta, 3)
}

func TestPipeline_NoModelCompletesWithoutResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	jobID, err := f.pipeline.Submit(ctx, "req", batch)
	require.NoError(t, err)
	f.pipeline.Wait()

	result, err := f.pipeline.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, result.Status)
	assert.Empty(t, result.Results)
}

type failingUpserts struct {
	Store
}

func (failingUpserts) UpsertRecord(context.Context, *models.ClassificationRecord) error {
	return errors.New("disk full")
}

func TestPipeline_FailsWhenNothingPersists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(s Store) Store { return failingUpserts{Store: s} })
	f.train(t)

	jobID, err := f.pipeline.Submit(ctx, "req", batch)
	require.NoError(t, err)
	f.pipeline.Wait()

	result, err := f.pipeline.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, result.Status)
	assert.Empty(t, result.Results)

	evts := f.recorder.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeJobFailed, evts[0].Type)
}

func TestPipeline_UnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.pipeline.JobStatus(context.Background(), "missing")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestPipeline_Correct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.train(t)

	_, err := f.pipeline.Submit(ctx, "req", batch[:1])
	require.NoError(t, err)
	f.pipeline.Wait()

	rec, err := f.pipeline.Correct(ctx, 101, "Billing")
	require.NoError(t, err)
	assert.Equal(t, "Billing", rec.Category)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.Equal(t, models.ModeManualEdit, rec.Mode)
	assert.True(t, rec.Corrected())

	_, err = f.pipeline.Correct(ctx, 999, "Billing")
	assert.Equal(t, 404, apperrors.HTTPStatusCode(err))

	_, err = f.pipeline.Correct(ctx, 101, "  ")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidBatch))
}

func TestParseBatch(t *testing.T) {
	tickets, err := ParseBatch([]byte(`{"tickets":[{"ticket_id":1,"description":"a","product":"p","created_date":"2024-01-01"}]}`))
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, int64(1), tickets[0].TicketID)

	bad := []string{
		`not json`,
		`{"tickets":[]}`,
		`{"items":[]}`,
		`{"tickets":[{"ticket_id":1,"description":"a"}]}`,
		`{"tickets":[{"ticket_id":"1","description":"a","product":"p"}]}`,
		`{"tickets":[{"ticket_id":1,"description":"   ","product":"p"}]}`,
	}
	for _, body := range bad {
		_, err := ParseBatch([]byte(body))
		assert.True(t, errors.Is(err, apperrors.ErrInvalidBatch), body)
		assert.Equal(t, 400, apperrors.HTTPStatusCode(err), body)
	}
}
