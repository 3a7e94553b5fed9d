package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/classifier"
	"github.com/ticket-classifier/backend/internal/embedding"
	"github.com/ticket-classifier/backend/internal/events"
	"github.com/ticket-classifier/backend/internal/jobs"
	"github.com/ticket-classifier/backend/internal/metrics"
	"github.com/ticket-classifier/backend/internal/similarity"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

// Store is the record persistence the pipeline needs; *sqlite.Client implements it.
type Store interface {
	UpsertRecord(ctx context.Context, record *models.ClassificationRecord) error
	LabeledExamples(ctx context.Context) ([]models.ClassificationRecord, error)
	RecordsByJob(ctx context.Context, jobID string) ([]models.ClassificationRecord, error)
	CorrectCategory(ctx context.Context, ticketID int64, category string, at time.Time) (*models.ClassificationRecord, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) embedding.Result
}

type Classifier interface {
	Classify(ctx context.Context, vector []float32, examples []similarity.Candidate) (classifier.Prediction, error)
}

type Config struct {
	Workers int
}

// JobResult is what callers polling a job see. Results are only filled in
// once the job has COMPLETED.
type JobResult struct {
	Status  models.JobStatus              `json:"status"`
	Results []models.ClassificationRecord `json:"classified_tickets,omitempty"`
}

// Pipeline accepts ticket batches, classifies them in the background and
// tracks each batch as a job.
type Pipeline struct {
	store      Store
	tracker    *jobs.Tracker
	embedder   Embedder
	classifier Classifier
	publisher  events.Publisher
	pool       *ants.Pool
	logger     *zap.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add in Submit against shutdown in Close.
	mu     sync.Mutex
	closed bool
}

func New(store Store, tracker *jobs.Tracker, embedder Embedder, clf Classifier, publisher events.Publisher, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v interface{}) {
		logger.Error("Worker panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:      store,
		tracker:    tracker,
		embedder:   embedder,
		classifier: clf,
		publisher:  publisher,
		pool:       pool,
		logger:     logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Submit opens a job for the batch and returns its id without waiting for
// classification to finish.
func (p *Pipeline) Submit(ctx context.Context, requestID string, tickets []models.Ticket) (string, error) {
	if err := Validate(tickets); err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "classification is shutting down")
	}
	p.wg.Add(1)
	p.mu.Unlock()

	jobID, err := p.tracker.Open(ctx, requestID)
	if err != nil {
		p.wg.Done()
		return "", fmt.Errorf("failed to open job: %w", err)
	}

	batch := make([]models.Ticket, len(tickets))
	copy(batch, tickets)

	go func() {
		defer p.wg.Done()
		p.run(jobID, requestID, batch)
	}()

	return jobID, nil
}

type batchStats struct {
	attempted atomic.Int64
	persisted atomic.Int64
	failed    atomic.Int64
}

func (p *Pipeline) run(jobID, requestID string, tickets []models.Ticket) {
	ctx := p.ctx
	logger := p.logger.With(zap.String("job_id", jobID), zap.String("request_id", requestID))
	start := time.Now()

	var stats batchStats
	err := p.process(ctx, logger, jobID, tickets, &stats)

	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	failed := err != nil || (stats.attempted.Load() > 0 && stats.persisted.Load() == 0)
	if failed {
		if err == nil {
			err = fmt.Errorf("%w: no classification could be saved", apperrors.ErrJobFailure)
		}
		logger.Error("Classification job failed", zap.Error(err))
		if ferr := p.tracker.Fail(context.Background(), jobID); ferr != nil {
			logger.Error("Failed to mark job failed", zap.Error(ferr))
		}
		p.publish(logger, events.TypeJobFailed, jobID, &stats, err)
		return
	}

	logger.Info("Classification job completed",
		zap.Int("tickets", len(tickets)),
		zap.Int64("classified", stats.persisted.Load()),
		zap.Int64("failed", stats.failed.Load()),
		zap.Duration("duration", time.Since(start)),
	)
	if cerr := p.tracker.Complete(context.Background(), jobID); cerr != nil {
		logger.Error("Failed to mark job completed", zap.Error(cerr))
		return
	}
	p.publish(logger, events.TypeJobCompleted, jobID, &stats, nil)
}

func (p *Pipeline) process(ctx context.Context, logger *zap.Logger, jobID string, tickets []models.Ticket, stats *batchStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", apperrors.ErrJobFailure, r)
		}
	}()

	examples, err := p.loadExamples(ctx)
	if err != nil {
		// Similarity only refines the model's answer, so carry on without it.
		logger.Warn("Failed to load stored examples", zap.Error(err))
	}

	var wg sync.WaitGroup
	for _, ticket := range tickets {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					stats.failed.Add(1)
					metrics.TicketsClassified.WithLabelValues("failed").Inc()
					logger.Error("Ticket processing panicked", zap.Int64("ticket_id", ticket.TicketID), zap.Any("panic", r))
				}
			}()
			if err := p.classifyTicket(ctx, jobID, ticket, examples, stats); err != nil {
				stats.failed.Add(1)
				metrics.TicketsClassified.WithLabelValues("failed").Inc()
				logger.Warn("Ticket classification failed", zap.Int64("ticket_id", ticket.TicketID), zap.Error(err))
				return
			}
			metrics.TicketsClassified.WithLabelValues("classified").Inc()
		}
		if serr := p.pool.Submit(task); serr != nil {
			wg.Done()
			stats.failed.Add(1)
			logger.Error("Failed to schedule ticket", zap.Int64("ticket_id", ticket.TicketID), zap.Error(serr))
		}
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) classifyTicket(ctx context.Context, jobID string, ticket models.Ticket, examples []similarity.Candidate, stats *batchStats) error {
	emb := p.embedder.Embed(ctx, ticket.Text())

	pred, err := p.classifier.Classify(ctx, emb.Vector, examples)
	if err != nil {
		return err
	}
	metrics.ClassificationConfidence.Observe(pred.Confidence)

	now := p.now()
	rec := &models.ClassificationRecord{
		TicketID:          ticket.TicketID,
		Description:       ticket.Description,
		Product:           ticket.Product,
		CreatedDate:       ticket.CreatedDate,
		Category:          pred.Category,
		Confidence:        pred.Confidence,
		Mode:              models.ModeModel,
		Embedding:         emb.Vector,
		EmbeddingDegraded: emb.Degraded,
		JobID:             jobID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	stats.attempted.Add(1)
	if err := p.store.UpsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("saving classification: %w", err)
	}
	stats.persisted.Add(1)
	return nil
}

func (p *Pipeline) loadExamples(ctx context.Context) ([]similarity.Candidate, error) {
	records, err := p.store.LabeledExamples(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]similarity.Candidate, 0, len(records))
	for _, r := range records {
		candidates = append(candidates, similarity.Candidate{
			TicketID: r.TicketID,
			Category: r.Category,
			Vector:   r.Embedding,
		})
	}
	return candidates, nil
}

func (p *Pipeline) publish(logger *zap.Logger, eventType, jobID string, stats *batchStats, cause error) {
	data := map[string]any{
		"classified": stats.persisted.Load(),
		"failed":     stats.failed.Load(),
	}
	if cause != nil {
		data["error"] = cause.Error()
	}
	err := p.publisher.Publish(context.Background(), events.Event{
		Type:       eventType,
		Key:        jobID,
		OccurredAt: p.now().UTC(),
		Data:       data,
	})
	if err != nil {
		logger.Warn("Failed to publish job event", zap.String("type", eventType), zap.Error(err))
	}
}

// JobStatus reports a job's status, with its classified tickets once it has
// completed.
func (p *Pipeline) JobStatus(ctx context.Context, jobID string) (*JobResult, error) {
	job, err := p.tracker.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}

	result := &JobResult{Status: job.Status}
	if job.Status != models.JobCompleted {
		return result, nil
	}

	records, err := p.store.RecordsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job results: %w", err)
	}
	result.Results = records
	return result, nil
}

// Correct records a manual category for an already classified ticket. The
// corrected record is picked up by the next retraining pass.
func (p *Pipeline) Correct(ctx context.Context, ticketID int64, category string) (*models.ClassificationRecord, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, apperrors.New(apperrors.ErrInvalidBatch, http.StatusBadRequest, "category is required")
	}

	rec, err := p.store.CorrectCategory(ctx, ticketID, category, p.now())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "ticket %d has not been classified", ticketID)
		}
		return nil, fmt.Errorf("failed to save correction: %w", err)
	}

	p.logger.Info("Ticket category corrected",
		zap.Int64("ticket_id", ticketID),
		zap.String("category", category),
	)
	return rec, nil
}

// Wait blocks until every submitted batch has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close rejects new batches, waits for in-flight ones up to ctx's deadline,
// then cancels the rest and releases the worker pool.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.cancel()
		<-done
	}
	p.cancel()
	p.pool.Release()
	return err
}
