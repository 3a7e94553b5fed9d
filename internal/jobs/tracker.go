package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/metrics"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

var (
	ErrJobNotFound              = fmt.Errorf("job %w", apperrors.ErrNotFound)
	ErrConflictingTerminalState = fmt.Errorf("%w: job already in a different terminal state", apperrors.ErrConflict)
)

// Store is the persistence the tracker needs; *sqlite.Client implements it.
type Store interface {
	InsertJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	TransitionJob(ctx context.Context, jobID string, status models.JobStatus, at time.Time) (bool, error)
}

// Tracker owns job lifecycle. A job only moves from IN_PROGRESS to a single
// terminal status and never leaves it.
type Tracker struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewTracker(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

func (t *Tracker) Open(ctx context.Context, requestID string) (string, error) {
	now := t.now()
	job := &models.Job{
		JobID:     uuid.New().String(),
		RequestID: requestID,
		Status:    models.JobInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.InsertJob(ctx, job); err != nil {
		return "", err
	}

	t.logger.Info("Job opened", zap.String("job_id", job.JobID), zap.String("request_id", requestID))
	return job.JobID, nil
}

func (t *Tracker) Complete(ctx context.Context, jobID string) error {
	return t.finish(ctx, jobID, models.JobCompleted)
}

func (t *Tracker) Fail(ctx context.Context, jobID string) error {
	return t.finish(ctx, jobID, models.JobFailed)
}

func (t *Tracker) finish(ctx context.Context, jobID string, status models.JobStatus) error {
	ok, err := t.store.TransitionJob(ctx, jobID, status, t.now())
	if err != nil {
		return err
	}
	if ok {
		metrics.JobsTotal.WithLabelValues(string(status)).Inc()
		t.logger.Info("Job finished", zap.String("job_id", jobID), zap.String("status", string(status)))
		return nil
	}

	// The conditional update matched nothing: the job is unknown or already terminal.
	job, err := t.Status(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == status {
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrConflictingTerminalState, jobID, job.Status)
}

func (t *Tracker) Status(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, err
}

// Watch polls the job every interval and calls fn with each observation
// until the job is terminal, unknown, or ctx is done. fn sees the terminal
// state (or a nil job and ErrJobNotFound) exactly once before Watch returns.
func Watch(ctx context.Context, tracker *Tracker, jobID string, interval time.Duration, fn func(job *models.Job, err error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := tracker.Status(ctx, jobID)
		switch {
		case errors.Is(err, ErrJobNotFound):
			fn(nil, err)
			return nil
		case err != nil:
			fn(nil, err)
			return err
		}

		fn(job, nil)
		if job.Status.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
