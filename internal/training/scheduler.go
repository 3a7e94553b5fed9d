package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
)

// Scheduler runs retraining passes on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	trainer *Trainer
	timeout time.Duration
	logger  *zap.Logger
}

func NewScheduler(spec string, trainer *Trainer, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	s := &Scheduler{
		cron:    cron.New(),
		trainer: trainer,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid retrain schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Retrain scheduler started")
}

// Stop waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.trainer.Retrain(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNoTrainingData):
		s.logger.Info("Scheduled retrain skipped, no new data")
	case err != nil:
		s.logger.Error("Scheduled retrain failed", zap.Error(err))
	default:
		s.logger.Info("Scheduled retrain finished",
			zap.Int64("model_version", result.ModelVersion),
			zap.Float64("accuracy", result.Accuracy),
		)
	}
}
