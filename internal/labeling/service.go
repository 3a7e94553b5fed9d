package labeling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/embedding"
	"github.com/ticket-classifier/backend/internal/llm"
	"github.com/ticket-classifier/backend/internal/metrics"
	"github.com/ticket-classifier/backend/internal/storage/models"
	"github.com/ticket-classifier/backend/pkg/retry"
)

// Labeler is an external model that names the category of one ticket.
// *llm.Client and *llm.AnthropicLabeler implement it.
type Labeler interface {
	LabelTicket(ctx context.Context, ticketText, taxonomy string) (*llm.TicketLabel, error)
}

type Clusterer interface {
	Cluster(ctx context.Context, tickets []models.Ticket, maxClusters int) ([][]models.Ticket, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) embedding.Result
}

type RecordStore interface {
	UpsertRecord(ctx context.Context, record *models.ClassificationRecord) error
}

type Config struct {
	MaxClusters int
	Concurrency int
	// MaxAttempts bounds how often a cluster is re-asked after a malformed answer.
	MaxAttempts int
	RetryDelay  time.Duration
}

type FailedCluster struct {
	TicketIDs []int64 `json:"ticket_ids"`
	Error     string  `json:"error"`
}

type Outcome struct {
	Labeled []models.ClassificationRecord `json:"classified_tickets"`
	Failed  []FailedCluster               `json:"failed_clusters"`
}

// Service labels tickets through an external model, one call per cluster of
// similar tickets, and stores the results as training data.
type Service struct {
	labeler   Labeler
	clusterer Clusterer
	embedder  Embedder
	store     RecordStore
	taxonomy  *Taxonomy
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(labeler Labeler, clusterer Clusterer, embedder Embedder, store RecordStore, taxonomy *Taxonomy, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxClusters <= 0 {
		cfg.MaxClusters = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		labeler:   labeler,
		clusterer: clusterer,
		embedder:  embedder,
		store:     store,
		taxonomy:  taxonomy,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Label clusters the batch and labels each cluster from its first ticket.
// A cluster that cannot be labeled is reported in Outcome.Failed; the error
// is non-nil only when nothing could be labeled at all.
func (s *Service) Label(ctx context.Context, tickets []models.Ticket) (*Outcome, error) {
	if len(tickets) == 0 {
		return nil, fmt.Errorf("%w: no tickets to label", apperrors.ErrInvalidBatch)
	}

	clusters := [][]models.Ticket{tickets}
	if len(tickets) > 1 {
		var err error
		clusters, err = s.clusterer.Cluster(ctx, tickets, s.cfg.MaxClusters)
		if err != nil {
			return nil, fmt.Errorf("%w: clustering: %v", apperrors.ErrExternalLabelingFailure, err)
		}
	}

	s.logger.Info("Labeling tickets",
		zap.Int("tickets", len(tickets)),
		zap.Int("clusters", len(clusters)),
	)

	taxonomy := s.taxonomy.Describe()
	labeled := make([][]models.ClassificationRecord, len(clusters))

	var (
		mu     sync.Mutex
		failed []FailedCluster
	)

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i, cluster := range clusters {
		g.Go(func() error {
			records, err := s.labelCluster(ctx, cluster, taxonomy)
			if err != nil {
				metrics.LabelingClusters.WithLabelValues("failed").Inc()
				s.logger.Error("Failed to label cluster",
					zap.Int("cluster", i),
					zap.Int64("representative", cluster[0].TicketID),
					zap.Error(err),
				)
				mu.Lock()
				failed = append(failed, FailedCluster{TicketIDs: ticketIDs(cluster), Error: err.Error()})
				mu.Unlock()
				return nil
			}
			metrics.LabelingClusters.WithLabelValues("labeled").Inc()
			labeled[i] = records
			return nil
		})
	}
	_ = g.Wait()

	out := &Outcome{Failed: failed}
	for _, records := range labeled {
		out.Labeled = append(out.Labeled, records...)
	}

	if len(out.Labeled) == 0 {
		return out, fmt.Errorf("%w: all %d clusters failed", apperrors.ErrExternalLabelingFailure, len(clusters))
	}
	return out, nil
}

func (s *Service) labelCluster(ctx context.Context, cluster []models.Ticket, taxonomy string) ([]models.ClassificationRecord, error) {
	representative := cluster[0]

	label, err := retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:  s.cfg.MaxAttempts,
		InitialDelay: s.cfg.RetryDelay,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Retryable:    func(err error) bool { return errors.Is(err, llm.ErrMalformedResponse) },
		Logger:       s.logger,
	}, func() (*llm.TicketLabel, error) {
		return s.labeler.LabelTicket(ctx, representative.Text(), taxonomy)
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.ClassificationRecord, 0, len(cluster))
	for _, t := range cluster {
		emb := s.embedder.Embed(ctx, t.Text())
		now := s.now()
		rec := models.ClassificationRecord{
			TicketID:          t.TicketID,
			Description:       t.Description,
			Product:           t.Product,
			CreatedDate:       t.CreatedDate,
			Category:          label.Category,
			Confidence:        label.Confidence,
			Mode:              models.ModeExternalLabel,
			Embedding:         emb.Vector,
			EmbeddingDegraded: emb.Degraded,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.UpsertRecord(ctx, &rec); err != nil {
			return records, fmt.Errorf("saving ticket %d: %w", t.TicketID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func ticketIDs(tickets []models.Ticket) []int64 {
	ids := make([]int64, len(tickets))
	for i, t := range tickets {
		ids[i] = t.TicketID
	}
	return ids
}
