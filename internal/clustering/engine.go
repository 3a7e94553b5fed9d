package clustering

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/embedding"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

var ErrTooFewTickets = errors.New("clustering needs at least two tickets")

// TextEmbedder is satisfied by *embedding.Cache.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) embedding.Result
}

type Config struct {
	Seed    int64
	NInit   int
	MaxIter int
}

type Engine struct {
	embedder TextEmbedder
	cfg      Config
	logger   *zap.Logger
}

func NewEngine(embedder TextEmbedder, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.NInit <= 0 {
		cfg.NInit = 10
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{embedder: embedder, cfg: cfg, logger: logger}
}

// Cluster partitions tickets into between 2 and maxClusters groups, choosing
// the count with the best silhouette. Groups come back in label order and
// keep the input order of their members.
func (e *Engine) Cluster(ctx context.Context, tickets []models.Ticket, maxClusters int) ([][]models.Ticket, error) {
	n := len(tickets)
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewTickets, n)
	}

	points := make([][]float64, n)
	for i, t := range tickets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := e.embedder.Embed(ctx, t.Description)
		if res.Degraded {
			e.logger.Warn("Clustering with degraded embedding", zap.Int64("ticket_id", t.TicketID))
		}
		p := make([]float64, len(res.Vector))
		for d, f := range res.Vector {
			p[d] = float64(f)
		}
		points[i] = p
	}

	upper := maxClusters
	if upper < 2 {
		upper = 2
	}
	if upper > n {
		upper = n
	}

	bestK, bestScore := 2, -2.0
	for k := 2; k <= upper; k++ {
		res := kmeans(points, k, e.cfg.Seed, e.cfg.NInit, e.cfg.MaxIter)
		score := silhouette(points, res.labels, k)
		e.logger.Debug("Silhouette score", zap.Int("k", k), zap.Float64("score", score))
		if score > bestScore {
			bestK, bestScore = k, score
		}
	}

	final := kmeans(points, bestK, e.cfg.Seed, e.cfg.NInit, e.cfg.MaxIter)

	groups := make([][]models.Ticket, bestK)
	for i, label := range final.labels {
		groups[label] = append(groups[label], tickets[i])
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}

	e.logger.Info("Tickets clustered",
		zap.Int("tickets", n),
		zap.Int("clusters", len(out)),
		zap.Float64("silhouette", bestScore),
	)
	return out, nil
}
