package embedding

import (
	"context"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/metrics"
)

// DefaultDim is the width of all-MiniLM-L6-v2 vectors.
const DefaultDim = 384

// Embedder produces a vector for a piece of text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Store persists vectors by content hash. SetEmbedding must not overwrite an
// existing entry.
type Store interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

type Result struct {
	Vector   []float32
	Degraded bool
	CacheHit bool
}

type Cache struct {
	embedder Embedder
	store    Store
	l1       *lru.Cache[string, []float32]
	group    singleflight.Group
	dim      int
	logger   *zap.Logger
}

func NewCache(embedder Embedder, store Store, lruSize, dim int, logger *zap.Logger) (*Cache, error) {
	if lruSize <= 0 {
		lruSize = 1024
	}
	if dim <= 0 {
		dim = DefaultDim
	}
	l1, err := lru.New[string, []float32](lruSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		embedder: embedder,
		store:    store,
		l1:       l1,
		dim:      dim,
		logger:   logger,
	}, nil
}

func (c *Cache) Dim() int {
	return c.dim
}

// Embed returns the vector for text. It never fails: when the model cannot
// produce a usable vector the result is a zero vector flagged Degraded.
func (c *Cache) Embed(ctx context.Context, text string) Result {
	key := Key(text)

	if vec, ok := c.l1.Get(key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("memory").Inc()
		return Result{Vector: clone(vec), CacheHit: true}
	}

	// The shared load outlives any single caller; each caller stops waiting
	// on its own context.
	flight := c.group.DoChan(key, func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx), key, Normalize(text)), nil
	})
	select {
	case r := <-flight:
		res := r.Val.(Result)
		res.Vector = clone(res.Vector)
		return res
	case <-ctx.Done():
		metrics.EmbeddingDegraded.Inc()
		c.logger.Warn("Gave up waiting for embedding, using zero vector",
			zap.String("key", key),
			zap.Error(fmt.Errorf("%w: %v", apperrors.ErrEmbeddingFailure, ctx.Err())),
		)
		return Result{Vector: make([]float32, c.dim), Degraded: true}
	}
}

func (c *Cache) load(ctx context.Context, key, normalized string) Result {
	vec, found, err := c.store.GetEmbedding(ctx, key)
	if err != nil {
		c.logger.Warn("Embedding store read failed", zap.String("key", key), zap.Error(err))
	}
	if found && len(vec) == c.dim {
		metrics.EmbeddingCacheHits.WithLabelValues("store").Inc()
		c.l1.Add(key, vec)
		return Result{Vector: vec, CacheHit: true}
	}

	metrics.EmbeddingCacheMisses.Inc()

	vec, err = c.embedder.EmbedText(ctx, normalized)
	if err == nil {
		err = c.validate(vec)
	}
	if err != nil {
		metrics.EmbeddingDegraded.Inc()
		c.logger.Warn("Embedding model failed, using zero vector",
			zap.String("key", key),
			zap.Error(fmt.Errorf("%w: %v", apperrors.ErrEmbeddingFailure, err)),
		)
		return Result{Vector: make([]float32, c.dim), Degraded: true}
	}

	if err := c.store.SetEmbedding(ctx, key, vec); err != nil {
		c.logger.Warn("Embedding store write failed", zap.String("key", key), zap.Error(err))
	}
	c.l1.Add(key, vec)

	return Result{Vector: vec}
}

func (c *Cache) validate(vec []float32) error {
	if len(vec) != c.dim {
		return fmt.Errorf("expected %d dimensions, got %d", c.dim, len(vec))
	}
	for _, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("non-finite component")
		}
	}
	return nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
