// Package app builds the service graph from configuration. Both the HTTP
// server and the admin CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/cache/badger"
	"github.com/ticket-classifier/backend/internal/cache/redis"
	"github.com/ticket-classifier/backend/internal/classifier"
	"github.com/ticket-classifier/backend/internal/clustering"
	"github.com/ticket-classifier/backend/internal/embedding"
	"github.com/ticket-classifier/backend/internal/events"
	"github.com/ticket-classifier/backend/internal/jobs"
	"github.com/ticket-classifier/backend/internal/labeling"
	"github.com/ticket-classifier/backend/internal/llm"
	"github.com/ticket-classifier/backend/internal/metrics"
	"github.com/ticket-classifier/backend/internal/pipeline"
	"github.com/ticket-classifier/backend/internal/storage/sqlite"
	"github.com/ticket-classifier/backend/internal/training"
	"github.com/ticket-classifier/backend/pkg/config"
	"github.com/ticket-classifier/backend/pkg/logger"
)

type App struct {
	Config     *config.Config
	DB         *sqlite.Client
	Redis      *redis.Client
	Embeddings *embedding.Cache
	Registry   *classifier.Registry
	Classifier *classifier.Service
	Tracker    *jobs.Tracker
	Pipeline   *pipeline.Pipeline
	Clustering *clustering.Engine
	Labeling   *labeling.Service
	Trainer    *training.Trainer
	Publisher  events.Publisher

	closers []func() error
}

// New opens every backing store and wires the components. On error all
// already opened resources are released.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	metrics.Init()

	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.closeAll()
			a = nil
		}
	}()

	for _, dir := range []string{filepath.Dir(cfg.SQLite.Path), filepath.Dir(cfg.Classifier.ArtifactPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	a.DB, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	a.closers = append(a.closers, a.DB.Close)
	if err := a.DB.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store, err := a.embeddingStore(cfg)
	if err != nil {
		return nil, err
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.Embedding.Model,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	embedder, err := newEmbedder(cfg, llmClient)
	if err != nil {
		return nil, err
	}
	a.Embeddings, err = embedding.NewCache(embedder, store, cfg.Cache.LRUSize, cfg.Embedding.Dim, logger.Named("embedding"))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Registry = classifier.NewRegistry(artifacts, logger.Named("registry"))
	if err := a.Registry.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load model artifact: %w", err)
	}

	policy, err := classifier.ParsePolicy(cfg.Classifier.Policy)
	if err != nil {
		return nil, err
	}
	a.Classifier = classifier.NewService(a.Registry, classifier.ServiceConfig{
		Policy:              policy,
		SimilarityThreshold: cfg.Classifier.SimilarityThreshold,
		DefaultConfidence:   cfg.Classifier.DefaultConfidence,
	}, logger.Named("classifier"))

	a.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		a.Publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("events"))
	}
	a.closers = append(a.closers, a.Publisher.Close)

	a.Tracker = jobs.NewTracker(a.DB, logger.Named("jobs"))

	a.Pipeline, err = pipeline.New(a.DB, a.Tracker, a.Embeddings, a.Classifier, a.Publisher,
		pipeline.Config{Workers: cfg.Pipeline.Workers}, logger.Named("pipeline"))
	if err != nil {
		return nil, err
	}

	a.Clustering = clustering.NewEngine(a.Embeddings, clustering.Config{
		Seed:    cfg.Clustering.Seed,
		NInit:   cfg.Clustering.NInit,
		MaxIter: cfg.Clustering.MaxIter,
	}, logger.Named("clustering"))

	taxonomy, err := labeling.LoadTaxonomy(cfg.Labeling.TaxonomyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Warn("Taxonomy file not found, labeler gets no feature list",
			zap.String("path", cfg.Labeling.TaxonomyPath))
	}

	a.Labeling = labeling.NewService(newLabeler(cfg, llmClient), a.Clustering, a.Embeddings, a.DB, taxonomy,
		labeling.Config{
			MaxClusters: cfg.Labeling.MaxClusters,
			Concurrency: cfg.Labeling.Concurrency,
			MaxAttempts: cfg.Labeling.MaxAttempts,
		}, logger.Named("labeling"))

	a.Trainer = training.NewTrainer(a.DB, a.Registry, a.Publisher, training.Config{
		ModelKind: cfg.Classifier.Kind,
		Dim:       cfg.Embedding.Dim,
		Softmax: classifier.SoftmaxOptions{
			LearningRate: cfg.Classifier.LearningRate,
			Epochs:       cfg.Classifier.Epochs,
			Seed:         cfg.Training.Seed,
		},
		ValidationFraction: cfg.Training.ValidationFraction,
		Seed:               cfg.Training.Seed,
	}, logger.Named("training"))

	return a, nil
}

func (a *App) embeddingStore(cfg *config.Config) (embedding.Store, error) {
	switch cfg.Cache.Store {
	case "badger":
		if !cfg.Badger.InMemory {
			if err := os.MkdirAll(cfg.Badger.Path, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create badger directory: %w", err)
			}
		}
		store, err := badger.Open(cfg.Badger.Path, cfg.Badger.InMemory)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		client, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		return client, nil
	}
}

func newEmbedder(cfg *config.Config, client *llm.Client) (embedding.Embedder, error) {
	if cfg.Embedding.Provider == "openai" {
		return client, nil
	}
	local, err := embedding.NewLocalEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create local embedder: %w", err)
	}
	return local, nil
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (classifier.ArtifactStore, error) {
	if cfg.Classifier.ArtifactStore == "s3" {
		store, err := classifier.NewS3StoreFromConfig(ctx, cfg.S3.Region, cfg.S3.Endpoint, cfg.S3.Bucket, cfg.S3.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 artifact store: %w", err)
		}
		return store, nil
	}
	return classifier.NewFileStore(cfg.Classifier.ArtifactPath), nil
}

func newLabeler(cfg *config.Config, client *llm.Client) labeling.Labeler {
	if cfg.Labeling.Labeler == "anthropic" {
		return llm.NewAnthropicLabeler(cfg.Labeling.AnthropicAPIKey, cfg.Labeling.AnthropicModel,
			cfg.LLM.MaxTokens, time.Duration(cfg.LLM.TimeoutSec)*time.Second)
	}
	return client
}

// Scheduler returns the retraining scheduler, or nil when no schedule is configured.
func (a *App) Scheduler() (*training.Scheduler, error) {
	if a.Config.Training.Schedule == "" {
		return nil, nil
	}
	return training.NewScheduler(a.Config.Training.Schedule, a.Trainer, 10*time.Minute, logger.Named("scheduler"))
}

// Close waits for in-flight batches (bounded by ctx) and releases every
// backing store in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pipeline != nil {
		if err := a.Pipeline.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
