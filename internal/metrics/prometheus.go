package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EmbeddingCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_embedding_cache_misses_total",
			Help: "Embeddings computed by the model",
		},
	)

	EmbeddingDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_embedding_degraded_total",
			Help: "Embeddings replaced by a zero vector after a model failure",
		},
	)

	TicketsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_classifications_total",
			Help: "Tickets processed by the classification pipeline",
		},
		[]string{"status"},
	)

	ClassificationConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticket_classification_confidence",
			Help:    "Confidence of model classifications",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_jobs_total",
			Help: "Classification jobs by terminal status",
		},
		[]string{"status"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticket_batch_duration_seconds",
			Help:    "Time to process a classification batch",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	LabelingClusters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_labeling_clusters_total",
			Help: "Clusters sent to the external labeler",
		},
		[]string{"status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	TrainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_training_runs_total",
			Help: "Retraining passes by outcome",
		},
		[]string{"outcome"},
	)

	ModelAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticket_model_validation_accuracy",
			Help: "Validation accuracy of the current model",
		},
	)

	ModelVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticket_model_version",
			Help: "Version of the model serving classifications",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(EmbeddingCacheHits)
		prometheus.MustRegister(EmbeddingCacheMisses)
		prometheus.MustRegister(EmbeddingDegraded)
		prometheus.MustRegister(TicketsClassified)
		prometheus.MustRegister(ClassificationConfidence)
		prometheus.MustRegister(JobsTotal)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(LabelingClusters)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(TrainingRuns)
		prometheus.MustRegister(ModelAccuracy)
		prometheus.MustRegister(ModelVersion)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
