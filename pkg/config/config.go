package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Badger     BadgerConfig
	Cache      CacheConfig
	Embedding  EmbeddingConfig
	LLM        LLMConfig
	Labeling   LabelingConfig
	Classifier ClassifierConfig
	Clustering ClusteringConfig
	Training   TrainingConfig
	Pipeline   PipelineConfig
	Kafka      KafkaConfig
	S3         S3Config
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	// WSPollSec is the interval between job status pushes on the websocket.
	WSPollSec int
	// RateLimitPerMinute applies to labeling and training requests per client.
	RateLimitPerMinute int
	AllowedOrigins     string
	ShutdownTimeoutSec int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type BadgerConfig struct {
	Path     string
	InMemory bool
}

type CacheConfig struct {
	// Store selects the persistent embedding store: "redis" or "badger".
	Store   string
	LRUSize int
}

type EmbeddingConfig struct {
	// Provider is "openai" or "local".
	Provider string
	Model    string
	BaseURL  string
	Dim      int
}

type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type LabelingConfig struct {
	// Labeler is "openai" or "anthropic".
	Labeler         string
	AnthropicAPIKey string
	AnthropicModel  string
	TaxonomyPath    string
	MaxClusters     int
	Concurrency     int
	MaxAttempts     int
}

type ClassifierConfig struct {
	// Kind is the model trained from scratch when no artifact exists: "softmax" or "centroid".
	Kind                string
	Policy              string
	SimilarityThreshold float64
	DefaultConfidence   float64
	// ArtifactStore is "file" or "s3".
	ArtifactStore string
	ArtifactPath  string
	LearningRate  float64
	Epochs        int
}

type ClusteringConfig struct {
	Seed    int64
	NInit   int
	MaxIter int
}

type TrainingConfig struct {
	ValidationFraction float64
	Seed               int64
	// Schedule is a 5-field cron expression; empty disables scheduled retraining.
	Schedule string
}

type PipelineConfig struct {
	Workers int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/ticket-classifier")

	viper.SetEnvPrefix("TICKET_CLASSIFIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects selector values no component understands.
func (c *Config) Validate() error {
	switch c.Cache.Store {
	case "redis", "badger":
	default:
		return fmt.Errorf("cache.store must be redis or badger, got %q", c.Cache.Store)
	}
	switch c.Embedding.Provider {
	case "openai", "local":
	default:
		return fmt.Errorf("embedding.provider must be openai or local, got %q", c.Embedding.Provider)
	}
	switch c.Labeling.Labeler {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("labeling.labeler must be openai or anthropic, got %q", c.Labeling.Labeler)
	}
	switch c.Classifier.ArtifactStore {
	case "file", "s3":
	default:
		return fmt.Errorf("classifier.artifactStore must be file or s3, got %q", c.Classifier.ArtifactStore)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive")
	}
	if c.Training.ValidationFraction < 0 || c.Training.ValidationFraction >= 1 {
		return fmt.Errorf("training.validationFraction must be in [0,1)")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.wsPollSec", 5)
	viper.SetDefault("server.rateLimitPerMinute", 30)
	viper.SetDefault("server.allowedOrigins", "*")
	viper.SetDefault("server.shutdownTimeoutSec", 30)

	viper.SetDefault("sqlite.path", "./data/tickets.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("badger.path", "./data/embeddings")
	viper.SetDefault("badger.inMemory", false)

	viper.SetDefault("cache.store", "redis")
	viper.SetDefault("cache.lruSize", 4096)

	viper.SetDefault("embedding.provider", "local")
	viper.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embedding.baseURL", "http://localhost:8000/v1")
	viper.SetDefault("embedding.dim", 384)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.maxTokens", 256)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("labeling.labeler", "openai")
	viper.SetDefault("labeling.anthropicModel", "claude-3-5-haiku-latest")
	viper.SetDefault("labeling.taxonomyPath", "./config/taxonomy.yaml")
	viper.SetDefault("labeling.maxClusters", 5)
	viper.SetDefault("labeling.concurrency", 4)
	viper.SetDefault("labeling.maxAttempts", 3)

	viper.SetDefault("classifier.kind", "softmax")
	viper.SetDefault("classifier.policy", "model_only")
	viper.SetDefault("classifier.similarityThreshold", 0.9)
	viper.SetDefault("classifier.defaultConfidence", 0.95)
	viper.SetDefault("classifier.artifactStore", "file")
	viper.SetDefault("classifier.artifactPath", "./data/model.json")
	viper.SetDefault("classifier.learningRate", 0.1)
	viper.SetDefault("classifier.epochs", 100)

	viper.SetDefault("clustering.seed", 42)
	viper.SetDefault("clustering.nInit", 10)
	viper.SetDefault("clustering.maxIter", 300)

	viper.SetDefault("training.validationFraction", 0.2)
	viper.SetDefault("training.seed", 42)
	viper.SetDefault("training.schedule", "")

	viper.SetDefault("pipeline.workers", 8)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "ticket-classifier.events")

	viper.SetDefault("s3.key", "models/classifier.json")
	viper.SetDefault("s3.region", "us-east-1")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
