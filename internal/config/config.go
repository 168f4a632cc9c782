package config

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	DBConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"30s"`

	// Cache backend. An unreachable backend degrades to direct computation, never a startup failure.
	CacheBackend  string        `envconfig:"CACHE_BACKEND" default:"redis"`
	RedisHost     string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	CacheTimeout  time.Duration `envconfig:"CACHE_TIMEOUT" default:"5s"`
	CacheBoltPath string        `envconfig:"CACHE_BOLT_PATH" default:"docintel-cache.db"`

	// TTLs in seconds. CacheTTL is the fallback for any namespace TTL set to zero.
	CacheTTL            int `envconfig:"CACHE_TTL" default:"3600"`
	SummaryCacheTTL     int `envconfig:"SUMMARY_CACHE_TTL" default:"86400"`
	SearchCacheTTL      int `envconfig:"SEARCH_CACHE_TTL" default:"3600"`
	EmptySearchCacheTTL int `envconfig:"EMPTY_SEARCH_CACHE_TTL" default:"300"`
	DocumentCacheTTL    int `envconfig:"DOCUMENT_CACHE_TTL" default:"3600"`

	MaxWordsPerChunk   int `envconfig:"MAX_WORDS_PER_CHUNK" default:"300"`
	MaxTotalWords      int `envconfig:"MAX_TOTAL_WORDS" default:"3000"`
	EmbeddingDimension int `envconfig:"EMBEDDING_DIMENSION" default:"384"`

	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"local"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL" default:"all-minilm"`
	SummaryProvider   string `envconfig:"SUMMARY_PROVIDER" default:"local"`
	SummaryModel      string `envconfig:"SUMMARY_MODEL" default:"llama3.2"`

	SummaryNumBeams       int  `envconfig:"SUMMARY_NUM_BEAMS" default:"4"`
	SummaryGreedy         bool `envconfig:"SUMMARY_GREEDY" default:"true"`
	SummaryEarlyStopping  bool `envconfig:"SUMMARY_EARLY_STOPPING" default:"true"`
	SummaryNoRepeatNgram  int  `envconfig:"SUMMARY_NO_REPEAT_NGRAM" default:"2"`
	SummaryCombineWords   int  `envconfig:"SUMMARY_COMBINE_WORDS" default:"250"`
	SummaryPassThroughMin int  `envconfig:"SUMMARY_PASS_THROUGH_WORDS" default:"30"`

	OpenAIAPIKey            string  `envconfig:"OPENAI_API_KEY"`
	OpenAIRequestsPerSecond float64 `envconfig:"OPENAI_REQUESTS_PER_SECOND" default:"5"`

	// OpenAI-compatible inference server, e.g. Ollama.
	InferenceBaseURL string `envconfig:"INFERENCE_BASE_URL" default:"http://localhost:11434/v1"`
	InferenceAPIKey  string `envconfig:"INFERENCE_API_KEY" default:"ollama"`

	VectorBackend    string `envconfig:"VECTOR_BACKEND" default:"pgvector"`
	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"document_chunks"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	JobTimeout         time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`

	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"docintel-uploads"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN         string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment string  `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
	SentrySampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"0.1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DOCINTEL", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.MaxWordsPerChunk <= 0 {
		return fmt.Errorf("MAX_WORDS_PER_CHUNK must be positive, got %d", c.MaxWordsPerChunk)
	}
	if c.MaxTotalWords < c.MaxWordsPerChunk {
		return fmt.Errorf("MAX_TOTAL_WORDS (%d) must be at least MAX_WORDS_PER_CHUNK (%d)", c.MaxTotalWords, c.MaxWordsPerChunk)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	switch c.CacheBackend {
	case "redis", "bolt", "memory", "none":
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	switch c.EmbeddingProvider {
	case "local", "openai", "hash":
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	switch c.SummaryProvider {
	case "local", "openai", "extractive":
	default:
		return fmt.Errorf("unknown SUMMARY_PROVIDER %q", c.SummaryProvider)
	}
	if (c.EmbeddingProvider == "openai" || c.SummaryProvider == "openai") && !c.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
	}
	switch c.VectorBackend {
	case "pgvector", "qdrant", "memory":
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// RedisAddr returns host:port for the cache backend.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + strconv.Itoa(c.RedisPort)
}

func (c *Config) SummaryTTL() time.Duration     { return c.ttl(c.SummaryCacheTTL) }
func (c *Config) SearchTTL() time.Duration      { return c.ttl(c.SearchCacheTTL) }
func (c *Config) EmptySearchTTL() time.Duration { return c.ttl(c.EmptySearchCacheTTL) }
func (c *Config) DocumentTTL() time.Duration    { return c.ttl(c.DocumentCacheTTL) }

func (c *Config) ttl(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = c.CacheTTL
	}
	return time.Duration(seconds) * time.Second
}
