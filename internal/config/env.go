package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is resolved once at process start and passed to constructors.
// Components never read the environment themselves.
type Config struct {
	Port        string
	CORSOrigins []string
	JWTSecret   string
	LogMode     string

	// STORE_MODE=memory keeps every collaborator in process (dev and tests).
	StoreMode   string
	DatabaseURL string
	DBSecretARN string
	DBMaxConns  int
	SslCertPath string

	AwsAccessKey    string
	AwsSecretKey    string
	AwsRegion       string
	RawBucket       string
	ProcessedBucket string
	SQSQueueURL     string
	// EventsHook mounts POST /api/events/s3 on the API and runs the
	// pipeline in the API process.
	EventsHook bool

	LLMProvider  string
	AIAPIKey     string
	OllamaURL    string
	EmbedModel   string
	EmbedDim     int
	ChatModel    string
	EmbedRPS     float64
	ChatMaxToken int

	Ingest  IngestConfig
	Quality QualityWeights
	Retry   RetryConfig
	Timeout TimeoutConfig

	Runner            string
	WorkerCount       int
	TemporalAddress   string
	TemporalNamespace string
	TemporalQueue     string

	DedupBackend string
	RedisAddr    string

	OtelEnabled  bool
	OtelEndpoint string
	ServiceName  string
}

type IngestConfig struct {
	BatchSize         int
	Concurrency       int
	MaxAttempts       int
	ChunkMinChars     int
	ChunkMaxChars     int
	ChunkOverlapChars int
}

// QualityWeights are the per-severity score penalties.
type QualityWeights struct {
	Critical int
	Warn     int
	Info     int
}

type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TimeoutConfig struct {
	Execution    time.Duration
	Extract      time.Duration
	Stage        time.Duration
	VectorIngest time.Duration
	Embed        time.Duration
	Search       time.Duration
	Chat         time.Duration
}

// LoadConfig loads the environment variables and returns config.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		LogMode:     getEnv("LOG_MODE", "development"),

		StoreMode:   getEnv("STORE_MODE", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBSecretARN: getEnv("DB_SECRET_ARN", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		AwsAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:    getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:       getEnv("AWS_REGION", "ap-southeast-2"),
		RawBucket:       getEnv("RAW_BUCKET", "ragready-raw"),
		ProcessedBucket: getEnv("PROCESSED_BUCKET", "ragready-processed"),
		SQSQueueURL:     getEnv("SQS_QUEUE_URL", ""),
		EventsHook:      getEnvBool("EVENTS_HOOK", strings.EqualFold(getEnv("STORE_MODE", "postgres"), "memory")),

		LLMProvider:  strings.ToLower(getEnv("LLM_PROVIDER", "bedrock")),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		OllamaURL:    getEnv("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:   getEnv("EMBED_MODEL", "amazon.titan-embed-text-v2:0"),
		EmbedDim:     getEnvInt("EMBED_DIM", 1024),
		ChatModel:    getEnv("CHAT_MODEL", "anthropic.claude-3-haiku-20240307-v1:0"),
		EmbedRPS:     getEnvFloat("EMBED_RPS", 20),
		ChatMaxToken: getEnvInt("CHAT_MAX_TOKENS", 1024),

		Ingest: IngestConfig{
			BatchSize:         getEnvInt("INGEST_BATCH_SIZE", 50),
			Concurrency:       getEnvInt("INGEST_CONCURRENCY", 4),
			MaxAttempts:       getEnvInt("INGEST_MAX_ATTEMPTS", 3),
			ChunkMinChars:     getEnvInt("CHUNK_MIN_CHARS", 800),
			ChunkMaxChars:     getEnvInt("CHUNK_MAX_CHARS", 1200),
			ChunkOverlapChars: getEnvInt("CHUNK_OVERLAP_CHARS", 200),
		},
		Quality: QualityWeights{
			Critical: getEnvInt("QUALITY_WEIGHT_CRITICAL", 40),
			Warn:     getEnvInt("QUALITY_WEIGHT_WARN", 15),
			Info:     getEnvInt("QUALITY_WEIGHT_INFO", 0),
		},
		Retry: RetryConfig{
			MaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvDuration("RETRY_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     getEnvDuration("RETRY_MAX_BACKOFF", 10*time.Second),
		},
		Timeout: TimeoutConfig{
			Execution:    getEnvDuration("EXECUTION_TIMEOUT", 30*time.Minute),
			Extract:      getEnvDuration("EXTRACT_TIMEOUT", 10*time.Minute),
			Stage:        getEnvDuration("STAGE_TIMEOUT", 2*time.Minute),
			VectorIngest: getEnvDuration("VECTOR_INGEST_TIMEOUT", 10*time.Minute),
			Embed:        getEnvDuration("EMBED_TIMEOUT", 15*time.Second),
			Search:       getEnvDuration("SEARCH_TIMEOUT", 10*time.Second),
			Chat:         getEnvDuration("CHAT_TIMEOUT", 60*time.Second),
		},

		Runner:            strings.ToLower(getEnv("RUNNER", "local")),
		WorkerCount:       getEnvInt("WORKER_COUNT", 4),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", ""),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "ragready"),
		TemporalQueue:     getEnv("TEMPORAL_TASK_QUEUE", "ragready-ingest"),

		DedupBackend: strings.ToLower(getEnv("DEDUP_BACKEND", "store")),
		RedisAddr:    getEnv("REDIS_ADDR", ""),

		OtelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "ragready"),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreMode != "memory" && c.StoreMode != "postgres" {
		errs = append(errs, fmt.Errorf("STORE_MODE must be memory or postgres, got %q", c.StoreMode))
	}
	if c.StoreMode == "postgres" && c.DatabaseURL == "" && c.DBSecretARN == "" {
		errs = append(errs, errors.New("DATABASE_URL or DB_SECRET_ARN must be set"))
	}
	if c.EmbedModel == "" {
		errs = append(errs, errors.New("EMBED_MODEL not set"))
	}
	if c.EmbedDim <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim))
	}
	if c.ChatModel == "" {
		errs = append(errs, errors.New("CHAT_MODEL not set"))
	}
	switch c.LLMProvider {
	case "bedrock", "ollama":
	case "gemini":
		if c.AIAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLMProvider))
	}
	if c.Ingest.BatchSize <= 0 || c.Ingest.Concurrency <= 0 || c.Ingest.MaxAttempts <= 0 {
		errs = append(errs, errors.New("INGEST_BATCH_SIZE, INGEST_CONCURRENCY and INGEST_MAX_ATTEMPTS must be positive"))
	}
	if c.Ingest.ChunkMaxChars <= 0 || c.Ingest.ChunkMinChars > c.Ingest.ChunkMaxChars {
		errs = append(errs, errors.New("CHUNK_MIN_CHARS must not exceed CHUNK_MAX_CHARS"))
	}
	if c.Ingest.ChunkOverlapChars < 0 || c.Ingest.ChunkOverlapChars >= c.Ingest.ChunkMaxChars {
		errs = append(errs, errors.New("CHUNK_OVERLAP_CHARS must be smaller than CHUNK_MAX_CHARS"))
	}
	if c.Quality.Critical < c.Quality.Warn || c.Quality.Warn < c.Quality.Info || c.Quality.Info < 0 {
		errs = append(errs, errors.New("quality weights must satisfy CRITICAL >= WARN >= INFO >= 0"))
	}
	if c.Runner == "temporal" && c.TemporalAddress == "" {
		errs = append(errs, errors.New("TEMPORAL_ADDRESS not set for RUNNER=temporal"))
	}
	if c.DedupBackend == "redis" && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR not set for DEDUP_BACKEND=redis"))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %v", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
