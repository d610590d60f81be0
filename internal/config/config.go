// Package config loads the executor's runtime configuration from
// environment variables and an optional TOML file, with the file taking
// precedence and environment values filling some of the fields it leaves
// unset (see mergeConfigs), following the same Config/TOMLConfig split as
// internal/config elsewhere in this codebase family.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the executor process.
type Config struct {
	HTTP      HTTPConfig
	Executor  ExecutorConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Model     ModelConfig
	LogSink   LogSinkConfig
	Ingest    IngestConfig
	MongoDB   MongoDBConfig

	DataDir string
	DevMode bool
}

// ModelConfig holds the upstream model adapter's HTTP endpoint.
type ModelConfig struct {
	TargetURL string
	Timeout   time.Duration
}

// HTTPConfig holds the status/append/metrics HTTP server configuration.
type HTTPConfig struct {
	Port        int
	CORSOrigins []string
}

// ExecutorConfig holds Processor construction parameters.
type ExecutorConfig struct {
	QueueCapacity       int
	ConcurrencyLimit    int
	CapacityRefreshTime time.Duration
}

// RateLimitConfig holds RateLimiter construction parameters. A zero value
// for LimitRequests/LimitTokens means "unbounded" for that dimension.
type RateLimitConfig struct {
	LimitRequests int
	LimitTokens   int
	Interval      time.Duration

	SoftRatePerSecond float64
	SoftBurst         int
}

// RetryConfig holds RetryPolicy construction parameters.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	CircuitBreakerEnabled           bool
	CircuitBreakerFailureThreshold  uint32
	CircuitBreakerOpenTimeout       time.Duration
}

// LogSinkConfig holds the optional execution-log sink configuration.
type LogSinkConfig struct {
	Enabled    bool
	Kind       string // "file" or "mongo"
	Dir        string
	Prefix     string
	Format     string // "json" or "csv"
	AutoSave   bool
	Collection string
}

// IngestConfig holds the optional broker-ingest adapter configuration.
type IngestConfig struct {
	Source string // "", "nats", or "sqs"
	NATS   NATSIngestConfig
	SQS    SQSIngestConfig
}

// NATSIngestConfig configures the NATS ingest adapter.
type NATSIngestConfig struct {
	URL     string
	Subject string
}

// SQSIngestConfig configures the SQS ingest adapter.
type SQSIngestConfig struct {
	QueueURL          string
	Region            string
	WaitTimeSeconds   int
	VisibilityTimeout int
}

// MongoDBConfig holds the optional Mongo log sink connection parameters.
type MongoDBConfig struct {
	URI      string
	Database string
}

// Load builds configuration from environment variables with sensible
// defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        getEnvInt("EXECUTOR_HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("EXECUTOR_CORS_ORIGINS", []string{"http://localhost:4200"}),
		},
		Executor: ExecutorConfig{
			QueueCapacity:       getEnvInt("EXECUTOR_QUEUE_CAPACITY", 100),
			ConcurrencyLimit:    getEnvInt("EXECUTOR_CONCURRENCY_LIMIT", 0),
			CapacityRefreshTime: getEnvDuration("EXECUTOR_CAPACITY_REFRESH_TIME", time.Second),
		},
		RateLimit: RateLimitConfig{
			LimitRequests:     getEnvInt("EXECUTOR_LIMIT_REQUESTS", 0),
			LimitTokens:       getEnvInt("EXECUTOR_LIMIT_TOKENS", 0),
			Interval:          getEnvDuration("EXECUTOR_RATE_INTERVAL", 60*time.Second),
			SoftRatePerSecond: getEnvFloat("EXECUTOR_SOFT_RATE_PER_SECOND", 50),
			SoftBurst:         getEnvInt("EXECUTOR_SOFT_BURST", 10),
		},
		Retry: RetryConfig{
			MaxRetries:                     getEnvInt("EXECUTOR_MAX_RETRIES", 3),
			BaseDelay:                      getEnvDuration("EXECUTOR_RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:                       getEnvDuration("EXECUTOR_RETRY_MAX_DELAY", 30*time.Second),
			CircuitBreakerEnabled:          getEnvBool("EXECUTOR_CIRCUIT_BREAKER_ENABLED", true),
			CircuitBreakerFailureThreshold: uint32(getEnvInt("EXECUTOR_CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5)),
			CircuitBreakerOpenTimeout:      getEnvDuration("EXECUTOR_CIRCUIT_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Model: ModelConfig{
			TargetURL: getEnv("EXECUTOR_MODEL_TARGET_URL", "http://localhost:9000/v1/chat/completions"),
			Timeout:   getEnvDuration("EXECUTOR_MODEL_TIMEOUT", 120*time.Second),
		},
		LogSink: LogSinkConfig{
			Enabled:    getEnvBool("EXECUTOR_LOGSINK_ENABLED", false),
			Kind:       getEnv("EXECUTOR_LOGSINK_KIND", "file"),
			Dir:        getEnv("EXECUTOR_LOGSINK_DIR", "./data/logs"),
			Prefix:     getEnv("EXECUTOR_LOGSINK_PREFIX", "event_log_"),
			Format:     getEnv("EXECUTOR_LOGSINK_FORMAT", "json"),
			AutoSave:   getEnvBool("EXECUTOR_LOGSINK_AUTOSAVE", true),
			Collection: getEnv("EXECUTOR_LOGSINK_COLLECTION", "event_logs"),
		},
		Ingest: IngestConfig{
			Source: getEnv("EXECUTOR_INGEST_SOURCE", ""),
			NATS: NATSIngestConfig{
				URL:     getEnv("EXECUTOR_NATS_URL", "nats://localhost:4222"),
				Subject: getEnv("EXECUTOR_NATS_SUBJECT", "executor.events"),
			},
			SQS: SQSIngestConfig{
				QueueURL:          getEnv("EXECUTOR_SQS_QUEUE_URL", ""),
				Region:            getEnv("AWS_REGION", "us-east-1"),
				WaitTimeSeconds:   getEnvInt("EXECUTOR_SQS_WAIT_TIME_SECONDS", 20),
				VisibilityTimeout: getEnvInt("EXECUTOR_SQS_VISIBILITY_TIMEOUT", 120),
			},
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("EXECUTOR_MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
			Database: getEnv("EXECUTOR_MONGODB_DATABASE", "executor"),
		},

		DataDir: getEnv("EXECUTOR_DATA_DIR", "./data"),
		DevMode: getEnvBool("EXECUTOR_DEV", false),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
