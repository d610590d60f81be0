package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig mirrors Config for on-disk representation.
type TOMLConfig struct {
	HTTP      TOMLHTTPConfig      `toml:"http"`
	Executor  TOMLExecutorConfig  `toml:"executor"`
	RateLimit TOMLRateLimitConfig `toml:"rate_limit"`
	Retry     TOMLRetryConfig     `toml:"retry"`
	Model     TOMLModelConfig     `toml:"model"`
	LogSink   TOMLLogSinkConfig   `toml:"log_sink"`
	Ingest    TOMLIngestConfig    `toml:"ingest"`
	MongoDB   TOMLMongoDBConfig   `toml:"mongodb"`
	DataDir   string              `toml:"data_dir"`
	DevMode   bool                `toml:"dev_mode"`
}

type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

type TOMLExecutorConfig struct {
	QueueCapacity       int    `toml:"queue_capacity"`
	ConcurrencyLimit    int    `toml:"concurrency_limit"`
	CapacityRefreshTime string `toml:"capacity_refresh_time"`
}

type TOMLRateLimitConfig struct {
	LimitRequests     int     `toml:"limit_requests"`
	LimitTokens       int     `toml:"limit_tokens"`
	Interval          string  `toml:"interval"`
	SoftRatePerSecond float64 `toml:"soft_rate_per_second"`
	SoftBurst         int     `toml:"soft_burst"`
}

type TOMLRetryConfig struct {
	MaxRetries                     int    `toml:"max_retries"`
	BaseDelay                      string `toml:"base_delay"`
	MaxDelay                       string `toml:"max_delay"`
	CircuitBreakerEnabled          bool   `toml:"circuit_breaker_enabled"`
	CircuitBreakerFailureThreshold int    `toml:"circuit_breaker_failure_threshold"`
	CircuitBreakerOpenTimeout      string `toml:"circuit_breaker_open_timeout"`
}

type TOMLModelConfig struct {
	TargetURL string `toml:"target_url"`
	Timeout   string `toml:"timeout"`
}

type TOMLLogSinkConfig struct {
	Enabled    bool   `toml:"enabled"`
	Kind       string `toml:"kind"`
	Dir        string `toml:"dir"`
	Prefix     string `toml:"prefix"`
	Format     string `toml:"format"`
	AutoSave   bool   `toml:"auto_save"`
	Collection string `toml:"collection"`
}

type TOMLIngestConfig struct {
	Source string            `toml:"source"`
	NATS   TOMLNATSIngestCfg `toml:"nats"`
	SQS    TOMLSQSIngestCfg  `toml:"sqs"`
}

type TOMLNATSIngestCfg struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

type TOMLSQSIngestCfg struct {
	QueueURL          string `toml:"queue_url"`
	Region            string `toml:"region"`
	WaitTimeSeconds   int    `toml:"wait_time_seconds"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
}

type TOMLMongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// ConfigPaths lists the paths searched for a config file when none is
// given explicitly.
var ConfigPaths = []string{
	"config.toml",
	"executor.toml",
	"./config/config.toml",
	"/etc/executor/config.toml",
}

// LoadFromFile loads configuration from a TOML file.
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig
	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads from environment defaults, then, if a config file is
// found, returns the file's values merged by mergeConfigs: the file takes
// precedence, and only the fields mergeConfigs lists fall back to the
// environment values when the file leaves them unset.
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("EXECUTOR_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}
	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return mergeConfigs(fileCfg, cfg), nil
}

func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		Executor: ExecutorConfig{
			QueueCapacity:    tc.Executor.QueueCapacity,
			ConcurrencyLimit: tc.Executor.ConcurrencyLimit,
		},
		RateLimit: RateLimitConfig{
			LimitRequests:     tc.RateLimit.LimitRequests,
			LimitTokens:       tc.RateLimit.LimitTokens,
			SoftRatePerSecond: tc.RateLimit.SoftRatePerSecond,
			SoftBurst:         tc.RateLimit.SoftBurst,
		},
		Retry: RetryConfig{
			MaxRetries:                     tc.Retry.MaxRetries,
			CircuitBreakerEnabled:          tc.Retry.CircuitBreakerEnabled,
			CircuitBreakerFailureThreshold: uint32(tc.Retry.CircuitBreakerFailureThreshold),
		},
		Model: ModelConfig{
			TargetURL: tc.Model.TargetURL,
		},
		LogSink: LogSinkConfig{
			Enabled:    tc.LogSink.Enabled,
			Kind:       tc.LogSink.Kind,
			Dir:        tc.LogSink.Dir,
			Prefix:     tc.LogSink.Prefix,
			Format:     tc.LogSink.Format,
			AutoSave:   tc.LogSink.AutoSave,
			Collection: tc.LogSink.Collection,
		},
		Ingest: IngestConfig{
			Source: tc.Ingest.Source,
			NATS:   NATSIngestConfig{URL: tc.Ingest.NATS.URL, Subject: tc.Ingest.NATS.Subject},
			SQS: SQSIngestConfig{
				QueueURL:          tc.Ingest.SQS.QueueURL,
				Region:            tc.Ingest.SQS.Region,
				WaitTimeSeconds:   tc.Ingest.SQS.WaitTimeSeconds,
				VisibilityTimeout: tc.Ingest.SQS.VisibilityTimeout,
			},
		},
		MongoDB: MongoDBConfig{URI: tc.MongoDB.URI, Database: tc.MongoDB.Database},
		DataDir: tc.DataDir,
		DevMode: tc.DevMode,
	}

	if tc.Executor.CapacityRefreshTime != "" {
		if d, err := time.ParseDuration(tc.Executor.CapacityRefreshTime); err == nil {
			cfg.Executor.CapacityRefreshTime = d
		}
	}
	if tc.RateLimit.Interval != "" {
		if d, err := time.ParseDuration(tc.RateLimit.Interval); err == nil {
			cfg.RateLimit.Interval = d
		}
	}
	if tc.Retry.BaseDelay != "" {
		if d, err := time.ParseDuration(tc.Retry.BaseDelay); err == nil {
			cfg.Retry.BaseDelay = d
		}
	}
	if tc.Retry.MaxDelay != "" {
		if d, err := time.ParseDuration(tc.Retry.MaxDelay); err == nil {
			cfg.Retry.MaxDelay = d
		}
	}
	if tc.Retry.CircuitBreakerOpenTimeout != "" {
		if d, err := time.ParseDuration(tc.Retry.CircuitBreakerOpenTimeout); err == nil {
			cfg.Retry.CircuitBreakerOpenTimeout = d
		}
	}
	if tc.Model.Timeout != "" {
		if d, err := time.ParseDuration(tc.Model.Timeout); err == nil {
			cfg.Model.Timeout = d
		}
	}

	return cfg, nil
}

// mergeConfigs merges two configs, with base (the config file) taking
// precedence. override (environment defaults) fills only HTTP.Port,
// HTTP.CORSOrigins, Executor.QueueCapacity, Model.TargetURL, MongoDB.URI,
// Ingest.Source, DataDir and DevMode when base left them at their zero
// value; every other field is taken from base as is, zero values
// included.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if result.HTTP.Port == 0 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(result.HTTP.CORSOrigins) == 0 {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}
	if result.Executor.QueueCapacity == 0 {
		result.Executor.QueueCapacity = override.Executor.QueueCapacity
	}
	if result.Model.TargetURL == "" {
		result.Model.TargetURL = override.Model.TargetURL
	}
	if result.MongoDB.URI == "" {
		result.MongoDB.URI = override.MongoDB.URI
	}
	if result.Ingest.Source == "" {
		result.Ingest.Source = override.Ingest.Source
	}
	if result.DataDir == "" {
		result.DataDir = override.DataDir
	}
	if !result.DevMode {
		result.DevMode = override.DevMode
	}

	return &result
}

// WriteExampleConfig writes an example configuration file documenting
// every knob Load/LoadFromFile understand.
func WriteExampleConfig(path string) error {
	example := `# Executor configuration.
# These settings take precedence over environment variables (EXECUTOR_*).

data_dir = "./data"
dev_mode = false

[http]
port = 8080
cors_origins = ["http://localhost:4200"]

[executor]
queue_capacity = 100
concurrency_limit = 0
capacity_refresh_time = "1s"

[rate_limit]
limit_requests = 0
limit_tokens = 0
interval = "60s"
soft_rate_per_second = 50
soft_burst = 10

[retry]
max_retries = 3
base_delay = "500ms"
max_delay = "30s"
circuit_breaker_enabled = true
circuit_breaker_failure_threshold = 5
circuit_breaker_open_timeout = "30s"

[model]
target_url = "http://localhost:9000/v1/chat/completions"
timeout = "120s"

[log_sink]
enabled = false
kind = "file"  # "file" or "mongo"
dir = "./data/logs"
prefix = "event_log_"
format = "json"  # "json" or "csv"
auto_save = true
collection = "event_logs"

[ingest]
source = ""  # "", "nats", or "sqs"

[ingest.nats]
url = "nats://localhost:4222"
subject = "executor.events"

[ingest.sqs]
queue_url = ""
region = "us-east-1"
wait_time_seconds = 20
visibility_timeout = 120

[mongodb]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "executor"
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(example), 0644)
}
