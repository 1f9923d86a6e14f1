package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// Config holds all configuration for the wrap service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"WRAP_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"WRAP_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Directory holding the wrap manifests served by the service
	ManifestDir string `env:"WRAP_MANIFEST_DIR" envDefault:"./manifests"`

	// Backends
	EventBackend   string `env:"WRAP_EVENT_BACKEND" envDefault:"memory"`
	StorageBackend string `env:"WRAP_STORAGE_BACKEND" envDefault:"memory"`

	Redis    RedisConfig
	NATS     NATSConfig
	LLM      LLMConfig
	Loader   LoaderConfig
	Workers  WorkerConfig
	Timeouts TimeoutConfig
	Storage  StorageConfig
	Tracing  TracingConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Streams
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP" envDefault:"wrapd"`
	ConsumerName  string `env:"REDIS_CONSUMER_NAME"`
	StreamMaxLen  int64  `env:"REDIS_STREAM_MAX_LEN" envDefault:"10000"`

	// Controls enables the redis control type
	Controls bool `env:"REDIS_CONTROLS" envDefault:"false"`
}

// NATSConfig holds NATS connection configuration
type NATSConfig struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Name          string        `env:"NATS_CLIENT_NAME" envDefault:"wrapd"`
	QueueGroup    string        `env:"NATS_QUEUE_GROUP" envDefault:"wrap-workers"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"10"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	Timeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`
	Token         string        `env:"NATS_TOKEN"`
	Username      string        `env:"NATS_USER"`
	Password      string        `env:"NATS_PASS"`
}

// LLMConfig holds the configuration of llm controls. Without an API key the
// llm control type is unavailable.
type LLMConfig struct {
	Provider         string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey           string `env:"LLM_API_KEY"`
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-5"`
	DefaultMaxTokens int    `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"1024"`
}

// LoaderConfig holds the settings applied to every composite node
type LoaderConfig struct {
	MaxParallel    int           `env:"LOADER_MAX_PARALLEL" envDefault:"0"`
	ControlTimeout time.Duration `env:"LOADER_CONTROL_TIMEOUT" envDefault:"30s"`
	ScriptTimeout  time.Duration `env:"LOADER_SCRIPT_TIMEOUT" envDefault:"5s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"100"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// StorageConfig holds run state retention settings
type StorageConfig struct {
	RunTTL time.Duration `env:"STORAGE_RUN_TTL" envDefault:"24h"`
}

// TracingConfig holds OpenTelemetry settings. An empty endpoint disables export.
type TracingConfig struct {
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio  float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1.0"`
	Environment  string  `env:"WRAP_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.EventBackend {
	case BackendMemory, BackendRedis, BackendNATS:
	default:
		return fmt.Errorf("unsupported event backend: %s", c.EventBackend)
	}
	switch c.StorageBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.EventBackend == BackendNATS && c.NATS.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}

	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be at least 1")
	}
	if c.Loader.MaxParallel < 0 {
		return fmt.Errorf("loader max parallel cannot be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("invalid trace sample ratio: %v", c.Tracing.SampleRatio)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.EventBackend == BackendRedis || c.StorageBackend == BackendRedis || c.Redis.Controls
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
