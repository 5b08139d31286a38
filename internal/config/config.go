package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend names
const (
	BackendHTTP     = "http"
	BackendDeepgram = "deepgram"
)

// Probe kinds
const (
	ProbeHTTP = "http"
	ProbeGRPC = "grpc"
)

// Config holds all configuration for the ASR gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Remote inference endpoint
	EndpointURL string `envconfig:"ASR_ENDPOINT_URL"`
	APIKey      string `envconfig:"ASR_API_KEY"`
	TeamID      string `envconfig:"ASR_TEAM_ID" default:""`

	// Transcription defaults
	DefaultModel    string `envconfig:"ASR_DEFAULT_MODEL" default:"openai/whisper-large-v3"`
	DefaultLanguage string `envconfig:"ASR_DEFAULT_LANGUAGE" default:"en"`
	Backend         string `envconfig:"ASR_BACKEND" default:"http"` // http, deepgram

	// Deepgram backend (only when ASR_BACKEND=deepgram)
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Payload validation
	MaxAudioSizeBytes int      `envconfig:"ASR_MAX_AUDIO_SIZE_BYTES" default:"10485760"` // 10 MiB
	AllowedMIMETypes  []string `envconfig:"ASR_ALLOWED_MIME_TYPES"`                      // Comma separated; empty uses built-in list

	// Request resilience
	RequestTimeoutMs int `envconfig:"ASR_REQUEST_TIMEOUT_MS" default:"30000"`
	MaxRetries       int `envconfig:"ASR_MAX_RETRIES" default:"3"`
	BackoffBaseMs    int `envconfig:"ASR_BACKOFF_BASE_MS" default:"1000"`
	BackoffMaxMs     int `envconfig:"ASR_BACKOFF_MAX_MS" default:"10000"`
	BackoffJitterMs  int `envconfig:"ASR_BACKOFF_JITTER_MS" default:"1000"`

	// Connection management
	HealthCheckIntervalMs int    `envconfig:"ASR_HEALTH_CHECK_INTERVAL_MS" default:"300000"`
	ProbeTimeoutMs        int    `envconfig:"ASR_PROBE_TIMEOUT_MS" default:"5000"`
	ProbeKind             string `envconfig:"ASR_PROBE_KIND" default:"http"` // http, grpc
	GRPCHealthAddr        string `envconfig:"ASR_GRPC_HEALTH_ADDR" default:""`
	GRPCHealthService     string `envconfig:"ASR_GRPC_HEALTH_SERVICE" default:""`
	MaxConnectionRetries  int    `envconfig:"ASR_MAX_CONNECTION_RETRIES" default:"5"`
	ReconnectMaxBackoffMs int    `envconfig:"ASR_RECONNECT_MAX_BACKOFF_MS" default:"10000"`
	MaxQueueSize          int    `envconfig:"ASR_MAX_QUEUE_SIZE" default:"100"`

	// Result cache
	CacheTTLSeconds int    `envconfig:"CACHE_TTL_SECONDS" default:"3600"` // 0 disables caching
	CacheMaxEntries int    `envconfig:"CACHE_MAX_ENTRIES" default:"50"`
	RedisURL        string `envconfig:"REDIS_URL" default:""` // Shared cache; in-memory when empty

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fails fast on missing credentials and nonsensical values instead of
// letting the client run in a degraded mode
func (c *Config) Validate() error {
	if c.EndpointURL == "" {
		return fmt.Errorf("ASR_ENDPOINT_URL is required")
	}
	u, err := url.Parse(c.EndpointURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ASR_ENDPOINT_URL must be an absolute http(s) URL, got %q", c.EndpointURL)
	}
	if c.APIKey == "" {
		return fmt.Errorf("ASR_API_KEY is required")
	}

	switch c.Backend {
	case BackendHTTP:
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when ASR_BACKEND=deepgram")
		}
	default:
		return fmt.Errorf("unknown ASR_BACKEND %q", c.Backend)
	}

	switch c.ProbeKind {
	case ProbeHTTP:
	case ProbeGRPC:
		if c.GRPCHealthAddr == "" {
			return fmt.Errorf("ASR_GRPC_HEALTH_ADDR is required when ASR_PROBE_KIND=grpc")
		}
	default:
		return fmt.Errorf("unknown ASR_PROBE_KIND %q", c.ProbeKind)
	}

	positive := map[string]int{
		"ASR_MAX_AUDIO_SIZE_BYTES":     c.MaxAudioSizeBytes,
		"ASR_REQUEST_TIMEOUT_MS":       c.RequestTimeoutMs,
		"ASR_HEALTH_CHECK_INTERVAL_MS": c.HealthCheckIntervalMs,
		"ASR_PROBE_TIMEOUT_MS":         c.ProbeTimeoutMs,
		"ASR_MAX_CONNECTION_RETRIES":   c.MaxConnectionRetries,
		"ASR_BACKOFF_BASE_MS":          c.BackoffBaseMs,
		"ASR_BACKOFF_MAX_MS":           c.BackoffMaxMs,
		"ASR_RECONNECT_MAX_BACKOFF_MS": c.ReconnectMaxBackoffMs,
		"ASR_MAX_QUEUE_SIZE":           c.MaxQueueSize,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("ASR_MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.BackoffJitterMs < 0 {
		return fmt.Errorf("ASR_BACKOFF_JITTER_MS must not be negative, got %d", c.BackoffJitterMs)
	}

	return nil
}

// Endpoint returns the endpoint URL without a trailing slash
func (c *Config) Endpoint() string {
	return strings.TrimRight(c.EndpointURL, "/")
}

// RequestTimeout returns the per-attempt transcription timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// HealthCheckInterval returns the periodic probe interval
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}

// ProbeTimeout returns the health probe timeout
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// CacheTTL returns how long results stay cached; zero disables caching
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
