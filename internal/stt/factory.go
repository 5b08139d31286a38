package stt

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkghana/asr-gateway/internal/audio"
	"github.com/talkghana/asr-gateway/internal/config"
	"github.com/talkghana/asr-gateway/internal/observability"
	"github.com/talkghana/asr-gateway/internal/resilience"
)

// Client is a connection manager together with the resources it owns
type Client struct {
	*Manager
	Executor *Executor
	Cache    ResultCache

	closers []func() error
}

// NewTranscriber creates the backend selected by ASR_BACKEND
func NewTranscriber(cfg *config.Config) (Transcriber, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return NewHTTPClient(cfg.Endpoint(), cfg.APIKey, cfg.TeamID, &http.Client{}), nil
	case config.BackendDeepgram:
		return NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramModel), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewProber creates the probe selected by ASR_PROBE_KIND. The returned
// function releases the probe's connection, if any.
func NewProber(cfg *config.Config) (Prober, func() error, error) {
	switch cfg.ProbeKind {
	case config.ProbeHTTP:
		return NewHTTPProbe(cfg.Endpoint(), cfg.APIKey, cfg.ProbeTimeout(), &http.Client{}), func() error { return nil }, nil
	case config.ProbeGRPC:
		p, err := NewGRPCProbe(cfg.GRPCHealthAddr, cfg.GRPCHealthService, cfg.ProbeTimeout())
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown probe kind %q", cfg.ProbeKind)
	}
}

// NewResultCache creates the Redis cache when REDIS_URL is set and an
// in-memory cache otherwise. A zero TTL disables caching (nil cache).
func NewResultCache(cfg *config.Config, logger zerolog.Logger) (ResultCache, func() error, error) {
	noop := func() error { return nil }
	if cfg.CacheTTL() <= 0 {
		return nil, noop, nil
	}
	if cfg.RedisURL != "" {
		c, err := NewRedisCacheFromURL(cfg.RedisURL, cfg.CacheTTL(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		return c, c.Close, nil
	}
	return NewMemoryCache(cfg.CacheTTL(), cfg.CacheMaxEntries, nil), noop, nil
}

// NewExecutorFromConfig wires an executor for backend from configuration
func NewExecutorFromConfig(cfg *config.Config, backend Transcriber, cache ResultCache, logger zerolog.Logger, metrics *observability.Metrics) *Executor {
	validatorConfig := audio.DefaultValidatorConfig()
	validatorConfig.MaxSize = cfg.MaxAudioSizeBytes
	if len(cfg.AllowedMIMETypes) > 0 {
		validatorConfig.AllowedTypes = cfg.AllowedMIMETypes
	}

	policy := resilience.NewRetryPolicy(&resilience.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		MaxJitter:  time.Duration(cfg.BackoffJitterMs) * time.Millisecond,
	})

	return NewExecutor(backend, ExecutorConfig{
		Validator:       audio.NewValidator(validatorConfig),
		Policy:          policy,
		Timeout:         cfg.RequestTimeout(),
		DefaultLanguage: cfg.DefaultLanguage,
		DefaultModel:    cfg.DefaultModel,
		Cache:           cache,
		Logger:          logger.With().Str("component", "executor").Logger(),
		Metrics:         metrics,
	})
}

// NewClient builds the full client stack from configuration and starts
// connecting
func NewClient(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*Client, error) {
	backend, err := NewTranscriber(cfg)
	if err != nil {
		return nil, err
	}

	probe, closeProbe, err := NewProber(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe: %w", err)
	}

	cache, closeCache, err := NewResultCache(cfg, logger)
	if err != nil {
		closeProbe()
		return nil, err
	}

	executor := NewExecutorFromConfig(cfg, backend, cache, logger, metrics)

	reconnect := resilience.NewReconnectSchedule(&resilience.ReconnectConfig{
		MaxAttempts: cfg.MaxConnectionRetries,
		Backoff:     time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.ReconnectMaxBackoffMs) * time.Millisecond,
		MaxJitter:   time.Duration(cfg.BackoffJitterMs) * time.Millisecond,
	})

	manager := NewManager(ManagerConfig{
		Executor:            executor,
		Probe:               probe,
		HealthCheckInterval: cfg.HealthCheckInterval(),
		Reconnect:           reconnect,
		MaxQueueSize:        cfg.MaxQueueSize,
		Logger:              logger.With().Str("component", "connection").Logger(),
		Metrics:             metrics,
	})

	return &Client{
		Manager:  manager,
		Executor: executor,
		Cache:    cache,
		closers:  []func() error{closeProbe, closeCache},
	}, nil
}

// Close closes the manager, then the probe and cache connections
func (c *Client) Close() error {
	err := c.Manager.Close()
	for _, closeFn := range c.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	c.closers = nil
	return err
}
