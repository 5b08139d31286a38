package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talkghana/asr-gateway/internal/config"
	"github.com/talkghana/asr-gateway/internal/gateway"
	"github.com/talkghana/asr-gateway/internal/observability"
	"github.com/talkghana/asr-gateway/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("endpoint", cfg.Endpoint()).
		Str("backend", cfg.Backend).
		Str("probe", cfg.ProbeKind).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("ASR Gateway starting")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	client, err := stt.NewClient(cfg, logger, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create ASR client")
	}

	// Create HTTP server
	mux := http.NewServeMux()

	gateway.NewHandler(client, cfg.MaxAudioSizeBytes, observability.Component("gateway")).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Ready once the endpoint has answered a probe
	checks := map[string]observability.HealthCheckFunc{
		"asr_endpoint": func(ctx context.Context) (bool, error) {
			status := client.Status()
			if !status.Available {
				return false, fmt.Errorf("connection state is %s", status.State)
			}
			return true, nil
		},
	}
	if redisCache, ok := client.Cache.(*stt.RedisCache); ok {
		checks["result_cache"] = func(ctx context.Context) (bool, error) {
			if err := redisCache.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts; writes cover the full retry budget
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("transcribe", fmt.Sprintf("http://localhost:%s/v1/transcribe", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Reject queued requests first so their handlers can answer
	if err := client.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close ASR client")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
