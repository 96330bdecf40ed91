package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/speech-translator/internal/api"
	"github.com/lexiqai/speech-translator/internal/auth"
	"github.com/lexiqai/speech-translator/internal/config"
	"github.com/lexiqai/speech-translator/internal/observability"
	"github.com/lexiqai/speech-translator/internal/resilience"
	"github.com/lexiqai/speech-translator/internal/session"
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
	observability.Version = config.GetEnv("SERVICE_VERSION", observability.Version)

	logger.Info().
		Str("port", cfg.Port).
		Str("translator_host", cfg.TranslatorHost).
		Str("features", cfg.TranslatorFeatures).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech translator starting")

	sessionCfg, err := session.NewConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid session configuration")
	}

	tokens := auth.NewIssuerTokenProvider(auth.IssuerConfig{
		Endpoint:        cfg.TranslatorTokenEndpoint,
		SubscriptionKey: cfg.TranslatorSubscriptionKey,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}, logger)

	sessions := session.NewService(sessionCfg, tokens, logger)

	breaker := resilience.NewCircuitBreaker("translator",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	reconnect := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
	}

	// Create HTTP server
	mux := http.NewServeMux()
	api.NewHandler(sessions, breaker, reconnect, cfg.SessionTimeout(), logger).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness requires a token; the translator host itself is only reachable over a session
	mux.HandleFunc("/ready", observability.ReadinessHandler(
		observability.NamedCheck{Name: "token_issuer", Check: tokens.Check},
		observability.NamedCheck{Name: "translator_circuit", Check: func(ctx context.Context) error {
			if breaker.GetState() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		}},
	))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Sessions stream audio in real time, so writes may take as long as a session
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SessionTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/v1/speech/translate", cfg.Port)).
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

	// Let in-flight sessions finish
	ctx, cancel := context.WithTimeout(context.Background(), cfg.SessionTimeout()+5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
