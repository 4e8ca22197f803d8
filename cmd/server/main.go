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

	"github.com/synapsehealth/guardian/internal/config"
	"github.com/synapsehealth/guardian/internal/events"
	"github.com/synapsehealth/guardian/internal/intent"
	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/orchestrator"
	"github.com/synapsehealth/guardian/internal/reasoning"
	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/store"
	"github.com/synapsehealth/guardian/internal/transport"
	"github.com/synapsehealth/guardian/internal/tts"
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
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Guardian service starting")

	// Storage: Postgres when configured, otherwise the in-memory demo store
	var st store.Store
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		pg, err := store.ConnectPostgres(connectCtx, cfg)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		st = pg
		logger.Info().Msg("Connected to Postgres")
	} else {
		st = store.NewMemoryStore()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store with demo subjects")
	}
	defer st.Close()

	// Reasoning capabilities. Each is optional; a missing one degrades the
	// safety pipeline toward the local rule engine instead of failing.
	var (
		extractor orchestrator.IntentExtractor
		noteGen   session.NoteGenerator
		assessor  orchestrator.RiskAssessor
		synth     session.Synthesizer
	)
	if cfg.IntentBaseURL != "" {
		client := intent.NewClient(cfg)
		extractor = client
		noteGen = client
	} else {
		logger.Warn().Msg("INTENT_BASE_URL not set, intent extraction and note generation disabled")
	}
	if cfg.ReasoningBaseURL != "" {
		assessor = reasoning.NewClient(cfg)
	} else {
		logger.Warn().Msg("REASONING_BASE_URL not set, risk assessment falls back to rule engine")
	}
	if cfg.ElevenLabsAPIKey != "" {
		synth = tts.NewElevenLabsClient(cfg)
	} else {
		logger.Warn().Msg("ELEVENLABS_API_KEY not set, interruptions will have no audio")
	}

	engine := safety.NewEngine(safety.DefaultCatalog())
	checker := orchestrator.New(extractor, st, assessor, engine,
		orchestrator.WithGuidelineLimit(cfg.GuidelineSearchLimit))

	publisher := events.NewPublisher(cfg)
	defer publisher.Close()

	manager := transport.NewSessionManager(cfg, st, checker, synth, noteGen, publisher)
	handler := transport.NewHandler(manager, st)

	router := handler.Routes()

	// Health check endpoint
	router.Get("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	storeCheck := observability.DependencyCheck{
		Name: "store",
		Check: func(ctx context.Context) (bool, error) {
			if err := st.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}
	router.Get("/ready", observability.ReadinessHandler(storeCheck))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WriteTimeout stays at zero because
	// consultation WebSocket connections outlive any fixed response deadline.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/consult/{sessionID}", cfg.Port)).
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

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
