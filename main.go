package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/bcfinder/config"
	"sjsage522/bcfinder/helpers"
	"sjsage522/bcfinder/internal"
	"sjsage522/bcfinder/internal/metrics"
	"sjsage522/bcfinder/internal/source"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/services/cache"
	"sjsage522/bcfinder/services/notifier"
	"sjsage522/bcfinder/services/store"
	"sjsage522/bcfinder/services/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	location, _ := cfg.Location()

	log.Info().
		Str("environment", cfg.Environment).
		Dur("crawl_interval", cfg.CrawlInterval).
		Str("transport", cfg.Transport).
		Strs("sources", cfg.EnabledSources).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	client := helpers.NewClient(cfg.HTTPTimeout)

	// Initialize services
	deps, err := initializeServices(cfg, client)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer deps.Cleanup()

	// Create sources
	sources, err := source.CreateSources(cfg, deps.Cache, client)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sources")
	}

	log.Info().
		Int("source_count", len(sources)).
		Msg("Created sources")

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, deps.Metrics)
	}

	// Create and start worker
	w := worker.NewWorker(
		ctx,
		sources,
		deps.Store,
		deps.Notifier,
		deps.Metrics,
		cfg.CrawlInterval,
		location,
	)

	// Start worker in a goroutine
	workerDone := make(chan error, 1)
	go func() {
		log.Info().Msg("Starting bcfinder worker")
		workerDone <- w.Start()
	}()

	// Wait for shutdown signal or worker error
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-workerDone
	case err := <-workerDone:
		if err != nil {
			log.Error().Err(err).Msg("Worker exited with error")
		} else {
			log.Info().Msg("Worker exited normally")
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
}

// initializeServices initializes all required services
func initializeServices(cfg config.Config, client *http.Client) (*internal.Dependencies, error) {
	deps := &internal.Dependencies{Metrics: metrics.New()}

	// Initialize cache service, falling back to process memory when memcache is down
	memcacheService := cache.NewMemcacheService(cfg.MemcacheAddr, cfg.HTTPTimeout)
	if err := memcacheService.Ping(); err != nil {
		logger.Warn("Memcache at %s unavailable (%v), keeping rate limit blocks in memory", cfg.MemcacheAddr, err)
		deps.Cache = cache.NewMemoryCache()
	} else {
		deps.Cache = memcacheService
		logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
	}

	// Initialize dedup store
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	deps.Store = st
	logger.Info("Opened dedup store at %s", cfg.DatabasePath)

	// Initialize notification transport
	transport, err := notifier.NewTransport(cfg, client)
	if err != nil {
		deps.Cleanup()
		return nil, err
	}
	deps.Notifier = notifier.NewDispatcher(transport, notifier.NewShortener(cfg.ReurlPostURI, cfg.ReurlAPIKey, client))
	logger.Info("Using %s notification transport", cfg.Transport)

	return deps, nil
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Serving metrics at %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.LogError("metrics", err, "Metrics server stopped")
	}
}
