package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Eashwar-S/knowledge-map/infrastructure/config"
	"github.com/Eashwar-S/knowledge-map/infrastructure/di"
	"github.com/Eashwar-S/knowledge-map/infrastructure/observability"
	"github.com/Eashwar-S/knowledge-map/interfaces/http/rest"

	"go.uber.org/zap"
)

func main() {
	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: rest.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    !cfg.IsProduction(),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Initialize dependency container
	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	logger := container.Logger

	if err := container.Service.EnsureDefaultGraph(ctx); err != nil {
		logger.Fatal("Failed to prepare default graph", zap.Error(err))
	}

	// Hot reload of log level and retry policy
	var watcher *config.ConfigWatcher
	if cfg.ConfigFile != "" {
		watcher, err = config.NewConfigWatcher(cfg, config.DefaultDebounce, logger)
		if err != nil {
			logger.Warn("Configuration hot reloading disabled", zap.Error(err))
		} else {
			watcher.OnChange(container.ApplyConfig)
		}
	}

	router := rest.NewRouter(container.Service, rest.Options{
		EnableCORS:         cfg.EnableCORS,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Debug:              cfg.IsDevelopment(),
		Tracing:            cfg.Tracing.Enabled,
		Collector:          container.Collector,
	}, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.String("snapshot_backend", cfg.Storage.SnapshotBackend),
			zap.String("history_backend", cfg.Storage.HistoryBackend),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	router.Close()
	if watcher != nil {
		watcher.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown error", zap.Error(err))
	}

	// Clean up resources
	container.Close()

	log.Println("Server stopped")
}
