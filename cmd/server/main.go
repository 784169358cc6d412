// Package main is the entry point for the quotafeed service.
// It keeps a local cache of daily OHLCV bars filled from Twelve Data without ever
// exceeding the provider's daily request quota, and exposes status and fetch endpoints
// over HTTP.
//
// The service is assembled the same way every run:
// - Configuration from defaults, an optional YAML file and the environment
// - Dependency injection via the DI container (databases, governor, cache, fetcher)
// - Cron scheduler for housekeeping jobs (cleanup, checkpoints, maintenance, backups)
// - HTTP handlers for the status API
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/quotafeed/internal/config"
	"github.com/aristath/quotafeed/internal/di"
	"github.com/aristath/quotafeed/internal/scheduler"
	"github.com/aristath/quotafeed/internal/server"
	"github.com/aristath/quotafeed/pkg/logger"
)

// main is the application entry point. Startup sequence:
// 1. Loads configuration and initializes logging
// 2. Wires all dependencies via the DI container
// 3. Registers and starts the housekeeping jobs
// 4. Starts the HTTP server
// 5. Waits for a shutdown signal and shuts down gracefully
func main() {
	configPath := flag.String("config", os.Getenv("QUOTAFEED_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fallback logger so the configuration error is still visible
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("environment", cfg.Environment).
		Int("daily_limit", cfg.API.DailyLimit).
		Str("data_dir", cfg.Storage.DataDir).
		Msg("Starting quotafeed")

	if cfg.API.Key == "" {
		log.Warn().Msg("TWELVE_DATA_API_KEY is not set - provider requests will be rejected")
	}

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Closing the databases writes the final WAL checkpoint
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid market timezone")
	}

	sched := scheduler.New(loc, log)
	jobs, err := di.RegisterJobs(container, cfg, sched, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Server.Port,
		DevMode:   !cfg.IsProduction(),
		Container: container,
		Scheduler: sched,
		Jobs:      jobs,
	})

	// The server runs in its own goroutine so main can wait for signals
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("Server started successfully")

	// Block until SIGINT or SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop scheduling new jobs and wait for running ones
	sched.Stop()
	log.Info().Msg("Scheduler stopped")

	// In-flight requests get 10 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
