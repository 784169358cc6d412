package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aristath/quotafeed/internal/acquisition"
	"github.com/aristath/quotafeed/internal/cache"
	"github.com/aristath/quotafeed/internal/clients/twelvedata"
	"github.com/aristath/quotafeed/internal/config"
	"github.com/aristath/quotafeed/internal/freshness"
	"github.com/aristath/quotafeed/internal/performance"
	"github.com/aristath/quotafeed/internal/quota"
	"github.com/aristath/quotafeed/internal/recovery"
	"github.com/aristath/quotafeed/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices builds the stores, provider client and orchestrator on top of the
// container's databases.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.QuotaDB == nil || container.CacheDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("failed to load market timezone: %w", err)
	}

	// Quota governor (the ledger day follows the exchange calendar)
	governor, err := quota.NewGovernor(container.QuotaDB.Conn(), quota.Options{
		DailyLimit:  cfg.API.DailyLimit,
		MinInterval: cfg.API.MinInterval,
		Location:    loc,
		Production:  cfg.IsProduction(),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create quota governor: %w", err)
	}
	container.Governor = governor

	container.CacheRepo = cache.NewRepository(container.CacheDB.Conn(), log)

	// Market session; Validate has already checked the clock strings
	open, _ := config.ParseClock(cfg.Market.Open)
	closeAt, _ := config.ParseClock(cfg.Market.Close)
	market, err := freshness.NewMarket(loc, open, closeAt)
	if err != nil {
		return fmt.Errorf("failed to create market calendar: %w", err)
	}
	container.Market = market
	container.Freshness = freshness.NewManager(container.CacheRepo, market, log)

	container.Provider = twelvedata.NewClient(cfg.API.Key, log,
		twelvedata.WithBaseURL(cfg.API.BaseURL),
		twelvedata.WithTimeout(cfg.RequestTimeout()),
	)

	container.Breaker = recovery.NewCircuitBreaker("twelvedata", cfg.API.BreakerThreshold, cfg.API.BreakerCooldown, log)

	container.Fetcher = acquisition.NewFetcher(
		container.Provider,
		container.CacheRepo,
		container.Freshness,
		container.Governor,
		container.Breaker,
		acquisition.Options{
			Retry:              recovery.DefaultPolicy(cfg.API.RetryCount),
			FreshnessThreshold: cfg.FetchFreshness(),
		},
		log,
	)

	monitor, err := performance.NewMonitor(log)
	if err != nil {
		// Monitoring is optional; /health reports without process stats
		log.Warn().Err(err).Msg("Process monitor unavailable")
	}
	container.Monitor = monitor

	if cfg.Backup.Enabled {
		store, err := reliability.NewR2Client(context.Background(), reliability.R2Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.Backups = reliability.NewBackupService(
			store,
			container.Databases(),
			filepath.Join(cfg.Storage.DataDir, "backup-staging"),
			log,
		)
	}

	log.Info().
		Int("daily_limit", cfg.API.DailyLimit).
		Dur("min_interval", cfg.API.MinInterval).
		Bool("backups", container.Backups != nil).
		Msg("Services initialized")

	return nil
}
