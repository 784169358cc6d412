package di

import (
	"fmt"

	"github.com/aristath/quotafeed/internal/config"
	"github.com/aristath/quotafeed/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the quota and cache databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// quota.db - every acquired request is recorded here, so it gets the durable profile
	quotaDB, err := database.New(database.Config{
		Path:    cfg.Storage.QuotaDB,
		Profile: database.ProfileLedger,
		Name:    database.NameQuota,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize quota database: %w", err)
	}
	container.QuotaDB = quotaDB

	// cache.db - bars can always be refetched
	cacheDB, err := database.New(database.Config{
		Path:    cfg.Storage.CacheDB,
		Profile: database.ProfileCache,
		Name:    database.NameCache,
	})
	if err != nil {
		quotaDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("quota_db", quotaDB.Path()).
		Str("cache_db", cacheDB.Path()).
		Msg("Databases initialized and schemas applied")

	return container, nil
}
