// Package di wires databases, services and jobs into a Container shared by the binaries.
package di

import (
	"errors"

	"github.com/aristath/quotafeed/internal/acquisition"
	"github.com/aristath/quotafeed/internal/cache"
	"github.com/aristath/quotafeed/internal/clients/twelvedata"
	"github.com/aristath/quotafeed/internal/database"
	"github.com/aristath/quotafeed/internal/freshness"
	"github.com/aristath/quotafeed/internal/performance"
	"github.com/aristath/quotafeed/internal/quota"
	"github.com/aristath/quotafeed/internal/recovery"
	"github.com/aristath/quotafeed/internal/reliability"
)

// Container holds all dependencies for the application.
// It is created by Wire and owns the database connections.
type Container struct {
	// Databases
	QuotaDB *database.DB // quota.db - request ledger, fsynced writes
	CacheDB *database.DB // cache.db - cached bars, refetchable

	// Stores
	Governor  *quota.Governor
	CacheRepo *cache.Repository

	// Services
	Market    *freshness.Market
	Freshness *freshness.Manager
	Provider  *twelvedata.Client
	Breaker   *recovery.CircuitBreaker
	Fetcher   *acquisition.Fetcher
	Monitor   *performance.Monitor

	// Backups is nil when backups are disabled
	Backups *reliability.BackupService
}

// Databases returns the open databases in a stable order.
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.QuotaDB, c.CacheDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every database the container opened.
func (c *Container) Close() error {
	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
