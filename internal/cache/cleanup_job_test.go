package cache

import (
	"testing"
	"time"

	testingpkg "github.com/aristath/quotafeed/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupJob_Name(t *testing.T) {
	job := NewCleanupJob(nil, 30, zerolog.Nop())
	assert.Equal(t, "cache_cleanup", job.Name())
}

func TestCleanupJob_RemovesOnlyExpiredEntries(t *testing.T) {
	repo, db, clock := setupRepo(t)

	require.NoError(t, repo.Store("AAPL", "2024-01-01", "2024-01-03", testingpkg.NewBarFixtures("2024-01-01", 3)))
	clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, repo.Store("MSFT", "2024-02-01", "2024-02-02", testingpkg.NewBarFixtures("2024-02-01", 2)))

	job := NewCleanupJob(repo, 30, zerolog.Nop())
	require.NoError(t, job.Run())

	assert.Equal(t, 2, testingpkg.CountRows(t, db, "price_bars"))
	assert.Equal(t, 1, testingpkg.CountRows(t, db, "cache_metadata"))
}

func TestCleanupJob_ZeroRetentionKeepsEverything(t *testing.T) {
	repo, db, clock := setupRepo(t)

	require.NoError(t, repo.Store("AAPL", "2024-01-01", "2024-01-03", testingpkg.NewBarFixtures("2024-01-01", 3)))
	clock.Advance(400 * 24 * time.Hour)

	require.NoError(t, NewCleanupJob(repo, 0, zerolog.Nop()).Run())
	assert.Equal(t, 3, testingpkg.CountRows(t, db, "price_bars"))
}
