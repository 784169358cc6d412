package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotafeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QUOTAFEED_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.API.DailyLimit)
	assert.Equal(t, 30, cfg.API.Timeout)
	assert.Equal(t, 3, cfg.API.RetryCount)
	assert.Equal(t, 7500*time.Millisecond, cfg.API.MinInterval)
	assert.Equal(t, 24, cfg.Cache.FreshnessHours)
	assert.Equal(t, 100, cfg.Cache.MaxSizeMB)
	assert.Equal(t, "America/New_York", cfg.Market.Timezone)
	assert.True(t, filepath.IsAbs(cfg.Storage.QuotaDB))
	assert.True(t, filepath.IsAbs(cfg.Storage.CacheDB))
	assert.Equal(t, 24*time.Hour, cfg.FreshnessWindow())
	assert.False(t, cfg.Cache.FixedFreshness)
	assert.Nil(t, cfg.FetchFreshness(), "fetches use the market-aware threshold by default")
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "secret-key")
	dir := t.TempDir()

	path := writeConfigFile(t, `
environment: production
api:
  key: ${TEST_PROVIDER_KEY}
  daily_limit: 500
  min_interval: 2s
cache:
  freshness_hours: 12
storage:
  data_dir: `+dir+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.API.Key)
	assert.Equal(t, 500, cfg.API.DailyLimit)
	assert.Equal(t, 2*time.Second, cfg.API.MinInterval)
	assert.Equal(t, 12, cfg.Cache.FreshnessHours)
	assert.Equal(t, filepath.Join(dir, "quota.db"), cfg.Storage.QuotaDB)
	assert.True(t, cfg.IsProduction())
	// Untouched sections keep their defaults
	assert.Equal(t, 30, cfg.API.Timeout)
}

func TestLoad_EnvOverridesWinOverFile(t *testing.T) {
	path := writeConfigFile(t, "api:\n  daily_limit: 500\n")
	t.Setenv("QUOTAFEED_DATA_DIR", t.TempDir())
	t.Setenv("TWELVE_DATA_DAILY_LIMIT", "42")
	t.Setenv("TWELVE_DATA_TIMEOUT", "10")
	t.Setenv("TWELVE_DATA_RETRY_COUNT", "0")
	t.Setenv("CACHE_FRESHNESS_HOURS", "6")
	t.Setenv("CACHE_FIXED_FRESHNESS", "true")
	t.Setenv("CACHE_MAX_SIZE_MB", "50")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.API.DailyLimit)
	assert.Equal(t, 10, cfg.API.Timeout)
	assert.Equal(t, 0, cfg.API.RetryCount)
	assert.Equal(t, 6, cfg.Cache.FreshnessHours)
	require.NotNil(t, cfg.FetchFreshness())
	assert.Equal(t, 6*time.Hour, *cfg.FetchFreshness())
	assert.Equal(t, 50, cfg.Cache.MaxSizeMB)
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	t.Setenv("QUOTAFEED_DATA_DIR", t.TempDir())
	t.Setenv("TWELVE_DATA_DAILY_LIMIT", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "TWELVE_DATA_DAILY_LIMIT", cfgErr.Field)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "api: [unterminated\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"zero daily limit", func(c *Config) { c.API.DailyLimit = 0 }, "api.daily_limit"},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }, "api.timeout"},
		{"negative retry count", func(c *Config) { c.API.RetryCount = -1 }, "api.retry_count"},
		{"zero freshness", func(c *Config) { c.Cache.FreshnessHours = 0 }, "cache.freshness_hours"},
		{"zero max size", func(c *Config) { c.Cache.MaxSizeMB = 0 }, "cache.max_size_mb"},
		{"bad timezone", func(c *Config) { c.Market.Timezone = "Mars/Olympus" }, "market.timezone"},
		{"close before open", func(c *Config) { c.Market.Close = "09:00" }, "market.close"},
		{"same db files", func(c *Config) { c.Storage.CacheDB = c.Storage.QuotaDB }, "storage"},
		{"backup without bucket", func(c *Config) { c.Backup.Enabled = true }, "backup.bucket"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.resolvePaths()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestValidate_RetryCountZeroAllowed(t *testing.T) {
	cfg := Default()
	cfg.resolvePaths()
	cfg.API.RetryCount = 0
	assert.NoError(t, cfg.Validate())
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, d)

	_, err = ParseClock("9.30")
	assert.Error(t, err)
}
