// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names. Production disables administrative quota resets.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config holds application configuration
type Config struct {
	Environment string        `yaml:"environment"`
	LogLevel    string        `yaml:"log_level"`
	LogPretty   bool          `yaml:"log_pretty"`
	API         APIConfig     `yaml:"api"`
	Cache       CacheConfig   `yaml:"cache"`
	Storage     StorageConfig `yaml:"storage"`
	Market      MarketConfig  `yaml:"market"`
	Server      ServerConfig  `yaml:"server"`
	Backup      BackupConfig  `yaml:"backup"`
}

// APIConfig configures the market data provider and its quota.
type APIConfig struct {
	Key              string        `yaml:"key"`
	BaseURL          string        `yaml:"base_url"`
	Timeout          int           `yaml:"timeout"` // seconds
	RetryCount       int           `yaml:"retry_count"`
	DailyLimit       int           `yaml:"daily_limit"`
	MinInterval      time.Duration `yaml:"min_interval"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// CacheConfig configures cached bar retention.
type CacheConfig struct {
	FreshnessHours int  `yaml:"freshness_hours"`
	// FixedFreshness makes fetches use FreshnessHours instead of the market-aware threshold.
	FixedFreshness bool `yaml:"fixed_freshness"`
	MaxSizeMB      int  `yaml:"max_size_mb"`
	RetentionDays  int  `yaml:"retention_days"`
}

// StorageConfig locates the ledger and cache databases.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	QuotaDB string `yaml:"quota_db"`
	CacheDB string `yaml:"cache_db"`
}

// MarketConfig describes the exchange session used for freshness decisions.
type MarketConfig struct {
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`  // HH:MM exchange-local
	Close    string `yaml:"close"` // HH:MM exchange-local
}

// ServerConfig configures the HTTP status API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// BackupConfig configures database backups to an S3-compatible bucket (R2).
type BackupConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	RetentionDays   int    `yaml:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		LogLevel:    "info",
		API: APIConfig{
			BaseURL:          "https://api.twelvedata.com",
			Timeout:          30,
			RetryCount:       3,
			DailyLimit:       800,
			MinInterval:      7500 * time.Millisecond,
			BreakerThreshold: 5,
			BreakerCooldown:  60 * time.Second,
		},
		Cache: CacheConfig{
			FreshnessHours: 24,
			MaxSizeMB:      100,
			RetentionDays:  30,
		},
		Storage: StorageConfig{
			DataDir: "data",
			QuotaDB: "quota.db",
			CacheDB: "cache.db",
		},
		Market: MarketConfig{
			Timezone: "America/New_York",
			Open:     "09:30",
			Close:    "16:00",
		},
		Server: ServerConfig{Port: 8080},
		Backup: BackupConfig{
			Region:        "auto",
			RetentionDays: 30,
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file, then the
// environment (including a .env file), then validation.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.ConfigurationError{Field: "file", Message: "failed to read " + path, Err: err}
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return &domain.ConfigurationError{Field: "file", Message: "failed to parse " + path, Err: err}
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	c.Environment = getEnv("QUOTAFEED_ENV", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Storage.DataDir = getEnv("QUOTAFEED_DATA_DIR", c.Storage.DataDir)
	c.API.Key = getEnv("TWELVE_DATA_API_KEY", c.API.Key)
	c.API.BaseURL = getEnv("TWELVE_DATA_BASE_URL", c.API.BaseURL)

	c.Backup.Bucket = getEnv("R2_BUCKET", c.Backup.Bucket)
	c.Backup.Endpoint = getEnv("R2_ENDPOINT", c.Backup.Endpoint)
	c.Backup.AccessKeyID = getEnv("R2_ACCESS_KEY_ID", c.Backup.AccessKeyID)
	c.Backup.SecretAccessKey = getEnv("R2_SECRET_ACCESS_KEY", c.Backup.SecretAccessKey)

	overrides := []struct {
		key    string
		target *int
	}{
		{"TWELVE_DATA_TIMEOUT", &c.API.Timeout},
		{"TWELVE_DATA_RETRY_COUNT", &c.API.RetryCount},
		{"TWELVE_DATA_DAILY_LIMIT", &c.API.DailyLimit},
		{"CACHE_FRESHNESS_HOURS", &c.Cache.FreshnessHours},
		{"CACHE_MAX_SIZE_MB", &c.Cache.MaxSizeMB},
		{"QUOTAFEED_PORT", &c.Server.Port},
	}
	for _, o := range overrides {
		v, err := getEnvAsInt(o.key, *o.target)
		if err != nil {
			return err
		}
		*o.target = v
	}

	fixed, err := getEnvAsBool("CACHE_FIXED_FRESHNESS", c.Cache.FixedFreshness)
	if err != nil {
		return err
	}
	c.Cache.FixedFreshness = fixed

	enabled, err := getEnvAsBool("R2_BACKUP_ENABLED", c.Backup.Enabled)
	if err != nil {
		return err
	}
	c.Backup.Enabled = enabled

	return nil
}

// resolvePaths makes database paths absolute relative to the data directory.
func (c *Config) resolvePaths() {
	if abs, err := filepath.Abs(c.Storage.DataDir); err == nil {
		c.Storage.DataDir = abs
	}
	if !filepath.IsAbs(c.Storage.QuotaDB) {
		c.Storage.QuotaDB = filepath.Join(c.Storage.DataDir, c.Storage.QuotaDB)
	}
	if !filepath.IsAbs(c.Storage.CacheDB) {
		c.Storage.CacheDB = filepath.Join(c.Storage.DataDir, c.Storage.CacheDB)
	}
}

// Validate checks every setting and returns the first problem as a *domain.ConfigurationError.
func (c *Config) Validate() error {
	if c.API.Timeout <= 0 {
		return invalid("api.timeout", "must be positive")
	}
	if c.API.RetryCount < 0 {
		return invalid("api.retry_count", "must not be negative")
	}
	if c.API.DailyLimit <= 0 {
		return invalid("api.daily_limit", "must be positive")
	}
	if c.API.MinInterval < 0 {
		return invalid("api.min_interval", "must not be negative")
	}
	if c.API.BreakerThreshold <= 0 {
		return invalid("api.breaker_threshold", "must be positive")
	}
	if c.Cache.FreshnessHours <= 0 {
		return invalid("cache.freshness_hours", "must be positive")
	}
	if c.Cache.MaxSizeMB <= 0 {
		return invalid("cache.max_size_mb", "must be positive")
	}
	if c.Cache.RetentionDays < 0 {
		return invalid("cache.retention_days", "must not be negative")
	}
	if c.Storage.QuotaDB == "" || c.Storage.CacheDB == "" {
		return invalid("storage", "quota_db and cache_db are required")
	}
	if c.Storage.QuotaDB == c.Storage.CacheDB {
		return invalid("storage", "quota_db and cache_db must be different files")
	}
	if _, err := c.Location(); err != nil {
		return &domain.ConfigurationError{Field: "market.timezone", Message: "unknown timezone", Err: err}
	}
	open, err := ParseClock(c.Market.Open)
	if err != nil {
		return &domain.ConfigurationError{Field: "market.open", Message: "expected HH:MM", Err: err}
	}
	closeAt, err := ParseClock(c.Market.Close)
	if err != nil {
		return &domain.ConfigurationError{Field: "market.close", Message: "expected HH:MM", Err: err}
	}
	if closeAt <= open {
		return invalid("market.close", "must be after market.open")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535")
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return invalid("backup.bucket", "required when backups are enabled")
	}
	return nil
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Location loads the exchange timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Market.Timezone)
}

// RequestTimeout returns the provider timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.Timeout) * time.Second
}

// FreshnessWindow returns the cache freshness window as a duration.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Cache.FreshnessHours) * time.Hour
}

// FetchFreshness returns the fixed threshold fetches should use, or nil for the
// market-aware one.
func (c *Config) FetchFreshness() *time.Duration {
	if !c.Cache.FixedFreshness {
		return nil
	}
	window := c.FreshnessWindow()
	return &window
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func invalid(field, message string) error {
	return &domain.ConfigurationError{Field: field, Message: message}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return 0, &domain.ConfigurationError{
			Field:   key,
			Message: fmt.Sprintf("invalid integer value %q", valueStr),
			Err:     err,
		}
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return false, &domain.ConfigurationError{
			Field:   key,
			Message: fmt.Sprintf("invalid boolean value %q", valueStr),
			Err:     err,
		}
	}
	return value, nil
}
