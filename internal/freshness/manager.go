// Package freshness decides whether cached ranges are recent enough to serve, using the
// exchange session to pick how much staleness is acceptable right now.
package freshness

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/quotafeed/internal/cache"
	"github.com/rs/zerolog"
)

// MetadataStore is the part of the cache the manager reads and prunes.
type MetadataStore interface {
	GetMetadata(symbol, start, end string) (*cache.Metadata, error)
	DeleteRange(symbol, start, end string) (bool, error)
	ClearCache(filter cache.ClearFilter) (int64, error)
	GetCacheStats() (cache.Stats, error)
}

// Thresholds are the maximum acceptable cache ages per market condition.
type Thresholds struct {
	MarketOpen time.Duration `json:"market_open"`
	AfterHours time.Duration `json:"after_hours"`
	Weekend    time.Duration `json:"weekend"`
}

// DefaultThresholds returns 5 minutes, 4 hours and 24 hours.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MarketOpen: 5 * time.Minute,
		AfterHours: 240 * time.Minute,
		Weekend:    1440 * time.Minute,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithThresholds overrides the adaptive thresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Manager) { m.thresholds = t }
}

// Manager answers freshness questions about cached ranges.
type Manager struct {
	store      MetadataStore
	market     *Market
	thresholds Thresholds
	now        func() time.Time
	log        zerolog.Logger
}

// NewManager creates a freshness manager.
func NewManager(store MetadataStore, market *Market, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		market:     market,
		thresholds: DefaultThresholds(),
		now:        time.Now,
		log:        log.With().Str("component", "freshness").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Market returns the exchange session the manager uses.
func (m *Manager) Market() *Market {
	return m.market
}

// GetCacheAge returns the age of a cached range in minutes, or +Inf when the range was
// never stored.
func (m *Manager) GetCacheAge(symbol, start, end string) (float64, error) {
	meta, err := m.store.GetMetadata(symbol, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache age: %w", err)
	}
	if meta == nil {
		return math.Inf(1), nil
	}
	return meta.Age(m.now()).Minutes(), nil
}

// IsMarketOpen reports whether the exchange is in session at t.
func (m *Manager) IsMarketOpen(t time.Time) bool {
	return m.market.IsOpen(t)
}

// IsWeekend reports whether t is an exchange-local weekend day.
func (m *Manager) IsWeekend(t time.Time) bool {
	return m.market.IsWeekend(t)
}

// GetMarketOpenTime returns the session open on t's exchange-local date.
func (m *Manager) GetMarketOpenTime(t time.Time) time.Time {
	return m.market.OpenTime(t)
}

// AdaptiveThreshold picks the acceptable age for the market condition at t.
func (m *Manager) AdaptiveThreshold(t time.Time) time.Duration {
	switch {
	case m.market.IsWeekend(t):
		return m.thresholds.Weekend
	case m.market.IsOpen(t):
		return m.thresholds.MarketOpen
	default:
		return m.thresholds.AfterHours
	}
}

// IsDataFresh compares the cache age with threshold, or with the adaptive threshold for
// the current moment when threshold is nil. Missing data is never fresh.
func (m *Manager) IsDataFresh(symbol, start, end string, threshold *time.Duration) (bool, error) {
	age, err := m.GetCacheAge(symbol, start, end)
	if err != nil {
		return false, err
	}
	if math.IsInf(age, 1) {
		return false, nil
	}

	limit := m.AdaptiveThreshold(m.now())
	if threshold != nil {
		limit = *threshold
	}

	fresh := age <= limit.Minutes()
	m.log.Debug().
		Str("symbol", symbol).
		Float64("age_minutes", age).
		Float64("threshold_minutes", limit.Minutes()).
		Bool("fresh", fresh).
		Msg("Freshness check")

	return fresh, nil
}

// ShouldInvalidateCache is true only for a cached range that is stale under the adaptive
// threshold. A range that was never cached has nothing to invalidate.
func (m *Manager) ShouldInvalidateCache(symbol, start, end string) (bool, error) {
	meta, err := m.store.GetMetadata(symbol, start, end)
	if err != nil {
		return false, fmt.Errorf("failed to read cache metadata: %w", err)
	}
	if meta == nil {
		return false, nil
	}

	fresh, err := m.IsDataFresh(symbol, start, end, nil)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

// CleanupOldCache removes cached data older than daysToKeep. Zero removes everything.
func (m *Manager) CleanupOldCache(daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		return 0, fmt.Errorf("days to keep must not be negative, got %d", daysToKeep)
	}

	deleted, err := m.store.ClearCache(cache.ClearFilter{OlderThanDays: daysToKeep})
	if err != nil {
		return 0, err
	}

	m.log.Info().Int("days_to_keep", daysToKeep).Int64("deleted", deleted).Msg("Old cache cleaned up")
	return deleted, nil
}

// InvalidateCacheEntry forgets one exact range so the next request refetches it.
func (m *Manager) InvalidateCacheEntry(symbol, start, end string) (bool, error) {
	removed, err := m.store.DeleteRange(symbol, start, end)
	if err != nil {
		return false, err
	}

	if removed {
		m.log.Info().Str("symbol", symbol).Str("start", start).Str("end", end).Msg("Cache entry invalidated")
	}
	return removed, nil
}
