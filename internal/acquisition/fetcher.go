// Package acquisition orchestrates cache, quota, provider and validation for historical
// price requests.
//
// A single fetch runs in strict order: exact-range cache lookup (a fresh hit costs no
// quota), quota check, circuit breaker, provider call with retries, validation and
// write-back. Quota is recorded by the governor as each request is issued.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/aristath/quotafeed/internal/quota"
	"github.com/aristath/quotafeed/internal/recovery"
	"github.com/aristath/quotafeed/internal/utils"
	"github.com/aristath/quotafeed/internal/validation"
	"github.com/rs/zerolog"
)

// Provider fetches raw daily bars.
type Provider interface {
	FetchTimeSeries(ctx context.Context, symbol, start, end string) (domain.Table, error)
}

// Cache is the exact-range price cache.
type Cache interface {
	Get(symbol, start, end string) (domain.Series, bool, error)
	Store(symbol, start, end string, series domain.Series) error
}

// Freshness decides whether a cached range can be served.
type Freshness interface {
	IsDataFresh(symbol, start, end string, threshold *time.Duration) (bool, error)
}

// Quota is the request gate in front of the provider.
type Quota interface {
	CanMakeRequest() (bool, error)
	// Acquire returns the ledger day the request was charged to.
	Acquire(ctx context.Context) (string, error)
	Refund(day string) error
	GetUsage() (quota.Usage, error)
}

// Options tunes a Fetcher.
type Options struct {
	Retry recovery.Policy
	// FreshnessThreshold is the maximum cache age served without refetching.
	// Nil uses the freshness manager's adaptive threshold.
	FreshnessThreshold *time.Duration
}

// Stats counts cache outcomes of single fetches.
type Stats struct {
	Hits    int64   `json:"cache_hits"`
	Misses  int64   `json:"cache_misses"`
	HitRate float64 `json:"hit_rate"`
}

// Fetcher is the acquisition orchestrator.
type Fetcher struct {
	provider  Provider
	cache     Cache
	freshness Freshness
	quota     Quota
	breaker   *recovery.CircuitBreaker
	recovery  *recovery.Recovery
	validator *validation.Validator
	opts      Options
	log       zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewFetcher wires the orchestrator. A nil breaker gets a default one.
func NewFetcher(provider Provider, cache Cache, freshness Freshness, gate Quota, breaker *recovery.CircuitBreaker, opts Options, log zerolog.Logger) *Fetcher {
	if breaker == nil {
		breaker = recovery.NewCircuitBreaker("provider", recovery.DefaultFailureThreshold, recovery.DefaultCooldown, log)
	}
	if opts.Retry.MaxRetries < 1 {
		opts.Retry.MaxRetries = 1
	}

	return &Fetcher{
		provider:  provider,
		cache:     cache,
		freshness: freshness,
		quota:     gate,
		breaker:   breaker,
		recovery:  recovery.New(cache, log),
		validator: validation.NewValidator(),
		opts:      opts,
		log:       log.With().Str("component", "fetcher").Logger(),
	}
}

// Breaker exposes the provider circuit breaker.
func (f *Fetcher) Breaker() *recovery.CircuitBreaker {
	return f.breaker
}

// FixedFreshness returns the fixed cache threshold, or nil when the market-aware one applies.
func (f *Fetcher) FixedFreshness() *time.Duration {
	return f.opts.FreshnessThreshold
}

// Stats returns cache hit and miss counts.
func (f *Fetcher) Stats() Stats {
	hits, misses := f.hits.Load(), f.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}

// FetchHistorical returns daily bars for symbol over [start, end].
//
// Invalid symbols come back as *domain.InvalidSymbolError, malformed provider data as
// *domain.ValidationError and an exhausted quota as *domain.QuotaExceededError. Every
// other provider-side failure is wrapped in *domain.FetchError.
func (f *Fetcher) FetchHistorical(ctx context.Context, symbol, start, end string) (series domain.Series, err error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, &domain.InvalidSymbolError{Symbol: symbol, Reason: "empty symbol"}
	}
	if err := (domain.DateRange{Start: start, End: end}).Validate(); err != nil {
		return nil, err
	}

	span := utils.StartSpan(f.log, "fetch_historical").With("symbol", symbol)
	defer func() { span.End(err) }()

	if cached, ok := f.lookupFresh(symbol, start, end); ok {
		f.hits.Add(1)
		f.log.Info().Str("symbol", symbol).Int("records", len(cached)).Msg("Using cached data")
		return cached, nil
	}
	f.misses.Add(1)

	allowed, err := f.quota.CanMakeRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to check quota: %w", err)
	}
	if !allowed {
		return nil, f.quotaError()
	}

	table, err := f.callProvider(ctx, symbol, start, end)
	if err != nil {
		return nil, wrapProviderError(symbol, err)
	}

	series, err = f.validator.Validate(table)
	if err != nil {
		f.log.Error().Err(err).Str("symbol", symbol).Msg("Provider returned invalid data")
		return nil, err
	}

	if err := f.cache.Store(symbol, start, end, series); err != nil {
		f.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to cache fetched data")
	}

	f.log.Info().Str("symbol", symbol).Int("records", len(series)).Msg("Fetched historical data")
	return series, nil
}

// FetchWithFallback behaves like FetchHistorical but serves the cached exact range,
// however stale, when the fetch fails.
func (f *Fetcher) FetchWithFallback(ctx context.Context, symbol, start, end string) (domain.Series, error) {
	symbol = domain.NormalizeSymbol(symbol)
	return f.recovery.GetDataWithFallback(ctx, symbol, start, end, func(ctx context.Context) (domain.Series, error) {
		return f.FetchHistorical(ctx, symbol, start, end)
	})
}

func (f *Fetcher) lookupFresh(symbol, start, end string) (domain.Series, bool) {
	cached, ok, err := f.cache.Get(symbol, start, end)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache lookup failed, treating as miss")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	fresh, err := f.freshness.IsDataFresh(symbol, start, end, f.opts.FreshnessThreshold)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("Freshness check failed, treating as stale")
		return nil, false
	}
	if !fresh {
		f.log.Debug().Str("symbol", symbol).Msg("Cached data is stale")
		return nil, false
	}
	return cached, true
}

// callProvider runs the provider call behind the breaker, retrying transient failures.
// Each attempt passes through the quota gate, so every issued request is recorded.
func (f *Fetcher) callProvider(ctx context.Context, symbol, start, end string) (domain.Table, error) {
	done, err := f.breaker.Allow()
	if err != nil {
		return domain.Table{}, err
	}

	table, err := recovery.RetryWithBackoff(ctx, f.opts.Retry, func(ctx context.Context) (domain.Table, error) {
		day, err := f.quota.Acquire(ctx)
		if err != nil {
			return domain.Table{}, err
		}
		table, err := f.provider.FetchTimeSeries(ctx, symbol, start, end)
		if err != nil && errors.Is(err, domain.ErrRequestNotSent) {
			if rerr := f.quota.Refund(day); rerr != nil {
				f.log.Error().Err(rerr).Msg("Failed to refund unsent request")
			}
		}
		return table, err
	}, recovery.IsTransient)

	done(!isProviderFault(err))
	return table, err
}

func (f *Fetcher) quotaError() error {
	usage, err := f.quota.GetUsage()
	if err != nil {
		return &domain.QuotaExceededError{}
	}
	return &domain.QuotaExceededError{Date: usage.Date, Used: usage.Used, Limit: usage.Limit}
}

// isProviderFault reports whether err should count against the breaker. Rejected input,
// quota refusals and caller cancellation say nothing about the provider's health.
func isProviderFault(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func wrapProviderError(symbol string, err error) error {
	var invalid *domain.InvalidSymbolError
	if errors.As(err, &invalid) {
		return invalid
	}
	var exceeded *domain.QuotaExceededError
	if errors.As(err, &exceeded) {
		return exceeded
	}
	return &domain.FetchError{Symbol: symbol, Err: err}
}
