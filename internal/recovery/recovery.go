// Package recovery holds the failure-handling building blocks used around provider calls:
// exponential backoff retries, a circuit breaker, partial batch recovery and stale-cache
// fallback.
package recovery

import (
	"context"
	"errors"
	"net"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/rs/zerolog"
)

// Strategy names the recovery approach suited to an error.
type Strategy string

const (
	StrategyRetry    Strategy = "retry_with_backoff"
	StrategyFallback Strategy = "fallback_to_cache"
)

// SelectRecoveryStrategy retries transient transport failures and falls back to cached
// data for everything else. Quota and rate limit errors never improve by retrying.
func SelectRecoveryStrategy(err error) Strategy {
	if IsTransient(err) {
		return StrategyRetry
	}
	return StrategyFallback
}

// IsTransient reports whether err is a connectivity or timeout failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrQuotaExceeded) || errors.Is(err, domain.ErrRateLimited) {
		return false
	}
	if errors.Is(err, domain.ErrConnectivity) || errors.Is(err, domain.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FallbackCache is the read side of the cache store.
type FallbackCache interface {
	Get(symbol, start, end string) (domain.Series, bool, error)
}

// FetchFunc fetches one symbol.
type FetchFunc func(ctx context.Context, symbol string) (domain.Series, error)

// Recovery applies fallback and partial recovery around provider fetches.
type Recovery struct {
	cache FallbackCache
	log   zerolog.Logger
}

// New creates a Recovery reading fallback data from cache.
func New(cache FallbackCache, log zerolog.Logger) *Recovery {
	return &Recovery{
		cache: cache,
		log:   log.With().Str("component", "recovery").Logger(),
	}
}

// FetchWithPartialRecovery calls fetch once per symbol. Successes land in results and
// failures in errs, so a symbol is never in both.
func (r *Recovery) FetchWithPartialRecovery(ctx context.Context, symbols []string, fetch FetchFunc) (map[string]domain.Series, map[string]error) {
	results := make(map[string]domain.Series)
	errs := make(map[string]error)

	for _, symbol := range symbols {
		series, err := fetch(ctx, symbol)
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("Fetch failed, continuing with remaining symbols")
			errs[symbol] = err
			delete(results, symbol)
			continue
		}
		results[symbol] = series
		delete(errs, symbol)
	}

	r.log.Info().
		Int("succeeded", len(results)).
		Int("failed", len(errs)).
		Msg("Partial recovery fetch completed")

	return results, errs
}

// GetDataWithFallback returns apiFn's result, or the data cached for the exact range when
// apiFn fails. Stale data is served. Without cached data the original error is returned.
func (r *Recovery) GetDataWithFallback(ctx context.Context, symbol, start, end string, apiFn func(ctx context.Context) (domain.Series, error)) (domain.Series, error) {
	series, err := apiFn(ctx)
	if err == nil {
		return series, nil
	}

	cached, ok, cacheErr := r.cache.Get(symbol, start, end)
	if cacheErr != nil {
		r.log.Error().Err(cacheErr).Str("symbol", symbol).Msg("Fallback cache read failed")
		return nil, err
	}
	if !ok || len(cached) == 0 {
		return nil, err
	}

	r.log.Warn().
		Err(err).
		Str("symbol", symbol).
		Int("records", len(cached)).
		Msg("Provider failed, serving cached data")

	return cached, nil
}
