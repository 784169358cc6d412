package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. The typed errors below match them.
var (
	ErrDataFetch     = errors.New("data fetch failed")
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrValidation    = errors.New("data validation failed")
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	ErrConfiguration = errors.New("invalid configuration")
	ErrCache         = errors.New("cache operation failed")
	ErrConnectivity  = errors.New("provider unreachable")
	ErrTimeout       = errors.New("provider request timed out")
	ErrRateLimited   = errors.New("provider rate limit hit")
	ErrCircuitOpen   = errors.New("circuit breaker is open")
)

// ErrRequestNotSent marks failures where the request never left the process.
var ErrRequestNotSent = errors.New("request was not sent")

// FetchError wraps any provider-side failure other than an invalid symbol.
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch data for %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrDataFetch }

// InvalidSymbolError is returned when the provider rejects a symbol.
type InvalidSymbolError struct {
	Symbol string
	Reason string
}

func (e *InvalidSymbolError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid symbol %s", e.Symbol)
	}
	return fmt.Sprintf("invalid symbol %s: %s", e.Symbol, e.Reason)
}

func (e *InvalidSymbolError) Is(target error) bool { return target == ErrInvalidSymbol }

// ValidationError describes malformed market data.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// QuotaExceededError is returned when today's ledger has no requests left.
type QuotaExceededError struct {
	Date  string
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: %d/%d requests used on %s", e.Used, e.Limit, e.Date)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// ConfigurationError reports an invalid or unparseable setting.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// CacheError wraps a storage failure in the cache layer.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func (e *CacheError) Is(target error) bool { return target == ErrCache }
