// Package quota enforces the provider's daily request quota with a persistent ledger.
//
// Every provider request goes through Governor.Acquire, which checks the quota, waits out
// the minimum spacing since the previous request and records the new request in one
// critical section. The ledger lives in SQLite so the count survives restarts.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/rs/zerolog"
)

// Reset refusals.
var (
	ErrResetNotForced    = errors.New("quota reset requires force")
	ErrResetInProduction = errors.New("quota reset is disabled in production")
)

// Options configures a Governor.
type Options struct {
	DailyLimit  int
	MinInterval time.Duration
	// Location defines the ledger's calendar day. Defaults to UTC.
	Location *time.Location
	// Production disables ResetQuota.
	Production bool
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Usage is a snapshot of today's ledger row.
type Usage struct {
	Date       string  `json:"date"`
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// Governor is the single gate in front of the provider.
type Governor struct {
	db   *sql.DB
	opts Options
	log  zerolog.Logger

	// mu serializes check + spacing + record
	mu sync.Mutex

	dayMu      sync.Mutex
	currentDay string
}

// NewGovernor creates a governor over a migrated quota database.
func NewGovernor(db *sql.DB, opts Options, log zerolog.Logger) (*Governor, error) {
	if db == nil {
		return nil, fmt.Errorf("quota database is nil")
	}
	if opts.DailyLimit <= 0 {
		return nil, &domain.ConfigurationError{Field: "daily_limit", Message: "must be positive"}
	}
	if opts.MinInterval < 0 {
		return nil, &domain.ConfigurationError{Field: "min_interval", Message: "must not be negative"}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	g := &Governor{
		db:   db,
		opts: opts,
		log:  log.With().Str("component", "quota_governor").Logger(),
	}

	if _, err := g.rollover(); err != nil {
		return nil, err
	}

	return g, nil
}

// DailyLimit returns the configured daily request limit.
func (g *Governor) DailyLimit() int {
	return g.opts.DailyLimit
}

// CanMakeRequest reports whether today's ledger still has room for one request.
func (g *Governor) CanMakeRequest() (bool, error) {
	usage, err := g.GetUsage()
	if err != nil {
		return false, err
	}
	return usage.Used < usage.Limit, nil
}

// RecordRequest increments today's count and stamps the request time. The row is
// persisted before it returns. A full ledger is refused with *domain.QuotaExceededError.
func (g *Governor) RecordRequest() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.record()
	return err
}

// Acquire admits one provider request: it fails fast when the quota is spent, waits until
// the minimum interval since the last recorded request has elapsed, then records the
// request. It returns the ledger day the request was charged to, which is what Refund
// needs. The wait honours ctx; a cancelled wait records nothing.
func (g *Governor) Acquire(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	usage, err := g.usage()
	if err != nil {
		return "", err
	}
	if usage.Used >= usage.Limit {
		return "", &domain.QuotaExceededError{Date: usage.Date, Used: usage.Used, Limit: usage.Limit}
	}

	last, err := g.lastRequestTime()
	if err != nil {
		return "", err
	}
	if !last.IsZero() && g.opts.MinInterval > 0 {
		wait := last.Add(g.opts.MinInterval).Sub(g.opts.Now())
		if wait > 0 {
			g.log.Debug().Dur("wait", wait).Msg("Spacing provider request")
			if err := g.opts.Sleep(ctx, wait); err != nil {
				return "", fmt.Errorf("interrupted while spacing request: %w", err)
			}
		}
	}

	return g.record()
}

// Refund gives back one unit on the ledger day Acquire charged, for a request that never
// reached the provider. The last request time is left alone.
func (g *Governor) Refund(day string) error {
	if day == "" {
		return fmt.Errorf("refund needs the charged ledger day")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	res, err := g.db.Exec(
		`UPDATE quota_ledger SET requests_used = requests_used - 1 WHERE date = ? AND requests_used > 0`,
		day,
	)
	if err != nil {
		return fmt.Errorf("failed to refund request: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		g.log.Debug().Str("date", day).Msg("Unsent provider request refunded")
	}
	return nil
}

// GetUsage returns today's usage, rolling the ledger over first if the day changed.
func (g *Governor) GetUsage() (Usage, error) {
	return g.usage()
}

// ResetQuota zeroes today's count. It is refused without force and always refused in
// production. The last request time is kept so spacing still applies.
func (g *Governor) ResetQuota(force bool) error {
	if !force {
		return ErrResetNotForced
	}
	if g.opts.Production {
		return ErrResetInProduction
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	day, err := g.rollover()
	if err != nil {
		return err
	}

	if _, err := g.db.Exec(`UPDATE quota_ledger SET requests_used = 0 WHERE date = ?`, day); err != nil {
		return fmt.Errorf("failed to reset quota for %s: %w", day, err)
	}

	g.log.Warn().Str("date", day).Msg("Daily quota reset by administrator")
	return nil
}

func (g *Governor) usage() (Usage, error) {
	day, err := g.rollover()
	if err != nil {
		return Usage{}, err
	}

	var used int
	err = g.db.QueryRow(`SELECT requests_used FROM quota_ledger WHERE date = ?`, day).Scan(&used)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Usage{}, fmt.Errorf("failed to read quota ledger: %w", err)
	}

	remaining := g.opts.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	return Usage{
		Date:       day,
		Used:       used,
		Limit:      g.opts.DailyLimit,
		Remaining:  remaining,
		Percentage: float64(used) / float64(g.opts.DailyLimit) * 100,
	}, nil
}

func (g *Governor) record() (string, error) {
	now := g.opts.Now()
	day := g.dayOf(now)

	res, err := g.db.Exec(`
		INSERT INTO quota_ledger (date, requests_used, last_request_time, created_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			requests_used = quota_ledger.requests_used + 1,
			last_request_time = excluded.last_request_time
		WHERE quota_ledger.requests_used < ?
	`, day, now.UnixMilli(), now.UnixMilli(), g.opts.DailyLimit)
	if err != nil {
		return "", fmt.Errorf("failed to record request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to confirm recorded request: %w", err)
	}
	if affected == 0 {
		return "", &domain.QuotaExceededError{Date: day, Used: g.opts.DailyLimit, Limit: g.opts.DailyLimit}
	}

	g.log.Debug().Str("date", day).Msg("Provider request recorded")
	return day, nil
}

// lastRequestTime is the latest request across all days, so spacing holds over midnight
// and across restarts.
func (g *Governor) lastRequestTime() (time.Time, error) {
	var last sql.NullInt64
	if err := g.db.QueryRow(`SELECT MAX(last_request_time) FROM quota_ledger`).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("failed to read last request time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(last.Int64), nil
}

// rollover makes sure today's ledger row exists and returns today's date key.
func (g *Governor) rollover() (string, error) {
	now := g.opts.Now()
	day := g.dayOf(now)

	if _, err := g.db.Exec(
		`INSERT OR IGNORE INTO quota_ledger (date, requests_used, created_at) VALUES (?, 0, ?)`,
		day, now.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("failed to roll quota ledger to %s: %w", day, err)
	}

	g.dayMu.Lock()
	previous := g.currentDay
	g.currentDay = day
	g.dayMu.Unlock()

	if previous != "" && previous != day {
		g.log.Info().Str("previous", previous).Str("date", day).Msg("Quota ledger rolled over to a new day")
	}

	return day, nil
}

func (g *Governor) dayOf(t time.Time) string {
	return t.In(g.opts.Location).Format(domain.DateLayout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
