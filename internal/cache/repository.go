// Package cache persists daily bars and the exact date ranges they were fetched for.
//
// A range is only served when a metadata row for exactly (symbol, start, end) exists;
// bars are shared between overlapping ranges and upserted on (symbol, date).
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/quotafeed/internal/database"
	"github.com/aristath/quotafeed/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Metadata describes one stored range.
type Metadata struct {
	CacheKey      string    `json:"cache_key"`
	Symbol        string    `json:"symbol"`
	StartDate     string    `json:"start_date"`
	EndDate       string    `json:"end_date"`
	RecordCount   int       `json:"record_count"`
	DataSizeBytes int64     `json:"data_size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	LastAccessed  time.Time `json:"last_accessed"`
}

// Age returns how long ago the range was stored.
func (m *Metadata) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// ClearFilter narrows ClearCache. Zero values mean "no filter"; both filters are AND-ed.
type ClearFilter struct {
	Symbol        string
	OlderThanDays int
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for timestamps and age checks.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// Repository provides cache operations over the cache database.
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new cache repository.
func NewRepository(db *sql.DB, log zerolog.Logger, opts ...Option) *Repository {
	r := &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key builds the metadata key for an exact range.
func Key(symbol, start, end string) string {
	return fmt.Sprintf("%s_%s_%s", symbol, start, end)
}

// Store upserts every bar and the range metadata in one transaction.
// An empty series is a no-op; malformed bars are rejected with *domain.ValidationError.
func (r *Repository) Store(symbol, start, end string, series domain.Series) error {
	if len(series) == 0 {
		r.log.Warn().Str("symbol", symbol).Msg("Refusing to cache empty series")
		return nil
	}

	if err := validateBars(series); err != nil {
		return err
	}

	size, err := EncodedSize(series)
	if err != nil {
		return &domain.CacheError{Op: "store", Err: err}
	}

	now := r.now().UnixMilli()
	key := Key(symbol, start, end)

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO price_bars (symbol, date, open, high, low, close, volume, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				created_at = excluded.created_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		for _, bar := range series {
			if _, err := stmt.Exec(
				symbol,
				bar.Date.Format(domain.DateLayout),
				price(bar.Open),
				price(bar.High),
				price(bar.Low),
				price(bar.Close),
				bar.Volume,
				now,
			); err != nil {
				return fmt.Errorf("failed to upsert bar %s %s: %w", symbol, bar.Date.Format(domain.DateLayout), err)
			}
		}

		if _, err := tx.Exec(`
			INSERT INTO cache_metadata
				(cache_key, symbol, start_date, end_date, record_count, data_size_bytes, created_at, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET
				record_count = excluded.record_count,
				data_size_bytes = excluded.data_size_bytes,
				created_at = excluded.created_at,
				last_accessed = excluded.last_accessed
		`, key, symbol, start, end, len(series), size, now, now); err != nil {
			return fmt.Errorf("failed to upsert cache metadata %s: %w", key, err)
		}

		return nil
	})
	if err != nil {
		return &domain.CacheError{Op: "store", Err: err}
	}

	r.log.Debug().
		Str("symbol", symbol).
		Str("start", start).
		Str("end", end).
		Int("records", len(series)).
		Int64("size_bytes", size).
		Msg("Cached series")

	return nil
}

// Get returns the cached bars for an exact range in ascending date order.
// The second return value is false on a miss; a miss is not an error.
func (r *Repository) Get(symbol, start, end string) (domain.Series, bool, error) {
	key := Key(symbol, start, end)

	var exists int
	err := r.db.QueryRow(`SELECT 1 FROM cache_metadata WHERE cache_key = ?`, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &domain.CacheError{Op: "get", Err: err}
	}

	series, err := r.readBars(symbol, start, end)
	if err != nil {
		return nil, false, &domain.CacheError{Op: "get", Err: err}
	}
	if len(series) == 0 {
		return nil, false, nil
	}

	if _, err := r.db.Exec(
		`UPDATE cache_metadata SET last_accessed = ? WHERE cache_key = ?`,
		r.now().UnixMilli(), key,
	); err != nil {
		// Serving the data matters more than the access timestamp
		r.log.Warn().Err(err).Str("cache_key", key).Msg("Failed to update last_accessed")
	}

	return series, true, nil
}

func (r *Repository) readBars(symbol, start, end string) (domain.Series, error) {
	rows, err := r.db.Query(`
		SELECT date, open, high, low, close, volume
		FROM price_bars
		WHERE symbol = ? AND date BETWEEN ? AND ?
		ORDER BY date ASC
	`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var series domain.Series
	for rows.Next() {
		var (
			bar  domain.Bar
			date string
		)
		if err := rows.Scan(&date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		if bar.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		series = append(series, bar)
	}

	return series, rows.Err()
}

// GetMetadata returns the metadata for an exact range, or nil when it was never stored.
func (r *Repository) GetMetadata(symbol, start, end string) (*Metadata, error) {
	var (
		m                       Metadata
		createdAt, lastAccessed int64
	)
	err := r.db.QueryRow(`
		SELECT cache_key, symbol, start_date, end_date, record_count, data_size_bytes, created_at, last_accessed
		FROM cache_metadata
		WHERE cache_key = ?
	`, Key(symbol, start, end)).Scan(
		&m.CacheKey, &m.Symbol, &m.StartDate, &m.EndDate,
		&m.RecordCount, &m.DataSizeBytes, &createdAt, &lastAccessed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.CacheError{Op: "metadata", Err: err}
	}

	m.CreatedAt = time.UnixMilli(createdAt)
	m.LastAccessed = time.UnixMilli(lastAccessed)
	return &m, nil
}

// IsFresh reports whether the exact range was stored at most maxAge ago.
func (r *Repository) IsFresh(symbol, start, end string, maxAge time.Duration) (bool, error) {
	m, err := r.GetMetadata(symbol, start, end)
	if err != nil || m == nil {
		return false, err
	}
	return m.Age(r.now()) <= maxAge, nil
}

// DeleteRange drops the metadata for one exact range, turning it into a miss.
// Bars stay, since overlapping ranges may still reference them.
func (r *Repository) DeleteRange(symbol, start, end string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM cache_metadata WHERE cache_key = ?`, Key(symbol, start, end))
	if err != nil {
		return false, &domain.CacheError{Op: "delete_range", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearCache deletes bars and metadata matching the filter and returns the number of
// rows removed from both tables.
func (r *Repository) ClearCache(filter ClearFilter) (int64, error) {
	if filter.OlderThanDays < 0 {
		return 0, &domain.CacheError{Op: "clear", Err: fmt.Errorf("older_than_days must not be negative")}
	}

	var (
		conds []string
		args  []interface{}
	)
	if filter.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.OlderThanDays > 0 {
		cutoff := r.now().AddDate(0, 0, -filter.OlderThanDays).UnixMilli()
		conds = append(conds, "created_at < ?")
		args = append(args, cutoff)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, table := range []string{"price_bars", "cache_metadata"} {
			res, err := tx.Exec("DELETE FROM "+table+where, args...)
			if err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, &domain.CacheError{Op: "clear", Err: err}
	}

	r.log.Info().
		Str("symbol", filter.Symbol).
		Int("older_than_days", filter.OlderThanDays).
		Int64("deleted", total).
		Msg("Cleared cache")

	return total, nil
}

func validateBars(series domain.Series) error {
	for i, bar := range series {
		if bar.Date.IsZero() {
			return &domain.ValidationError{Field: "date", Message: fmt.Sprintf("bar %d has no date", i)}
		}
		if bar.Volume < 0 {
			return &domain.ValidationError{Field: "volume", Message: fmt.Sprintf("bar %d has negative volume", i)}
		}
	}
	return nil
}

func price(d decimal.Decimal) string {
	return d.Round(domain.PriceScale).String()
}
