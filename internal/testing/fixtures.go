package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/shopspring/decimal"
)

// NewBarFixtures returns n consecutive daily bars starting at start (YYYY-MM-DD).
func NewBarFixtures(start string, n int) domain.Series {
	first, err := domain.ParseDate(start)
	if err != nil {
		panic(err)
	}

	series := make(domain.Series, 0, n)
	for i := 0; i < n; i++ {
		base := decimal.NewFromInt(int64(100 + i))
		series = append(series, domain.Bar{
			Date:   first.AddDate(0, 0, i),
			Open:   base,
			High:   base.Add(decimal.RequireFromString("1.25")),
			Low:    base.Sub(decimal.RequireFromString("0.75")),
			Close:  base.Add(decimal.RequireFromString("0.5")),
			Volume: int64(1_000_000 + i*1000),
		})
	}
	return series
}

// NewProviderTable renders a series the way the provider returns it, with string cells.
func NewProviderTable(symbol string, series domain.Series) domain.Table {
	table := domain.Table{
		Symbol:  symbol,
		Columns: []string{"datetime", "open", "high", "low", "close", "volume"},
		Rows:    make([]domain.Row, 0, len(series)),
	}
	for _, bar := range series {
		table.Rows = append(table.Rows, domain.Row{
			"datetime": bar.Date.Format(domain.DateLayout),
			"open":     bar.Open.String(),
			"high":     bar.High.String(),
			"low":      bar.Low.String(),
			"close":    bar.Close.String(),
			"volume":   fmt.Sprintf("%d", bar.Volume),
		})
	}
	return table
}

// Clock is a manually advanced clock. Sleep advances it instead of blocking.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewClock creates a clock frozen at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// MustParseClock creates a clock frozen at an RFC3339 instant.
func MustParseClock(rfc3339 string) *Clock {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		panic(err)
	}
	return NewClock(t)
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep records d and advances the clock by it. A cancelled ctx returns its error
// without advancing.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
