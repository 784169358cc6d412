// Package domain provides the core market data types shared by every component.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used for ranges, ledger days and bar dates.
const DateLayout = "2006-01-02"

// PriceScale is the number of decimal places kept for stored prices.
const PriceScale = 4

// Bar is one daily OHLCV observation.
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Series is a date-ordered sequence of bars for one symbol.
type Series []Bar

// First returns the earliest bar date, or the zero time for an empty series.
func (s Series) First() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Date
}

// Last returns the latest bar date, or the zero time for an empty series.
func (s Series) Last() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Date
}

// Row is one raw record as returned by a provider, keyed by column name.
type Row map[string]string

// Table is the untyped tabular payload handed over by a provider before validation.
type Table struct {
	Symbol  string
	Columns []string
	Rows    []Row
}

// Len returns the number of rows in the table.
func (t Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether the table declares the named column.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateRange is an inclusive calendar-date interval.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Validate checks both bounds parse and start does not follow end.
func (r DateRange) Validate() error {
	start, err := ParseDate(r.Start)
	if err != nil {
		return &ValidationError{Field: "start", Message: err.Error()}
	}
	end, err := ParseDate(r.End)
	if err != nil {
		return &ValidationError{Field: "end", Message: err.Error()}
	}
	if start.After(end) {
		return &ValidationError{Field: "start", Message: fmt.Sprintf("start %s is after end %s", r.Start, r.End)}
	}
	return nil
}
