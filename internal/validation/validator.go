// Package validation turns raw provider tables into typed series, rejecting anything
// that is not a well-formed, chronologically ordered OHLCV dataset.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/shopspring/decimal"
)

// Column names expected in provider payloads.
const (
	ColumnDate   = "datetime"
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// RequiredColumns lists the columns every dataset must carry.
var RequiredColumns = []string{ColumnDate, ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume}

var dateLayouts = []string{domain.DateLayout, "2006-01-02 15:04:05"}

// Validator checks column presence, numeric types and strictly increasing dates.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate converts table into a series. Any defect is a *domain.ValidationError.
func (v *Validator) Validate(table domain.Table) (domain.Series, error) {
	for _, col := range RequiredColumns {
		if !table.HasColumn(col) {
			return nil, &domain.ValidationError{Field: col, Message: "missing required column"}
		}
	}
	if table.Len() == 0 {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("no rows returned for %s", table.Symbol)}
	}

	series := make(domain.Series, 0, table.Len())
	var prev time.Time

	for i, row := range table.Rows {
		bar, err := parseRow(i, row)
		if err != nil {
			return nil, err
		}
		if i > 0 && !bar.Date.After(prev) {
			return nil, &domain.ValidationError{
				Field: ColumnDate,
				Message: fmt.Sprintf("row %d: %s does not follow %s",
					i, domain.FormatDate(bar.Date), domain.FormatDate(prev)),
			}
		}
		prev = bar.Date
		series = append(series, bar)
	}

	return series, nil
}

func parseRow(i int, row domain.Row) (domain.Bar, error) {
	var (
		bar domain.Bar
		err error
	)

	if bar.Date, err = parseDate(row[ColumnDate]); err != nil {
		return bar, rowError(i, ColumnDate, err)
	}

	prices := []struct {
		col    string
		target *decimal.Decimal
	}{
		{ColumnOpen, &bar.Open},
		{ColumnHigh, &bar.High},
		{ColumnLow, &bar.Low},
		{ColumnClose, &bar.Close},
	}
	for _, p := range prices {
		d, err := decimal.NewFromString(strings.TrimSpace(row[p.col]))
		if err != nil {
			return bar, rowError(i, p.col, err)
		}
		*p.target = d.Round(domain.PriceScale)
	}

	volume, err := parseVolume(row[ColumnVolume])
	if err != nil {
		return bar, rowError(i, ColumnVolume, err)
	}
	if volume < 0 {
		return bar, rowError(i, ColumnVolume, fmt.Errorf("negative volume %d", volume))
	}
	bar.Volume = volume

	return bar, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			// Daily bars are keyed by calendar date
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// parseVolume accepts integers and integral decimals such as "1200.0".
func parseVolume(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if v, err := strconv.ParseInt(value, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("fractional volume %s", value)
	}
	return d.IntPart(), nil
}

func rowError(i int, field string, err error) error {
	return &domain.ValidationError{Field: field, Message: fmt.Sprintf("row %d: %v", i, err)}
}
