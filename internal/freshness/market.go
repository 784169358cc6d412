package freshness

import (
	"fmt"
	"time"
)

// Market is a single exchange session: weekdays between open and close, exchange-local.
// Holidays are not modelled.
type Market struct {
	loc   *time.Location
	open  time.Duration // offset from local midnight
	close time.Duration
}

// NewMarket creates a market clock. open and close are offsets from local midnight.
func NewMarket(loc *time.Location, open, close time.Duration) (*Market, error) {
	if loc == nil {
		return nil, fmt.Errorf("market timezone is required")
	}
	if open < 0 || close > 24*time.Hour || close <= open {
		return nil, fmt.Errorf("invalid market session %s-%s", open, close)
	}
	return &Market{loc: loc, open: open, close: close}, nil
}

// NYSE returns the 09:30-16:00 America/New_York session.
func NYSE() (*Market, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone: %w", err)
	}
	return NewMarket(loc, 9*time.Hour+30*time.Minute, 16*time.Hour)
}

// Location returns the exchange timezone.
func (m *Market) Location() *time.Location {
	return m.loc
}

// IsWeekend reports whether t falls on an exchange-local Saturday or Sunday.
func (m *Market) IsWeekend(t time.Time) bool {
	wd := t.In(m.loc).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsOpen reports whether t is inside the session. Both bounds are inclusive.
func (m *Market) IsOpen(t time.Time) bool {
	if m.IsWeekend(t) {
		return false
	}
	local := t.In(m.loc)
	return !local.Before(m.OpenTime(local)) && !local.After(m.CloseTime(local))
}

// OpenTime returns the session open on t's exchange-local date.
func (m *Market) OpenTime(t time.Time) time.Time {
	return m.at(t, m.open)
}

// CloseTime returns the session close on t's exchange-local date.
func (m *Market) CloseTime(t time.Time) time.Time {
	return m.at(t, m.close)
}

// NextOpen returns the first session open strictly after t.
func (m *Market) NextOpen(t time.Time) time.Time {
	local := t.In(m.loc)
	candidate := m.OpenTime(local)
	for !candidate.After(local) || m.IsWeekend(candidate) {
		candidate = m.OpenTime(time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 12, 0, 0, 0, m.loc))
	}
	return candidate
}

// at builds the local wall-clock time offset from midnight on t's local date.
// Hours and minutes are set directly so DST transitions do not shift the session.
func (m *Market) at(t time.Time, offset time.Duration) time.Time {
	local := t.In(m.loc)
	hours := int(offset / time.Hour)
	minutes := int((offset % time.Hour) / time.Minute)
	return time.Date(local.Year(), local.Month(), local.Day(), hours, minutes, 0, 0, m.loc)
}
