package quota

import (
	"fmt"
	"time"
)

// Level is a usage band for today's quota.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelModerate Level = "MODERATE"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
	LevelExceeded Level = "EXCEEDED"
)

// LevelFor maps a usage percentage onto its band.
func LevelFor(percentage float64) Level {
	switch {
	case percentage >= 100:
		return LevelExceeded
	case percentage >= 90:
		return LevelCritical
	case percentage >= 80:
		return LevelHigh
	case percentage >= 50:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Status is a human-readable view of today's usage.
type Status struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Usage   Usage  `json:"usage"`
}

// Status reports today's usage band.
func (g *Governor) Status() (Status, error) {
	usage, err := g.GetUsage()
	if err != nil {
		return Status{}, err
	}

	level := LevelFor(usage.Percentage)
	return Status{
		Level: level,
		Message: fmt.Sprintf("Quota Status: %s - %d/%d requests (%.1f%%) used today",
			level, usage.Used, usage.Limit, usage.Percentage),
		Usage: usage,
	}, nil
}

// DayUsage is one ledger row.
type DayUsage struct {
	Date            string    `json:"date"`
	RequestsUsed    int       `json:"requests_used"`
	LastRequestTime time.Time `json:"last_request_time,omitempty"`
}

// History returns the ledger rows for the last n days (today included), newest first.
func (g *Governor) History(days int) ([]DayUsage, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	if _, err := g.rollover(); err != nil {
		return nil, err
	}
	since := g.dayOf(g.opts.Now().AddDate(0, 0, -(days - 1)))

	rows, err := g.db.Query(`
		SELECT date, requests_used, last_request_time
		FROM quota_ledger
		WHERE date >= ?
		ORDER BY date DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota history: %w", err)
	}
	defer rows.Close()

	var history []DayUsage
	for rows.Next() {
		var (
			day  DayUsage
			last *int64
		)
		if err := rows.Scan(&day.Date, &day.RequestsUsed, &last); err != nil {
			return nil, fmt.Errorf("failed to scan quota history: %w", err)
		}
		if last != nil {
			day.LastRequestTime = time.UnixMilli(*last)
		}
		history = append(history, day)
	}

	return history, rows.Err()
}

// CleanupOldRecords deletes ledger rows older than keepDays. Today's row is never removed.
func (g *Governor) CleanupOldRecords(keepDays int) (int64, error) {
	if keepDays < 1 {
		keepDays = 1
	}

	cutoff := g.dayOf(g.opts.Now().AddDate(0, 0, -keepDays))

	res, err := g.db.Exec(`DELETE FROM quota_ledger WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up quota ledger: %w", err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		g.log.Info().Int64("deleted", deleted).Str("before", cutoff).Msg("Removed old quota ledger rows")
	}
	return deleted, nil
}
