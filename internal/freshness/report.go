package freshness

import (
	"time"

	"github.com/aristath/quotafeed/internal/cache"
)

// MarketStatus is the market part of a freshness report.
type MarketStatus struct {
	IsOpen    bool      `json:"is_open"`
	IsWeekend bool      `json:"is_weekend"`
	LocalTime time.Time `json:"local_time"`
	NextOpen  time.Time `json:"next_open"`
}

// Report is an operator-facing summary of cache freshness.
type Report struct {
	Timestamp                time.Time    `json:"timestamp"`
	Market                   MarketStatus `json:"market_status"`
	CacheStatistics          cache.Stats  `json:"cache_statistics"`
	Thresholds               Thresholds   `json:"freshness_thresholds"`
	AdaptiveThresholdMinutes float64      `json:"adaptive_threshold_minutes"`
	Recommendations          []string     `json:"recommendations"`
}

// Report builds a freshness report for the current moment.
func (m *Manager) Report() (Report, error) {
	now := m.now()

	stats, err := m.store.GetCacheStats()
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Timestamp: now,
		Market: MarketStatus{
			IsOpen:    m.market.IsOpen(now),
			IsWeekend: m.market.IsWeekend(now),
			LocalTime: now.In(m.market.Location()),
			NextOpen:  m.market.NextOpen(now),
		},
		CacheStatistics:          stats,
		Thresholds:               m.thresholds,
		AdaptiveThresholdMinutes: m.AdaptiveThreshold(now).Minutes(),
		Recommendations:          m.recommendations(now),
	}

	m.log.Debug().Bool("market_open", report.Market.IsOpen).Msg("Generated freshness report")
	return report, nil
}

func (m *Manager) recommendations(now time.Time) []string {
	switch {
	case m.market.IsOpen(now):
		return []string{
			"Market is open: keep freshness thresholds short for active trading",
			"Refresh intraday-sensitive ranges every 5 minutes",
		}
	case m.market.IsWeekend(now):
		return []string{
			"Market is closed for the weekend: longer freshness thresholds are acceptable",
			"Weekends are a good time to clean up old cache data",
		}
	default:
		return []string{"Market is closed: moderate freshness thresholds are appropriate"}
	}
}
