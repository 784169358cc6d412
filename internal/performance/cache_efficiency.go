package performance

import (
	"github.com/aristath/quotafeed/internal/domain"
)

// Hit-rate bands used for recommendations.
const (
	lowHitRate      = 50.0
	moderateHitRate = 80.0
)

// DefaultChunkSize is the number of bars handed out per chunk.
const DefaultChunkSize = 50

// CalculateCacheHitRate returns hits as a percentage of total requests, 0 without requests.
func CalculateCacheHitRate(total, hits int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Recommendations suggests tuning steps for a cache hit rate percentage.
func Recommendations(hitRate float64) []string {
	switch {
	case hitRate < lowHitRate:
		return []string{
			"Consider increasing cache size limit",
			"Review cache freshness settings",
			"Analyze access patterns for optimization",
		}
	case hitRate < moderateHitRate:
		return []string{
			"Fine-tune cache retention",
			"Consider pre-loading frequently accessed ranges",
		}
	default:
		return []string{"Cache performance is optimal"}
	}
}

// StreamChunks hands series to fn in consecutive chunks of at most size bars, stopping at
// the first error. Chunks share the series' backing array.
func StreamChunks(series domain.Series, size int, fn func(chunk domain.Series) error) error {
	if size <= 0 {
		size = DefaultChunkSize
	}
	for start := 0; start < len(series); start += size {
		end := min(start+size, len(series))
		if err := fn(series[start:end:end]); err != nil {
			return err
		}
	}
	return nil
}
