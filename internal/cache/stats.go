package cache

import (
	"database/sql"
	"fmt"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Stats summarises the cache contents.
type Stats struct {
	TotalRecords   int64  `json:"total_records"`
	CacheEntries   int64  `json:"cache_entries"`
	UniqueSymbols  int64  `json:"unique_symbols"`
	OldestDate     string `json:"oldest_date,omitempty"`
	NewestDate     string `json:"newest_date,omitempty"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
}

// GetCacheStats returns counts and the date span of cached bars.
func (r *Repository) GetCacheStats() (Stats, error) {
	var (
		stats          Stats
		oldest, newest sql.NullString
	)

	err := r.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT symbol), MIN(date), MAX(date)
		FROM price_bars
	`).Scan(&stats.TotalRecords, &stats.UniqueSymbols, &oldest, &newest)
	if err != nil {
		return Stats{}, &domain.CacheError{Op: "stats", Err: err}
	}
	stats.OldestDate = oldest.String
	stats.NewestDate = newest.String

	err = r.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(data_size_bytes), 0)
		FROM cache_metadata
	`).Scan(&stats.CacheEntries, &stats.TotalSizeBytes)
	if err != nil {
		return Stats{}, &domain.CacheError{Op: "stats", Err: err}
	}

	return stats, nil
}

// wireBar is the serialized form used to size cached ranges.
type wireBar struct {
	Date   string `msgpack:"d"`
	Open   string `msgpack:"o"`
	High   string `msgpack:"h"`
	Low    string `msgpack:"l"`
	Close  string `msgpack:"c"`
	Volume int64  `msgpack:"v"`
}

// EncodedSize returns the msgpack-encoded size of a series in bytes.
func EncodedSize(series domain.Series) (int64, error) {
	wire := make([]wireBar, len(series))
	for i, bar := range series {
		wire[i] = wireBar{
			Date:   bar.Date.Format(domain.DateLayout),
			Open:   price(bar.Open),
			High:   price(bar.High),
			Low:    price(bar.Low),
			Close:  price(bar.Close),
			Volume: bar.Volume,
		}
	}

	data, err := msgpack.Marshal(wire)
	if err != nil {
		return 0, fmt.Errorf("failed to encode series: %w", err)
	}
	return int64(len(data)), nil
}
