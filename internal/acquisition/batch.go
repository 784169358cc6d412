package acquisition

import (
	"context"
	"errors"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/aristath/quotafeed/internal/utils"
	"github.com/google/uuid"
)

// BatchReport is the outcome of one batch run. Invalid symbols are skipped, other
// failures are recorded as faults, and symbols beyond the quota-limited batch size are
// deferred untouched.
type BatchReport struct {
	RunID    string                   `json:"run_id"`
	Results  map[string]domain.Series `json:"-"`
	Skipped  map[string]error         `json:"-"`
	Failed   map[string]error         `json:"-"`
	Deferred []string                 `json:"deferred"`
}

// Succeeded lists symbols with data, in no particular order.
func (r *BatchReport) Succeeded() []string {
	out := make([]string, 0, len(r.Results))
	for symbol := range r.Results {
		out = append(out, symbol)
	}
	return out
}

// CalculateOptimalBatchSize is min(len(symbols), remaining quota), at least 1 while any
// quota remains and 0 once it is spent.
func (f *Fetcher) CalculateOptimalBatchSize(symbols []string) (int, error) {
	usage, err := f.quota.GetUsage()
	if err != nil {
		return 0, err
	}

	size := min(len(symbols), usage.Remaining)
	if usage.Remaining > 0 && size == 0 {
		size = 1
	}

	f.log.Info().
		Int("batch_size", size).
		Int("requested", len(symbols)).
		Int("remaining_quota", usage.Remaining).
		Msg("Calculated optimal batch size")

	return size, nil
}

// FetchMultipleSymbols fetches up to the optimal batch size of symbols, one after another.
// Per-symbol failures only drop that symbol from the result. Only a spent quota fails the
// whole call, before anything is fetched.
func (f *Fetcher) FetchMultipleSymbols(ctx context.Context, symbols []string, start, end string) (map[string]domain.Series, error) {
	report, err := f.FetchBatch(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

// FetchBatch is FetchMultipleSymbols with the skipped, failed and deferred symbols kept.
// Symbols are normalized and repeats dropped before sizing.
func (f *Fetcher) FetchBatch(ctx context.Context, symbols []string, start, end string) (report *BatchReport, err error) {
	symbols = utils.UniqueSymbols(symbols)
	runID := uuid.New().String()
	log := f.log.With().Str("run_id", runID).Logger()

	span := utils.StartSpan(log, "fetch_batch").With("symbols", len(symbols))
	defer func() { span.End(err) }()

	size, err := f.CalculateOptimalBatchSize(symbols)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, f.quotaError()
	}

	report = &BatchReport{
		RunID:   runID,
		Results: make(map[string]domain.Series),
		Skipped: make(map[string]error),
		Failed:  make(map[string]error),
	}
	size = min(size, len(symbols))
	if size < len(symbols) {
		report.Deferred = append([]string(nil), symbols[size:]...)
	}

	// One symbol at a time, never concurrently
	for _, symbol := range symbols[:size] {
		series, ferr := f.FetchHistorical(ctx, symbol, start, end)
		switch {
		case ferr == nil:
			report.Results[symbol] = series
		case errors.Is(ferr, domain.ErrInvalidSymbol):
			log.Warn().Err(ferr).Str("symbol", symbol).Msg("Skipping invalid symbol")
			report.Skipped[symbol] = ferr
		default:
			log.Error().Err(ferr).Str("symbol", symbol).Msg("Failed to fetch symbol, continuing batch")
			report.Failed[symbol] = ferr
		}
	}

	log.Info().
		Int("succeeded", len(report.Results)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Int("deferred", len(report.Deferred)).
		Msg("Batch processing complete")

	return report, nil
}

// BulkStoreResults caches every symbol's series independently and returns how many
// were stored. A failing symbol is logged and skipped.
func (f *Fetcher) BulkStoreResults(results map[string]domain.Series, start, end string) int {
	stored := 0
	for symbol, series := range results {
		symbol = domain.NormalizeSymbol(symbol)
		if err := f.cache.Store(symbol, start, end, series); err != nil {
			f.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to store batch result")
			continue
		}
		stored++
	}

	f.log.Info().Int("stored", stored).Int("total", len(results)).Msg("Bulk store complete")
	return stored
}
