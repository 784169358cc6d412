package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quotafeed/internal/cache"
	"github.com/aristath/quotafeed/internal/di"
	"github.com/aristath/quotafeed/internal/domain"
	"github.com/aristath/quotafeed/internal/quota"
	"github.com/aristath/quotafeed/internal/utils"
)

const defaultHistoryDays = 7

// DataHandlers serves quota, cache, freshness and price endpoints
type DataHandlers struct {
	container *di.Container
	log       zerolog.Logger
}

// NewDataHandlers creates data handlers over a wired container
func NewDataHandlers(container *di.Container, log zerolog.Logger) *DataHandlers {
	return &DataHandlers{container: container, log: log}
}

// QuotaResponse is returned by GET /api/quota
type QuotaResponse struct {
	Status  quota.Status     `json:"status"`
	History []quota.DayUsage `json:"history"`
}

// CacheMetadataResponse is returned by GET /api/cache/metadata.
// Stale is judged against the adaptive, market-aware threshold.
type CacheMetadataResponse struct {
	Metadata   *cache.Metadata `json:"metadata"`
	AgeMinutes float64         `json:"age_minutes"`
	Stale      bool            `json:"stale"`
}

// BarView is the wire form of a bar
type BarView struct {
	Date   string `json:"date"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume int64  `json:"volume"`
}

// PricesResponse is returned for a single symbol
type PricesResponse struct {
	Symbol string    `json:"symbol"`
	Start  string    `json:"start"`
	End    string    `json:"end"`
	Count  int       `json:"count"`
	Bars   []BarView `json:"bars"`
}

// BatchRequest is the body of POST /api/prices/batch
type BatchRequest struct {
	Symbols []string `json:"symbols"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
}

// BatchResponse reports a batch run
type BatchResponse struct {
	RunID    string                    `json:"run_id"`
	Results  map[string]PricesResponse `json:"results"`
	Skipped  map[string]string         `json:"skipped"`
	Failed   map[string]string         `json:"failed"`
	Deferred []string                  `json:"deferred"`
}

// HandleQuota returns today's quota status and recent ledger days
// GET /api/quota?days=N
func (h *DataHandlers) HandleQuota(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", defaultHistoryDays, h.log)
	if !ok {
		return
	}

	status, err := h.container.Governor.Status()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	history, err := h.container.Governor.History(days)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), h.log)
		return
	}

	writeJSON(w, http.StatusOK, QuotaResponse{Status: status, History: history}, h.log)
}

// HandleCacheStats returns cache counts and size
func (h *DataHandlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.container.CacheRepo.GetCacheStats()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats, h.log)
}

// HandleCacheMetadata returns the metadata of one exact range
// GET /api/cache/metadata?symbol=&start=&end=
func (h *DataHandlers) HandleCacheMetadata(w http.ResponseWriter, r *http.Request) {
	symbol, start, end, ok := rangeParams(w, r, h.log)
	if !ok {
		return
	}

	meta, err := h.container.CacheRepo.GetMetadata(symbol, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if meta == nil {
		writeError(w, http.StatusNotFound, "range is not cached", h.log)
		return
	}

	age, err := h.container.Freshness.GetCacheAge(symbol, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	stale, err := h.container.Freshness.ShouldInvalidateCache(symbol, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CacheMetadataResponse{
		Metadata:   meta,
		AgeMinutes: age,
		Stale:      stale,
	}, h.log)
}

// HandleClearCache removes cached data
// DELETE /api/cache?symbol=&older_than_days=
func (h *DataHandlers) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	olderThan, ok := intParam(w, r, "older_than_days", 0, h.log)
	if !ok {
		return
	}

	filter := cache.ClearFilter{
		Symbol:        domain.NormalizeSymbol(r.URL.Query().Get("symbol")),
		OlderThanDays: olderThan,
	}

	deleted, err := h.container.CacheRepo.ClearCache(filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log.Info().
		Str("symbol", filter.Symbol).
		Int("older_than_days", filter.OlderThanDays).
		Int64("deleted", deleted).
		Msg("Cache cleared")

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted}, h.log)
}

// HandleInvalidateRange drops one exact cached range so the next fetch goes to the provider
// DELETE /api/cache/range?symbol=&start=&end=
func (h *DataHandlers) HandleInvalidateRange(w http.ResponseWriter, r *http.Request) {
	symbol, start, end, ok := rangeParams(w, r, h.log)
	if !ok {
		return
	}

	removed, err := h.container.Freshness.InvalidateCacheEntry(symbol, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed}, h.log)
}

// HandleFreshnessReport returns the freshness report
func (h *DataHandlers) HandleFreshnessReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.container.Freshness.Report()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report, h.log)
}

// HandlePrices fetches one symbol through the orchestrator
// GET /api/prices/{symbol}?start=&end=&fallback=true
func (h *DataHandlers) HandlePrices(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")

	fallback, _ := strconv.ParseBool(r.URL.Query().Get("fallback"))

	var (
		series domain.Series
		err    error
	)
	if fallback {
		series, err = h.container.Fetcher.FetchWithFallback(r.Context(), symbol, start, end)
	} else {
		series, err = h.container.Fetcher.FetchHistorical(r.Context(), symbol, start, end)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pricesResponse(symbol, start, end, series), h.log)
}

// HandleBatch fetches several symbols, bounded by the remaining quota
// POST /api/prices/batch
func (h *DataHandlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), h.log)
		return
	}

	symbols := utils.UniqueSymbols(req.Symbols)
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols are required", h.log)
		return
	}
	if err := (domain.DateRange{Start: req.Start, End: req.End}).Validate(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	report, err := h.container.Fetcher.FetchBatch(r.Context(), symbols, req.Start, req.End)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	response := BatchResponse{
		RunID:    report.RunID,
		Results:  make(map[string]PricesResponse, len(report.Results)),
		Skipped:  errorStrings(report.Skipped),
		Failed:   errorStrings(report.Failed),
		Deferred: report.Deferred,
	}
	for symbol, series := range report.Results {
		response.Results[symbol] = pricesResponse(symbol, req.Start, req.End, series)
	}
	if response.Deferred == nil {
		response.Deferred = []string{}
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// writeDomainError maps domain errors onto HTTP statuses
func (h *DataHandlers) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSymbol):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrDataFetch):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	writeError(w, status, err.Error(), h.log)
}

func pricesResponse(symbol, start, end string, series domain.Series) PricesResponse {
	bars := make([]BarView, len(series))
	for i, b := range series {
		bars[i] = BarView{
			Date:   domain.FormatDate(b.Date),
			Open:   b.Open.String(),
			High:   b.High.String(),
			Low:    b.Low.String(),
			Close:  b.Close.String(),
			Volume: b.Volume,
		}
	}
	return PricesResponse{Symbol: symbol, Start: start, End: end, Count: len(bars), Bars: bars}
}

func errorStrings(errs map[string]error) map[string]string {
	out := make(map[string]string, len(errs))
	for symbol, err := range errs {
		out[symbol] = err.Error()
	}
	return out
}

// rangeParams reads symbol, start and end, writing a 400 when one is missing.
func rangeParams(w http.ResponseWriter, r *http.Request, log zerolog.Logger) (symbol, start, end string, ok bool) {
	q := r.URL.Query()
	symbol = domain.NormalizeSymbol(q.Get("symbol"))
	start, end = q.Get("start"), q.Get("end")
	if symbol == "" || start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "symbol, start and end are required", log)
		return "", "", "", false
	}
	return symbol, start, end, true
}

// intParam reads a non-negative integer query parameter, writing a 400 on bad input.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int, log zerolog.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer", log)
		return 0, false
	}
	return v, true
}
