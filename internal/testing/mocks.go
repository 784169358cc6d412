package testing

import (
	"context"
	"sync"

	"github.com/aristath/quotafeed/internal/domain"
)

// MockProvider is a scripted market data provider.
// Responses are keyed by symbol; a per-symbol error list is consumed one entry per call
// before falling back to the table.
type MockProvider struct {
	mu     sync.RWMutex
	tables map[string]domain.Table
	errs   map[string][]error
	err    error
	calls  []string
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		tables: make(map[string]domain.Table),
		errs:   make(map[string][]error),
	}
}

// SetTable sets the payload returned for symbol
func (m *MockProvider) SetTable(symbol string, table domain.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[symbol] = table
}

// SetSeries renders series as a provider table for symbol
func (m *MockProvider) SetSeries(symbol string, series domain.Series) {
	m.SetTable(symbol, NewProviderTable(symbol, series))
}

// QueueErrors makes the next calls for symbol fail with errs, in order
func (m *MockProvider) QueueErrors(symbol string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[symbol] = append(m.errs[symbol], errs...)
}

// SetError makes every call fail with err
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FetchTimeSeries returns the scripted response for symbol
func (m *MockProvider) FetchTimeSeries(ctx context.Context, symbol, start, end string) (domain.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, symbol)

	if err := ctx.Err(); err != nil {
		return domain.Table{}, err
	}
	if m.err != nil {
		return domain.Table{}, m.err
	}
	if queued := m.errs[symbol]; len(queued) > 0 {
		m.errs[symbol] = queued[1:]
		return domain.Table{}, queued[0]
	}
	table, ok := m.tables[symbol]
	if !ok {
		return domain.Table{}, &domain.InvalidSymbolError{Symbol: symbol, Reason: "unknown to mock provider"}
	}
	return table, nil
}

// Calls returns the symbols requested so far, in order
func (m *MockProvider) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns the number of provider calls made
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}
