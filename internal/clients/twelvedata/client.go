// Package twelvedata provides a client for the Twelve Data time series API.
package twelvedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.twelvedata.com"
	// Daily bars only; the provider caps a single response at 5000 rows
	dailyInterval = "1day"
	maxOutputSize = 5000
)

// columnOrder is the order columns are reported in, when present.
var columnOrder = []string{"datetime", "open", "high", "low", "close", "volume"}

// APIError is an error payload returned by Twelve Data.
type APIError struct {
	Status  int // HTTP status
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twelve data error %d: %s", e.Code, e.Message)
}

// Is maps provider codes onto the shared error taxonomy.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case domain.ErrConnectivity:
		return e.Code >= 500
	}
	return false
}

type timeSeriesResponse struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
	} `json:"meta"`
	Values  []map[string]any `json:"values"`
	Status  string           `json:"status"`
	Code    int              `json:"code"`
	Message string           `json:"message"`
}

// Client is the Twelve Data API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.httpClient.Transport = rt
		}
	}
}

// NewClient creates a new Twelve Data client.
func NewClient(apiKey string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "twelvedata").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTimeSeries requests daily bars for symbol between start and end (inclusive,
// YYYY-MM-DD), oldest first. A range without trading days yields an empty table.
func (c *Client) FetchTimeSeries(ctx context.Context, symbol, start, end string) (domain.Table, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return domain.Table{}, &domain.InvalidSymbolError{Symbol: symbol, Reason: "empty symbol"}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", dailyInterval)
	params.Set("start_date", start)
	params.Set("end_date", end)
	params.Set("outputsize", strconv.Itoa(maxOutputSize))
	params.Set("order", "ASC")
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/time_series?"+params.Encode(), nil)
	if err != nil {
		return domain.Table{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug().
		Str("symbol", symbol).
		Str("start", start).
		Str("end", end).
		Msg("Requesting time series")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Table{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Table{}, fmt.Errorf("%w: failed to read response: %w", domain.ErrConnectivity, err)
	}

	var payload timeSeriesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		if resp.StatusCode != http.StatusOK {
			return domain.Table{}, &APIError{Status: resp.StatusCode, Code: resp.StatusCode, Message: truncate(string(body))}
		}
		return domain.Table{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if payload.Status == "error" || resp.StatusCode != http.StatusOK {
		return c.handleError(symbol, resp.StatusCode, payload)
	}

	return toTable(symbol, payload.Values), nil
}

func (c *Client) handleError(symbol string, status int, payload timeSeriesResponse) (domain.Table, error) {
	code := payload.Code
	if code == 0 {
		code = status
	}
	msg := strings.ToLower(payload.Message)

	switch {
	case (code == http.StatusBadRequest || code == http.StatusNotFound) && strings.Contains(msg, "no data"):
		c.log.Debug().Str("symbol", symbol).Msg("No data for requested range")
		return domain.Table{Symbol: symbol, Columns: append([]string(nil), columnOrder...)}, nil
	case (code == http.StatusBadRequest || code == http.StatusNotFound) && strings.Contains(msg, "symbol"):
		return domain.Table{}, &domain.InvalidSymbolError{Symbol: symbol, Reason: payload.Message}
	}

	return domain.Table{}, &APIError{Status: status, Code: code, Message: payload.Message}
}

// classifyTransportError maps http.Client failures onto connectivity or timeout errors.
// Failures before a connection was made, dial timeouts included, are also marked as not
// sent.
func classifyTransportError(err error) error {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	notSent := (errors.As(err, &opErr) && opErr.Op == "dial") || errors.As(err, &dnsErr)

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		if notSent {
			return fmt.Errorf("%w (%w): %w", domain.ErrTimeout, domain.ErrRequestNotSent, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}

	if notSent {
		return fmt.Errorf("%w (%w): %w", domain.ErrConnectivity, domain.ErrRequestNotSent, err)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
}

func toTable(symbol string, values []map[string]any) domain.Table {
	table := domain.Table{Symbol: symbol, Rows: make([]domain.Row, 0, len(values))}

	for _, col := range columnOrder {
		if len(values) == 0 || hasKey(values[0], col) {
			table.Columns = append(table.Columns, col)
		}
	}

	for _, v := range values {
		row := make(domain.Row, len(v))
		for k, cell := range v {
			row[k] = cellString(cell)
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truncate(s string) string {
	const limit = 256
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
