package twelvedata

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seriesBody = `{
	"meta": {"symbol": "AAPL", "interval": "1day"},
	"values": [
		{"datetime": "2024-01-02", "open": "187.15", "high": "188.44", "low": "183.89", "close": "185.64", "volume": "82488700"},
		{"datetime": "2024-01-03", "open": "184.22", "high": "185.88", "low": "183.43", "close": "184.25", "volume": 58414500}
	],
	"status": "ok"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-key", zerolog.Nop())
	client.baseURL = server.URL
	return client
}

func TestFetchTimeSeries_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/time_series", r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "AAPL", q.Get("symbol"))
		assert.Equal(t, "1day", q.Get("interval"))
		assert.Equal(t, "2024-01-01", q.Get("start_date"))
		assert.Equal(t, "2024-01-05", q.Get("end_date"))
		assert.Equal(t, "5000", q.Get("outputsize"))
		assert.Equal(t, "ASC", q.Get("order"))
		assert.Equal(t, "test-key", q.Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(seriesBody))
	})

	table, err := client.FetchTimeSeries(context.Background(), " aapl ", "2024-01-01", "2024-01-05")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", table.Symbol)
	assert.Equal(t, []string{"datetime", "open", "high", "low", "close", "volume"}, table.Columns)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "187.15", table.Rows[0]["open"])
	assert.Equal(t, "82488700", table.Rows[0]["volume"])
	assert.Equal(t, "58414500", table.Rows[1]["volume"], "numeric cells are rendered as plain integers")
}

func TestFetchTimeSeries_InvalidSymbol(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code": 400, "message": "**symbol** not found: ZZZZ", "status": "error"}`))
	})

	_, err := client.FetchTimeSeries(context.Background(), "ZZZZ", "2024-01-01", "2024-01-05")
	require.Error(t, err)

	var invalid *domain.InvalidSymbolError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "ZZZZ", invalid.Symbol)
}

func TestFetchTimeSeries_NoDataIsEmptyTable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code": 400, "message": "No data is available on the specified dates.", "status": "error"}`))
	})

	table, err := client.FetchTimeSeries(context.Background(), "AAPL", "2024-01-06", "2024-01-07")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.True(t, table.HasColumn("close"))
}

func TestFetchTimeSeries_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code": 429, "message": "You have run out of API credits for the current minute.", "status": "error"}`))
	})

	_, err := client.FetchTimeSeries(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.NotErrorIs(t, err, domain.ErrConnectivity)
}

func TestFetchTimeSeries_ServerErrorIsConnectivity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := client.FetchTimeSeries(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, domain.ErrConnectivity)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestFetchTimeSeries_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(seriesBody))
	})
	WithTimeout(20 * time.Millisecond)(client)

	_, err := client.FetchTimeSeries(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestFetchTimeSeries_ConnectionRefusedIsNotSent(t *testing.T) {
	// Grab a free port and close it so nothing listens there
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	client := NewClient("test-key", zerolog.Nop(), WithBaseURL("http://"+addr+"/"))

	_, err = client.FetchTimeSeries(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, domain.ErrConnectivity)
	assert.ErrorIs(t, err, domain.ErrRequestNotSent)
}

type dialTimeout struct{}

func (dialTimeout) Error() string   { return "i/o timeout" }
func (dialTimeout) Timeout() bool   { return true }
func (dialTimeout) Temporary() bool { return true }

// dialTimeoutTransport fails every connection attempt with a dial timeout.
func dialTimeoutTransport() http.RoundTripper {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, &net.OpError{Op: "dial", Net: network, Err: dialTimeout{}}
		},
	}
}

func TestFetchTimeSeries_DialTimeoutIsNotSent(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop(),
		WithBaseURL("http://provider.invalid"),
		WithTransport(dialTimeoutTransport()),
	)

	_, err := client.FetchTimeSeries(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.ErrorIs(t, err, domain.ErrRequestNotSent)
}

func TestFetchTimeSeries_EmptySymbol(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())
	_, err := client.FetchTimeSeries(context.Background(), "   ", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, domain.ErrInvalidSymbol)
}
