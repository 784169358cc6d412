package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchError_MatchesSentinelAndCause(t *testing.T) {
	err := fmt.Errorf("outer: %w", &FetchError{Symbol: "AAPL", Err: ErrTimeout})

	assert.True(t, errors.Is(err, ErrDataFetch))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrInvalidSymbol))
	assert.Contains(t, err.Error(), "AAPL")
}

func TestTypedErrors_MatchTheirSentinels(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		target error
	}{
		{"invalid symbol", &InvalidSymbolError{Symbol: "ZZZZ"}, ErrInvalidSymbol},
		{"validation", &ValidationError{Field: "close", Message: "not a number"}, ErrValidation},
		{"quota", &QuotaExceededError{Date: "2024-01-02", Used: 800, Limit: 800}, ErrQuotaExceeded},
		{"configuration", &ConfigurationError{Field: "api.daily_limit", Message: "must be positive"}, ErrConfiguration},
		{"cache", &CacheError{Op: "store", Err: errors.New("disk full")}, ErrCache},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.target)
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestQuotaExceededError_Message(t *testing.T) {
	err := &QuotaExceededError{Date: "2024-01-02", Used: 800, Limit: 800}
	assert.Equal(t, "daily quota exceeded: 800/800 requests used on 2024-01-02", err.Error())
}

func TestDateRange_Validate(t *testing.T) {
	assert.NoError(t, DateRange{Start: "2024-01-01", End: "2024-01-31"}.Validate())
	assert.NoError(t, DateRange{Start: "2024-01-01", End: "2024-01-01"}.Validate())

	err := DateRange{Start: "2024-02-01", End: "2024-01-01"}.Validate()
	assert.ErrorIs(t, err, ErrValidation)

	err = DateRange{Start: "01/02/2024", End: "2024-01-01"}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTable_HasColumn(t *testing.T) {
	table := Table{Columns: []string{"datetime", "close"}}
	assert.True(t, table.HasColumn("close"))
	assert.False(t, table.HasColumn("open"))
	assert.Equal(t, 0, table.Len())
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol("  aapl "))
}
