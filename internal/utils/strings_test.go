package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "AAPL",
			expected: []string{"AAPL"},
		},
		{
			name:     "varied spacing",
			input:    "AAPL,  MSFT , GOOG",
			expected: []string{"AAPL", "MSFT", "GOOG"},
		},
		{
			name:     "only spaces",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "multiple commas",
			input:    ",,AAPL,,MSFT,,",
			expected: []string{"AAPL", "MSFT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCSV(tt.input))
		})
	}
}

func TestParseSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT", "BRK.B"}, ParseSymbols(" aapl,MSFT, AAPL ,brk.b,msft"))
	assert.Nil(t, ParseSymbols(" , "))
}

func TestUniqueSymbols(t *testing.T) {
	assert.Equal(t, []string{"SPY", "QQQ"}, UniqueSymbols([]string{"spy", "", "QQQ", " Spy"}))
}
