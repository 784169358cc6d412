package utils

import (
	"strings"

	"github.com/aristath/quotafeed/internal/domain"
)

// ParseCSV splits a comma-separated string and returns trimmed non-empty values.
// Returns nil for empty/whitespace-only input.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

// ParseSymbols parses a comma-separated symbol list, normalizing each symbol and
// dropping repeats while keeping first-seen order.
func ParseSymbols(s string) []string {
	return UniqueSymbols(ParseCSV(s))
}

// UniqueSymbols normalizes symbols and drops empties and repeats, keeping order.
func UniqueSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	var result []string
	for _, raw := range symbols {
		symbol := domain.NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		result = append(result, symbol)
	}
	return result
}
