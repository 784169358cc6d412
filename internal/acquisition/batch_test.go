package acquisition

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/quotafeed/internal/domain"
	testingpkg "github.com/aristath/quotafeed/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateOptimalBatchSize(t *testing.T) {
	env := setup(t, 3)
	symbols := []string{"A", "B", "C", "D", "E"}

	size, err := env.fetcher.CalculateOptimalBatchSize(symbols)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	size, err = env.fetcher.CalculateOptimalBatchSize(symbols[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	size, err = env.fetcher.CalculateOptimalBatchSize(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, size, "floored to one while quota remains")

	for i := 0; i < 3; i++ {
		require.NoError(t, env.governor.RecordRequest())
	}

	size, err = env.fetcher.CalculateOptimalBatchSize(symbols)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	_, err = env.fetcher.FetchMultipleSymbols(context.Background(), symbols, start, end)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 0, env.provider.CallCount())
}

func TestFetchMultipleSymbols_SkipsInvalidSymbol(t *testing.T) {
	env := setup(t, 10)
	env.provider.SetSeries("A", testingpkg.NewBarFixtures(start, 5))
	env.provider.SetSeries("B", testingpkg.NewBarFixtures(start, 5))

	results, err := env.fetcher.FetchMultipleSymbols(context.Background(), []string{"A", "INVALID", "B"}, start, end)
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.Contains(t, results, "A")
	assert.Contains(t, results, "B")
	assert.NotContains(t, results, "INVALID")
	assert.Equal(t, []string{"A", "INVALID", "B"}, env.provider.Calls(), "processed in order")
}

func TestFetchBatch_Report(t *testing.T) {
	env := setup(t, 3)
	env.provider.SetSeries("A", testingpkg.NewBarFixtures(start, 5))
	env.provider.SetSeries("C", testingpkg.NewBarFixtures(start, 5))
	env.provider.SetSeries("D", testingpkg.NewBarFixtures(start, 5))
	env.provider.QueueErrors("C", errors.New("malformed payload"))

	report, err := env.fetcher.FetchBatch(context.Background(), []string{"a", "B", "C", "D", "A"}, start, end)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"A"}, report.Succeeded())
	assert.Contains(t, report.Skipped, "B")
	assert.Contains(t, report.Failed, "C")
	assert.ErrorIs(t, report.Failed["C"], domain.ErrDataFetch)
	assert.Equal(t, []string{"D"}, report.Deferred)
	assert.Equal(t, 3, env.used(t))
}

func TestFetchBatch_CachedSymbolsCostNothing(t *testing.T) {
	env := setup(t, 5)
	env.provider.SetSeries("A", testingpkg.NewBarFixtures(start, 5))
	env.provider.SetSeries("B", testingpkg.NewBarFixtures(start, 5))

	_, err := env.fetcher.FetchMultipleSymbols(context.Background(), []string{"A", "B"}, start, end)
	require.NoError(t, err)

	results, err := env.fetcher.FetchMultipleSymbols(context.Background(), []string{"A", "B"}, start, end)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, env.provider.CallCount())
	assert.Equal(t, 2, env.used(t))
}

func TestBulkStoreResults(t *testing.T) {
	env := setup(t, 10)

	broken := testingpkg.NewBarFixtures(start, 2)
	broken[1].Volume = -1

	stored := env.fetcher.BulkStoreResults(map[string]domain.Series{
		"A":    testingpkg.NewBarFixtures(start, 5),
		"b":    testingpkg.NewBarFixtures(start, 3),
		"BAD":  broken,
		"NONE": nil,
	}, start, end)

	// Empty series are accepted as a no-op store
	assert.Equal(t, 3, stored)

	_, ok, err := env.repo.Get("B", start, end)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = env.repo.Get("BAD", start, end)
	require.NoError(t, err)
	assert.False(t, ok)
}
