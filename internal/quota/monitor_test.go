package quota

import (
	"testing"
	"time"

	testingpkg "github.com/aristath/quotafeed/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	testCases := []struct {
		percentage float64
		expected   Level
	}{
		{0, LevelLow},
		{49.9, LevelLow},
		{50, LevelModerate},
		{79.9, LevelModerate},
		{80, LevelHigh},
		{90, LevelCritical},
		{99.9, LevelCritical},
		{100, LevelExceeded},
		{120, LevelExceeded},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, LevelFor(tc.percentage), "percentage %.1f", tc.percentage)
	}
}

func TestStatus_Message(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, _ := newTestGovernor(t, 4, clock)

	require.NoError(t, g.RecordRequest())
	require.NoError(t, g.RecordRequest())

	status, err := g.Status()
	require.NoError(t, err)
	assert.Equal(t, LevelModerate, status.Level)
	assert.Equal(t, "Quota Status: MODERATE - 2/4 requests (50.0%) used today", status.Message)
	assert.Equal(t, 2, status.Usage.Used)
}

func TestHistoryAndCleanup(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-01T12:00:00Z")
	g, _ := newTestGovernor(t, 100, clock)

	// One request per day for ten days
	for i := 0; i < 10; i++ {
		require.NoError(t, g.RecordRequest())
		clock.Advance(24 * time.Hour)
	}
	// Now on 2024-03-11 with an empty row for today
	history, err := g.History(3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2024-03-11", history[0].Date)
	assert.Equal(t, 0, history[0].RequestsUsed)
	assert.Equal(t, "2024-03-10", history[1].Date)
	assert.False(t, history[1].LastRequestTime.IsZero())

	_, err = g.History(0)
	assert.Error(t, err)

	deleted, err := g.CleanupOldRecords(5)
	require.NoError(t, err)
	// Rows before 2024-03-06 are removed: 03-01 .. 03-05
	assert.Equal(t, int64(5), deleted)

	history, err = g.History(30)
	require.NoError(t, err)
	assert.Len(t, history, 6)
}
