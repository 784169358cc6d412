package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/quotafeed/internal/database"
	"github.com/aristath/quotafeed/internal/domain"
	testingpkg "github.com/aristath/quotafeed/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(t *testing.T, limit int, clock *testingpkg.Clock) (*Governor, *database.DB) {
	t.Helper()

	db, _ := testingpkg.NewTestDB(t, database.NameQuota)
	g, err := NewGovernor(db.Conn(), Options{
		DailyLimit:  limit,
		MinInterval: 7500 * time.Millisecond,
		Now:         clock.Now,
		Sleep:       clock.Sleep,
	}, zerolog.Nop())
	require.NoError(t, err)

	return g, db
}

// acquire admits one request and returns the ledger day it was charged to.
func acquire(t *testing.T, g *Governor) string {
	t.Helper()
	day, err := g.Acquire(context.Background())
	require.NoError(t, err)
	return day
}

func TestNewGovernor_RejectsBadOptions(t *testing.T) {
	db, _ := testingpkg.NewTestDB(t, database.NameQuota)

	_, err := NewGovernor(db.Conn(), Options{DailyLimit: 0}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewGovernor(db.Conn(), Options{DailyLimit: 10, MinInterval: -time.Second}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewGovernor(nil, Options{DailyLimit: 10}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewGovernor_CreatesTodayRowLazily(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	_, db := newTestGovernor(t, 5, clock)

	assert.Equal(t, 1, testingpkg.CountRows(t, db.Conn(), "quota_ledger"))
}

func TestAcquire_RecordsAndCounts(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, _ := newTestGovernor(t, 5, clock)

	ok, err := g.CanMakeRequest()
	require.NoError(t, err)
	assert.True(t, ok)

	acquire(t, g)

	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", usage.Date)
	assert.Equal(t, 1, usage.Used)
	assert.Equal(t, 5, usage.Limit)
	assert.Equal(t, 4, usage.Remaining)
	assert.InDelta(t, 20.0, usage.Percentage, 0.001)
}

func TestAcquire_FailsFastWhenExhausted(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, _ := newTestGovernor(t, 2, clock)

	acquire(t, g)
	acquire(t, g)

	sleepsBefore := len(clock.Sleeps())
	_, err := g.Acquire(context.Background())
	require.Error(t, err)

	var quotaErr *domain.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 2, quotaErr.Used)
	assert.Equal(t, 2, quotaErr.Limit)
	// Refused before any spacing wait
	assert.Len(t, clock.Sleeps(), sleepsBefore)

	ok, err := g.CanMakeRequest()
	require.NoError(t, err)
	assert.False(t, ok)

	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Used)
	assert.Equal(t, 0, usage.Remaining)
}

func TestAcquire_EnforcesMinimumSpacing(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, _ := newTestGovernor(t, 10, clock)

	acquire(t, g)
	assert.Empty(t, clock.Sleeps())

	clock.Advance(2 * time.Second)
	acquire(t, g)
	require.Len(t, clock.Sleeps(), 1)
	assert.Equal(t, 5500*time.Millisecond, clock.Sleeps()[0])

	clock.Advance(time.Minute)
	acquire(t, g)
	assert.Len(t, clock.Sleeps(), 1)
}

func TestAcquire_CancelledWaitRecordsNothing(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, _ := newTestGovernor(t, 10, clock)

	acquire(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Used)

	// The lock was released on the error path
	acquire(t, g)
}

func TestGovernor_StatePersistsAcrossInstances(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, db := newTestGovernor(t, 3, clock)

	acquire(t, g)
	acquire(t, g)

	restarted, err := NewGovernor(db.Conn(), Options{
		DailyLimit:  3,
		MinInterval: 7500 * time.Millisecond,
		Now:         clock.Now,
		Sleep:       clock.Sleep,
	}, zerolog.Nop())
	require.NoError(t, err)

	usage, err := restarted.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Used)

	// Spacing is also restored from the ledger
	sleepsBefore := len(clock.Sleeps())
	acquire(t, restarted)
	assert.Len(t, clock.Sleeps(), sleepsBefore+1)

	_, err = restarted.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestGovernor_RollsOverAtLedgerMidnight(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	clock := testingpkg.NewClock(time.Date(2024, 3, 15, 23, 59, 58, 0, ny))
	db, _ := testingpkg.NewTestDB(t, database.NameQuota)
	g, err := NewGovernor(db.Conn(), Options{
		DailyLimit:  1,
		MinInterval: 7500 * time.Millisecond,
		Location:    ny,
		Now:         clock.Now,
		Sleep:       clock.Sleep,
	}, zerolog.Nop())
	require.NoError(t, err)

	acquire(t, g)
	ok, err := g.CanMakeRequest()
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Second)

	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-16", usage.Date)
	assert.Equal(t, 0, usage.Used)

	// Spacing carries across the day boundary
	acquire(t, g)
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.Equal(t, 5500*time.Millisecond, sleeps[0])

	history, err := g.History(2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-03-16", history[0].Date)
	assert.Equal(t, 1, history[0].RequestsUsed)
	assert.Equal(t, "2024-03-15", history[1].Date)
	assert.Equal(t, 1, history[1].RequestsUsed)
}

func TestRecordRequest_RefusesBeyondLimit(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, _ := newTestGovernor(t, 1, clock)

	require.NoError(t, g.RecordRequest())
	assert.ErrorIs(t, g.RecordRequest(), domain.ErrQuotaExceeded)

	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Used)
}

func TestAcquire_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	db, _ := testingpkg.NewTestDB(t, database.NameQuota)
	g, err := NewGovernor(db.Conn(), Options{DailyLimit: 10}, zerolog.Nop())
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		refused  int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Acquire(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if errors.Is(err, domain.ErrQuotaExceeded) {
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted)
	assert.Equal(t, 15, refused)

	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 10, usage.Used)
}

func TestResetQuota(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, db := newTestGovernor(t, 2, clock)

	require.NoError(t, g.RecordRequest())
	require.NoError(t, g.RecordRequest())

	assert.ErrorIs(t, g.ResetQuota(false), ErrResetNotForced)

	require.NoError(t, g.ResetQuota(true))
	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)

	prod, err := NewGovernor(db.Conn(), Options{
		DailyLimit: 2,
		Production: true,
		Now:        clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, prod.RecordRequest())
	assert.ErrorIs(t, prod.ResetQuota(true), ErrResetInProduction)

	usage, err = prod.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Used)
}

func TestRefund(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T10:00:00Z")
	g, _ := newTestGovernor(t, 2, clock)

	day := acquire(t, g)
	assert.Equal(t, "2024-03-15", day)
	require.NoError(t, g.Refund(day))

	usage, err := g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)

	// Never goes below zero
	require.NoError(t, g.Refund(day))
	usage, err = g.GetUsage()
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)

	assert.Error(t, g.Refund(""))

	// Spacing still counts from the refunded request
	acquire(t, g)
	assert.Equal(t, []time.Duration{7500 * time.Millisecond}, clock.Sleeps())
}

func TestRefund_AfterMidnightCreditsTheChargedDay(t *testing.T) {
	clock := testingpkg.MustParseClock("2024-03-15T23:59:59Z")
	g, _ := newTestGovernor(t, 5, clock)

	charged := acquire(t, g)
	require.Equal(t, "2024-03-15", charged)

	// The request fails to go out only after midnight
	clock.Advance(31 * time.Second)
	assert.Equal(t, "2024-03-16", acquire(t, g))
	require.NoError(t, g.Refund(charged))

	history, err := g.History(2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-03-16", history[0].Date)
	assert.Equal(t, 1, history[0].RequestsUsed)
	assert.Equal(t, "2024-03-15", history[1].Date)
	assert.Equal(t, 0, history[1].RequestsUsed)
}
