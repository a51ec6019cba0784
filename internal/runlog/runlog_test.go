package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policywatch/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()

	store, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	store.SetClock(clock.Now)

	return store, clock
}

func TestClaimFinish_Success(t *testing.T) {
	ctx := context.Background()
	store, clock := openTestStore(t)

	id, err := store.Claim(ctx, "run-1", "us", OperationCollect, time.Hour)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)

	require.NoError(t, store.Finish(ctx, id, Outcome{RecordsScraped: 12, RecordsUpdated: 12, RecordsFailed: 1}))

	entries, err := store.Recent(ctx, "US", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "US", e.CountryCode)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, 12, e.RecordsScraped)
	assert.Equal(t, 1, e.RecordsFailed)
	assert.InDelta(t, 90, e.DurationSeconds, 0.001)
	require.NotNil(t, e.CompletedAt)
	assert.Empty(t, e.ErrorMessage)
}

func TestFinish_Failure(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	id, err := store.Claim(ctx, "run-1", "CA", OperationDetect, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Finish(ctx, id, Outcome{Err: errors.New("all sources failed"), RecordsFailed: 3}))

	entries, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "all sources failed", entries[0].ErrorMessage)

	assert.ErrorIs(t, store.Finish(ctx, id, Outcome{}), ErrAlreadyFinished)
	assert.ErrorIs(t, store.Finish(ctx, "missing", Outcome{}), ErrEntryNotFound)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	store, clock := openTestStore(t)

	id, err := store.Claim(ctx, "run-1", "us", OperationCollect, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = store.Claim(ctx, "run-2", "US", OperationCollect, time.Hour)
	assert.ErrorIs(t, err, ErrCountryRunning)

	_, err = store.Claim(ctx, "run-2", "CA", OperationCollect, time.Hour)
	require.NoError(t, err, "other countries stay free")

	require.NoError(t, store.Finish(ctx, id, Outcome{}))

	_, err = store.Claim(ctx, "run-2", "US", OperationCollect, time.Hour)
	require.NoError(t, err, "finished entries release the country")

	clock.Advance(2 * time.Hour)

	_, err = store.Claim(ctx, "run-3", "US", OperationCollect, time.Hour)
	require.NoError(t, err, "abandoned entries expire")

	entries, err := store.Recent(ctx, "US", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestClaim_SharedDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	first, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	second, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	_, err = first.Claim(ctx, "run-a", "DE", OperationCollect, time.Hour)
	require.NoError(t, err)

	_, err = second.Claim(ctx, "run-b", "DE", OperationCollect, time.Hour)
	assert.ErrorIs(t, err, ErrCountryRunning)

	entries, err := second.Recent(ctx, "DE", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-a", entries[0].RunID)
}

func TestRecent_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store, clock := openTestStore(t)

	for _, code := range []string{"US", "CA", "UK"} {
		_, err := store.Claim(ctx, "run-1", code, OperationCollect, time.Hour)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	entries, err := store.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "UK", entries[0].CountryCode)
	assert.Equal(t, "CA", entries[1].CountryCode)
}

func TestRecordChanges(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	records := []models.ChangeRecord{
		{CountryCode: "AU", ChangeType: models.ChangeNewCountry, PoliciesCount: 4},
		{
			CountryCode:  "US",
			ChangeType:   models.ChangePolicyChanged,
			ChangesCount: 2,
			Details: []models.PolicyChangeDetail{
				{ID: "a1", Title: "Work Visa", Kind: "changed"},
				{ID: "b2", Title: "Student Visa", Kind: "new"},
			},
		},
	}

	require.NoError(t, store.RecordChanges(ctx, "run-9", records))

	events, err := store.ChangeEvents(ctx, "run-9")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "AU", events[0].CountryCode)
	assert.Equal(t, "new_country", events[0].ChangeType)
	assert.Equal(t, "Work Visa", events[1].Title)
	assert.Equal(t, "new", events[2].Kind)

	other, err := store.ChangeEvents(ctx, "run-other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	store, err := Open(path)
	require.NoError(t, err)

	_, err = store.Claim(context.Background(), "run-1", "DE", OperationWeekly, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(context.Background(), "DE", 5)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
