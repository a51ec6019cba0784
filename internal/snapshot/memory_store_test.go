package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policywatch/internal/models"
)

func TestMemoryStore_Rotation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.LoadPrevious(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.SaveCurrent(ctx, testSnapshot("run-1", "A")))
	require.NoError(t, store.SaveCurrent(ctx, testSnapshot("run-2", "A", "B")))

	loaded, err := store.LoadPrevious(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", loaded.RunID)
	assert.Equal(t, "run-1", store.Previous().RunID)

	// Returned snapshots are copies.
	loaded.Countries["US"][0].Title = "mutated"
	assert.Equal(t, "A", store.Current().Countries["US"][0].Title)
}

func TestMemoryStore_FailOn(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("disk full")
	store.FailOn[OpSaveCountry] = boom

	err := store.SaveCountry(ctx, models.CountryPolicies{CountryCode: "US"})
	assert.ErrorIs(t, err, boom)

	_, ok := store.Country("US")
	assert.False(t, ok)
}

func TestMemoryStore_Status(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoData, status.State)

	require.NoError(t, store.SaveCountry(ctx, models.CountryPolicies{CountryCode: "us"}))
	require.NoError(t, store.SaveGlobalSummary(ctx, models.GlobalSummary{}))

	status, err = store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDataAvailable, status.State)
	require.Len(t, status.Files, 2)
	assert.Equal(t, "US_policies.json", status.Files[0].Name)
	assert.Equal(t, GlobalSummaryFile, status.Files[1].Name)
}

func TestStoresImplementStore(t *testing.T) {
	var _ Store = (*FileStore)(nil)
	var _ Store = (*MemoryStore)(nil)
}
