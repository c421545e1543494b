package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songforge/songforge/internal/models"
)

func TestRateCounter_AdmitsUpToLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRateCounterRepository(db)
	ctx := context.Background()

	keyID := models.NewULID()
	now := time.Now()

	for i := 0; i < 3; i++ {
		ok, err := repo.TryAdmit(ctx, keyID, 3, now)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be admitted", i+1)
	}

	ok, err := repo.TryAdmit(ctx, keyID, 3, now)
	require.NoError(t, err)
	assert.False(t, ok, "fourth request in the window must be rejected")
}

func TestRateCounter_RejectionConsumesNoBudget(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRateCounterRepository(db)
	ctx := context.Background()

	keyID := models.NewULID()
	now := time.Now()

	for i := 0; i < 2; i++ {
		ok, err := repo.TryAdmit(ctx, keyID, 2, now)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Rejections roll back their increment, so the stored count stays at the
	// limit no matter how many rejected requests arrive.
	for i := 0; i < 5; i++ {
		ok, err := repo.TryAdmit(ctx, keyID, 2, now)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	var tokens int
	require.NoError(t, db.Model(&models.RateCounter{}).
		Select("tokens").
		Where("api_key_id = ?", keyID).
		Scan(&tokens).Error)
	assert.Equal(t, 2, tokens)
}

func TestRateCounter_NewWindowResets(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRateCounterRepository(db)
	ctx := context.Background()

	keyID := models.NewULID()
	now := time.Now().Truncate(time.Minute)

	ok, err := repo.TryAdmit(ctx, keyID, 1, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.TryAdmit(ctx, keyID, 1, now)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.TryAdmit(ctx, keyID, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "a new minute window starts with a fresh budget")
}

func TestRateCounter_IndependentKeys(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRateCounterRepository(db)
	ctx := context.Background()

	now := time.Now()
	a, b := models.NewULID(), models.NewULID()

	ok, err := repo.TryAdmit(ctx, a, 1, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.TryAdmit(ctx, b, 1, now)
	require.NoError(t, err)
	assert.True(t, ok, "keys have independent budgets")
}

func TestRateCounter_DeleteOld(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRateCounterRepository(db)
	ctx := context.Background()

	keyID := models.NewULID()
	old := time.Now().Add(-2 * time.Hour)

	ok, err := repo.TryAdmit(ctx, keyID, 10, old)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := repo.DeleteOld(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
