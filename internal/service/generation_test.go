package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/planner"
	"github.com/songforge/songforge/internal/repository"
	"github.com/songforge/songforge/internal/scheduler"
)

func setupService(t *testing.T) (*GenerationService, *models.ApiKey) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// A fresh connection to :memory: is a fresh database; pin the pool to one
	// connection so every statement sees the same schema.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.Asset{}, &models.ApiKey{}, &models.RateCounter{}))

	apiKeyRepo := repository.NewApiKeyRepository(db)
	key := &models.ApiKey{Key: "test-secret", Owner: "tester", RateLimitPerMin: 3}
	require.NoError(t, apiKeyRepo.Create(context.Background(), key))

	svc := NewGenerationService(
		repository.NewJobRepository(db),
		repository.NewAssetRepository(db),
		apiKeyRepo,
		repository.NewRateCounterRepository(db),
		GenerationServiceConfig{},
	)
	return svc, key
}

func validParams() scheduler.PipelineParams {
	return scheduler.PipelineParams{
		Request: planner.Request{
			Prompt:      "late night lofi study beats",
			Genres:      []string{"lofi"},
			DurationSec: 60,
		},
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = svc.Authenticate(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownKey)

	key, err := svc.Authenticate(ctx, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "tester", key.Owner)
}

func TestAuthenticateDisabledKey(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	now := time.Now()
	disabled := &models.ApiKey{Key: "revoked", DisabledAt: &now}
	require.NoError(t, svc.apiKeyRepo.Create(ctx, disabled))

	_, err := svc.Authenticate(ctx, "revoked")
	assert.ErrorIs(t, err, ErrKeyDisabled)
}

func TestAdmitEnforcesPerKeyLimit(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Admit(ctx, key))
	}
	err := svc.Admit(ctx, key)
	require.Error(t, err)
	assert.Equal(t, models.ErrClassRateLimited, models.Classify(err))
}

func TestGenerateEnqueuesPipelineJob(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	job, reused, err := svc.Generate(ctx, key, validParams())
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, models.JobTypePipeline, job.Type)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, key.ID, job.APIKeyID)
	require.NotNil(t, job.DedupeKey)
	assert.Len(t, *job.DedupeKey, 64)
}

func TestGenerateDeduplicatesEquivalentRequests(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	first, reused, err := svc.Generate(ctx, key, validParams())
	require.NoError(t, err)
	require.False(t, reused)

	second, reused, err := svc.Generate(ctx, key, validParams())
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.ID, second.ID)
}

func TestGenerateDistinguishesDifferentRequests(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	first, _, err := svc.Generate(ctx, key, validParams())
	require.NoError(t, err)

	other := validParams()
	other.DurationSec = 90
	second, reused, err := svc.Generate(ctx, key, other)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestGenerateRejectsInvalidRequests(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*scheduler.PipelineParams)
	}{
		{"empty prompt", func(p *scheduler.PipelineParams) { p.Prompt = "  " }},
		{"no genres", func(p *scheduler.PipelineParams) { p.Genres = nil }},
		{"too short", func(p *scheduler.PipelineParams) { p.DurationSec = 29 }},
		{"too long", func(p *scheduler.PipelineParams) { p.DurationSec = 121 }},
		{"bad video style", func(p *scheduler.PipelineParams) {
			p.GenerateVideo = true
			p.VideoStyle = "hologram"
		}},
		{"style without video", func(p *scheduler.PipelineParams) { p.VideoStyle = "lyric" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validParams()
			tc.mutate(&params)
			_, _, err := svc.Generate(ctx, key, params)
			require.Error(t, err)
			assert.Equal(t, models.ErrClassInvalidRequest, models.Classify(err))
		})
	}

	// No job rows were written for rejected requests.
	job, _, err := svc.GetJob(ctx, models.NewULID().String())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestGenerateAcceptsDurationBounds(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	for _, durationSec := range []int{30, 120} {
		params := validParams()
		params.DurationSec = durationSec
		_, _, err := svc.Generate(ctx, key, params)
		require.NoError(t, err, "duration %d is inside the contract", durationSec)
	}
}

func TestGetJobUnknownAndInvalidIDs(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	job, assets, err := svc.GetJob(ctx, "not-a-ulid")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Nil(t, assets)

	job, _, err = svc.GetJob(ctx, models.NewULID().String())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestGetJobReturnsAssetsForSucceededJob(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	job, _, err := svc.Generate(ctx, key, validParams())
	require.NoError(t, err)

	claimed, err := svc.jobRepo.ClaimNext(ctx, models.JobTypePipeline, "w")
	require.NoError(t, err)
	require.NoError(t, svc.jobRepo.Succeed(ctx, claimed.ID, models.JSON(`{}`)))
	require.NoError(t, svc.assetRepo.Create(ctx, &models.Asset{
		JobID: job.ID,
		Kind:  models.AssetKindWAV,
		Path:  "assets/2026/08/uuid/mix.wav",
	}))

	fetched, assets, err := svc.GetJob(ctx, job.ID.String())
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, models.JobStatusSucceeded, fetched.Status)
	require.Len(t, assets, 1)
	assert.Equal(t, models.AssetKindWAV, assets[0].Kind)
}

func TestCancelJob(t *testing.T) {
	svc, key := setupService(t)
	ctx := context.Background()

	job, _, err := svc.Generate(ctx, key, validParams())
	require.NoError(t, err)

	cancelled, err := svc.CancelJob(ctx, job.ID.String())
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Terminal jobs cannot be cancelled again.
	cancelled, err = svc.CancelJob(ctx, job.ID.String())
	require.NoError(t, err)
	assert.False(t, cancelled)

	cancelled, err = svc.CancelJob(ctx, "not-a-ulid")
	require.NoError(t, err)
	assert.False(t, cancelled)
}
