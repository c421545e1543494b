package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/songforge/songforge/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
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

	err = db.AutoMigrate(&models.Job{}, &models.Asset{}, &models.ApiKey{}, &models.RateCounter{})
	require.NoError(t, err)

	return db
}

func dedupeFor(t *testing.T, jobType models.JobType, params string, parent models.ULID) *string {
	t.Helper()
	key, err := models.DedupeKey(jobType, []byte(params), parent)
	require.NoError(t, err)
	return &key
}

func TestJobRepo_EnqueueCreates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(`{"prompt":"lofi beats"}`),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, `{"prompt":"lofi beats"}`, models.ULID{}),
	}

	stored, created, err := repo.Enqueue(ctx, job, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, stored.ID.IsZero())

	found, err := repo.GetByID(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.JobStatusQueued, found.Status)
}

func TestJobRepo_EnqueueDeduplicatesQueued(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	params := `{"prompt":"lofi beats","duration_sec":60}`
	first := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	_, created, err := repo.Enqueue(ctx, first, 24*time.Hour)
	require.NoError(t, err)
	require.True(t, created)

	second := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	stored, created, err := repo.Enqueue(ctx, second, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, stored.ID)
}

func TestJobRepo_EnqueueDeduplicatesRecentSuccess(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	params := `{"prompt":"synthwave"}`
	first := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	_, _, err := repo.Enqueue(ctx, first, 24*time.Hour)
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, models.JobTypePipeline, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.Succeed(ctx, claimed.ID, models.JSON(`{"ok":true}`)))

	second := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	stored, created, err := repo.Enqueue(ctx, second, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, stored.ID)
}

func TestJobRepo_EnqueueReplacesFailedDuplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	params := `{"prompt":"trap"}`
	first := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	_, _, err := repo.Enqueue(ctx, first, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, first.ID, "transcoder exited 1"))

	second := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	stored, created, err := repo.Enqueue(ctx, second, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, stored.ID)
}

func TestJobRepo_EnqueueExpiredWindow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	params := `{"prompt":"house"}`
	first := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	_, _, err := repo.Enqueue(ctx, first, 24*time.Hour)
	require.NoError(t, err)

	// Succeeded two days ago, outside the 24h idempotency window.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", first.ID).
		UpdateColumns(map[string]interface{}{
			"status":       models.JobStatusSucceeded,
			"completed_at": old,
		}).Error)

	second := &models.Job{
		Type:      models.JobTypePipeline,
		Params:    models.JSON(params),
		DedupeKey: dedupeFor(t, models.JobTypePipeline, params, models.ULID{}),
	}
	stored, created, err := repo.Enqueue(ctx, second, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, stored.ID)
}

func TestJobRepo_ClaimNext(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := &models.Job{
			Type:   models.JobTypeMix,
			Params: models.JSON(fmt.Sprintf(`{"n":%d}`, i)),
		}
		_, _, err := repo.Enqueue(ctx, job, time.Hour)
		require.NoError(t, err)
	}

	claimed, err := repo.ClaimNext(ctx, models.JobTypeMix, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, models.JobStatusRunning, claimed.Status)
	assert.Equal(t, "worker-1", claimed.WorkerID)
	assert.Equal(t, 1, claimed.Attempts)
	assert.NotNil(t, claimed.StartedAt)
}

func TestJobRepo_ClaimNextSkipsFutureAndWrongType(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	future := &models.Job{
		Type:        models.JobTypeMix,
		AvailableAt: time.Now().Add(time.Hour),
	}
	_, _, err := repo.Enqueue(ctx, future, time.Hour)
	require.NoError(t, err)

	other := &models.Job{Type: models.JobTypeVideo}
	_, _, err = repo.Enqueue(ctx, other, time.Hour)
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, models.JobTypeMix, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestJobRepo_ClaimExclusivity(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		job := &models.Job{
			Type:   models.JobTypeAudio,
			Params: models.JSON(fmt.Sprintf(`{"n":%d}`, i)),
		}
		_, _, err := repo.Enqueue(ctx, job, time.Hour)
		require.NoError(t, err)
	}

	// Drain the queue from several logical workers; every job must be handed
	// out exactly once.
	seen := make(map[string]int)
	for w := 0; w < 5; w++ {
		workerID := fmt.Sprintf("worker-%d", w)
		for {
			claimed, err := repo.ClaimNext(ctx, models.JobTypeAudio, workerID)
			require.NoError(t, err)
			if claimed == nil {
				break
			}
			seen[claimed.ID.String()]++
		}
	}

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestJobRepo_SucceedRequiresRunning(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypePlan}
	_, _, err := repo.Enqueue(ctx, job, time.Hour)
	require.NoError(t, err)

	err = repo.Succeed(ctx, job.ID, models.JSON(`{}`))
	assert.Error(t, err)

	claimed, err := repo.ClaimNext(ctx, models.JobTypePlan, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.Succeed(ctx, claimed.ID, models.JSON(`{"plan":1}`)))

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, found.Status)
	assert.Equal(t, 100, found.Progress)
	assert.NotNil(t, found.CompletedAt)
}

func TestJobRepo_RetryAndBackoffEligibility(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypeMix}
	_, _, err := repo.Enqueue(ctx, job, time.Hour)
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, models.JobTypeMix, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, repo.Retry(ctx, claimed.ID, "transcoder exited 1", time.Now().Add(2*time.Second)))

	// Not yet eligible: available_at is in the future.
	again, err := repo.ClaimNext(ctx, models.JobTypeMix, "w1")
	require.NoError(t, err)
	assert.Nil(t, again)

	found, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, found.Status)
	assert.Equal(t, "transcoder exited 1", found.Error)
	assert.Equal(t, 1, found.Attempts)
}

func TestJobRepo_ProgressMonotone(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypeAudio}
	_, _, err := repo.Enqueue(ctx, job, time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 40, "rendering stems"))
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 25, "stale update"))

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, found.Progress)
	assert.Equal(t, "rendering stems", found.StatusMessage)
}

func TestJobRepo_Cancel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypeVideo}
	_, _, err := repo.Enqueue(ctx, job, time.Hour)
	require.NoError(t, err)

	ok, err := repo.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Terminal jobs cannot be cancelled again.
	ok, err = repo.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobRepo_RequeueStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypeMix}
	_, _, err := repo.Enqueue(ctx, job, time.Hour)
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, models.JobTypeMix, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Pretend the worker died an hour ago.
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", claimed.ID).
		UpdateColumn("started_at", time.Now().Add(-time.Hour)).Error)

	n, err := repo.RequeueStale(ctx, time.Now().Add(-30*time.Minute), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, found.Status)
	assert.Empty(t, found.WorkerID)
}

func TestJobRepo_DeleteCompleted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypePlan}
	_, _, err := repo.Enqueue(ctx, job, time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, job.ID, "boom"))

	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", job.ID).
		UpdateColumn("completed_at", time.Now().Add(-72*time.Hour)).Error)

	n, err := repo.DeleteCompleted(ctx, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestJobRepo_GetChildren(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	parent := &models.Job{Type: models.JobTypePipeline}
	_, _, err := repo.Enqueue(ctx, parent, time.Hour)
	require.NoError(t, err)

	for _, typ := range []models.JobType{models.JobTypePlan, models.JobTypeAudio} {
		child := &models.Job{Type: typ, ParentID: parent.ID}
		_, _, err := repo.Enqueue(ctx, child, time.Hour)
		require.NoError(t, err)
	}

	children, err := repo.GetChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}
