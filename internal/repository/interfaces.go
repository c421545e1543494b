// Package repository defines data access interfaces for songforge entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/songforge/songforge/internal/models"
)

// JobRepository defines operations for the persistent job queue.
type JobRepository interface {
	// Enqueue inserts a job, deduplicating on its fingerprint. When an
	// equivalent job is already queued, running, or succeeded within the
	// idempotency window, the existing job is returned and created is false.
	Enqueue(ctx context.Context, job *models.Job, window time.Duration) (existing *models.Job, created bool, err error)
	// GetByID retrieves a job by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	// GetChildren retrieves all jobs spawned by the given pipeline job.
	GetChildren(ctx context.Context, parentID models.ULID) ([]*models.Job, error)
	// ClaimNext atomically claims the oldest eligible queued job of the given
	// type for the worker. Returns nil when no job is available.
	ClaimNext(ctx context.Context, jobType models.JobType, workerID string) (*models.Job, error)
	// Succeed marks a running job succeeded with its result payload.
	Succeed(ctx context.Context, id models.ULID, result models.JSON) error
	// Fail marks a job failed for good with a final error message.
	Fail(ctx context.Context, id models.ULID, errMsg string) error
	// Retry returns a job to the queue, eligible again at availableAt.
	Retry(ctx context.Context, id models.ULID, errMsg string, availableAt time.Time) error
	// Cancel marks a non-terminal job cancelled. Returns models.ErrJobTerminal
	// via gorm semantics when the job already finished.
	Cancel(ctx context.Context, id models.ULID) (bool, error)
	// UpdateProgress raises the job's progress; lower values are ignored so
	// reported progress is monotone.
	UpdateProgress(ctx context.Context, id models.ULID, progress int, message string) error
	// RequeueStale returns running jobs whose claim is older than cutoff to the
	// queue, eligible again at availableAt.
	RequeueStale(ctx context.Context, cutoff time.Time, availableAt time.Time) (int64, error)
	// DeleteCompleted deletes terminal jobs completed before the given time.
	DeleteCompleted(ctx context.Context, before time.Time) (int64, error)
	// CountByStatus returns job counts grouped by status.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// AssetRepository defines operations for produced media artifacts.
type AssetRepository interface {
	// Create inserts an asset row.
	Create(ctx context.Context, asset *models.Asset) error
	// CreateBatch inserts multiple asset rows in one statement.
	CreateBatch(ctx context.Context, assets []*models.Asset) error
	// GetByID retrieves an asset by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Asset, error)
	// GetByJobID retrieves all assets produced by a job.
	GetByJobID(ctx context.Context, jobID models.ULID) ([]*models.Asset, error)
	// GetByJobIDs retrieves assets for a set of jobs in one query.
	GetByJobIDs(ctx context.Context, jobIDs []models.ULID) ([]*models.Asset, error)
}

// ApiKeyRepository defines operations for API key persistence.
type ApiKeyRepository interface {
	// Create inserts an API key.
	Create(ctx context.Context, key *models.ApiKey) error
	// GetByKey retrieves a key by its bearer value. Returns nil when unknown.
	GetByKey(ctx context.Context, key string) (*models.ApiKey, error)
	// EnsureKey inserts the key if no row with the same bearer value exists and
	// returns the stored row either way. Used to seed the bootstrap key.
	EnsureKey(ctx context.Context, key *models.ApiKey) (*models.ApiKey, error)
}

// RateCounterRepository defines operations for per-key request windows.
type RateCounterRepository interface {
	// TryAdmit atomically increments the key's counter for the UTC minute
	// containing now. Returns false when the post-increment count exceeds
	// limit; the increment is rolled back so rejected requests do not consume
	// budget.
	TryAdmit(ctx context.Context, apiKeyID models.ULID, limit int, now time.Time) (bool, error)
	// DeleteOld removes counter windows that started before the given time.
	DeleteOld(ctx context.Context, before time.Time) (int64, error)
}
