package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/songforge/songforge/internal/models"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// enqueueMaxRetries bounds the insert/lookup race loop in Enqueue.
const enqueueMaxRetries = 3

// Enqueue inserts a job, deduplicating on its fingerprint.
//
// A duplicate is live when it is queued, running, or succeeded within the
// idempotency window; the live duplicate wins and no row is inserted. Failed,
// cancelled, and stale succeeded duplicates have their key retired so the new
// job can take it over.
func (r *jobRepo) Enqueue(ctx context.Context, job *models.Job, window time.Duration) (*models.Job, bool, error) {
	if job.DedupeKey == nil {
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, fmt.Errorf("creating job: %w", err)
		}
		return job, true, nil
	}

	key := *job.DedupeKey
	now := time.Now()

	for attempt := 0; attempt < enqueueMaxRetries; attempt++ {
		var existing models.Job
		err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&existing).Error
		switch {
		case err == nil:
			if isLiveDuplicate(&existing, now, window) {
				return &existing, false, nil
			}
			// Retire the stale key. The dedupe_key guard loses gracefully if
			// another enqueuer got here first.
			if err := r.db.WithContext(ctx).Model(&models.Job{}).
				Where("id = ? AND dedupe_key = ?", existing.ID, key).
				UpdateColumn("dedupe_key", nil).Error; err != nil {
				return nil, false, fmt.Errorf("retiring dedupe key: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No duplicate; fall through to insert.
		default:
			return nil, false, fmt.Errorf("finding duplicate job: %w", err)
		}

		err = r.db.WithContext(ctx).Create(job).Error
		if err == nil {
			return job, true, nil
		}
		if isUniqueViolation(err) {
			// Lost the insert race; loop to pick up the winner.
			job.ID = models.ULID{}
			continue
		}
		return nil, false, fmt.Errorf("creating job: %w", err)
	}

	return nil, false, fmt.Errorf("enqueue contention on dedupe key %s", key)
}

// isLiveDuplicate reports whether an existing job with the same fingerprint
// should win over a new enqueue.
func isLiveDuplicate(job *models.Job, now time.Time, window time.Duration) bool {
	switch job.Status {
	case models.JobStatusQueued, models.JobStatusRunning:
		return true
	case models.JobStatusSucceeded:
		return job.CompletedAt != nil && now.Sub(*job.CompletedAt) <= window
	default:
		return false
	}
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// GetChildren retrieves all jobs spawned by the given pipeline job.
func (r *jobRepo) GetChildren(ctx context.Context, parentID models.ULID) ([]*models.Job, error) {
	var jobs []*models.Job
	if err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting child jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNext atomically claims the oldest eligible queued job of the given type.
// Uses SELECT FOR UPDATE with SKIP LOCKED for safe concurrent access.
func (r *jobRepo) ClaimNext(ctx context.Context, jobType models.JobType, workerID string) (*models.Job, error) {
	var job models.Job
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND type = ? AND available_at <= ?", models.JobStatusQueued, jobType, now).
			Order("created_at ASC").
			Limit(1)

		if err := query.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return fmt.Errorf("finding eligible job: %w", err)
		}

		job.MarkRunning(workerID, now)
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("claiming job: %w", err)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Succeed marks a running job succeeded with its result payload.
// Asset rows become visible only after this write.
func (r *jobRepo) Succeed(ctx context.Context, id models.ULID, result models.JSON) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		UpdateColumns(map[string]interface{}{
			"status":       models.JobStatusSucceeded,
			"result":       result,
			"progress":     100,
			"error":        "",
			"worker_id":    "",
			"completed_at": time.Now(),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("marking job succeeded: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not running", id)
	}
	return nil
}

// Fail marks a job failed for good with a final error message.
func (r *jobRepo) Fail(ctx context.Context, id models.ULID, errMsg string) error {
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"error":        truncateError(errMsg),
			"worker_id":    "",
			"completed_at": time.Now(),
			"updated_at":   time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	return nil
}

// Retry returns a job to the queue, eligible again at availableAt.
func (r *jobRepo) Retry(ctx context.Context, id models.ULID, errMsg string, availableAt time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"status":       models.JobStatusQueued,
			"error":        truncateError(errMsg),
			"worker_id":    "",
			"started_at":   nil,
			"available_at": availableAt,
			"updated_at":   time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("requeueing job: %w", err)
	}
	return nil
}

// Cancel marks a non-terminal job cancelled. Returns false when the job had
// already reached a terminal status.
func (r *jobRepo) Cancel(ctx context.Context, id models.ULID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN (?, ?)", id, models.JobStatusQueued, models.JobStatusRunning).
		UpdateColumns(map[string]interface{}{
			"status":       models.JobStatusCancelled,
			"worker_id":    "",
			"completed_at": time.Now(),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("cancelling job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateProgress raises the job's progress. Lower values are dropped in the
// WHERE clause so reported progress never goes backwards.
func (r *jobRepo) UpdateProgress(ctx context.Context, id models.ULID, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND progress <= ?", id, progress).
		UpdateColumns(map[string]interface{}{
			"progress":       progress,
			"status_message": message,
			"updated_at":     time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	return nil
}

// RequeueStale returns running jobs whose claim is older than cutoff to the
// queue. Used on startup and by the janitor to recover from crashed workers.
func (r *jobRepo) RequeueStale(ctx context.Context, cutoff time.Time, availableAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND started_at < ?", models.JobStatusRunning, cutoff).
		UpdateColumns(map[string]interface{}{
			"status":       models.JobStatusQueued,
			"worker_id":    "",
			"started_at":   nil,
			"available_at": availableAt,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteCompleted deletes terminal jobs completed before the given time.
func (r *jobRepo) DeleteCompleted(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN (?, ?, ?) AND completed_at < ?",
			models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusCancelled, before).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting completed jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountByStatus returns job counts grouped by status.
func (r *jobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// truncateError caps stored failure messages at the column size.
func truncateError(msg string) string {
	const maxLen = 1024
	if len(msg) <= maxLen {
		return msg
	}
	return msg[:maxLen]
}

// Ensure jobRepo implements JobRepository at compile time.
var _ JobRepository = (*jobRepo)(nil)
