package models

import (
	"time"

	"gorm.io/gorm"
)

// JobType represents the type of job to execute.
type JobType string

const (
	// JobTypePlan derives a MusicPlan from a generation request.
	JobTypePlan JobType = "plan"
	// JobTypeAudio renders the one-shots and full-length stems.
	JobTypeAudio JobType = "audio"
	// JobTypeVocals synthesizes the vocal track and timed captions.
	JobTypeVocals JobType = "vocals"
	// JobTypeMix produces the preview and mastered mixes.
	JobTypeMix JobType = "mix"
	// JobTypeVideo renders the visualizer video.
	JobTypeVideo JobType = "video"
	// JobTypePipeline orchestrates a full generation as child jobs.
	JobTypePipeline JobType = "pipeline"
)

// AllJobTypes lists every job type the worker pool can execute.
var AllJobTypes = []JobType{
	JobTypePlan, JobTypeAudio, JobTypeVocals, JobTypeMix, JobTypeVideo, JobTypePipeline,
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusQueued indicates the job is waiting to be claimed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded indicates the job completed successfully.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed indicates the job exhausted its attempts or hit a
	// non-retryable error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled before completion.
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents one unit of generation work in the persistent queue.
type Job struct {
	BaseModel

	// Type indicates what kind of job this is.
	Type JobType `gorm:"not null;size:20;index:idx_jobs_claim,priority:2" json:"type"`

	// Status indicates the current status of the job.
	Status JobStatus `gorm:"not null;default:'queued';size:20;index:idx_jobs_claim,priority:1" json:"status"`

	// Params is the opaque request payload the handler executes against.
	Params JSON `gorm:"type:text" json:"params,omitempty"`

	// Result holds the handler's output once the job succeeds.
	Result JSON `gorm:"type:text" json:"result,omitempty"`

	// Attempts is the number of times this job has been claimed.
	Attempts int `gorm:"default:0" json:"attempts"`

	// MaxAttempts is the maximum number of claims before the job fails for good.
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffMS is the initial retry backoff in milliseconds, doubled per attempt.
	BackoffMS int `gorm:"default:2000" json:"backoff_ms"`

	// AvailableAt is the earliest time the job is eligible to be claimed.
	AvailableAt time.Time `gorm:"index:idx_jobs_claim,priority:3" json:"available_at"`

	// StartedAt is when the current (or last) attempt began executing.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is set exactly when the job reaches a terminal status.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// Error contains the last failure message, short and non-sensitive.
	Error string `gorm:"size:1024" json:"error,omitempty"`

	// Progress is the completion percentage, 0..100, monotone per job.
	Progress int `gorm:"default:0" json:"progress"`

	// StatusMessage is a free-text description of the current stage.
	StatusMessage string `gorm:"size:255" json:"status_message,omitempty"`

	// DedupeKey is the SHA-256 fingerprint over type, canonical params and
	// parent id used for idempotent enqueue. NULL once a key is retired so a
	// fresh job can reuse the fingerprint.
	DedupeKey *string `gorm:"size:64;uniqueIndex:idx_jobs_dedupe" json:"dedupe_key,omitempty"`

	// ParentID links sub-jobs to their owning pipeline job.
	ParentID ULID `gorm:"type:varchar(26);index" json:"parent_id,omitempty"`

	// APIKeyID records which key enqueued the job.
	APIKeyID ULID `gorm:"type:varchar(26);index" json:"api_key_id,omitempty"`

	// WorkerID is the worker currently holding the claim.
	WorkerID string `gorm:"size:100;index" json:"worker_id,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal returns true once the job has reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// IsEligible reports whether the job can be claimed at the given time.
func (j *Job) IsEligible(now time.Time) bool {
	return j.Status == JobStatusQueued && !j.AvailableAt.After(now)
}

// AttemptsRemaining reports whether another attempt is allowed after a failure.
func (j *Job) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}

// NextBackoff returns the base backoff before the next retry.
// Exponential: backoff_ms * 2^(attempts-1), capped at 10 minutes. Jitter is
// applied by the scheduler, not here, so the value stays deterministic.
func (j *Job) NextBackoff() time.Duration {
	base := j.BackoffMS
	if base <= 0 {
		base = 2000
	}

	attempts := j.Attempts
	if attempts < 1 {
		attempts = 1
	}

	multiplier := 1 << (attempts - 1)
	backoff := time.Duration(base*multiplier) * time.Millisecond

	const maxBackoff = 10 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// MarkRunning transitions the job to running under the given worker.
func (j *Job) MarkRunning(workerID string, now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.WorkerID = workerID
	j.Attempts++
	j.Error = ""
}

// MarkSucceeded transitions the job to succeeded with its result payload.
func (j *Job) MarkSucceeded(result JSON, now time.Time) {
	j.Status = JobStatusSucceeded
	j.CompletedAt = &now
	j.Result = result
	j.Progress = 100
	j.Error = ""
	j.WorkerID = ""
}

// MarkFailed transitions the job to failed with a final error message.
func (j *Job) MarkFailed(errMsg string, now time.Time) {
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = errMsg
	j.WorkerID = ""
}

// MarkRetry returns the job to the queue for a later attempt.
func (j *Job) MarkRetry(errMsg string, availableAt time.Time) {
	j.Status = JobStatusQueued
	j.Error = errMsg
	j.AvailableAt = availableAt
	j.StartedAt = nil
	j.WorkerID = ""
}

// MarkCancelled transitions the job to cancelled.
func (j *Job) MarkCancelled(now time.Time) {
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.WorkerID = ""
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.Type == "" {
		return ErrJobTypeRequired
	}
	if j.Progress < 0 || j.Progress > 100 {
		return ErrProgressOutOfRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates a ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = Now()
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the job before update.
func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}
