// Package scheduler owns job execution: a per-type worker pool claiming from
// the persistent queue, an executor dispatching type handlers with retry
// classification, and a cron janitor for stale claims and old rows.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/observability"
	"github.com/songforge/songforge/internal/repository"
)

// JobHandler executes one job type. The returned payload is stored as the
// job's result on success.
type JobHandler interface {
	Execute(ctx context.Context, job *models.Job) (models.JSON, error)
}

// Finalizer is implemented by handlers that need a post-success step, run
// after the succeed write is committed. Used by the pipeline handler to
// insert asset rows only once the job row is terminal.
type Finalizer interface {
	Finalize(ctx context.Context, job *models.Job) error
}

// TimeoutFunc derives the wall-clock budget for a job. Zero means unlimited.
type TimeoutFunc func(job *models.Job) time.Duration

// maxBackoffJitter is the fraction of the backoff added as random jitter.
const maxBackoffJitter = 0.2

// Executor dispatches claimed jobs to their type handlers and writes the
// resulting state transition back to the queue.
type Executor struct {
	handlers     map[models.JobType]JobHandler
	jobRepo      repository.JobRepository
	timeoutFor   TimeoutFunc
	requeueDelay time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewExecutor creates a job executor.
func NewExecutor(jobRepo repository.JobRepository) *Executor {
	return &Executor{
		handlers:     make(map[models.JobType]JobHandler),
		jobRepo:      jobRepo,
		requeueDelay: 15 * time.Second,
		logger:       slog.Default(),
	}
}

// WithRequeueDelay sets how far in the future a shutdown-requeued job becomes
// eligible, giving this instance time to finish stopping.
func (e *Executor) WithRequeueDelay(d time.Duration) *Executor {
	if d > 0 {
		e.requeueDelay = d
	}
	return e
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithMetrics sets the metrics sink.
func (e *Executor) WithMetrics(metrics *observability.Metrics) *Executor {
	e.metrics = metrics
	return e
}

// WithTimeout sets the per-job wall-clock budget function.
func (e *Executor) WithTimeout(fn TimeoutFunc) *Executor {
	e.timeoutFor = fn
	return e
}

// RegisterHandler registers a handler for a job type.
func (e *Executor) RegisterHandler(jobType models.JobType, handler JobHandler) {
	e.handlers[jobType] = handler
}

// HandlesType reports whether a handler is registered for the type.
func (e *Executor) HandlesType(jobType models.JobType) bool {
	_, ok := e.handlers[jobType]
	return ok
}

// Execute runs a claimed job and persists the outcome. A cancelled parent
// context (shutdown) requeues the job instead of consuming the attempt's
// failure budget.
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	handler, ok := e.handlers[job.Type]
	if !ok {
		return e.fail(ctx, job, fmt.Sprintf("no handler registered for job type %s", job.Type))
	}

	log := e.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("type", string(job.Type)),
		slog.Int("attempt", job.Attempts),
	)
	log.Info("executing job")

	jobCtx := ctx
	if e.timeoutFor != nil {
		if budget := e.timeoutFor(job); budget > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}
	}

	started := time.Now()
	result, err := e.executeSafely(jobCtx, handler, job)
	elapsed := time.Since(started)

	if e.metrics != nil {
		e.metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(elapsed.Seconds())
	}

	// Status writes must survive shutdown cancellation.
	writeCtx := context.WithoutCancel(ctx)

	if err == nil {
		if err := e.jobRepo.Succeed(writeCtx, job.ID, result); err != nil {
			return fmt.Errorf("marking job succeeded: %w", err)
		}
		if e.metrics != nil {
			e.metrics.JobsSucceededTotal.WithLabelValues(string(job.Type)).Inc()
		}
		log.Info("job succeeded", slog.Duration("elapsed", elapsed))

		if finalizer, ok := handler.(Finalizer); ok {
			job.MarkSucceeded(result, time.Now().UTC())
			if err := finalizer.Finalize(writeCtx, job); err != nil {
				log.Error("job finalizer failed", slog.String("error", err.Error()))
			}
		}
		return nil
	}

	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		// Shutdown, not a job timeout: hand the claim back.
		availableAt := time.Now().UTC().Add(e.requeueDelay)
		log.Warn("requeueing job on shutdown", slog.Time("available_at", availableAt))
		return e.jobRepo.Retry(writeCtx, job.ID, "requeued during shutdown", availableAt)
	}

	if models.Retryable(err, job.Attempts, job.MaxAttempts) {
		backoff := withJitter(job.NextBackoff())
		availableAt := time.Now().UTC().Add(backoff)
		log.Warn("job failed, scheduling retry",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		return e.jobRepo.Retry(writeCtx, job.ID, err.Error(), availableAt)
	}

	log.Error("job failed for good", slog.String("error", err.Error()))
	return e.fail(writeCtx, job, err.Error())
}

// executeSafely runs the handler, converting panics into InternalError.
func (e *Executor) executeSafely(ctx context.Context, handler JobHandler, job *models.Job) (result models.JSON, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.NewClassifiedf(models.ErrClassInternalError, "handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, job)
}

func (e *Executor) fail(ctx context.Context, job *models.Job, errMsg string) error {
	if err := e.jobRepo.Fail(context.WithoutCancel(ctx), job.ID, errMsg); err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	if e.metrics != nil {
		e.metrics.JobsFailedTotal.WithLabelValues(string(job.Type)).Inc()
	}
	return nil
}

// withJitter adds up to 20% random jitter to the backoff so synchronized
// retries spread out.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int63n(int64(float64(d)*maxBackoffJitter) + 1))
	return d + jitter
}
