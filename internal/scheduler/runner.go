package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/observability"
	"github.com/songforge/songforge/internal/repository"
)

// Runner manages the per-type worker pools that claim and execute jobs.
type Runner struct {
	mu sync.RWMutex

	jobRepo  repository.JobRepository
	executor *Executor
	metrics  *observability.Metrics
	logger   *slog.Logger

	concurrency  func(jobType models.JobType) int
	pollInterval time.Duration
	lockTimeout  time.Duration
	workerID     string

	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// Concurrency returns the worker count per job type.
	// Default: 2 for every type.
	Concurrency func(jobType models.JobType) int

	// PollInterval is how often idle workers poll for jobs.
	// Default: 250ms
	PollInterval time.Duration

	// LockTimeout is the age after which a running claim is considered stale
	// and eligible for requeue on startup. Default: 30 minutes
	LockTimeout time.Duration

	// WorkerID identifies this instance in claim rows.
	// Default: derived from the start time.
	WorkerID string
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Concurrency:  func(models.JobType) int { return 2 },
		PollInterval: 250 * time.Millisecond,
		LockTimeout:  30 * time.Minute,
		WorkerID:     fmt.Sprintf("worker-%d", time.Now().UnixNano()),
	}
}

// NewRunner creates a job runner.
func NewRunner(jobRepo repository.JobRepository, executor *Executor) *Runner {
	config := DefaultRunnerConfig()
	return &Runner{
		jobRepo:      jobRepo,
		executor:     executor,
		logger:       slog.Default(),
		concurrency:  config.Concurrency,
		pollInterval: config.PollInterval,
		lockTimeout:  config.LockTimeout,
		workerID:     config.WorkerID,
		wake:         make(chan struct{}, 1),
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithMetrics sets the metrics sink.
func (r *Runner) WithMetrics(metrics *observability.Metrics) *Runner {
	r.metrics = metrics
	return r
}

// WithConfig applies configuration to the runner.
func (r *Runner) WithConfig(config RunnerConfig) *Runner {
	if config.Concurrency != nil {
		r.concurrency = config.Concurrency
	}
	if config.PollInterval > 0 {
		r.pollInterval = config.PollInterval
	}
	if config.LockTimeout > 0 {
		r.lockTimeout = config.LockTimeout
	}
	if config.WorkerID != "" {
		r.workerID = config.WorkerID
	}
	return r
}

// Start recovers stale claims from a previous instance, then spins up the
// worker pools for every job type the executor handles.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	now := time.Now().UTC()
	if requeued, err := r.jobRepo.RequeueStale(r.ctx, now.Add(-r.lockTimeout), now); err != nil {
		r.logger.Error("stale claim recovery failed", slog.Any("error", err))
	} else if requeued > 0 {
		r.logger.Warn("requeued stale claims from previous instance", slog.Int64("count", requeued))
	}

	total := 0
	for _, jobType := range models.AllJobTypes {
		if !r.executor.HandlesType(jobType) {
			continue
		}
		count := r.concurrency(jobType)
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			workerID := fmt.Sprintf("%s-%s-%d", r.workerID, jobType, i)
			r.wg.Add(1)
			go r.worker(workerID, jobType)
		}
		total += count
	}

	r.logger.Info("runner started",
		slog.Int("workers", total),
		slog.Duration("poll_interval", r.pollInterval),
		slog.String("worker_id", r.workerID),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to be requeued or
// finished.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("runner stopped")
}

// Wake nudges idle workers to poll immediately, called after an enqueue.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// worker is the claim-execute loop for one job type.
func (r *Runner) worker(workerID string, jobType models.JobType) {
	defer r.wg.Done()

	r.logger.Debug("worker started",
		slog.String("worker_id", workerID),
		slog.String("type", string(jobType)),
	)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		executed, err := r.processOne(workerID, jobType)
		if err != nil {
			r.logger.Error("error processing job",
				slog.String("worker_id", workerID),
				slog.Any("error", err),
			)
		}
		if executed {
			continue
		}

		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		case <-time.After(r.pollInterval):
		}
	}
}

// processOne claims and executes at most one job. The bool reports whether a
// job was claimed.
func (r *Runner) processOne(workerID string, jobType models.JobType) (bool, error) {
	job, err := r.jobRepo.ClaimNext(r.ctx, jobType, workerID)
	if err != nil {
		if r.ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if r.metrics != nil {
		gauge := r.metrics.WorkersActive.WithLabelValues(string(jobType))
		gauge.Inc()
		defer gauge.Dec()
	}

	if err := r.executor.Execute(r.ctx, job); err != nil {
		return true, fmt.Errorf("executing job: %w", err)
	}
	return true, nil
}
