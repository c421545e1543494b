package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/songforge/songforge/internal/repository"
)

// Janitor runs the periodic maintenance tasks: requeueing stale claims,
// deleting old terminal jobs, pruning rate-counter windows, and collecting
// abandoned scratch trees.
type Janitor struct {
	jobRepo  repository.JobRepository
	rateRepo repository.RateCounterRepository
	logger   *slog.Logger

	lockTimeout  time.Duration
	jobRetention time.Duration
	scratchRoot  string
	scratchTTL   time.Duration

	cron *cron.Cron
}

// JanitorConfig holds maintenance tuning.
type JanitorConfig struct {
	// LockTimeout is the claim age after which a running job is requeued.
	// Default: 30 minutes
	LockTimeout time.Duration
	// JobRetention is how long terminal jobs are kept.
	// Default: 7 days
	JobRetention time.Duration
	// ScratchRoot is the directory holding per-pipeline scratch trees.
	// Empty disables scratch collection.
	ScratchRoot string
	// ScratchTTL is how long scratch trees survive without modification.
	// Default: 24h
	ScratchTTL time.Duration
}

// NewJanitor creates a Janitor running its tasks hourly.
func NewJanitor(jobRepo repository.JobRepository, rateRepo repository.RateCounterRepository, config JanitorConfig, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 30 * time.Minute
	}
	if config.JobRetention <= 0 {
		config.JobRetention = 7 * 24 * time.Hour
	}
	if config.ScratchTTL <= 0 {
		config.ScratchTTL = 24 * time.Hour
	}
	return &Janitor{
		jobRepo:      jobRepo,
		rateRepo:     rateRepo,
		logger:       logger,
		lockTimeout:  config.LockTimeout,
		jobRetention: config.JobRetention,
		scratchRoot:  config.ScratchRoot,
		scratchTTL:   config.ScratchTTL,
	}
}

// Start schedules the maintenance tasks.
func (j *Janitor) Start(ctx context.Context) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc("@hourly", func() { j.RunOnce(ctx) })
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("janitor started",
		slog.Duration("lock_timeout", j.lockTimeout),
		slog.Duration("job_retention", j.jobRetention),
		slog.Duration("scratch_ttl", j.scratchTTL),
	)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
	j.logger.Info("janitor stopped")
}

// RunOnce executes a single maintenance pass.
func (j *Janitor) RunOnce(ctx context.Context) {
	now := time.Now().UTC()

	if requeued, err := j.jobRepo.RequeueStale(ctx, now.Add(-j.lockTimeout), now); err != nil {
		j.logger.Error("stale claim requeue failed", slog.Any("error", err))
	} else if requeued > 0 {
		j.logger.Warn("requeued stale claims", slog.Int64("count", requeued))
	}

	if deleted, err := j.jobRepo.DeleteCompleted(ctx, now.Add(-j.jobRetention)); err != nil {
		j.logger.Error("old job cleanup failed", slog.Any("error", err))
	} else if deleted > 0 {
		j.logger.Info("deleted old jobs", slog.Int64("count", deleted))
	}

	// Windows are one minute; anything older than an hour is long dead.
	if deleted, err := j.rateRepo.DeleteOld(ctx, now.Add(-time.Hour)); err != nil {
		j.logger.Error("rate counter cleanup failed", slog.Any("error", err))
	} else if deleted > 0 {
		j.logger.Debug("pruned rate counter windows", slog.Int64("count", deleted))
	}

	j.collectScratch(now)
}

// collectScratch removes scratch trees untouched for longer than the TTL.
// Failed pipelines keep their scratch until then so retries can reuse it.
func (j *Janitor) collectScratch(now time.Time) {
	if j.scratchRoot == "" {
		return
	}
	entries, err := os.ReadDir(j.scratchRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("reading scratch root failed", slog.Any("error", err))
		}
		return
	}

	cutoff := now.Add(-j.scratchTTL)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.scratchRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Error("scratch removal failed",
				slog.String("path", path),
				slog.Any("error", err),
			)
			continue
		}
		j.logger.Info("collected abandoned scratch", slog.String("path", path))
	}
}
