// Package service implements the application use-cases sitting between the
// HTTP surface and the queue: authentication, rate admission, idempotent
// enqueue, and job/asset lookups.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/observability"
	"github.com/songforge/songforge/internal/planner"
	"github.com/songforge/songforge/internal/renderer"
	"github.com/songforge/songforge/internal/repository"
	"github.com/songforge/songforge/internal/scheduler"
)

// Authentication failures, all classified Unauthorized. The HTTP layer maps
// ErrKeyDisabled to 403 and the rest to 401.
var (
	ErrMissingKey  = models.NewClassifiedf(models.ErrClassUnauthorized, "missing bearer token")
	ErrUnknownKey  = models.NewClassifiedf(models.ErrClassUnauthorized, "unknown api key")
	ErrKeyDisabled = models.NewClassifiedf(models.ErrClassUnauthorized, "api key disabled")
)

// GenerationService owns the generation request lifecycle up to the queue.
type GenerationService struct {
	jobRepo    repository.JobRepository
	assetRepo  repository.AssetRepository
	apiKeyRepo repository.ApiKeyRepository
	rateRepo   repository.RateCounterRepository
	waker      scheduler.Waker
	metrics    *observability.Metrics
	logger     *slog.Logger

	window       time.Duration
	maxAttempts  int
	backoffMS    int
	defaultLimit int
}

// GenerationServiceConfig holds enqueue policy for new pipeline jobs.
type GenerationServiceConfig struct {
	// IdempotencyWindow is how far back a succeeded duplicate is reused.
	// Default: 24h
	IdempotencyWindow time.Duration
	// MaxAttempts and BackoffMS seed the pipeline job's retry policy.
	MaxAttempts int
	BackoffMS   int
	// DefaultRateLimitPerMin applies to keys without their own limit.
	DefaultRateLimitPerMin int
}

// NewGenerationService creates the generation service.
func NewGenerationService(
	jobRepo repository.JobRepository,
	assetRepo repository.AssetRepository,
	apiKeyRepo repository.ApiKeyRepository,
	rateRepo repository.RateCounterRepository,
	config GenerationServiceConfig,
) *GenerationService {
	if config.IdempotencyWindow <= 0 {
		config.IdempotencyWindow = 24 * time.Hour
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 3
	}
	if config.BackoffMS < 1 {
		config.BackoffMS = 2000
	}
	if config.DefaultRateLimitPerMin < 1 {
		config.DefaultRateLimitPerMin = 60
	}
	return &GenerationService{
		jobRepo:      jobRepo,
		assetRepo:    assetRepo,
		apiKeyRepo:   apiKeyRepo,
		rateRepo:     rateRepo,
		logger:       slog.Default(),
		window:       config.IdempotencyWindow,
		maxAttempts:  config.MaxAttempts,
		backoffMS:    config.BackoffMS,
		defaultLimit: config.DefaultRateLimitPerMin,
	}
}

// WithLogger sets a custom logger.
func (s *GenerationService) WithLogger(logger *slog.Logger) *GenerationService {
	s.logger = logger
	return s
}

// WithMetrics sets the metrics sink.
func (s *GenerationService) WithMetrics(metrics *observability.Metrics) *GenerationService {
	s.metrics = metrics
	return s
}

// WithWaker sets the worker pool to nudge after an enqueue.
func (s *GenerationService) WithWaker(waker scheduler.Waker) *GenerationService {
	s.waker = waker
	return s
}

// Authenticate resolves a bearer token to its API key.
func (s *GenerationService) Authenticate(ctx context.Context, bearer string) (*models.ApiKey, error) {
	if bearer == "" {
		return nil, ErrMissingKey
	}
	key, err := s.apiKeyRepo.GetByKey(ctx, bearer)
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	if key == nil {
		return nil, ErrUnknownKey
	}
	if key.IsDisabled() {
		return nil, ErrKeyDisabled
	}
	return key, nil
}

// Admit applies the per-key per-minute rate limit. Rejected requests consume
// no budget and insert no job row.
func (s *GenerationService) Admit(ctx context.Context, key *models.ApiKey) error {
	limit := key.RateLimitPerMin
	if limit < 1 {
		limit = s.defaultLimit
	}
	ok, err := s.rateRepo.TryAdmit(ctx, key.ID, limit, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("admitting request: %w", err)
	}
	if !ok {
		if s.metrics != nil {
			s.metrics.RateLimitRejectsTotal.Inc()
		}
		return models.NewClassifiedf(models.ErrClassRateLimited,
			"rate limit of %d requests per minute exceeded", limit)
	}
	return nil
}

// ValidateRequest checks a generation request before any row is written.
func ValidateRequest(params scheduler.PipelineParams) error {
	if err := planner.Validate(params.Request); err != nil {
		return err
	}
	switch params.VideoStyle {
	case "", renderer.VideoStyleLyric, renderer.VideoStyleSpectrum, renderer.VideoStyleWaveform:
	default:
		return models.NewClassifiedf(models.ErrClassInvalidRequest,
			"unknown video style %q", params.VideoStyle)
	}
	if params.VideoStyle != "" && !params.GenerateVideo {
		return models.NewClassifiedf(models.ErrClassInvalidRequest,
			"video_style requires generate_video")
	}
	return nil
}

// Generate validates and enqueues a pipeline job. When an equivalent job is
// already live or recently succeeded, that job is returned and reused is true.
func (s *GenerationService) Generate(ctx context.Context, key *models.ApiKey, params scheduler.PipelineParams) (*models.Job, bool, error) {
	if err := ValidateRequest(params); err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, false, fmt.Errorf("encoding pipeline params: %w", err)
	}
	dedupeKey, err := models.DedupeKey(models.JobTypePipeline, payload, models.ULID{})
	if err != nil {
		return nil, false, models.NewClassified(models.ErrClassInvalidRequest, err)
	}

	job := &models.Job{
		Type:        models.JobTypePipeline,
		Params:      models.JSON(payload),
		DedupeKey:   &dedupeKey,
		APIKeyID:    key.ID,
		MaxAttempts: s.maxAttempts,
		BackoffMS:   s.backoffMS,
	}
	job, created, err := s.jobRepo.Enqueue(ctx, job, s.window)
	if err != nil {
		return nil, false, fmt.Errorf("enqueueing pipeline job: %w", err)
	}

	if created {
		if s.metrics != nil {
			s.metrics.JobsCreatedTotal.WithLabelValues(string(models.JobTypePipeline)).Inc()
		}
		if s.waker != nil {
			s.waker.Wake()
		}
		s.logger.Info("generation enqueued",
			slog.String("job_id", job.ID.String()),
			slog.String("api_key_id", key.ID.String()),
		)
	} else {
		s.logger.Info("generation request deduplicated",
			slog.String("job_id", job.ID.String()),
			slog.String("api_key_id", key.ID.String()),
		)
	}
	return job, !created, nil
}

// GetJob fetches a job with its recorded assets. Returns (nil, nil, nil) when
// the id is unknown or not a valid ULID.
func (s *GenerationService) GetJob(ctx context.Context, id string) (*models.Job, []*models.Asset, error) {
	jobID, err := models.ParseULID(id)
	if err != nil {
		return nil, nil, nil
	}
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching job: %w", err)
	}
	if job == nil {
		return nil, nil, nil
	}

	var assets []*models.Asset
	if job.Status == models.JobStatusSucceeded {
		assets, err = s.assetRepo.GetByJobID(ctx, jobID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching job assets: %w", err)
		}
	}
	return job, assets, nil
}

// CancelJob cancels a queued or running job. Returns false when the job is
// unknown or already terminal.
func (s *GenerationService) CancelJob(ctx context.Context, id string) (bool, error) {
	jobID, err := models.ParseULID(id)
	if err != nil {
		return false, nil
	}
	return s.jobRepo.Cancel(ctx, jobID)
}

// GetAsset fetches one asset row. Returns (nil, nil) when unknown.
func (s *GenerationService) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	assetID, err := models.ParseULID(id)
	if err != nil {
		return nil, nil
	}
	asset, err := s.assetRepo.GetByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("fetching asset: %w", err)
	}
	return asset, nil
}
