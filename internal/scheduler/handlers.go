package scheduler

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
)

// Waker nudges idle workers after an enqueue.
type Waker interface {
	Wake()
}

// PipelineParams is the payload of a pipeline job: the generation request
// plus the optional output toggles.
type PipelineParams struct {
	planner.Request
	GenerateVideo bool   `json:"generate_video,omitempty"`
	VideoStyle    string `json:"video_style,omitempty"`
}

// StageParams is the payload of a render stage job. ScopeID names the
// pipeline's scratch tree; the plan rides along so stages stay stateless.
type StageParams struct {
	ScopeID       string          `json:"scope_id"`
	Plan          json.RawMessage `json:"plan"`
	Lyrics        string          `json:"lyrics,omitempty"`
	GenerateVideo bool            `json:"generate_video,omitempty"`
	VideoStyle    string          `json:"video_style,omitempty"`
	DurationSec   int             `json:"duration_sec"`
}

// AssetRecord is the result entry for one uploaded artifact.
type AssetRecord struct {
	Kind        string      `json:"kind"`
	Filename    string      `json:"filename"`
	Path        string      `json:"path"`
	URL         string      `json:"url"`
	SizeBytes   int64       `json:"size_bytes"`
	DurationSec float64     `json:"duration_sec,omitempty"`
	Meta        models.JSON `json:"meta,omitempty"`
}

// PipelineResult is the result payload of a succeeded pipeline job.
type PipelineResult struct {
	AssetUUID string          `json:"asset_uuid"`
	Assets    []AssetRecord   `json:"assets"`
	Plan      json.RawMessage `json:"plan"`
}

// PlanHandler derives the MusicPlan for a generation request.
type PlanHandler struct {
	planner *planner.Planner
}

// NewPlanHandler creates a handler for plan jobs.
func NewPlanHandler(p *planner.Planner) *PlanHandler {
	return &PlanHandler{planner: p}
}

// Execute derives and stores the plan.
func (h *PlanHandler) Execute(ctx context.Context, job *models.Job) (models.JSON, error) {
	var req planner.Request
	if err := json.Unmarshal(job.Params, &req); err != nil {
		return nil, models.NewFatal(models.ErrClassInvalidRequest, fmt.Errorf("decoding plan params: %w", err))
	}

	plan, err := h.planner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return planner.MarshalPlan(plan)
}

// stageHandler holds the wiring shared by the render stage handlers.
type stageHandler struct {
	renderer *renderer.Renderer
	jobRepo  repository.JobRepository
	logger   *slog.Logger
}

// parse decodes the stage payload and its embedded plan.
func (h *stageHandler) parse(job *models.Job) (StageParams, *planner.MusicPlan, error) {
	var params StageParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return params, nil, models.NewFatal(models.ErrClassInvalidRequest, fmt.Errorf("decoding stage params: %w", err))
	}
	plan, err := planner.UnmarshalPlan(models.JSON(params.Plan))
	if err != nil {
		return params, nil, models.NewFatal(models.ErrClassInvalidRequest, err)
	}
	return params, plan, nil
}

// progressSink writes stage progress onto the job row.
func (h *stageHandler) progressSink(ctx context.Context, job *models.Job) renderer.ProgressFunc {
	return func(percent int, message string) {
		if err := h.jobRepo.UpdateProgress(context.WithoutCancel(ctx), job.ID, percent, message); err != nil {
			h.logger.Debug("progress update failed",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func stageDone(params StageParams) models.JSON {
	return models.JSON(fmt.Sprintf(`{"scope_id":%q}`, params.ScopeID))
}

// StemsHandler renders the one-shots and full-length stem tracks.
type StemsHandler struct {
	stageHandler
}

// NewStemsHandler creates a handler for audio jobs.
func NewStemsHandler(r *renderer.Renderer, jobRepo repository.JobRepository, logger *slog.Logger) *StemsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StemsHandler{stageHandler{renderer: r, jobRepo: jobRepo, logger: logger}}
}

// Execute renders the stem tracks into the pipeline's scratch tree.
func (h *StemsHandler) Execute(ctx context.Context, job *models.Job) (models.JSON, error) {
	params, plan, err := h.parse(job)
	if err != nil {
		return nil, err
	}
	if err := h.renderer.RenderStems(ctx, params.ScopeID, plan, renderer.Options{}, h.progressSink(ctx, job)); err != nil {
		return nil, err
	}
	return stageDone(params), nil
}

// MixHandler produces the preview and mastered mixes from the stems.
type MixHandler struct {
	stageHandler
}

// NewMixHandler creates a handler for mix jobs.
func NewMixHandler(r *renderer.Renderer, jobRepo repository.JobRepository, logger *slog.Logger) *MixHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MixHandler{stageHandler{renderer: r, jobRepo: jobRepo, logger: logger}}
}

// Execute renders preview.wav and mix.wav.
func (h *MixHandler) Execute(ctx context.Context, job *models.Job) (models.JSON, error) {
	params, plan, err := h.parse(job)
	if err != nil {
		return nil, err
	}
	if err := h.renderer.RenderMix(ctx, params.ScopeID, plan, renderer.Options{}); err != nil {
		return nil, err
	}
	return stageDone(params), nil
}

// VocalsHandler synthesizes the vocal track, captions, and the vocal fold.
type VocalsHandler struct {
	stageHandler
}

// NewVocalsHandler creates a handler for vocals jobs.
func NewVocalsHandler(r *renderer.Renderer, jobRepo repository.JobRepository, logger *slog.Logger) *VocalsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VocalsHandler{stageHandler{renderer: r, jobRepo: jobRepo, logger: logger}}
}

// Execute renders vocals.wav and captions.srt and folds them into the mix.
func (h *VocalsHandler) Execute(ctx context.Context, job *models.Job) (models.JSON, error) {
	params, plan, err := h.parse(job)
	if err != nil {
		return nil, err
	}
	opts := renderer.Options{Lyrics: params.Lyrics}
	if err := h.renderer.RenderVocalStem(ctx, params.ScopeID, plan, opts); err != nil {
		return nil, err
	}
	return stageDone(params), nil
}

// VideoHandler renders the visualizer video.
type VideoHandler struct {
	stageHandler
}

// NewVideoHandler creates a handler for video jobs.
func NewVideoHandler(r *renderer.Renderer, jobRepo repository.JobRepository, logger *slog.Logger) *VideoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoHandler{stageHandler{renderer: r, jobRepo: jobRepo, logger: logger}}
}

// Execute renders final.mp4 from the finished mix.
func (h *VideoHandler) Execute(ctx context.Context, job *models.Job) (models.JSON, error) {
	params, plan, err := h.parse(job)
	if err != nil {
		return nil, err
	}
	opts := renderer.Options{VideoStyle: params.VideoStyle}
	if err := h.renderer.RenderVideo(ctx, params.ScopeID, plan, opts); err != nil {
		return nil, err
	}
	return stageDone(params), nil
}

// PipelineHandler orchestrates a full generation: it enqueues the stage jobs
// in dependency order, rolls their progress up onto the pipeline row, uploads
// the artifacts, and records the asset rows after the succeed write.
type PipelineHandler struct {
	jobRepo   repository.JobRepository
	assetRepo repository.AssetRepository
	renderer  *renderer.Renderer
	waker     Waker
	metrics   *observability.Metrics
	logger    *slog.Logger

	pollInterval time.Duration
	childWindow  time.Duration
	maxAttempts  int
	backoffMS    int
}

// PipelineHandlerConfig holds tuning for the pipeline handler.
type PipelineHandlerConfig struct {
	// PollInterval is how often child jobs are checked for completion.
	// Default: 500ms
	PollInterval time.Duration
	// ChildWindow is the idempotency window for child enqueues, letting a
	// retried pipeline reuse children that already succeeded.
	// Default: 24h
	ChildWindow time.Duration
	// MaxAttempts and BackoffMS seed the child jobs' retry policy.
	MaxAttempts int
	BackoffMS   int
}

// NewPipelineHandler creates a handler for pipeline jobs.
func NewPipelineHandler(jobRepo repository.JobRepository, assetRepo repository.AssetRepository, r *renderer.Renderer, waker Waker, config PipelineHandlerConfig, metrics *observability.Metrics, logger *slog.Logger) *PipelineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.ChildWindow <= 0 {
		config.ChildWindow = 24 * time.Hour
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 3
	}
	if config.BackoffMS < 1 {
		config.BackoffMS = 2000
	}
	return &PipelineHandler{
		jobRepo:      jobRepo,
		assetRepo:    assetRepo,
		renderer:     r,
		waker:        waker,
		metrics:      metrics,
		logger:       logger,
		pollInterval: config.PollInterval,
		childWindow:  config.ChildWindow,
		maxAttempts:  config.MaxAttempts,
		backoffMS:    config.BackoffMS,
	}
}

// Execute runs the generation end to end through child jobs.
func (h *PipelineHandler) Execute(ctx context.Context, job *models.Job) (models.JSON, error) {
	var params PipelineParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, models.NewFatal(models.ErrClassInvalidRequest, fmt.Errorf("decoding pipeline params: %w", err))
	}

	scopeID := job.ID.String()
	progress := func(percent int, message string) {
		_ = h.jobRepo.UpdateProgress(context.WithoutCancel(ctx), job.ID, percent, message)
	}

	// Plan.
	planParams, err := json.Marshal(params.Request)
	if err != nil {
		return nil, models.NewClassifiedf(models.ErrClassInternalError, "encoding plan params: %v", err)
	}
	planJob, err := h.runChild(ctx, job, models.JobTypePlan, models.JSON(planParams), 0, renderer.ProgressPlan, progress)
	if err != nil {
		return nil, err
	}
	progress(renderer.ProgressPlan, "plan ready")

	plan, err := planner.UnmarshalPlan(planJob.Result)
	if err != nil {
		return nil, models.NewClassifiedf(models.ErrClassInternalError, "decoding plan result: %v", err)
	}

	stage := StageParams{
		ScopeID:       scopeID,
		Plan:          json.RawMessage(planJob.Result),
		Lyrics:        params.Lyrics,
		GenerateVideo: params.GenerateVideo,
		VideoStyle:    params.VideoStyle,
		DurationSec:   plan.DurationSec,
	}
	stageJSON, err := json.Marshal(stage)
	if err != nil {
		return nil, models.NewClassifiedf(models.ErrClassInternalError, "encoding stage params: %v", err)
	}

	// Stems, then mix.
	if _, err := h.runChild(ctx, job, models.JobTypeAudio, models.JSON(stageJSON), renderer.ProgressPlan, renderer.ProgressStemsEnd, progress); err != nil {
		return nil, err
	}
	if _, err := h.runChild(ctx, job, models.JobTypeMix, models.JSON(stageJSON), renderer.ProgressStemsEnd, renderer.ProgressMixed, progress); err != nil {
		return nil, err
	}
	progress(renderer.ProgressMixed, "mixed and mastered")

	if params.Lyrics != "" {
		if _, err := h.runChild(ctx, job, models.JobTypeVocals, models.JSON(stageJSON), renderer.ProgressMixed, renderer.ProgressVocals, progress); err != nil {
			return nil, err
		}
		progress(renderer.ProgressVocals, "vocals rendered")
	}
	if params.GenerateVideo {
		if _, err := h.runChild(ctx, job, models.JobTypeVideo, models.JSON(stageJSON), renderer.ProgressVocals, renderer.ProgressVideo, progress); err != nil {
			return nil, err
		}
		progress(renderer.ProgressVideo, "video rendered")
	}

	uploaded, err := h.renderer.Upload(ctx, scopeID, plan)
	if err != nil {
		return nil, err
	}
	progress(renderer.ProgressUploaded, "assets uploaded")

	result := PipelineResult{
		AssetUUID: uploaded.AssetUUID.String(),
		Plan:      json.RawMessage(planJob.Result),
	}
	for _, asset := range uploaded.Assets {
		result.Assets = append(result.Assets, AssetRecord{
			Kind:        string(asset.Kind),
			Filename:    asset.Filename,
			Path:        asset.Key,
			URL:         asset.URL,
			SizeBytes:   asset.SizeBytes,
			DurationSec: asset.DurationSec,
			Meta:        asset.Meta,
		})
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, models.NewClassifiedf(models.ErrClassInternalError, "encoding pipeline result: %v", err)
	}

	if err := h.renderer.CleanupScratch(scopeID); err != nil {
		h.logger.Warn("scratch cleanup failed",
			slog.String("scope_id", scopeID),
			slog.String("error", err.Error()),
		)
	}
	return models.JSON(payload), nil
}

// Finalize inserts the asset rows once the pipeline row is succeeded, keeping
// the invariant that assets only exist for terminal succeeded jobs.
func (h *PipelineHandler) Finalize(ctx context.Context, job *models.Job) error {
	var result PipelineResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return fmt.Errorf("decoding pipeline result: %w", err)
	}

	assets := make([]*models.Asset, 0, len(result.Assets))
	for _, record := range result.Assets {
		assets = append(assets, &models.Asset{
			JobID:       job.ID,
			Kind:        models.AssetKind(record.Kind),
			Path:        record.Path,
			URL:         record.URL,
			SizeBytes:   record.SizeBytes,
			DurationSec: record.DurationSec,
			Meta:        record.Meta,
		})
	}
	if len(assets) == 0 {
		return nil
	}
	return h.assetRepo.CreateBatch(ctx, assets)
}

// runChild enqueues one stage job (reusing a live or recently succeeded
// duplicate) and blocks until it is terminal, mapping its progress into the
// parent's anchor band.
func (h *PipelineHandler) runChild(ctx context.Context, parent *models.Job, jobType models.JobType, params models.JSON, bandLo, bandHi int, progress func(int, string)) (*models.Job, error) {
	key, err := models.DedupeKey(jobType, []byte(params), parent.ID)
	if err != nil {
		return nil, models.NewClassifiedf(models.ErrClassInternalError, "fingerprinting %s job: %v", jobType, err)
	}

	child := &models.Job{
		Type:        jobType,
		Params:      params,
		DedupeKey:   &key,
		ParentID:    parent.ID,
		APIKeyID:    parent.APIKeyID,
		MaxAttempts: h.maxAttempts,
		BackoffMS:   h.backoffMS,
	}
	child, created, err := h.jobRepo.Enqueue(ctx, child, h.childWindow)
	if err != nil {
		return nil, models.NewClassifiedf(models.ErrClassInternalError, "enqueueing %s job: %v", jobType, err)
	}
	if created {
		if h.metrics != nil {
			h.metrics.JobsCreatedTotal.WithLabelValues(string(jobType)).Inc()
		}
		if h.waker != nil {
			h.waker.Wake()
		}
	}

	h.logger.Debug("pipeline stage enqueued",
		slog.String("parent_id", parent.ID.String()),
		slog.String("child_id", child.ID.String()),
		slog.String("type", string(jobType)),
		slog.Bool("reused", !created),
	)
	return h.waitChild(ctx, child.ID, jobType, bandLo, bandHi, progress)
}

// waitChild polls the child until it reaches a terminal status.
func (h *PipelineHandler) waitChild(ctx context.Context, childID models.ULID, jobType models.JobType, bandLo, bandHi int, progress func(int, string)) (*models.Job, error) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		child, err := h.jobRepo.GetByID(ctx, childID)
		if err != nil {
			return nil, models.NewClassifiedf(models.ErrClassInternalError, "polling %s job: %v", jobType, err)
		}
		if child == nil {
			return nil, models.NewClassifiedf(models.ErrClassInternalError, "%s job %s vanished", jobType, childID)
		}

		switch child.Status {
		case models.JobStatusSucceeded:
			return child, nil
		case models.JobStatusFailed:
			return nil, models.NewFatal(models.ErrClassInternalError,
				fmt.Errorf("%s stage failed: %s", jobType, child.Error))
		case models.JobStatusCancelled:
			return nil, models.NewFatal(models.ErrClassInternalError,
				fmt.Errorf("%s stage was cancelled", jobType))
		}

		if bandHi > bandLo {
			mapped := bandLo + child.Progress*(bandHi-bandLo)/100
			progress(mapped, child.StatusMessage)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
