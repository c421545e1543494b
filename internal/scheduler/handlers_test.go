package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/planner"
	"github.com/songforge/songforge/internal/renderer"
	"github.com/songforge/songforge/internal/repository"
	"github.com/songforge/songforge/internal/storage"
	"github.com/songforge/songforge/internal/transcoder"
)

func testRequest() planner.Request {
	return planner.Request{
		Prompt:      "dreamy synthwave sunset drive",
		Genres:      []string{"synthwave"},
		DurationSec: 45,
	}
}

func newStageRenderer(t *testing.T) *renderer.Renderer {
	t.Helper()
	root := t.TempDir()
	runner := transcoder.NewRunner(time.Second, nil)
	prober := transcoder.NewProber("/nonexistent/ffmpeg", "/nonexistent/ffprobe")
	store, err := storage.NewLocalStore(filepath.Join(root, "assets"), "")
	require.NoError(t, err)
	return renderer.New(
		renderer.Config{TranscoderBin: "/nonexistent/ffmpeg", ScratchRoot: filepath.Join(root, "tmp")},
		runner, prober, store, nil, nil,
	)
}

func TestPlanHandlerProducesDeterministicPlan(t *testing.T) {
	handler := NewPlanHandler(planner.NewPlanner(nil, nil))
	job := &models.Job{Type: models.JobTypePlan, Params: mustJSON(t, testRequest())}

	first, err := handler.Execute(context.Background(), job)
	require.NoError(t, err)
	second, err := handler.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second), "same request derives the same plan")

	plan, err := planner.UnmarshalPlan(first)
	require.NoError(t, err)
	assert.Equal(t, 45, plan.DurationSec)
	assert.GreaterOrEqual(t, plan.BPM, 60)
	assert.LessOrEqual(t, plan.BPM, 200)
}

func TestPlanHandlerRejectsBadParams(t *testing.T) {
	handler := NewPlanHandler(planner.NewPlanner(nil, nil))
	job := &models.Job{Type: models.JobTypePlan, Params: models.JSON(`{"prompt":`)}

	_, err := handler.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, models.ErrClassInvalidRequest, models.Classify(err))
	assert.True(t, models.IsFatal(err), "malformed params never retry")
}

// pipelineHarness wires a real runner, executor, and pipeline handler over an
// in-memory database, with the render stages stubbed so no transcoder runs.
type pipelineHarness struct {
	jobRepo   repository.JobRepository
	assetRepo repository.AssetRepository
	renderer  *renderer.Renderer
	runner    *Runner
}

func newPipelineHarness(t *testing.T, audioStub, mixStub handlerFunc) *pipelineHarness {
	t.Helper()
	db := setupTestDB(t)
	jobRepo := repository.NewJobRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	rend := newStageRenderer(t)

	executor := NewExecutor(jobRepo)
	runner := NewRunner(jobRepo, executor).WithConfig(fastRunnerConfig())

	executor.RegisterHandler(models.JobTypePlan, NewPlanHandler(planner.NewPlanner(nil, nil)))
	executor.RegisterHandler(models.JobTypeAudio, audioStub)
	executor.RegisterHandler(models.JobTypeMix, mixStub)
	executor.RegisterHandler(models.JobTypePipeline, NewPipelineHandler(
		jobRepo, assetRepo, rend, runner,
		PipelineHandlerConfig{PollInterval: 10 * time.Millisecond},
		nil, nil,
	))

	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(runner.Stop)
	return &pipelineHarness{jobRepo: jobRepo, assetRepo: assetRepo, renderer: rend, runner: runner}
}

func (h *pipelineHarness) enqueuePipeline(t *testing.T, params PipelineParams) *models.Job {
	t.Helper()
	job := &models.Job{
		Type:        models.JobTypePipeline,
		Params:      mustJSON(t, params),
		MaxAttempts: 3,
	}
	stored, created, err := h.jobRepo.Enqueue(context.Background(), job, 24*time.Hour)
	require.NoError(t, err)
	require.True(t, created)
	h.runner.Wake()
	return stored
}

// stageScope decodes the scratch scope from a stage job's params. Runs on
// worker goroutines, so failures surface as job errors rather than t.Fatal.
func stageScope(job *models.Job) (StageParams, error) {
	var params StageParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return params, err
	}
	if params.ScopeID == "" {
		return params, errors.New("stage params missing scope id")
	}
	return params, nil
}

func TestPipelineRunsStagesAndRecordsAssets(t *testing.T) {
	var h *pipelineHarness
	audioStub := handlerFunc(func(ctx context.Context, job *models.Job) (models.JSON, error) {
		params, err := stageScope(job)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(h.renderer.ScratchDir(params.ScopeID), 0o755); err != nil {
			return nil, err
		}
		return models.JSON(`{}`), nil
	})
	mixStub := handlerFunc(func(ctx context.Context, job *models.Job) (models.JSON, error) {
		params, err := stageScope(job)
		if err != nil {
			return nil, err
		}
		scratch := h.renderer.ScratchDir(params.ScopeID)
		for _, name := range []string{renderer.FilePreview, renderer.FileMix} {
			if err := os.WriteFile(filepath.Join(scratch, name), []byte("RIFFdata"), 0o644); err != nil {
				return nil, err
			}
		}
		return models.JSON(`{}`), nil
	})
	h = newPipelineHarness(t, audioStub, mixStub)

	parent := h.enqueuePipeline(t, PipelineParams{Request: testRequest()})

	require.Eventually(t, func() bool {
		return statusOf(h.jobRepo, parent.ID) == models.JobStatusSucceeded
	}, 10*time.Second, 20*time.Millisecond, "pipeline should finish")

	stored, err := h.jobRepo.GetByID(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Progress)

	var result PipelineResult
	require.NoError(t, json.Unmarshal(stored.Result, &result))
	wantUUID := storage.AssetUUIDForJob(parent.ID.String()).String()
	assert.Equal(t, wantUUID, result.AssetUUID)
	require.Len(t, result.Assets, 2)
	filenames := []string{result.Assets[0].Filename, result.Assets[1].Filename}
	assert.ElementsMatch(t, []string{renderer.FilePreview, renderer.FileMix}, filenames)
	for _, asset := range result.Assets {
		assert.True(t, strings.HasPrefix(asset.Path, "assets/"), "key %q under the dated prefix", asset.Path)
		assert.Contains(t, asset.Path, wantUUID)
		assert.Positive(t, asset.SizeBytes)
	}

	// The plan stage ran and its result rides along in the pipeline result.
	plan, err := planner.UnmarshalPlan(models.JSON(result.Plan))
	require.NoError(t, err)
	assert.Equal(t, 45, plan.DurationSec)

	children, err := h.jobRepo.GetChildren(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 3, "plan, audio, and mix children")
	for _, child := range children {
		assert.Equal(t, models.JobStatusSucceeded, child.Status)
		assert.Equal(t, parent.ID, child.ParentID)
	}

	// Finalize inserted the asset rows after the succeed write.
	rows, err := h.assetRepo.GetByJobID(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, models.AssetKindWAV, row.Kind)
		assert.Positive(t, row.SizeBytes)
	}

	// Scratch is cleaned up on success.
	_, err = os.Stat(h.renderer.ScratchDir(parent.ID.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestPipelineFailsWhenStageFails(t *testing.T) {
	audioStub := handlerFunc(func(ctx context.Context, job *models.Job) (models.JSON, error) {
		return nil, models.NewFatal(models.ErrClassTranscoderFailed, errors.New("synthesis exploded"))
	})
	mixStub := handlerFunc(func(ctx context.Context, job *models.Job) (models.JSON, error) {
		t.Error("mix stage must not run after the audio stage fails")
		return nil, errors.New("unreachable")
	})
	h := newPipelineHarness(t, audioStub, mixStub)

	parent := h.enqueuePipeline(t, PipelineParams{Request: testRequest()})

	require.Eventually(t, func() bool {
		return statusOf(h.jobRepo, parent.ID) == models.JobStatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	stored, err := h.jobRepo.GetByID(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Error, "audio stage failed")
	assert.Contains(t, stored.Error, "synthesis exploded")

	rows, err := h.assetRepo.GetByJobID(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Empty(t, rows, "failed pipelines record no assets")
}

func TestPipelineRejectsBadParams(t *testing.T) {
	jobRepo := repository.NewJobRepository(setupTestDB(t))
	handler := NewPipelineHandler(jobRepo, nil, newStageRenderer(t), nil, PipelineHandlerConfig{}, nil, nil)

	job := &models.Job{Type: models.JobTypePipeline, Params: models.JSON(`not json`)}
	_, err := handler.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, models.ErrClassInvalidRequest, models.Classify(err))
	assert.True(t, models.IsFatal(err))
}
