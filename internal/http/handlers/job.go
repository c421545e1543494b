package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/songforge/songforge/internal/service"
)

// JobHandler handles job status endpoints.
type JobHandler struct {
	svc *service.GenerationService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(svc *service.GenerationService) *JobHandler {
	return &JobHandler{svc: svc}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job with its progress and, once succeeded, its assets",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodPost,
		Path:        "/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Cancels a queued or running job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)
}

// GetJobInput is the input for the get job endpoint.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ULID"`
}

// GetJobOutput is the output for the get job endpoint.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, assets, err := h.svc.GetJob(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	if job == nil {
		return nil, huma.NewError(http.StatusNotFound, "job not found")
	}
	return &GetJobOutput{Body: toJobResponse(job, assets)}, nil
}

// CancelJobInput is the input for the cancel endpoint.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ULID"`
}

// CancelJobOutput is the output for the cancel endpoint.
type CancelJobOutput struct {
	Body struct {
		Cancelled bool `json:"cancelled"`
	}
}

// Cancel cancels a non-terminal job.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	job, _, err := h.svc.GetJob(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	if job == nil {
		return nil, huma.NewError(http.StatusNotFound, "job not found")
	}

	cancelled, err := h.svc.CancelJob(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}

	out := &CancelJobOutput{}
	out.Body.Cancelled = cancelled
	return out, nil
}
