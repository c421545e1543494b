// Package handlers provides the HTTP API handlers for songforge.
package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/songforge/songforge/internal/models"
)

// JobResponse is the wire shape of a job.
type JobResponse struct {
	ID          string          `json:"id" doc:"Job ULID"`
	Type        string          `json:"type"`
	Status      string          `json:"status" enum:"queued,running,succeeded,failed,cancelled"`
	Progress    int             `json:"progress" minimum:"0" maximum:"100"`
	Message     string          `json:"message,omitempty" doc:"Current stage description"`
	Result      models.JSON     `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
	CompletedAt string          `json:"completedAt,omitempty"`
	Assets      []AssetResponse `json:"assets,omitempty"`
}

// AssetResponse is the wire shape of a produced artifact.
type AssetResponse struct {
	ID          string  `json:"id" doc:"Asset ULID, servable via /v1/assets/{id}"`
	Kind        string  `json:"kind"`
	URL         string  `json:"url"`
	SizeBytes   int64   `json:"sizeBytes"`
	DurationSec float64 `json:"durationSec,omitempty"`
}

// toJobResponse maps a job row and its assets onto the wire shape.
func toJobResponse(job *models.Job, assets []*models.Asset) JobResponse {
	resp := JobResponse{
		ID:        job.ID.String(),
		Type:      string(job.Type),
		Status:    string(job.Status),
		Progress:  job.Progress,
		Message:   job.StatusMessage,
		Result:    job.Result,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: job.UpdatedAt.UTC().Format(timeFormat),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.UTC().Format(timeFormat)
	}
	for _, asset := range assets {
		resp.Assets = append(resp.Assets, AssetResponse{
			ID:          asset.ID.String(),
			Kind:        string(asset.Kind),
			URL:         asset.URL,
			SizeBytes:   asset.SizeBytes,
			DurationSec: asset.DurationSec,
		})
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// apiError translates a classified service error into the HTTP error model.
func apiError(err error) error {
	switch models.Classify(err) {
	case models.ErrClassInvalidRequest:
		return huma.NewError(http.StatusBadRequest, err.Error())
	case models.ErrClassUnauthorized:
		return huma.NewError(http.StatusUnauthorized, err.Error())
	case models.ErrClassRateLimited:
		return huma.NewError(http.StatusTooManyRequests, err.Error())
	case models.ErrClassDependencyUnavailable:
		return huma.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return huma.NewError(http.StatusInternalServerError, "internal error")
	}
}
