package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/songforge/songforge/internal/http/middleware"
	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/planner"
	"github.com/songforge/songforge/internal/renderer"
	"github.com/songforge/songforge/internal/scheduler"
	"github.com/songforge/songforge/internal/service"
)

// maxGenerateBody caps the request body at 1MB.
const maxGenerateBody = 1 << 20

// Display names accepted in videoStyles.
const (
	styleLyricVideo        = "Lyric Video"
	styleOfficialVideo     = "Official Music Video"
	styleAbstractVisualize = "Abstract Visualizer"
)

// GenerateHandler handles the music generation endpoint.
type GenerateHandler struct {
	svc *service.GenerationService
}

// NewGenerateHandler creates a new generation handler.
func NewGenerateHandler(svc *service.GenerationService) *GenerateHandler {
	return &GenerateHandler{svc: svc}
}

// GenerateInput is the input for the generate endpoint.
type GenerateInput struct {
	Body GenerateRequest
}

// GenerateRequest is the generation request body.
type GenerateRequest struct {
	MusicPrompt       string   `json:"musicPrompt" minLength:"1" maxLength:"500" doc:"Free-text description of the desired track"`
	Genres            []string `json:"genres" minItems:"1" maxItems:"5"`
	DurationSec       int      `json:"durationSec" minimum:"30" maximum:"120"`
	ArtistInspiration []string `json:"artistInspiration,omitempty" maxItems:"5"`
	Lyrics            string   `json:"lyrics,omitempty" maxLength:"2000"`
	VocalLanguages    []string `json:"vocalLanguages,omitempty"`
	GenerateVideo     bool     `json:"generateVideo,omitempty"`
	VideoStyles       []string `json:"videoStyles,omitempty" enum:"Lyric Video,Official Music Video,Abstract Visualizer"`
}

// GenerateOutput is the output for the generate endpoint.
type GenerateOutput struct {
	Body GenerateResponse
}

// GenerateResponse acknowledges an accepted generation request.
type GenerateResponse struct {
	JobID  string      `json:"jobId"`
	Status string      `json:"status" enum:"queued,running,succeeded,failed,cancelled"`
	Reused bool        `json:"reused" doc:"True when an equivalent request was already accepted"`
	Result models.JSON `json:"result,omitempty" doc:"Present when a reused job already succeeded"`
}

// Register registers the generate route with the API.
func (h *GenerateHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate",
		Method:        http.MethodPost,
		Path:          "/v1/generate",
		Summary:       "Generate a track",
		Description:   "Validates and enqueues a music generation pipeline. Equivalent requests within the idempotency window return the existing job.",
		Tags:          []string{"Generation"},
		DefaultStatus: http.StatusAccepted,
		MaxBodyBytes:  maxGenerateBody,
	}, h.Generate)
}

// Generate validates, rate-limits, and enqueues a generation request.
func (h *GenerateHandler) Generate(ctx context.Context, input *GenerateInput) (*GenerateOutput, error) {
	key := middleware.ApiKeyFromContext(ctx)
	if key == nil {
		return nil, huma.NewError(http.StatusUnauthorized, "missing bearer token")
	}

	if err := h.svc.Admit(ctx, key); err != nil {
		return nil, apiError(err)
	}

	params := toPipelineParams(input.Body)
	job, reused, err := h.svc.Generate(ctx, key, params)
	if err != nil {
		return nil, apiError(err)
	}

	resp := GenerateResponse{
		JobID:  job.ID.String(),
		Status: string(job.Status),
		Reused: reused,
	}
	if reused && job.Status == models.JobStatusSucceeded {
		resp.Result = job.Result
	}
	return &GenerateOutput{Body: resp}, nil
}

// toPipelineParams maps the wire request onto the pipeline job payload. The
// first requested video style wins; naming a style implies generateVideo.
func toPipelineParams(req GenerateRequest) scheduler.PipelineParams {
	params := scheduler.PipelineParams{
		Request: planner.Request{
			Prompt:            req.MusicPrompt,
			Genres:            req.Genres,
			DurationSec:       req.DurationSec,
			ArtistInspiration: req.ArtistInspiration,
			Lyrics:            req.Lyrics,
			VocalLanguages:    req.VocalLanguages,
		},
		GenerateVideo: req.GenerateVideo || len(req.VideoStyles) > 0,
	}
	if len(req.VideoStyles) > 0 {
		params.VideoStyle = videoStyleFor(req.VideoStyles[0])
	}
	return params
}

func videoStyleFor(display string) string {
	switch display {
	case styleLyricVideo:
		return renderer.VideoStyleLyric
	case styleAbstractVisualize:
		return renderer.VideoStyleSpectrum
	case styleOfficialVideo:
		return renderer.VideoStyleWaveform
	default:
		return ""
	}
}
