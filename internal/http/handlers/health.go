package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/songforge/songforge/internal/database"
	"github.com/songforge/songforge/internal/repository"
	"github.com/songforge/songforge/internal/storage"
	"github.com/songforge/songforge/internal/transcoder"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	jobRepo   repository.JobRepository
	prober    *transcoder.Prober
	store     storage.Store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now()}
}

// WithDB sets the database for liveness checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithJobRepository sets the repository for queue depth reporting.
func (h *HealthHandler) WithJobRepository(jobRepo repository.JobRepository) *HealthHandler {
	h.jobRepo = jobRepo
	return h
}

// WithProber sets the transcoder prober for capability checks.
func (h *HealthHandler) WithProber(prober *transcoder.Prober) *HealthHandler {
	h.prober = prober
	return h
}

// WithStore sets the asset store for reachability checks.
func (h *HealthHandler) WithStore(store storage.Store) *HealthHandler {
	h.store = store
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthResponse
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status        string           `json:"status" enum:"healthy,degraded"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds float64          `json:"uptimeSeconds"`
	Components    HealthComponents `json:"components"`
	Queue         map[string]int64 `json:"queue,omitempty" doc:"Job counts by status"`
}

// HealthComponents reports per-dependency health.
type HealthComponents struct {
	Database   ComponentHealth `json:"database"`
	Transcoder ComponentHealth `json:"transcoder"`
	Storage    ComponentHealth `json:"storage"`
}

// ComponentHealth is one dependency's status.
type ComponentHealth struct {
	Status string `json:"status" enum:"ok,unavailable"`
	Detail string `json:"detail,omitempty"`
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports service health; 503 while the database or transcoder is unreachable",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()

	dbHealth := ComponentHealth{Status: "ok"}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			dbHealth = ComponentHealth{Status: "unavailable", Detail: err.Error()}
		}
	}

	transcoderHealth := ComponentHealth{Status: "ok"}
	if h.prober != nil {
		caps := h.prober.Probe(ctx)
		if !caps.Available() {
			transcoderHealth = ComponentHealth{
				Status: "unavailable",
				Detail: "transcoder or probe binary not reachable",
			}
		} else {
			transcoderHealth.Detail = caps.TranscoderVersion
		}
	}

	storageHealth := ComponentHealth{Status: "ok"}
	if h.store != nil {
		if err := storage.Probe(ctx, h.store); err != nil {
			storageHealth = ComponentHealth{Status: "unavailable", Detail: err.Error()}
		}
	}

	var queue map[string]int64
	if h.jobRepo != nil && dbHealth.Status == "ok" {
		if counts, err := h.jobRepo.CountByStatus(ctx); err == nil {
			queue = make(map[string]int64, len(counts))
			for status, count := range counts {
				queue[string(status)] = count
			}
		}
	}

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		UptimeSeconds: now.Sub(h.startTime).Seconds(),
		Components: HealthComponents{
			Database:   dbHealth,
			Transcoder: transcoderHealth,
			Storage:    storageHealth,
		},
		Queue: queue,
	}

	status := http.StatusOK
	if dbHealth.Status != "ok" || transcoderHealth.Status != "ok" || storageHealth.Status != "ok" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	return &HealthOutput{Status: status, Body: resp}, nil
}
