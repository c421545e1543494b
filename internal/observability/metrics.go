package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the service.
// All instruments are registered against the registry passed to NewMetrics so
// tests can use isolated registries.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	JobsCreatedTotal   *prometheus.CounterVec
	JobsSucceededTotal *prometheus.CounterVec
	JobsFailedTotal    *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec

	TranscoderErrorsTotal   prometheus.Counter
	TranscoderAvailable     prometheus.Gauge
	TranscoderStageDuration *prometheus.HistogramVec

	RateLimitRejectsTotal prometheus.Counter
	WorkersActive         *prometheus.GaugeVec
}

// NewMetrics creates and registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "songforge",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "songforge",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route"}),

		JobsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "songforge",
			Name:      "jobs_created_total",
			Help:      "Total jobs enqueued by type.",
		}, []string{"type"}),

		JobsSucceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "songforge",
			Name:      "jobs_succeeded_total",
			Help:      "Total jobs that reached the succeeded state by type.",
		}, []string{"type"}),

		JobsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "songforge",
			Name:      "jobs_failed_total",
			Help:      "Total jobs that reached the failed state by type.",
		}, []string{"type"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "songforge",
			Name:      "job_duration_seconds",
			Help:      "Job execution duration in seconds by type.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"type"}),

		TranscoderErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "songforge",
			Name:      "transcoder_errors_total",
			Help:      "Total transcoder invocations that exited non-zero or timed out.",
		}),

		TranscoderAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "songforge",
			Name:      "transcoder_available",
			Help:      "1 when the transcoder and its probe tool are reachable, else 0.",
		}),

		TranscoderStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "songforge",
			Name:      "transcoder_stage_duration_seconds",
			Help:      "Duration of render pipeline stages in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),

		RateLimitRejectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "songforge",
			Name:      "rate_limit_rejects_total",
			Help:      "Total requests rejected by the per-key rate limiter.",
		}),

		WorkersActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "songforge",
			Name:      "workers_active",
			Help:      "Number of workers currently executing a job, by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.JobsCreatedTotal,
		m.JobsSucceededTotal,
		m.JobsFailedTotal,
		m.JobDuration,
		m.TranscoderErrorsTotal,
		m.TranscoderAvailable,
		m.TranscoderStageDuration,
		m.RateLimitRejectsTotal,
		m.WorkersActive,
	)

	return m
}
