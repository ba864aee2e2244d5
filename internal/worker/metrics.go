package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	renderFailures       *prometheus.CounterVec
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	outputBytesTotal     prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyframe_worker_jobs_total",
			Help: "Story render jobs by layout and final status.",
		}, []string{"layout", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storyframe_worker_job_duration_seconds",
			Help:    "Wall time of each story render job.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"layout", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storyframe_worker_active_jobs",
			Help: "Story renders currently holding a worker slot.",
		}),
		renderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyframe_worker_render_failures_total",
			Help: "Failed render attempts by pipeline stage and input.",
		}, []string{"stage", "input"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyframe_worker_webhook_failures_total",
			Help: "Webhook notifications that exhausted their retries.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyframe_usage_pixels_processed_total",
			Help: "Source pixels decoded across successful jobs.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyframe_usage_output_bytes_total",
			Help: "Encoded story bytes produced across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyframe_usage_compute_time_ms_total",
			Help: "Compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.renderFailures,
		m.webhookFailures,
		m.pixelsProcessedTotal,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
