package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry           *prometheus.Registry
	updatesTotal       *prometheus.CounterVec
	storiesTotal       *prometheus.CounterVec
	renderDuration     *prometheus.HistogramVec
	sessionSubmissions *prometheus.CounterVec
	sessionResets      *prometheus.CounterVec
	sessionsExpired    prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyframe_bot_updates_total",
			Help: "Chat updates received by kind.",
		}, []string{"kind"}),
		storiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyframe_bot_stories_total",
			Help: "Stories by layout and delivery outcome.",
		}, []string{"layout", "status"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storyframe_bot_render_duration_seconds",
			Help:    "Download, render and upload time of delivered stories.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"layout"}),
		sessionSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyframe_session_submissions_total",
			Help: "Photos by the pairing role they took.",
		}, []string{"role"}),
		sessionResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyframe_session_resets_total",
			Help: "Pairing session resets by outcome.",
		}, []string{"result"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyframe_session_expired_total",
			Help: "Pending photos dropped after the session TTL.",
		}),
	}
	registry.MustRegister(
		m.updatesTotal,
		m.storiesTotal,
		m.renderDuration,
		m.sessionSubmissions,
		m.sessionResets,
		m.sessionsExpired,
	)
	for _, kind := range []string{"command", "photo", "ignored"} {
		m.updatesTotal.WithLabelValues(kind)
	}
	return m
}
