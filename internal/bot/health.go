package bot

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler answers platform liveness probes and exposes bot metrics.
func (h *Handler) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	alive := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Bot is running"))
	}
	mux.HandleFunc("GET /{$}", alive)
	mux.HandleFunc("GET /healthz", alive)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

// ObserveSweep records sessions dropped by the expiry janitor.
func (h *Handler) ObserveSweep(removed int) {
	h.metrics.sessionsExpired.Add(float64(removed))
	h.logger.Printf("expired pending photos removed=%d", removed)
}
