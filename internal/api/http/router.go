package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/meridianlabs/meridian/internal/compaction"
	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/ingest"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/recommend"
)

// newRouter builds the base router with the shared middleware chain.
func newRouter(m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(ContentTypeMiddleware)

	r.Get("/health", handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// NewIngestRouter builds the ingest service router.
func NewIngestRouter(processor *ingest.Processor, cfg config.IngestConfig, m *metrics.Metrics) http.Handler {
	var limiter *rate.Limiter
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	}

	r := newRouter(m)
	r.Method(http.MethodPost, "/v1/events", NewIngestHandler(processor, limiter, cfg.MaxBatchRecords, m))
	return r
}

// NewServeRouter builds the recommendation service router.
func NewServeRouter(recommender *recommend.Recommender, m *metrics.Metrics) http.Handler {
	r := newRouter(m)
	r.Method(http.MethodPost, "/recommend", NewRecommendHandler(recommender, m))
	return r
}

// NewCompactRouter builds the compaction service router. The trigger
// endpoint runs one cycle synchronously, for operators and tests.
func NewCompactRouter(daemon *compaction.Daemon, m *metrics.Metrics) http.Handler {
	r := newRouter(m)
	r.Post("/trigger", func(w http.ResponseWriter, req *http.Request) {
		if err := daemon.TriggerCompaction(req.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "", GetRequestID(req.Context()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// handleHealth reports liveness.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
