package http

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/recommend"
)

// RecommendHandler handles POST /recommend requests.
type RecommendHandler struct {
	recommender *recommend.Recommender
	metrics     *metrics.Metrics
}

// NewRecommendHandler creates a recommendation handler.
func NewRecommendHandler(recommender *recommend.Recommender, m *metrics.Metrics) *RecommendHandler {
	return &RecommendHandler{recommender: recommender, metrics: m}
}

// ServeHTTP handles the recommendation request. Ranking failures map to
// 504 when the budget ran out and 502 otherwise; the degraded path is a
// normal 200 with degraded set.
func (h *RecommendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req recommend.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "DECODE_FAILED", requestID)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "MISSING_FIELD", requestID)
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative", "VALIDATION_FAILED", requestID)
		return
	}

	var timer *prometheus.Timer
	if h.metrics != nil {
		timer = prometheus.NewTimer(h.metrics.RecommendLatency)
	}

	resp, err := h.recommender.Recommend(r.Context(), req)
	if timer != nil {
		timer.ObserveDuration()
	}
	if err != nil {
		status := http.StatusBadGateway
		var merr *meridianerrors.MeridianError
		if errors.As(err, &merr) && merr.Code == meridianerrors.CodeRankingTimeout {
			status = http.StatusGatewayTimeout
		}
		if h.metrics != nil {
			h.metrics.RecommendRequests.WithLabelValues("error").Inc()
		}
		writeError(w, status, "ranking source unavailable", meridianerrors.GetCode(err), requestID)
		return
	}

	if h.metrics != nil {
		outcome := "full"
		if resp.Degraded {
			outcome = "degraded"
		}
		h.metrics.RecommendRequests.WithLabelValues(outcome).Inc()
	}

	writeJSON(w, http.StatusOK, resp)
}
