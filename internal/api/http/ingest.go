package http

import (
	"net/http"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/meridianlabs/meridian/internal/ingest"
	"github.com/meridianlabs/meridian/internal/metrics"
)

// EventsRequest is a batch of stream records.
type EventsRequest struct {
	Records []ingest.Record `json:"records"`
}

// IngestHandler handles POST /v1/events requests.
type IngestHandler struct {
	processor *ingest.Processor
	limiter   *rate.Limiter
	maxBatch  int
	metrics   *metrics.Metrics
}

// NewIngestHandler creates an ingest handler. A nil limiter disables rate
// limiting.
func NewIngestHandler(processor *ingest.Processor, limiter *rate.Limiter, maxBatch int, m *metrics.Metrics) *IngestHandler {
	return &IngestHandler{
		processor: processor,
		limiter:   limiter,
		maxBatch:  maxBatch,
		metrics:   m,
	}
}

// ServeHTTP handles the batch ingest request.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "ingest rate limit exceeded", "", requestID)
		return
	}

	var req EventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "DECODE_FAILED", requestID)
		return
	}

	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records is required and must be non-empty", "EMPTY_BATCH", requestID)
		return
	}
	if h.maxBatch > 0 && len(req.Records) > h.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "batch exceeds the record limit", "", requestID)
		return
	}

	result := h.processor.ProcessBatch(r.Context(), req.Records)

	if h.metrics != nil {
		h.metrics.RecordsProcessed.Add(float64(result.Processed))
		for _, re := range result.Errors {
			h.metrics.RecordsRejected.WithLabelValues(re.Code).Inc()
		}
	}

	writeJSON(w, http.StatusOK, result)
}
