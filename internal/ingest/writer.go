package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/partition"
	"github.com/meridianlabs/meridian/internal/storage"
	"github.com/meridianlabs/meridian/pkg/types"
)

// PartitionedWriter persists processed events into raw hourly partitions.
// The object path is derived from event content only, so a redelivered
// event always lands on the same path; the conditional put makes the first
// delivery win and every later delivery a no-op.
type PartitionedWriter struct {
	store       storage.ObjectStorage
	maxAttempts int
	backoffBase time.Duration
	metrics     *metrics.Metrics
	logger      *log.Logger
}

// NewPartitionedWriter creates a writer over the given storage backend.
// A nil metrics disables instrumentation.
func NewPartitionedWriter(store storage.ObjectStorage, maxAttempts int, backoffBase time.Duration, m *metrics.Metrics) *PartitionedWriter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = 100 * time.Millisecond
	}
	return &PartitionedWriter{
		store:       store,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		metrics:     m,
		logger:      log.New(log.Writer(), "[writer] ", log.LstdFlags),
	}
}

// WriteEvent persists one event into its raw partition. It returns the
// object path and whether the event was already present. Transient storage
// failures retry with bounded exponential backoff; exhausting the attempts
// surfaces as a non-retryable ingestion error.
func (w *PartitionedWriter) WriteEvent(ctx context.Context, ev types.ProcessedEvent) (string, bool, error) {
	data, err := partition.EncodeRecord(ev)
	if err != nil {
		return "", false, meridianerrors.NewIngestionError(meridianerrors.CodeUploadFailed, "encode event", err)
	}

	key := types.PartitionKeyFor(ev.EventTime)
	objectPath := partition.RawObjectPath(key, types.IdempotencyID(ev.InteractionEvent))

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.store.PutIfAbsent(ctx, objectPath, data)
		if err == nil {
			return objectPath, false, nil
		}
		if errors.Is(err, storage.ErrPreconditionFailed) {
			// Already written by an earlier delivery of the same event.
			if w.metrics != nil {
				w.metrics.RecordsDuplicate.Inc()
			}
			return objectPath, true, nil
		}

		lastErr = err
		if attempt == w.maxAttempts {
			break
		}

		delay := w.backoffBase * time.Duration(1<<(attempt-1))
		w.logger.Printf("write %s attempt %d/%d failed, retrying in %v: %v",
			objectPath, attempt, w.maxAttempts, delay, err)
		if w.metrics != nil {
			w.metrics.WriteRetries.Inc()
		}

		select {
		case <-ctx.Done():
			return "", false, meridianerrors.NewIngestionError(meridianerrors.CodeUploadFailed,
				"write canceled", ctx.Err()).
				WithDetails(map[string]interface{}{"object": objectPath})
		case <-time.After(delay):
		}
	}

	return "", false, meridianerrors.NewIngestionError(meridianerrors.CodeRetriesExhausted,
		fmt.Sprintf("write failed after %d attempts", w.maxAttempts), lastErr).
		WithDetails(map[string]interface{}{"object": objectPath})
}
