// Package ingest validates interaction events from the stream boundary and
// persists them as raw partitioned records.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/meridianlabs/meridian/internal/config"
	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/pkg/types"
)

// Record is one opaque record from the stream transport. Data carries the
// base64-encoded event payload and SequenceNumber identifies the record
// within its shard for error reporting.
type Record struct {
	Data           []byte `json:"data"`
	SequenceNumber string `json:"sequence_number"`
}

// RecordError reports why one record in a batch was rejected.
type RecordError struct {
	SequenceNumber string `json:"sequence_number"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// BatchResult summarizes one batch: every record is either processed or
// rejected, never silently dropped.
type BatchResult struct {
	Processed int           `json:"processed"`
	Rejected  int           `json:"rejected"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// Processor validates incoming records and hands valid events to the writer.
type Processor struct {
	writer      *PartitionedWriter
	allowedKeys map[string]struct{}
	policy      string
	concurrency int64
	logger      *log.Logger

	// now is the processed_at clock, replaceable in tests.
	now func() time.Time
}

// NewProcessor creates a record processor backed by the given writer.
func NewProcessor(writer *PartitionedWriter, cfg config.IngestConfig) *Processor {
	allowed := make(map[string]struct{}, len(cfg.MetadataAllowedKeys))
	for _, k := range cfg.MetadataAllowedKeys {
		allowed[k] = struct{}{}
	}

	concurrency := int64(cfg.WriteConcurrency)
	if concurrency < 1 {
		concurrency = 1
	}

	return &Processor{
		writer:      writer,
		allowedKeys: allowed,
		policy:      cfg.MetadataPolicy,
		concurrency: concurrency,
		logger:      log.New(log.Writer(), "[ingest] ", log.LstdFlags),
		now:         time.Now,
	}
}

// ProcessBatch validates and persists every record in the batch. Records
// that fail validation or exhaust write retries are counted as rejected
// with a per-record error; the rest of the batch still goes through.
func (p *Processor) ProcessBatch(ctx context.Context, records []Record) BatchResult {
	type outcome struct {
		idx int
		err *RecordError
	}

	sem := semaphore.NewWeighted(p.concurrency)
	outcomes := make([]outcome, len(records))
	var wg sync.WaitGroup

	for i, rec := range records {
		ev, recErr := p.decodeAndValidate(rec)
		if recErr != nil {
			outcomes[i] = outcome{idx: i, err: recErr}
			continue
		}

		processed := types.ProcessedEvent{
			InteractionEvent: ev,
			ProcessedAt:      p.now().UTC(),
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = outcome{idx: i, err: &RecordError{
				SequenceNumber: rec.SequenceNumber,
				Code:           meridianerrors.CodeUploadFailed,
				Message:        "batch canceled before write",
			}}
			continue
		}

		wg.Add(1)
		go func(i int, seq string, pe types.ProcessedEvent) {
			defer wg.Done()
			defer sem.Release(1)

			if _, _, err := p.writer.WriteEvent(ctx, pe); err != nil {
				// Only the structured message goes back to the caller;
				// the cause chain stays in the logs.
				code := meridianerrors.CodeUploadFailed
				msg := "write failed"
				var merr *meridianerrors.MeridianError
				if errors.As(err, &merr) {
					code = merr.Code
					msg = merr.Message
				}
				p.logger.Printf("record %s rejected: %v", seq, err)
				outcomes[i] = outcome{idx: i, err: &RecordError{
					SequenceNumber: seq,
					Code:           code,
					Message:        msg,
				}}
			}
		}(i, rec.SequenceNumber, processed)
	}

	wg.Wait()

	result := BatchResult{}
	for _, o := range outcomes {
		if o.err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, *o.err)
		} else {
			result.Processed++
		}
	}

	if result.Rejected > 0 {
		p.logger.Printf("batch complete: %d processed, %d rejected", result.Processed, result.Rejected)
	}
	return result
}

// decodeAndValidate turns one raw record into a validated event, applying
// the metadata key policy at the boundary.
func (p *Processor) decodeAndValidate(rec Record) (types.InteractionEvent, *RecordError) {
	reject := func(code, msg string) (types.InteractionEvent, *RecordError) {
		return types.InteractionEvent{}, &RecordError{
			SequenceNumber: rec.SequenceNumber,
			Code:           code,
			Message:        msg,
		}
	}

	var ev types.InteractionEvent
	if err := json.Unmarshal(rec.Data, &ev); err != nil {
		return reject(meridianerrors.CodeDecodeFailed, "payload is not valid event JSON: "+err.Error())
	}

	if ev.UserID == "" {
		return reject(meridianerrors.CodeMissingField, "user_id is required")
	}
	if ev.ItemID == "" {
		return reject(meridianerrors.CodeMissingField, "item_id is required")
	}
	if ev.Interaction == "" {
		return reject(meridianerrors.CodeMissingField, "interaction_type is required")
	}
	if !ev.Interaction.Valid() {
		return reject(meridianerrors.CodeUnknownInteraction, "unknown interaction_type: "+string(ev.Interaction))
	}
	if ev.EventTime.IsZero() {
		return reject(meridianerrors.CodeInvalidEventTime, "event_time is required")
	}

	if len(ev.Metadata) > 0 {
		kept := make(map[string]string, len(ev.Metadata))
		for k, v := range ev.Metadata {
			if _, ok := p.allowedKeys[k]; !ok {
				if p.policy == config.MetadataPolicyReject {
					return reject(meridianerrors.CodeUnknownMetadataKey, "unknown metadata key: "+k)
				}
				continue
			}
			kept[k] = v
		}
		if len(kept) == 0 {
			kept = nil
		}
		ev.Metadata = kept
	}

	return ev, nil
}
