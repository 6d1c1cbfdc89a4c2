package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/partition"
	"github.com/meridianlabs/meridian/internal/storage"
	"github.com/meridianlabs/meridian/pkg/types"
)

func testEvent(t *testing.T) types.ProcessedEvent {
	t.Helper()
	return types.ProcessedEvent{
		InteractionEvent: types.InteractionEvent{
			UserID:      "user_123",
			ItemID:      "item_A",
			Interaction: types.InteractionClick,
			EventTime:   time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC),
			Metadata:    map[string]string{"device_type": "mobile"},
		},
		ProcessedAt: time.Date(2024, 3, 1, 9, 15, 1, 0, time.UTC),
	}
}

func TestWriteEvent_PersistsToPartitionPath(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writer := NewPartitionedWriter(store, 3, time.Millisecond, nil)

	ev := testEvent(t)
	path, duplicate, err := writer.WriteEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}
	if duplicate {
		t.Error("first write should not be a duplicate")
	}

	wantPrefix := "raw/date=2024-03-01/hour=09/"
	if len(path) <= len(wantPrefix) || path[:len(wantPrefix)] != wantPrefix {
		t.Errorf("unexpected object path: %s", path)
	}

	data, err := store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, err := partition.DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if got.UserID != ev.UserID || got.ItemID != ev.ItemID {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestWriteEvent_DuplicateDeliveryIsNoOp(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writer := NewPartitionedWriter(store, 3, time.Millisecond, nil)
	ctx := context.Background()

	first := testEvent(t)
	path1, _, err := writer.WriteEvent(ctx, first)
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	original, err := store.Get(ctx, path1)
	if err != nil {
		t.Fatal(err)
	}

	// Redelivery carries a later processed_at but identical event content.
	second := first
	second.ProcessedAt = first.ProcessedAt.Add(5 * time.Minute)
	path2, duplicate, err := writer.WriteEvent(ctx, second)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if path2 != path1 {
		t.Errorf("redelivery landed on a different path: %s vs %s", path2, path1)
	}
	if !duplicate {
		t.Error("redelivery should be reported as duplicate")
	}

	after, err := store.Get(ctx, path1)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(original) {
		t.Error("redelivery mutated the stored record")
	}
}

// flakyStorage fails PutIfAbsent a fixed number of times before delegating.
type flakyStorage struct {
	storage.ObjectStorage
	failures int
	calls    int
}

func (f *flakyStorage) PutIfAbsent(ctx context.Context, objectPath string, data []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return storage.ErrUploadFailed
	}
	return f.ObjectStorage.PutIfAbsent(ctx, objectPath, data)
}

func TestWriteEvent_RetriesTransientFailures(t *testing.T) {
	base, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	flaky := &flakyStorage{ObjectStorage: base, failures: 2}
	writer := NewPartitionedWriter(flaky, 3, time.Millisecond, nil)

	_, _, err = writer.WriteEvent(context.Background(), testEvent(t))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", flaky.calls)
	}
}

func TestWriteEvent_CountsRetriesAndDuplicates(t *testing.T) {
	base, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	flaky := &flakyStorage{ObjectStorage: base, failures: 2}
	m := metrics.New()
	writer := NewPartitionedWriter(flaky, 3, time.Millisecond, m)
	ctx := context.Background()

	if _, _, err := writer.WriteEvent(ctx, testEvent(t)); err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}
	if got := testutil.ToFloat64(m.WriteRetries); got != 2 {
		t.Errorf("expected 2 retries counted, got %v", got)
	}

	_, duplicate, err := writer.WriteEvent(ctx, testEvent(t))
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if !duplicate {
		t.Fatal("redelivery should be reported as duplicate")
	}
	if got := testutil.ToFloat64(m.RecordsDuplicate); got != 1 {
		t.Errorf("expected 1 duplicate counted, got %v", got)
	}
}

func TestWriteEvent_ExhaustedRetries(t *testing.T) {
	base, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	flaky := &flakyStorage{ObjectStorage: base, failures: 100}
	writer := NewPartitionedWriter(flaky, 3, time.Millisecond, nil)

	_, _, err = writer.WriteEvent(context.Background(), testEvent(t))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	var merr *meridianerrors.MeridianError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MeridianError, got %T", err)
	}
	if merr.Code != meridianerrors.CodeRetriesExhausted {
		t.Errorf("expected code RETRIES_EXHAUSTED, got %s", merr.Code)
	}
	if merr.Retryable {
		t.Error("exhausted retries must not be retryable")
	}
	if flaky.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", flaky.calls)
	}
}
