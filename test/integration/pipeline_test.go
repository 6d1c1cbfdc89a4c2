// Package integration provides end-to-end tests for the Meridian pipeline.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/meridianlabs/meridian/internal/aggregate"
	apihttp "github.com/meridianlabs/meridian/internal/api/http"
	"github.com/meridianlabs/meridian/internal/compaction"
	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/ingest"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/ranking"
	"github.com/meridianlabs/meridian/internal/recommend"
	"github.com/meridianlabs/meridian/internal/storage"
	"github.com/meridianlabs/meridian/pkg/types"
)

// TestPipelineFlow exercises the full path: events enter through the
// ingest API, compaction materializes the canonical dataset, the
// popularity refresher aggregates it, and the recommendation API serves
// enriched rankings.
func TestPipelineFlow(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()

	store, err := storage.NewLocalStorage(filepath.Join(tempDir, "storage"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = tempDir
	cfg.Resolve()

	// Ingest: one duplicate delivery and one logical duplicate with a
	// later processed_at are mixed into the batch.
	writer := ingest.NewPartitionedWriter(store, 3, time.Millisecond, nil)
	processor := ingest.NewProcessor(writer, cfg.Ingest)
	ingestRouter := apihttp.NewIngestRouter(processor, cfg.Ingest, metrics.New())

	eventTime := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Hour).Add(15 * time.Minute)
	makeRecord := func(seq, userID, itemID string, it types.InteractionType, offset time.Duration) ingest.Record {
		ev := types.InteractionEvent{
			UserID:      userID,
			ItemID:      itemID,
			Interaction: it,
			EventTime:   eventTime.Add(offset),
			Metadata:    map[string]string{"device_type": "mobile"},
		}
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatal(err)
		}
		return ingest.Record{Data: data, SequenceNumber: seq}
	}

	records := []ingest.Record{
		makeRecord("seq-1", "user_1", "item_A", types.InteractionView, 0),
		makeRecord("seq-2", "user_1", "item_A", types.InteractionClick, time.Minute),
		makeRecord("seq-3", "user_2", "item_A", types.InteractionView, 2*time.Minute),
		makeRecord("seq-4", "user_2", "item_B", types.InteractionPurchase, 3*time.Minute),
		// Exact redelivery of seq-1.
		makeRecord("seq-5", "user_1", "item_A", types.InteractionView, 0),
	}

	body, err := json.Marshal(apihttp.EventsRequest{Records: records})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ingestRouter.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest failed: %d %s", rec.Code, rec.Body.String())
	}

	var result ingest.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Processed != 5 || result.Rejected != 0 {
		t.Fatalf("unexpected ingest result: %+v", result)
	}

	// The redelivered record must not have produced a fifth raw object.
	rawObjects, err := store.List(ctx, "raw/")
	if err != nil {
		t.Fatal(err)
	}
	if len(rawObjects) != 4 {
		t.Fatalf("expected 4 raw objects after dedup, got %d", len(rawObjects))
	}

	// Compact the (closed) window.
	compactor := compaction.NewCompactor(store, cfg.Compaction, nil)
	w := compaction.AlignWindow(types.PartitionKeyFor(eventTime), cfg.Compaction.WindowHours)
	cResult, err := compactor.CompactWindow(ctx, w)
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}
	if cResult.Written != 4 || cResult.Dropped != 0 {
		t.Fatalf("unexpected compaction result: %+v", cResult)
	}

	// Refresh popularity aggregates from the canonical dataset.
	popStore, err := aggregate.NewStore(cfg.Popularity.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer popStore.Close()

	refresher := aggregate.NewRefresher(store, popStore, cfg.Popularity)
	if err := refresher.RefreshOnce(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// Load ranking scores the way the training pipeline would.
	source, err := ranking.NewSQLiteSource(cfg.Ranking.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer source.Close()
	for _, e := range []types.RankingEntry{
		{UserID: "user_1", ItemID: "item_A", Score: 0.9},
		{UserID: "user_1", ItemID: "item_B", Score: 0.8},
	} {
		if err := source.Upsert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	// Serve a recommendation over the pipeline output.
	recommender := recommend.NewRecommender(source, popStore, cfg.Serving)
	serveRouter := apihttp.NewServeRouter(recommender, metrics.New())

	reqBody, _ := json.Marshal(recommend.Request{UserID: "user_1", Limit: 2})
	req = httptest.NewRequest(http.MethodPost, "/recommend", bytes.NewReader(reqBody))
	rec = httptest.NewRecorder()
	serveRouter.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("recommend failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp recommend.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Degraded {
		t.Error("expected a full response")
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}

	// item_A: user_1 and user_2 interacted, 3 interactions total.
	itemA := resp.Items[0]
	if itemA.ItemID != "item_A" {
		t.Fatalf("expected item_A first, got %s", itemA.ItemID)
	}
	if itemA.Popularity == nil || itemA.Popularity.UniqueUsers != 2 || itemA.Popularity.TotalInteractions != 3 {
		t.Errorf("unexpected item_A popularity: %+v", itemA.Popularity)
	}

	// item_B: one purchase by user_2.
	itemB := resp.Items[1]
	if itemB.Popularity == nil || itemB.Popularity.UniqueUsers != 1 || itemB.Popularity.TotalInteractions != 1 {
		t.Errorf("unexpected item_B popularity: %+v", itemB.Popularity)
	}
}

// TestPipelineReprocessing verifies that replaying an entire batch and
// recompacting leaves the canonical dataset byte-identical.
func TestPipelineReprocessing(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()

	store, err := storage.NewLocalStorage(filepath.Join(tempDir, "storage"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = tempDir
	cfg.Resolve()

	writer := ingest.NewPartitionedWriter(store, 3, time.Millisecond, nil)
	processor := ingest.NewProcessor(writer, cfg.Ingest)

	eventTime := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Hour).Add(30 * time.Minute)
	var records []ingest.Record
	for i, userID := range []string{"user_1", "user_2", "user_3"} {
		ev := types.InteractionEvent{
			UserID:      userID,
			ItemID:      "item_X",
			Interaction: types.InteractionView,
			EventTime:   eventTime.Add(time.Duration(i) * time.Minute),
		}
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, ingest.Record{Data: data, SequenceNumber: "seq"})
	}

	if res := processor.ProcessBatch(ctx, records); res.Processed != 3 {
		t.Fatalf("first ingest: %+v", res)
	}

	compactor := compaction.NewCompactor(store, cfg.Compaction, nil)
	w := compaction.AlignWindow(types.PartitionKeyFor(eventTime), cfg.Compaction.WindowHours)
	if _, err := compactor.CompactWindow(ctx, w); err != nil {
		t.Fatal(err)
	}

	snapshot := func() map[string]string {
		objects, err := store.List(ctx, "processed/")
		if err != nil {
			t.Fatal(err)
		}
		out := make(map[string]string, len(objects))
		for _, obj := range objects {
			data, err := store.Get(ctx, obj)
			if err != nil {
				t.Fatal(err)
			}
			out[obj] = string(data)
		}
		return out
	}
	before := snapshot()

	// Replay everything and compact again.
	if res := processor.ProcessBatch(ctx, records); res.Processed != 3 {
		t.Fatalf("replay ingest: %+v", res)
	}
	if _, err := compactor.CompactWindow(ctx, w); err != nil {
		t.Fatal(err)
	}

	after := snapshot()
	if len(after) != len(before) {
		t.Fatalf("replay changed canonical object count: %d vs %d", len(after), len(before))
	}
	for obj, content := range before {
		if after[obj] != content {
			t.Errorf("replay changed bytes of %s", obj)
		}
	}
}
