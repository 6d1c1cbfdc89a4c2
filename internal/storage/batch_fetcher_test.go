package storage

import (
	"context"
	"fmt"
	"testing"
)

func TestBatchFetcher_FetchAll(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var paths []string
	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("raw/date=2024-03-01/hour=09/obj-%02d", i)
		if err := store.Put(ctx, p, []byte(fmt.Sprintf("content-%02d", i))); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	fetcher := NewBatchFetcher(store, 4)
	result, err := fetcher.Fetch(ctx, paths)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Objects) != 20 {
		t.Fatalf("expected 20 objects, got %d", len(result.Objects))
	}
	if string(result.Objects[paths[7]]) != "content-07" {
		t.Errorf("wrong content for %s: %q", paths[7], result.Objects[paths[7]])
	}
}

func TestBatchFetcher_PartialFailure(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "present", []byte("x")); err != nil {
		t.Fatal(err)
	}

	fetcher := NewBatchFetcher(store, 2)
	result, err := fetcher.Fetch(ctx, []string{"present", "missing"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if _, ok := result.Objects["present"]; !ok {
		t.Error("present object should have been fetched")
	}
	if result.Errors["missing"] != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound for missing, got %v", result.Errors["missing"])
	}
}

func TestBatchFetcher_Empty(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	fetcher := NewBatchFetcher(store, 2)
	result, err := fetcher.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Objects) != 0 || len(result.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
