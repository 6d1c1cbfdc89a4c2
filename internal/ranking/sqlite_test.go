package ranking

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/meridianlabs/meridian/pkg/types"
)

func newTestSource(t *testing.T) *SQLiteSource {
	t.Helper()
	s, err := NewSQLiteSource(filepath.Join(t.TempDir(), "rankings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSource_TopK(t *testing.T) {
	s := newTestSource(t)
	ctx := context.Background()

	scores := []types.RankingEntry{
		{UserID: "user_123", ItemID: "item_A", Score: 0.9},
		{UserID: "user_123", ItemID: "item_B", Score: 0.8},
		{UserID: "user_123", ItemID: "item_C", Score: 0.95},
		{UserID: "user_other", ItemID: "item_Z", Score: 1.0},
	}
	for _, e := range scores {
		if err := s.Upsert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.TopK(ctx, "user_123", 2)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ItemID != "item_C" || got[1].ItemID != "item_A" {
		t.Errorf("wrong order: %v", got)
	}
	for _, e := range got {
		if e.UserID != "user_123" {
			t.Errorf("leaked another user's entry: %+v", e)
		}
	}
}

func TestSQLiteSource_UnknownUserIsEmptyNotError(t *testing.T) {
	s := newTestSource(t)

	got, err := s.TopK(context.Background(), "user_unknown", 10)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestSQLiteSource_UpsertReplacesScore(t *testing.T) {
	s := newTestSource(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, types.RankingEntry{UserID: "u", ItemID: "i", Score: 0.1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, types.RankingEntry{UserID: "u", ItemID: "i", Score: 0.7}); err != nil {
		t.Fatal(err)
	}

	got, err := s.TopK(ctx, "u", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry after upsert, got %d", len(got))
	}
	if got[0].Score != 0.7 {
		t.Errorf("expected updated score 0.7, got %v", got[0].Score)
	}
}
