package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridianlabs/meridian/internal/config"
	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/pkg/types"
)

type stubSource struct {
	entries []types.RankingEntry
	err     error
	delay   time.Duration
}

func (s *stubSource) TopK(ctx context.Context, userID string, k int) ([]types.RankingEntry, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.entries) {
		return s.entries[:k], nil
	}
	return s.entries, nil
}

func (s *stubSource) Close() error { return nil }

type stubPopStore struct {
	stats map[string]types.PopularityAggregate
	err   error
}

func (s *stubPopStore) Stats(ctx context.Context, itemIDs []string) (map[string]types.PopularityAggregate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stats, nil
}

func servingCfg() config.ServingConfig {
	return config.ServingConfig{
		RankingTimeout:    100 * time.Millisecond,
		PopularityTimeout: 50 * time.Millisecond,
		DefaultLimit:      10,
		MaxLimit:          100,
	}
}

func TestRecommend_FullResponse(t *testing.T) {
	source := &stubSource{entries: []types.RankingEntry{
		{UserID: "user_123", ItemID: "item_A", Score: 0.9},
		{UserID: "user_123", ItemID: "item_B", Score: 0.8},
	}}
	pop := &stubPopStore{stats: map[string]types.PopularityAggregate{
		"item_A": {ItemID: "item_A", UniqueUsers: 5, TotalInteractions: 20},
		"item_B": {ItemID: "item_B", UniqueUsers: 3, TotalInteractions: 10},
	}}

	r := NewRecommender(source, pop, servingCfg())
	resp, err := r.Recommend(context.Background(), Request{UserID: "user_123", Limit: 2})
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}

	if resp.Degraded {
		t.Error("full response must not be degraded")
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0].ItemID != "item_A" || resp.Items[0].Score != 0.9 {
		t.Errorf("unexpected first item: %+v", resp.Items[0])
	}
	p := resp.Items[0].Popularity
	if p == nil || p.UniqueUsers != 5 || p.TotalInteractions != 20 {
		t.Errorf("unexpected popularity for item_A: %+v", p)
	}
	if resp.LatencyMs < 0 {
		t.Errorf("latency must be reported: %v", resp.LatencyMs)
	}
}

func TestRecommend_SubMillisecondLatencyIsFractional(t *testing.T) {
	source := &stubSource{entries: []types.RankingEntry{
		{UserID: "u", ItemID: "item_A", Score: 0.9},
	}}
	pop := &stubPopStore{stats: map[string]types.PopularityAggregate{}}

	r := NewRecommender(source, pop, servingCfg())
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ticks := 0
	r.now = func() time.Time {
		t := base.Add(time.Duration(ticks) * 250 * time.Microsecond)
		ticks++
		return t
	}

	resp, err := r.Recommend(context.Background(), Request{UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.LatencyMs != 0.25 {
		t.Errorf("expected 0.25ms latency, got %v", resp.LatencyMs)
	}
}

func TestRecommend_DefaultLimit(t *testing.T) {
	entries := make([]types.RankingEntry, 25)
	for i := range entries {
		entries[i] = types.RankingEntry{UserID: "u", ItemID: string(rune('a' + i)), Score: 1 - float64(i)/100}
	}
	source := &stubSource{entries: entries}
	pop := &stubPopStore{stats: map[string]types.PopularityAggregate{}}

	r := NewRecommender(source, pop, servingCfg())
	resp, err := r.Recommend(context.Background(), Request{UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 10 {
		t.Errorf("expected the default limit of 10 items, got %d", len(resp.Items))
	}
}

func TestRecommend_RankingFailureIsFatal(t *testing.T) {
	source := &stubSource{err: errors.New("connection refused")}
	pop := &stubPopStore{stats: map[string]types.PopularityAggregate{}}

	r := NewRecommender(source, pop, servingCfg())
	resp, err := r.Recommend(context.Background(), Request{UserID: "user_123"})
	if err == nil {
		t.Fatal("expected error when ranking fails")
	}
	if resp != nil {
		t.Error("no response may be fabricated on ranking failure")
	}

	var merr *meridianerrors.MeridianError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MeridianError, got %T", err)
	}
	if merr.Code != meridianerrors.CodeRankingUnavailable {
		t.Errorf("expected RANKING_UNAVAILABLE, got %s", merr.Code)
	}
}

func TestRecommend_RankingTimeout(t *testing.T) {
	source := &stubSource{
		entries: []types.RankingEntry{{UserID: "u", ItemID: "i", Score: 1}},
		delay:   time.Second,
	}
	pop := &stubPopStore{stats: map[string]types.PopularityAggregate{}}

	cfg := servingCfg()
	cfg.RankingTimeout = 10 * time.Millisecond
	r := NewRecommender(source, pop, cfg)

	_, err := r.Recommend(context.Background(), Request{UserID: "u"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var merr *meridianerrors.MeridianError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MeridianError, got %T", err)
	}
	if merr.Code != meridianerrors.CodeRankingTimeout {
		t.Errorf("expected RANKING_TIMEOUT, got %s", merr.Code)
	}
}

func TestRecommend_PopularityFailureDegrades(t *testing.T) {
	source := &stubSource{entries: []types.RankingEntry{
		{UserID: "user_123", ItemID: "item_A", Score: 0.9},
	}}
	pop := &stubPopStore{err: errors.New("database locked")}

	r := NewRecommender(source, pop, servingCfg())
	resp, err := r.Recommend(context.Background(), Request{UserID: "user_123"})
	if err != nil {
		t.Fatalf("popularity failure must not fail the request: %v", err)
	}

	if !resp.Degraded {
		t.Error("expected degraded response")
	}
	if len(resp.Items) != 1 {
		t.Fatalf("ranked list must survive degradation, got %d items", len(resp.Items))
	}
	if resp.Items[0].Popularity != nil {
		t.Error("degraded items must carry null popularity, not zeros")
	}
	if resp.LatencyMs < 0 {
		t.Error("latency must be reported on the degraded branch too")
	}
}

func TestRecommend_PartialPopularityIsNotDegraded(t *testing.T) {
	source := &stubSource{entries: []types.RankingEntry{
		{UserID: "u", ItemID: "item_A", Score: 0.9},
		{UserID: "u", ItemID: "item_cold", Score: 0.5},
	}}
	pop := &stubPopStore{stats: map[string]types.PopularityAggregate{
		"item_A": {ItemID: "item_A", UniqueUsers: 5, TotalInteractions: 20},
	}}

	r := NewRecommender(source, pop, servingCfg())
	resp, err := r.Recommend(context.Background(), Request{UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Degraded {
		t.Error("a cold item does not degrade the response")
	}
	if resp.Items[0].Popularity == nil {
		t.Error("item_A should carry popularity")
	}
	if resp.Items[1].Popularity != nil {
		t.Error("cold item should carry null popularity")
	}
}

func TestRecommend_EmptyRankingList(t *testing.T) {
	source := &stubSource{}
	pop := &stubPopStore{stats: map[string]types.PopularityAggregate{}}

	r := NewRecommender(source, pop, servingCfg())
	resp, err := r.Recommend(context.Background(), Request{UserID: "user_new"})
	if err != nil {
		t.Fatalf("empty ranking is a valid outcome: %v", err)
	}
	if len(resp.Items) != 0 {
		t.Errorf("expected empty items, got %v", resp.Items)
	}
	if resp.Degraded {
		t.Error("empty list is not a degraded response")
	}
}
