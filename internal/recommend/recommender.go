// Package recommend assembles recommendation responses from the ranking
// source and the popularity store.
package recommend

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/meridianlabs/meridian/internal/config"
	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/internal/ranking"
)

// Request is one recommendation request. A zero Limit means the
// configured default.
type Request struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// Popularity is the enrichment attached to a recommended item. A nil
// Popularity on the item means the data was unavailable, which is
// different from an item nobody has interacted with.
type Popularity struct {
	UniqueUsers       int64 `json:"unique_users"`
	TotalInteractions int64 `json:"total_interactions"`
}

// Item is one recommended item.
type Item struct {
	ItemID     string      `json:"item_id"`
	Score      float64     `json:"score"`
	Popularity *Popularity `json:"popularity"`
}

// Response is a complete recommendation response. Degraded is true when
// the ranked list is served without popularity enrichment.
type Response struct {
	UserID    string  `json:"user_id"`
	Items     []Item  `json:"recommendations"`
	Degraded  bool    `json:"degraded"`
	LatencyMs float64 `json:"latency_ms"`
}

// Recommender orchestrates one recommendation per request: rankings
// first under their own sub-budget, then popularity under its own. A
// ranking failure fails the request; a popularity failure only degrades
// it. The two failure modes are never mixed up: a fabricated ranked list
// would look authoritative while being garbage, while missing popularity
// counts are visible to the caller as null.
type Recommender struct {
	source   ranking.Source
	popStore ranking.PopularityStore
	cfg      config.ServingConfig
	logger   *log.Logger

	now func() time.Time
}

// NewRecommender creates a recommender.
func NewRecommender(source ranking.Source, popStore ranking.PopularityStore, cfg config.ServingConfig) *Recommender {
	return &Recommender{
		source:   source,
		popStore: popStore,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[recommend] ", log.LstdFlags),
		now:      time.Now,
	}
}

// Recommend serves one request. The returned error is nil for both the
// full and the degraded outcome; only a ranking failure surfaces as an
// error, carrying a DOWNSTREAM code the transport maps onto a status.
func (r *Recommender) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := r.now()

	limit := req.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}
	if r.cfg.MaxLimit > 0 && limit > r.cfg.MaxLimit {
		limit = r.cfg.MaxLimit
	}

	rankCtx, cancelRank := context.WithTimeout(ctx, r.cfg.RankingTimeout)
	entries, err := r.source.TopK(rankCtx, req.UserID, limit)
	cancelRank()
	if err != nil {
		return nil, r.classifyRankingError(err, rankCtx)
	}

	items := make([]Item, 0, len(entries))
	itemIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{ItemID: e.ItemID, Score: e.Score})
		itemIDs = append(itemIDs, e.ItemID)
	}

	resp := &Response{
		UserID: req.UserID,
		Items:  items,
	}

	if len(itemIDs) > 0 {
		popCtx, cancelPop := context.WithTimeout(ctx, r.cfg.PopularityTimeout)
		stats, err := r.popStore.Stats(popCtx, itemIDs)
		cancelPop()
		if err != nil {
			// The ranked list is still correct without enrichment.
			r.logger.Printf("serving degraded response for %s: popularity lookup failed: %v", req.UserID, err)
			resp.Degraded = true
		} else {
			for i := range resp.Items {
				if agg, ok := stats[resp.Items[i].ItemID]; ok {
					resp.Items[i].Popularity = &Popularity{
						UniqueUsers:       agg.UniqueUsers,
						TotalInteractions: agg.TotalInteractions,
					}
				}
			}
		}
	}

	resp.LatencyMs = float64(r.now().Sub(start)) / float64(time.Millisecond)
	return resp, nil
}

// classifyRankingError ensures every ranking failure carries a
// DOWNSTREAM code, distinguishing exhausted budgets from plain failures.
func (r *Recommender) classifyRankingError(err error, rankCtx context.Context) error {
	var merr *meridianerrors.MeridianError
	if errors.As(err, &merr) && merr.Category == meridianerrors.ErrCategoryDownstream {
		return err
	}
	if rankCtx.Err() == context.DeadlineExceeded {
		return meridianerrors.NewDownstreamError(meridianerrors.CodeRankingTimeout,
			"ranking source timed out", err)
	}
	return meridianerrors.NewDownstreamError(meridianerrors.CodeRankingUnavailable,
		"ranking source failed", err)
}
