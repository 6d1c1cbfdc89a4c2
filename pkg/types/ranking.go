package types

import "time"

// RankingEntry is a scored item for a user, produced by the offline
// training cycle. Read-only to the serving path.
type RankingEntry struct {
	UserID string  `json:"user_id"`
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// PopularityAggregate holds item-level popularity statistics refreshed on
// the aggregate store's own cadence. Staleness is observable via AsOf.
type PopularityAggregate struct {
	ItemID            string    `json:"item_id"`
	UniqueUsers       int64     `json:"unique_users"`
	TotalInteractions int64     `json:"total_interactions"`
	AsOf              time.Time `json:"as_of"`
}
