// Package ranking provides adapters over the precomputed ranking scores
// consumed by the recommendation service.
package ranking

import (
	"context"

	"github.com/meridianlabs/meridian/pkg/types"
)

// Source returns a user's top ranked items. Implementations must honor
// the deadline on the context; the caller treats any failure as fatal for
// the request.
type Source interface {
	// TopK returns up to k items for the user, highest score first. An
	// unknown user yields an empty slice, not an error.
	TopK(ctx context.Context, userID string, k int) ([]types.RankingEntry, error)

	// Close releases the underlying connection.
	Close() error
}

// PopularityStore returns popularity aggregates for a set of items.
// Implementations may return partial results; items without data are
// absent from the map.
type PopularityStore interface {
	Stats(ctx context.Context, itemIDs []string) (map[string]types.PopularityAggregate, error)
}
