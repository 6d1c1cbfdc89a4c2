package ranking

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/meridianlabs/meridian/internal/config"
	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/pkg/types"
)

// HTTPSource fetches rankings from a model server. Calls go through a
// circuit breaker so a struggling model server sheds load fast instead of
// eating the full ranking budget on every request.
type HTTPSource struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[[]types.RankingEntry]
	logger   *log.Logger
}

// rankingResponse is the model server's wire format.
type rankingResponse struct {
	Items []struct {
		ItemID string  `json:"item_id"`
		Score  float64 `json:"score"`
	} `json:"items"`
}

// NewHTTPSource creates a ranking source over a model server endpoint.
func NewHTTPSource(cfg config.RankingConfig) *HTTPSource {
	logger := log.New(log.Writer(), "[ranking] ", log.LstdFlags)

	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:    "ranking-source",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("circuit %s: %s -> %s", name, from, to)
		},
	}

	return &HTTPSource{
		endpoint: cfg.Endpoint,
		client:   &http.Client{},
		breaker:  gobreaker.NewCircuitBreaker[[]types.RankingEntry](settings),
		logger:   logger,
	}
}

// TopK fetches the user's top ranked items from the model server.
func (s *HTTPSource) TopK(ctx context.Context, userID string, k int) ([]types.RankingEntry, error) {
	entries, err := s.breaker.Execute(func() ([]types.RankingEntry, error) {
		return s.fetch(ctx, userID, k)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, meridianerrors.NewDownstreamError(meridianerrors.CodeRankingUnavailable,
				"ranking source circuit open", err)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, meridianerrors.NewDownstreamError(meridianerrors.CodeRankingTimeout,
				"ranking source timed out", err)
		}
		return nil, meridianerrors.NewDownstreamError(meridianerrors.CodeRankingUnavailable,
			"ranking source failed", err)
	}
	return entries, nil
}

func (s *HTTPSource) fetch(ctx context.Context, userID string, k int) ([]types.RankingEntry, error) {
	u := fmt.Sprintf("%s/rankings/%s?k=%s", s.endpoint, url.PathEscape(userID), strconv.Itoa(k))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("model server returned %d", resp.StatusCode)
	}

	var body rankingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	// The server is not trusted to honor k.
	if len(body.Items) > k {
		body.Items = body.Items[:k]
	}

	entries := make([]types.RankingEntry, 0, len(body.Items))
	for _, it := range body.Items {
		entries = append(entries, types.RankingEntry{
			UserID: userID,
			ItemID: it.ItemID,
			Score:  it.Score,
		})
	}
	return entries, nil
}

// Close is a no-op; the underlying transport manages its own connections.
func (s *HTTPSource) Close() error {
	return nil
}
