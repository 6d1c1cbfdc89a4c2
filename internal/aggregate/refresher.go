package aggregate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/partition"
	"github.com/meridianlabs/meridian/internal/storage"
	"github.com/meridianlabs/meridian/pkg/types"
)

// Refresher periodically recomputes popularity aggregates from the
// canonical dataset. It only reads partitions that finished compaction,
// so a refresh never sees half-written windows.
type Refresher struct {
	store    storage.ObjectStorage
	fetcher  *storage.BatchFetcher
	popStore *Store
	interval time.Duration
	lookback int
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// NewRefresher creates a popularity refresher.
func NewRefresher(store storage.ObjectStorage, popStore *Store, cfg config.PopularityConfig) *Refresher {
	lookback := cfg.LookbackHours
	if lookback < 1 {
		lookback = 24
	}
	return &Refresher{
		store:    store,
		fetcher:  storage.NewBatchFetcher(store, 8),
		popStore: popStore,
		interval: cfg.RefreshInterval,
		lookback: lookback,
		logger:   log.New(log.Writer(), "[popularity] ", log.LstdFlags),
		now:      time.Now,
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("aggregate: refresher is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Stop gracefully stops the refresher.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.cancel()
	<-r.done
	r.running = false
	return nil
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)

	if err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Printf("initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Printf("refresh failed: %v", err)
			}
		}
	}
}

// RefreshOnce scans the lookback range of canonical partitions and swaps
// in the recomputed aggregates.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	asOf := r.now().UTC()

	type itemStats struct {
		users map[string]struct{}
		total int64
	}
	stats := make(map[string]*itemStats)

	key := types.PartitionKeyFor(asOf.Add(-time.Duration(r.lookback) * time.Hour))
	for i := 0; i < r.lookback; i++ {
		done, err := r.store.Exists(ctx, partition.CompletionMarkerPath(key))
		if err != nil {
			return fmt.Errorf("check partition %s: %w", key, err)
		}
		if !done {
			key = key.Next()
			continue
		}

		objects, err := r.store.List(ctx, partition.CanonicalPartitionPrefix(key))
		if err != nil {
			return fmt.Errorf("list partition %s: %w", key, err)
		}
		records := objects[:0:0]
		for _, obj := range objects {
			if partition.ObjectID(obj) != "_SUCCESS" {
				records = append(records, obj)
			}
		}

		fetched, err := r.fetcher.Fetch(ctx, records)
		if err != nil {
			return err
		}
		for obj, readErr := range fetched.Errors {
			return fmt.Errorf("read %s: %w", obj, readErr)
		}

		for _, obj := range records {
			ev, err := partition.DecodeRecord(fetched.Objects[obj])
			if err != nil {
				return fmt.Errorf("decode %s: %w", obj, err)
			}

			st, ok := stats[ev.ItemID]
			if !ok {
				st = &itemStats{users: make(map[string]struct{})}
				stats[ev.ItemID] = st
			}
			st.users[ev.UserID] = struct{}{}
			st.total++
		}

		key = key.Next()
	}

	aggs := make([]types.PopularityAggregate, 0, len(stats))
	for itemID, st := range stats {
		aggs = append(aggs, types.PopularityAggregate{
			ItemID:            itemID,
			UniqueUsers:       int64(len(st.users)),
			TotalInteractions: st.total,
			AsOf:              asOf,
		})
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].ItemID < aggs[j].ItemID })

	if err := r.popStore.ReplaceAll(ctx, aggs); err != nil {
		return err
	}

	r.logger.Printf("refreshed %d item aggregates as of %s", len(aggs), asOf.Format(time.RFC3339))
	return nil
}
