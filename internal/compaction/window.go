// Package compaction turns raw hourly partitions into deduplicated
// canonical partitions once their window has closed.
package compaction

import (
	"context"
	"sort"
	"time"

	"github.com/meridianlabs/meridian/internal/partition"
	"github.com/meridianlabs/meridian/internal/storage"
	"github.com/meridianlabs/meridian/pkg/types"
)

// Window is a contiguous run of hourly partitions compacted as one unit,
// identified by its first partition key.
type Window struct {
	First types.PartitionKey
	Hours int
}

// Partitions returns the hourly partition keys covered by the window.
func (w Window) Partitions() []types.PartitionKey {
	keys := make([]types.PartitionKey, 0, w.Hours)
	key := w.First
	for i := 0; i < w.Hours; i++ {
		keys = append(keys, key)
		key = key.Next()
	}
	return keys
}

// End returns the instant at which the window's last partition closes.
func (w Window) End() time.Time {
	return w.First.Start().Add(time.Duration(w.Hours) * time.Hour)
}

// ClosedBy reports whether the window is safe to compact at the given
// instant: its last partition has ended and the late-arrival delay has
// passed.
func (w Window) ClosedBy(now time.Time, delay time.Duration) bool {
	return !now.Before(w.End().Add(delay))
}

func (w Window) String() string {
	return w.First.String()
}

// AlignWindow maps a partition key onto the window containing it, with
// window boundaries aligned to multiples of hours within the day.
func AlignWindow(key types.PartitionKey, hours int) Window {
	if hours < 1 {
		hours = 1
	}
	aligned := key
	aligned.Hour = (key.Hour / hours) * hours
	return Window{First: aligned, Hours: hours}
}

// DiscoverWindows lists the raw dataset and returns the closed windows
// that still have raw data, oldest first. Windows already marked complete
// are skipped.
func DiscoverWindows(ctx context.Context, store storage.ObjectStorage, hours int, delay time.Duration, now time.Time) ([]Window, error) {
	objects, err := store.List(ctx, partition.RawPrefix+"/")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]Window)
	for _, obj := range objects {
		key, ok := partition.PartitionKeyFromPath(obj)
		if !ok {
			continue
		}
		w := AlignWindow(key, hours)
		seen[w.String()] = w
	}

	var closed []Window
	for _, w := range seen {
		if !w.ClosedBy(now, delay) {
			continue
		}
		done, err := windowComplete(ctx, store, w)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		closed = append(closed, w)
	}

	sort.Slice(closed, func(i, j int) bool {
		return closed[i].First.Start().Before(closed[j].First.Start())
	})
	return closed, nil
}

// windowComplete reports whether every partition in the window carries a
// completion marker from a previous run.
func windowComplete(ctx context.Context, store storage.ObjectStorage, w Window) (bool, error) {
	for _, key := range w.Partitions() {
		ok, err := store.Exists(ctx, partition.CompletionMarkerPath(key))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
