package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchFetcher reads many small objects in parallel with bounded
// concurrency. Partition scans are dominated by per-object round trips,
// not bandwidth, so the win comes from keeping requests in flight.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int64
}

// FetchResult contains the outcome of a batch fetch. Every requested
// path lands in exactly one of the two maps.
type FetchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// NewBatchFetcher creates a batch fetcher over the given storage.
func NewBatchFetcher(store ObjectStorage, concurrency int) *BatchFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchFetcher{
		storage:     store,
		concurrency: int64(concurrency),
	}
}

// Fetch reads the given objects. Individual read failures are reported
// per path; only context cancellation aborts the whole batch.
func (f *BatchFetcher) Fetch(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	result := &FetchResult{
		Objects: make(map[string][]byte, len(objectPaths)),
		Errors:  make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(f.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, objectPath := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(objectPath string) {
			defer wg.Done()
			defer sem.Release(1)

			data, err := f.storage.Get(ctx, objectPath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.Objects[objectPath] = data
		}(objectPath)
	}

	wg.Wait()
	return result, nil
}
