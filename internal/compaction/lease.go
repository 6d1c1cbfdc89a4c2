package compaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/internal/partition"
	"github.com/meridianlabs/meridian/internal/storage"
)

// leaseRecord is the stored body of a window lease.
type leaseRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaseManager grants per-window compaction leases backed by conditional
// object writes. At most one live lease exists per window; an expired
// lease may be taken over by replacing it under its ETag.
type LeaseManager struct {
	store storage.ObjectStorage
	owner string
	ttl   time.Duration

	now func() time.Time
}

// NewLeaseManager creates a lease manager. Owner identifies this process
// in lease records, typically host plus pid.
func NewLeaseManager(store storage.ObjectStorage, owner string, ttl time.Duration) *LeaseManager {
	return &LeaseManager{
		store: store,
		owner: owner,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Lease is a held window lease.
type Lease struct {
	manager *LeaseManager
	path    string
	window  Window
}

// Acquire takes the lease for a window. A live lease held elsewhere
// surfaces as a retryable WINDOW_LOCKED error; an expired lease is taken
// over under its ETag so only one contender wins.
func (m *LeaseManager) Acquire(ctx context.Context, w Window) (*Lease, error) {
	path := partition.LockObjectPath(w.First)
	body, err := json.Marshal(leaseRecord{
		Owner:     m.owner,
		ExpiresAt: m.now().UTC().Add(m.ttl),
	})
	if err != nil {
		return nil, err
	}

	err = m.store.PutIfAbsent(ctx, path, body)
	if err == nil {
		return &Lease{manager: m, path: path, window: w}, nil
	}
	if !errors.Is(err, storage.ErrPreconditionFailed) {
		return nil, meridianerrors.NewStorageError(meridianerrors.CodeUploadFailed,
			fmt.Sprintf("acquire lease %s", path), err)
	}

	// Lease object exists. Read it and decide between backing off and
	// taking over an expired lease.
	current, err := m.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// Released between our put and get. The next run retries.
			return nil, lockedErr(w)
		}
		return nil, err
	}
	etag, err := m.store.ETag(ctx, path)
	if err != nil {
		return nil, err
	}

	var held leaseRecord
	if err := json.Unmarshal(current, &held); err == nil && m.now().Before(held.ExpiresAt) {
		return nil, lockedErr(w)
	}

	// Expired or unreadable lease. Replace it only if nobody else did.
	if err := m.store.PutIfMatch(ctx, path, body, etag); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return nil, lockedErr(w)
		}
		return nil, err
	}
	return &Lease{manager: m, path: path, window: w}, nil
}

// Release drops the lease. Safe to call after expiry; deletion is
// idempotent.
func (l *Lease) Release(ctx context.Context) error {
	return l.manager.store.Delete(ctx, l.path)
}

func lockedErr(w Window) error {
	return meridianerrors.NewCompactionError(meridianerrors.CodeWindowLocked,
		fmt.Sprintf("window %s is held by another compactor", w), nil)
}
