// Package partition maps events to deterministic storage locations and
// encodes the stored record format.
package partition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/meridianlabs/meridian/pkg/types"
)

// Dataset prefixes inside the bucket.
const (
	RawPrefix       = "raw"
	CanonicalPrefix = "processed"
	LockPrefix      = "locks/compaction"
)

// RawObjectPath returns the storage path for a raw record:
// raw/date=YYYY-MM-DD/hour=HH/<idempotency_id>.
func RawObjectPath(key types.PartitionKey, idempotencyID string) string {
	return fmt.Sprintf("%s/%s/%s", RawPrefix, key, idempotencyID)
}

// CanonicalObjectPath returns the storage path for a canonical record:
// processed/date=YYYY-MM-DD/hour=HH/<composite_key_hash>.
func CanonicalObjectPath(key types.PartitionKey, compositeHash string) string {
	return fmt.Sprintf("%s/%s/%s", CanonicalPrefix, key, compositeHash)
}

// RawPartitionPrefix returns the listing prefix for one raw partition.
func RawPartitionPrefix(key types.PartitionKey) string {
	return fmt.Sprintf("%s/%s/", RawPrefix, key)
}

// CanonicalPartitionPrefix returns the listing prefix for one canonical partition.
func CanonicalPartitionPrefix(key types.PartitionKey) string {
	return fmt.Sprintf("%s/%s/", CanonicalPrefix, key)
}

// CompletionMarkerPath returns the marker object written after a canonical
// partition has been fully materialized.
func CompletionMarkerPath(key types.PartitionKey) string {
	return fmt.Sprintf("%s/%s/_SUCCESS", CanonicalPrefix, key)
}

// LockObjectPath returns the lease object path guarding one partition window,
// identified by the window's first partition key.
func LockObjectPath(key types.PartitionKey) string {
	return fmt.Sprintf("%s/%s.lock", LockPrefix, key)
}

// PartitionKeyFromPath recovers the partition key embedded in an object
// path such as raw/date=2024-03-01/hour=09/abc. The second return is false
// when the path does not carry a date/hour pair.
func PartitionKeyFromPath(objectPath string) (types.PartitionKey, bool) {
	var key types.PartitionKey
	for _, seg := range strings.Split(objectPath, "/") {
		switch {
		case strings.HasPrefix(seg, "date="):
			key.Date = strings.TrimPrefix(seg, "date=")
		case strings.HasPrefix(seg, "hour="):
			h, err := strconv.Atoi(strings.TrimPrefix(seg, "hour="))
			if err != nil || h < 0 || h > 23 {
				return types.PartitionKey{}, false
			}
			key.Hour = h
		}
	}
	if key.Date == "" {
		return types.PartitionKey{}, false
	}
	return key, true
}

// ObjectID extracts the trailing object id from a storage path.
func ObjectID(objectPath string) string {
	idx := strings.LastIndexByte(objectPath, '/')
	if idx < 0 {
		return objectPath
	}
	return objectPath[idx+1:]
}
