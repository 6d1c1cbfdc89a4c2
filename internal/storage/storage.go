// Package storage provides object storage abstractions for the raw and
// canonical event datasets.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrDownloadFailed     = errors.New("download failed")
	ErrDeleteFailed       = errors.New("delete failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and local filesystem for testing.
type ObjectStorage interface {
	// Put writes an object, replacing any existing content.
	Put(ctx context.Context, objectPath string, data []byte) error

	// PutIfAbsent writes an object only when none exists at the path.
	// Returns ErrPreconditionFailed when the object is already present.
	// This is what makes duplicate delivery converge to one stored record.
	PutIfAbsent(ctx context.Context, objectPath string, data []byte) error

	// PutIfMatch replaces an object only when its current ETag matches.
	// Used for lease takeover where we must not clobber a concurrent writer.
	PutIfMatch(ctx context.Context, objectPath string, data []byte, etag string) error

	// Get reads an object's full content.
	// Returns ErrObjectNotFound when the object does not exist.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ETag returns the current ETag of an object.
	// Returns ErrObjectNotFound when the object does not exist.
	ETag(ctx context.Context, objectPath string) (string, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// List returns all object paths under the given prefix.
	// Used by compaction to scan raw partitions over a window.
	List(ctx context.Context, prefix string) ([]string, error)
}
