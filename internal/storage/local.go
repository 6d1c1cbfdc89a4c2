package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalStorage implements ObjectStorage using the local filesystem.
// This is primarily used for testing and development.
type LocalStorage struct {
	basePath string
	mu       sync.RWMutex
	etags    map[string]string // Track ETags for conditional operations
}

// NewLocalStorage creates a new local filesystem storage.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
		etags:    make(map[string]string),
	}, nil
}

// Put writes an object to local storage.
func (l *LocalStorage) Put(ctx context.Context, objectPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked(objectPath, data)
}

// PutIfAbsent writes an object only when none exists at the path.
func (l *LocalStorage) PutIfAbsent(ctx context.Context, objectPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.fullPath(objectPath)); err == nil {
		return ErrPreconditionFailed
	}
	return l.writeLocked(objectPath, data)
}

// PutIfMatch replaces an object only when its current ETag matches.
func (l *LocalStorage) PutIfMatch(ctx context.Context, objectPath string, data []byte, etag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, exists := l.etags[objectPath]
	if !exists || current != etag {
		return ErrPreconditionFailed
	}
	return l.writeLocked(objectPath, data)
}

// writeLocked writes the object and records its ETag. Caller holds l.mu.
func (l *LocalStorage) writeLocked(objectPath string, data []byte) error {
	destPath := l.fullPath(objectPath)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	sum := md5.Sum(data)
	l.etags[objectPath] = hex.EncodeToString(sum[:])
	return nil
}

// Get reads an object from local storage.
func (l *LocalStorage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return data, nil
}

// Exists checks if an object exists in local storage.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ETag returns the ETag of an object.
func (l *LocalStorage) ETag(ctx context.Context, objectPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.RLock()
	etag, exists := l.etags[objectPath]
	l.mu.RUnlock()
	if exists {
		return etag, nil
	}

	// Fall back to hashing the file so objects written by a previous
	// process still report a stable ETag.
	data, err := l.Get(ctx, objectPath)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	etag = hex.EncodeToString(sum[:])

	l.mu.Lock()
	l.etags[objectPath] = etag
	l.mu.Unlock()
	return etag, nil
}

// Delete removes an object from local storage.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(l.fullPath(objectPath)); err != nil {
		if os.IsNotExist(err) {
			// S3 Delete is idempotent, so we don't return an error
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	l.mu.Lock()
	delete(l.etags, objectPath)
	l.mu.Unlock()

	return nil
}

// List returns all object paths under the given prefix.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchDir := l.fullPath(prefix)
	var objects []string

	err := filepath.Walk(searchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // prefix doesn't exist, return empty list
			}
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(l.basePath, path)
			if err != nil {
				return err
			}
			objects = append(objects, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// fullPath returns the full filesystem path for an object.
func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}

// Clear removes all objects from local storage.
// This is useful for test cleanup.
func (l *LocalStorage) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.RemoveAll(l.basePath); err != nil {
		return err
	}

	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return err
	}

	l.etags = make(map[string]string)
	return nil
}
