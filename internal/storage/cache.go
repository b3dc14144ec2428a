// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"regexp"
)

// Cache is a persistent string-keyed blob store.
// Implementations are safe for concurrent use.
type Cache interface {
	// Get returns the value for key, or an error matching ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the value for key atomically.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys in lexical order.
	Keys(ctx context.Context) ([]string, error)
	// Close releases the backend.
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = &CacheError{Message: "key not found"}

	// ErrInvalidKey is returned for keys outside [A-Za-z0-9_.-].
	ErrInvalidKey = &CacheError{Message: "invalid key"}

	// ErrClosed is returned after Close.
	ErrClosed = &CacheError{Message: "cache closed"}
)

// CacheError represents a cache-related error.
// It can be compared using errors.Is.
type CacheError struct {
	Message string
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing cache errors.
func (e *CacheError) Is(target error) bool {
	t, ok := target.(*CacheError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

func checkKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// =============================================================================
// FACTORY
// =============================================================================

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates the named backend at path.
func Open(backend, path string) (Cache, error) {
	switch backend {
	case BackendFile, "":
		return NewFileCache(path)
	case BackendBolt:
		return NewBoltCache(path)
	case BackendSQLite:
		return NewSQLiteCache(path)
	case BackendMemory:
		return NewMemoryCache(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
