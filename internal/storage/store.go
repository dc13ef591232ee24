// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultKey is the well-known key the conversation collection lives under.
const DefaultKey = "tryme-conversations"

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var (
	// ErrNotFound is returned by Read when nothing is stored under the key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned for keys that are empty or would escape the
	// storage directory.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// =============================================================================
// BLOB STORE PORT
// =============================================================================

// BlobStore reads and writes opaque blobs by key.
type BlobStore interface {
	// Read returns the blob stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces the blob stored under key.
	Write(ctx context.Context, key string, data []byte) error

	// Close releases any resources held by the backend.
	Close() error
}

// ValidateKey rejects keys that are empty or contain path separators.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." || filepath.Base(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// =============================================================================
// OPEN
// =============================================================================

// Options selects and configures a backend.
type Options struct {
	// Backend is one of file, sqlite, redis or memory. Empty means file.
	Backend string

	// Path is the directory for the file backend or the database file for
	// the sqlite backend.
	Path string

	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStore(opts.Path)
	case BackendSQLite:
		return OpenSQLite(ctx, opts.Path)
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisURL)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps blobs in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	writes  int
	failErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Read returns a copy of the blob stored under key.
func (m *MemoryStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data under key.
func (m *MemoryStore) Write(_ context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.blobs[key] = append([]byte(nil), data...)
	m.writes++
	return nil
}

// FailWrites makes every later Write return err. Nil restores writes.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Writes returns how many successful writes the store has seen.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
