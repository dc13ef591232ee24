// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/tryme/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps each blob in <dir>/<key>.json. Writes are atomic, so a
// crash mid-write leaves the previous blob intact.
type FileStore struct {
	dir string

	mu        sync.Mutex
	lastWrite map[string][sha256.Size]byte
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{
		dir:       dir,
		lastWrite: make(map[string][sha256.Size]byte),
	}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file that backs key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Read returns the blob stored under key.
func (s *FileStore) Read(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Write atomically replaces the blob stored under key.
func (s *FileStore) Write(_ context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.AtomicWriteFile(s.Path(key), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.lastWrite[key] = sha256.Sum256(data)
	return nil
}

// ChangedExternally reports whether the file backing key now differs from
// what this store last wrote. A key this store never wrote counts as
// changed once the file exists.
func (s *FileStore) ChangedExternally(key string) (bool, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastWrite[key]
	return !ok || last != sha256.Sum256(data), nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
