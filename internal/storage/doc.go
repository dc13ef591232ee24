// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the key/value blob persistence behind the
// conversation store.
//
// The conversation store treats its storage medium as opaque: it reads one
// serialized blob under a well-known key at startup and writes it back after
// every mutation. This package supplies the backends.
//
// # Key Types
//
//   - BlobStore: the read/write port every backend implements
//   - FileStore: one JSON file per key, written atomically (default)
//   - SQLiteStore: a single-table SQLite database (modernc.org/sqlite)
//   - RedisStore: string keys in Redis (go-redis)
//   - MemoryStore: in-process map, for tests and --ephemeral sessions
//   - FileWatcher: notices when another process rewrites a FileStore blob
//
// # Usage
//
//	store, err := storage.Open(storage.Options{Backend: "file", Path: dir})
//	data, err := store.Read(ctx, "tryme-conversations")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // first run
//	}
//
// # Storage Location
//
// The file and sqlite backends default to ~/.tryme/.
package storage
