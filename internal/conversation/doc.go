// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the in-memory collection of conversations and
// persists it through a storage.BlobStore after every mutation.
//
// # Key Types
//
//   - Store: ordered conversations (newest first) plus the current pointer
//
// # Streaming replies
//
// AppendAssistantPlaceholder opens a reply. ApplyDelta grows it, and
// Finalize or FinalizeWithError closes it. Deltas for a closed reply are
// rejected with ErrMessageFinalized, so a finished message never changes
// again. A conversation has at most one open reply.
//
// # Persistence
//
// The whole collection is written as one JSON array under a single key.
// Write failures are logged and remembered (LastPersistError) but never
// fail the mutation: storage is best-effort.
package conversation
