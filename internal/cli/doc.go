// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the tryme command line.
//
// # Commands
//
//   - chat: interactive REPL over the persisted conversations (default)
//   - ask: one question, one reply
//   - list, show, new, delete: conversation management
//   - models, probe: model registry and availability check
//   - config: show, path, init, get, set, keys
//   - version, help
//
// # Wiring
//
// Run loads the configuration, opens the log, the storage backend and the
// conversation store, and builds the completion client. Every command that
// sends a message goes through a chat.Orchestrator sharing one busy guard,
// so a session never has two replies in flight.
//
// Commands that list data accept the global --json flag.
package cli
