// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// These are the records the conversation store keeps in memory and persists
// as a single JSON blob, plus the registry that maps short model keys to the
// fully-qualified names the completion endpoint expects.
//
// # Key Types
//
//   - Conversation: ordered messages plus title, model key and creation time
//   - Message: single message with role, content, timestamp and loading flag
//   - Role: user, assistant or system
//   - Registry: short model key -> remote model id
//
// # Usage
//
//	conv := model.NewConversation("QWEN_CODER", model.WelcomeText)
//	remote, err := model.DefaultRegistry().Resolve(conv.Model)
package model
