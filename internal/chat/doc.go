// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat turns user input into a streamed assistant reply.
//
// Orchestrator.Send validates the input, records the user message and an
// assistant placeholder in the conversation store, builds the completion
// request from the conversation history and streams the reply into the
// placeholder. Failures of the round trip never escape Send: they become
// the text of the assistant message, and the loading state is always
// cleared.
//
// Only one Send runs at a time per Guard, regardless of conversation.
package chat
