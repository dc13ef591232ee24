// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the client for OpenAI-compatible chat completion
// endpoints such as OpenRouter.
//
// # Key Types
//
//   - Client: blocking (Chat, Complete) and streaming (Stream, StreamChan)
//     completions with bearer auth
//   - Decoder: incremental SSE decoder turning "data:" lines into deltas
//   - RequestFailedError: non-2xx response with the server's message
//   - TransportError: connection, read or decode failure
//
// # Usage
//
//	client := cloud.NewClient(apiKey)
//	client.Stream(ctx, cloud.ChatRequest{
//	    Model:    "qwen/qwen3-coder:free",
//	    Messages: []cloud.ChatMessage{cloud.NewUserMessage("Hello")},
//	}, cloud.StreamHandler{
//	    OnDelta:    func(s string) { fmt.Print(s) },
//	    OnComplete: func() { fmt.Println() },
//	    OnError:    func(err error) { log.Println(err) },
//	})
//
// # Stream termination
//
// A stream ends on "data: [DONE]". When the body ends without the sentinel
// the stream still completes normally; only read errors and cancellation
// are reported through OnError. Requests are never retried.
//
// The API key is never logged. Use KeyFingerprint to identify it.
package cloud
