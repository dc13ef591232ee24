// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamHandler receives the events of a streaming completion: zero or more
// OnDelta calls followed by exactly one of OnComplete or OnError. Nil
// callbacks are skipped.
type StreamHandler struct {
	OnDelta    func(text string)
	OnComplete func()
	OnError    func(err error)
}

func (h StreamHandler) delta(text string) {
	if h.OnDelta != nil {
		h.OnDelta(text)
	}
}

func (h StreamHandler) complete() {
	if h.OnComplete != nil {
		h.OnComplete()
	}
}

func (h StreamHandler) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	FirstDelta time.Duration
	Total      time.Duration
	Deltas     int
	Skipped    int
	// FinishReason is the provider's finish_reason ("stop", "length", ...).
	FinishReason string
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Stream performs a streaming completion and reports through h. It blocks
// until the stream ends. Failures are delivered to OnError only, never
// returned; cancelling ctx aborts the read and is reported the same way.
func (c *Client) Stream(ctx context.Context, req ChatRequest, h StreamHandler) {
	c.StreamWithStats(ctx, req, h)
}

// StreamWithStats is Stream plus timing and counts for the finished stream.
func (c *Client) StreamWithStats(ctx context.Context, req ChatRequest, h StreamHandler) (stats StreamStats) {
	start := time.Now()
	defer func() { stats.Total = time.Since(start) }()

	req.Stream = true
	resp, err := c.send(ctx, c.streamClient, req)
	if err != nil {
		h.fail(err)
		return stats
	}
	defer resp.Body.Close()

	dec, err := ReadStream(ctx, resp.Body, func(text string) {
		if stats.Deltas == 0 {
			stats.FirstDelta = time.Since(start)
		}
		stats.Deltas++
		h.delta(text)
	})
	stats.Skipped = dec.Skipped()
	stats.FinishReason = dec.FinishReason()

	if err != nil {
		c.logger.Warn("stream aborted", "error", err, "deltas", stats.Deltas)
		h.fail(&TransportError{Op: "stream read", Err: err})
		return stats
	}

	if stats.Skipped > 0 {
		c.logger.Debug("skipped malformed stream lines", "count", stats.Skipped)
	}
	c.logger.Debug("stream complete",
		"deltas", stats.Deltas,
		"sentinel", dec.Done(),
		"finish_reason", stats.FinishReason)
	h.complete()
	return stats
}

// StreamChan performs a streaming completion in a goroutine and delivers
// deltas on the first channel. The error channel receives at most one
// error; both channels are closed when the stream ends.
func (c *Client) StreamChan(ctx context.Context, req ChatRequest) (<-chan string, <-chan error) {
	deltaChan := make(chan string, 64)
	errChan := make(chan error, 1)

	go func() {
		defer close(deltaChan)
		defer close(errChan)

		c.Stream(ctx, req, StreamHandler{
			OnDelta: func(text string) {
				select {
				case deltaChan <- text:
				case <-ctx.Done():
				}
			},
			OnError: func(err error) {
				errChan <- err
			},
		})
	}()

	return deltaChan, errChan
}

// StreamAccumulate performs a streaming completion and returns the joined
// text. On failure the partial text is returned along with the error.
func (c *Client) StreamAccumulate(ctx context.Context, req ChatRequest) (string, error) {
	var sb strings.Builder
	var streamErr error
	c.Stream(ctx, req, StreamHandler{
		OnDelta: func(text string) { sb.WriteString(text) },
		OnError: func(err error) { streamErr = err },
	})
	return sb.String(), streamErr
}
