// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
)

// =============================================================================
// DECODER CONSTANTS
// =============================================================================

const (
	// MaxLineSize bounds a single buffered SSE line. Longer lines are dropped
	// and counted as skipped rather than growing the buffer without limit.
	MaxLineSize = 1024 * 1024

	// readBufferSize is the chunk size ReadStream pulls from the body.
	readBufferSize = 4 * 1024

	// doneSentinel is the payload that terminates a completion stream.
	doneSentinel = "[DONE]"
)

var dataPrefix = []byte("data:")

// =============================================================================
// STREAM CHUNK
// =============================================================================

// StreamChunk is a single decoded event payload of a completion stream.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// GetFinishReason returns the finish reason of the first choice, if any.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder incrementally turns raw SSE bytes into content deltas.
//
// Bytes are buffered and split on '\n' only, so chunk boundaries (including
// ones inside a multi-byte UTF-8 sequence) never change the output. Lines
// without a "data:" prefix are ignored. A "data: [DONE]" line completes the
// stream and nothing after it is parsed. Payloads that are not valid JSON are
// skipped and counted.
//
// A Decoder is single-pass and not safe for concurrent use.
type Decoder struct {
	buf        []byte
	done       bool
	discarding bool
	skipped    int
	finish     string
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the buffer and decodes every complete line. It returns
// the deltas found, in order, and whether the termination sentinel has been
// seen. Once done, Feed ignores further input.
func (d *Decoder) Feed(p []byte) ([]string, bool) {
	if d.done {
		return nil, true
	}

	var deltas []string
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			d.buffer(p)
			break
		}

		if d.discarding {
			d.discarding = false
		} else {
			d.buf = append(d.buf, p[:i]...)
			if delta, ok := d.line(d.buf); ok {
				deltas = append(deltas, delta)
			}
			d.buf = d.buf[:0]
		}
		p = p[i+1:]

		if d.done {
			d.buf = nil
			break
		}
	}
	return deltas, d.done
}

// Flush decodes the trailing unterminated line, if any, and marks the decoder
// done. It is called when the transport reports end of input.
func (d *Decoder) Flush() []string {
	if d.done {
		return nil
	}
	var deltas []string
	if !d.discarding && len(d.buf) > 0 {
		if delta, ok := d.line(d.buf); ok {
			deltas = append(deltas, delta)
		}
	}
	d.buf = nil
	d.discarding = false
	d.done = true
	return deltas
}

// Done reports whether the stream has completed.
func (d *Decoder) Done() bool {
	return d.done
}

// FinishReason returns the last finish_reason the stream reported, if any.
func (d *Decoder) FinishReason() string {
	return d.finish
}

// Skipped returns how many data lines were dropped as unparseable.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// buffer keeps a partial line, dropping it once it outgrows MaxLineSize.
func (d *Decoder) buffer(p []byte) {
	if d.discarding {
		return
	}
	if len(d.buf)+len(p) > MaxLineSize {
		d.buf = d.buf[:0]
		d.discarding = true
		d.skipped++
		return
	}
	d.buf = append(d.buf, p...)
}

// line decodes one complete line and returns its delta, if it carries one.
func (d *Decoder) line(raw []byte) (string, bool) {
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	if !bytes.HasPrefix(raw, dataPrefix) {
		return "", false
	}

	payload := raw[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte(" "))
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return "", false
	}

	if string(payload) == doneSentinel {
		d.done = true
		return "", false
	}

	var chunk StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		d.skipped++
		return "", false
	}

	if reason := chunk.GetFinishReason(); reason != "" {
		d.finish = reason
	}
	content := chunk.GetContent()
	if content == "" {
		return "", false
	}
	return content, true
}

// =============================================================================
// STREAM READING
// =============================================================================

// ReadStream decodes r until the termination sentinel or end of input and
// calls onDelta for every delta in arrival order.
//
// End of input without a sentinel counts as normal completion. Read errors
// and context cancellation are returned as-is.
func ReadStream(ctx context.Context, r io.Reader, onDelta func(string)) (*Decoder, error) {
	dec := NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return dec, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			deltas, done := dec.Feed(buf[:n])
			for _, delta := range deltas {
				onDelta(delta)
			}
			if done {
				return dec, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, delta := range dec.Flush() {
					onDelta(delta)
				}
				return dec, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return dec, ctxErr
			}
			return dec, err
		}
	}
}
