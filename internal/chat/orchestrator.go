// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/conversation"
	"github.com/jeranaias/tryme/internal/logging"
	"github.com/jeranaias/tryme/internal/model"
)

// Defaults for outgoing requests.
const (
	DefaultSystemPrompt = "You are TryMe, a helpful AI assistant. Be concise, friendly, and helpful in your responses."
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1000

	// ErrorPrefix starts every assistant message that reports a failure.
	ErrorPrefix = "Sorry, I encountered an error: "
)

var (
	// ErrEmptyInput is returned for blank input. Nothing is recorded or sent.
	ErrEmptyInput = errors.New("message is empty")

	// ErrBusy is returned while another Send holds the guard.
	ErrBusy = errors.New("a reply is already in progress")
)

// Completer streams a chat completion. *cloud.Client implements it.
type Completer interface {
	Stream(ctx context.Context, req cloud.ChatRequest, h cloud.StreamHandler)
}

// Observer receives progress of a Send, for rendering. Nil fields are
// skipped. Callbacks run on the Send goroutine.
type Observer struct {
	OnStart    func(convID, msgID string)
	OnDelta    func(convID, msgID, text string)
	OnComplete func(convID, msgID string)
	OnError    func(convID, msgID string, err error)
}

// Options configures an Orchestrator. Temperature is sent as given, 0
// included; nil means DefaultTemperature.
type Options struct {
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int

	// Registry resolves conversation model keys. Defaults to
	// model.DefaultRegistry().
	Registry *model.Registry

	// Guard is shared by every orchestrator of a session. A private guard
	// is created when nil.
	Guard *Guard

	Observer Observer
	Logger   *slog.Logger
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives a single round trip per Send.
type Orchestrator struct {
	store  *conversation.Store
	client Completer
	opts   Options
	logger *slog.Logger
}

// New creates an orchestrator. Zero option fields take the package defaults.
func New(store *conversation.Store, client Completer, opts Options) *Orchestrator {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Registry == nil {
		opts.Registry = model.DefaultRegistry()
	}
	if opts.Guard == nil {
		opts.Guard = &Guard{}
	}
	return &Orchestrator{
		store:  store,
		client: client,
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger),
	}
}

// Busy reports whether a Send is in flight.
func (o *Orchestrator) Busy() bool {
	return o.opts.Guard.Busy()
}

// ErrorText is the assistant message shown for a failed round trip.
func ErrorText(err error) string {
	return ErrorPrefix + err.Error()
}

// Send sends userText in conversation convID and streams the reply into the
// store. It blocks until the reply is complete.
//
// Only ErrEmptyInput, ErrBusy and conversation.ErrConversationNotFound are
// returned, all before anything is recorded. Every later failure, including
// a panic in the completer, is turned into the assistant message.
func (o *Orchestrator) Send(ctx context.Context, convID, userText string) error {
	text := strings.TrimSpace(userText)
	if text == "" {
		return ErrEmptyInput
	}

	if !o.opts.Guard.TryAcquire() {
		return ErrBusy
	}
	defer o.opts.Guard.Release()

	conv, err := o.store.Get(convID)
	if err != nil {
		return err
	}

	if _, err := o.store.AppendUserMessage(convID, text); err != nil {
		return err
	}
	msgID, err := o.store.AppendAssistantPlaceholder(convID)
	if err != nil {
		// The guard makes this unreachable unless the store is shared with
		// another writer.
		o.logger.Error("failed to open reply", "conversation", convID, "error", err)
		return nil
	}
	o.notifyStart(convID, msgID)

	r := &round{o: o, convID: convID, msgID: msgID}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("panic during send", "conversation", convID, "panic", p)
			r.fail(fmt.Errorf("internal error: %v", p))
		}
		r.ensureClosed()
	}()

	modelID, err := o.opts.Registry.Resolve(conv.Model)
	if err != nil {
		r.fail(err)
		return nil
	}

	req := BuildRequest(conv, text, modelID, o.opts)
	o.logger.Info("sending message",
		"conversation", convID,
		"model", modelID,
		"history", len(req.Messages))

	o.client.Stream(ctx, req, cloud.StreamHandler{
		OnDelta:    r.delta,
		OnComplete: r.complete,
		OnError:    r.fail,
	})
	return nil
}

// BuildRequest assembles the completion request: the system prompt, the
// conversation's prior messages and the new user text.
func BuildRequest(conv model.Conversation, text, modelID string, opts Options) cloud.ChatRequest {
	msgs := make([]cloud.ChatMessage, 0, len(conv.Messages)+2)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, cloud.NewSystemMessage(opts.SystemPrompt))
	}
	// Every prior message is sent as recorded, empty replies included, so
	// roles keep alternating.
	for _, m := range conv.Messages {
		msgs = append(msgs, cloud.ChatMessage{Role: m.Role.String(), Content: m.Content})
	}
	msgs = append(msgs, cloud.NewUserMessage(text))

	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return cloud.ChatRequest{
		Model:       modelID,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	}
}

func (o *Orchestrator) notifyStart(convID, msgID string) {
	if o.opts.Observer.OnStart != nil {
		o.opts.Observer.OnStart(convID, msgID)
	}
}

// =============================================================================
// ROUND
// =============================================================================

// round applies the stream events of one Send to the store. The first
// terminal event wins; later ones are dropped.
type round struct {
	o      *Orchestrator
	convID string
	msgID  string
	closed bool
}

func (r *round) delta(text string) {
	if r.closed {
		return
	}
	if err := r.o.store.ApplyDelta(r.convID, r.msgID, text); err != nil {
		r.o.logger.Warn("dropping delta", "conversation", r.convID, "error", err)
		return
	}
	if fn := r.o.opts.Observer.OnDelta; fn != nil {
		fn(r.convID, r.msgID, text)
	}
}

func (r *round) complete() {
	if r.closed {
		return
	}
	r.closed = true
	if err := r.o.store.Finalize(r.convID, r.msgID); err != nil {
		r.o.logger.Warn("failed to finalize reply", "conversation", r.convID, "error", err)
	}
	if fn := r.o.opts.Observer.OnComplete; fn != nil {
		fn(r.convID, r.msgID)
	}
}

func (r *round) fail(err error) {
	if r.closed {
		return
	}
	r.closed = true
	r.o.logger.Warn("send failed", "conversation", r.convID, "error", err)
	if ferr := r.o.store.FinalizeWithError(r.convID, r.msgID, ErrorText(err)); ferr != nil {
		r.o.logger.Warn("failed to record error reply", "conversation", r.convID, "error", ferr)
	}
	if fn := r.o.opts.Observer.OnError; fn != nil {
		fn(r.convID, r.msgID, err)
	}
}

// ensureClosed finalizes the reply if the completer returned without a
// terminal event.
func (r *round) ensureClosed() {
	if !r.closed {
		r.o.logger.Warn("completer returned without a terminal event", "conversation", r.convID)
		r.complete()
	}
}
