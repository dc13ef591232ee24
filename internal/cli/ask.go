// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command.
//
// Command: ask "question"
//
// The exchange is recorded as a new conversation unless --no-save is given.
// With --stream the reply is printed as it arrives; otherwise it is printed
// once complete, rendered as markdown on a terminal.
//
// Examples:
//   tryme ask "What is a goroutine?"
//   tryme ask --stream "Explain select in Go"
//   tryme ask --no-save -m LLAMA "One-line haiku about channels"

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/tryme/internal/chat"
	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/model"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	rendererMu    sync.Mutex
	renderer      *glamour.TermRenderer
	rendererWidth int
)

// renderMarkdown renders content for a terminal of the given width. The
// content is returned unchanged when rendering fails.
func renderMarkdown(content string, width int) string {
	rendererMu.Lock()
	defer rendererMu.Unlock()

	if renderer == nil || rendererWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-2),
		)
		if err != nil {
			return content + "\n"
		}
		renderer, rendererWidth = r, width
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return rendered
}

// displayReply prints a finished reply, as markdown when enabled and the
// output is a terminal.
func (a *App) displayReply(content string) {
	if a.Config.Chat.Markdown && isTerminalWriter(a.Out) {
		fmt.Fprint(a.Out, renderMarkdown(content, GetTerminalWidth()))
		return
	}
	fmt.Fprintln(a.Out, content)
}

// =============================================================================
// ASK
// =============================================================================

// Ask sends one question and prints the reply.
func (a *App) Ask(ctx context.Context, args Args) error {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return ErrMissingArgument("question", `tryme ask "What is a goroutine?"`)
	}
	if !a.Client.IsConfigured() {
		return cloud.ErrNotConfigured
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if args.NoSave {
		return a.askUnsaved(ctx, query, args.Stream)
	}

	conv := a.Store.Create("")
	var sendErr error
	orch := a.Orchestrator(chat.Observer{
		OnDelta: func(_, _, text string) {
			if args.Stream {
				fmt.Fprint(a.Out, text)
			}
		},
		OnError: func(_, _ string, err error) {
			sendErr = err
		},
	})
	if err := orch.Send(ctx, conv.ID, query); err != nil {
		return err
	}

	saved, err := a.Store.Get(conv.ID)
	if err != nil {
		return err
	}
	reply := saved.LastMessage()

	if args.Stream {
		fmt.Fprintln(a.Out)
	}
	if sendErr != nil {
		return errors.Join(&ReplyError{Text: reply.Content, Err: sendErr}, a.checkSaved())
	}
	if !args.Stream {
		a.displayReply(reply.Content)
	}
	return a.checkSaved()
}

// askUnsaved talks to the client directly; nothing is recorded.
func (a *App) askUnsaved(ctx context.Context, query string, stream bool) error {
	modelID, err := a.Registry.Resolve("")
	if err != nil {
		return err
	}
	temperature := a.Config.Chat.Temperature
	req := chat.BuildRequest(model.Conversation{}, query, modelID, chat.Options{
		SystemPrompt: a.Config.Chat.SystemPrompt,
		Temperature:  &temperature,
		MaxTokens:    a.Config.Chat.MaxTokens,
	})

	if !stream {
		reply, err := a.Client.StreamAccumulate(ctx, req)
		if err != nil {
			return err
		}
		a.displayReply(reply)
		return nil
	}

	deltas, errs := a.Client.StreamChan(ctx, req)
	for text := range deltas {
		fmt.Fprint(a.Out, text)
	}
	fmt.Fprintln(a.Out)
	return <-errs
}
