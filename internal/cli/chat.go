// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Command: chat (default)
//
// Interactive Commands (during chat):
//   /new [MODEL]        Start a new conversation
//   /list, /ls          List conversations
//   /switch N|ID        Switch conversation
//   /delete [N|ID]      Delete a conversation (default: current)
//   /model [KEY]        Show or change the current conversation's model
//   /history, /h        Print the current conversation
//   /models             List model keys
//   /help, /?           Show available commands
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel the reply in progress
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/peterh/liner"

	"github.com/jeranaias/tryme/internal/chat"
	"github.com/jeranaias/tryme/internal/config"
	"github.com/jeranaias/tryme/internal/model"
	"github.com/jeranaias/tryme/internal/storage"
)

const historyFileName = "chat_history"

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader provides line editing and persistent input history.
type LineReader struct {
	line        *liner.State
	historyFile string
}

// NewLineReader creates a reader whose history lives in the config
// directory.
func NewLineReader() *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &LineReader{line: line, historyFile: filepath.Join(dir, historyFileName)}

	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

// ReadLine prompts and returns one line. Non-empty input joins the history.
func (r *LineReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (r *LineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// ChatSession is the state of one interactive chat.
type ChatSession struct {
	app      *App
	orch     *chat.Orchestrator
	out      io.Writer
	markdown bool

	// failed is set by the observer when the reply ended in an error.
	failed atomic.Bool
}

// NewChatSession creates a session writing to the app's output. Replies
// stream to the output as they arrive unless markdown rendering is on, in
// which case the finished reply is rendered at once.
func (a *App) NewChatSession(markdown bool) *ChatSession {
	s := &ChatSession{app: a, out: a.Out, markdown: markdown}
	s.orch = a.Orchestrator(chat.Observer{
		OnStart: func(_, _ string) {
			s.failed.Store(false)
			fmt.Fprintf(s.out, "\n%s\n", roleLabel(model.RoleAssistant))
		},
		OnDelta: func(_, _, text string) {
			if !s.markdown {
				fmt.Fprint(s.out, text)
			}
		},
		OnError: func(_, _ string, _ error) {
			s.failed.Store(true)
		},
	})
	return s
}

// RunChat runs the interactive loop until /quit, Ctrl+D or Ctrl+C at the
// prompt.
func (a *App) RunChat(ctx context.Context) error {
	if !a.Client.IsConfigured() && !a.Quiet {
		fmt.Fprintf(a.ErrOut, "%s no API key configured; replies will fail until one is set\n",
			WarningStyle.Render("[WARN]"))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.startWatcher(ctx)

	s := a.NewChatSession(a.Config.Chat.Markdown && isTerminalWriter(a.Out))
	if !a.Quiet {
		s.printWelcome()
	}

	reader := NewLineReader()
	defer reader.Close()

	for {
		input, err := reader.ReadLine(promptStyle.Render("tryme> "))
		if err != nil {
			fmt.Fprintln(a.Out)
			if errIsAbort(err) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		quit, err := s.Handle(ctx, input)
		if err != nil {
			fmt.Fprintf(a.ErrOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if quit {
			return nil
		}
	}
}

// reloadExternal re-reads storage after an external change. It holds the
// send guard for the duration, so it never runs while a Send is between
// recording the user message and finishing the reply. It reports whether
// the reload happened.
func (a *App) reloadExternal(ctx context.Context) bool {
	if !a.guard.TryAcquire() {
		a.Logger.Debug("skipping reload while a message is in flight")
		return false
	}
	defer a.guard.Release()

	if err := a.Store.Reload(ctx); err != nil {
		a.Logger.Warn("reload after external change failed", "error", err)
		return false
	}
	a.Logger.Info("conversations reloaded after external change")
	return true
}

// startWatcher reloads the store when another process rewrites the
// conversation file.
func (a *App) startWatcher(ctx context.Context) {
	fs, ok := a.Blobs.(*storage.FileStore)
	if !ok || !a.Config.Storage.Watch {
		return
	}
	w, err := storage.NewFileWatcher(fs, a.Config.Storage.Key, func() {
		a.reloadExternal(ctx)
	})
	if err != nil {
		a.Logger.Warn("file watcher unavailable", "error", err)
		return
	}
	w.WithLogger(a.Logger)
	go func() {
		defer w.Close()
		w.Run(ctx)
	}()
}

// Handle processes one input line. It reports whether the session should
// end.
func (s *ChatSession) Handle(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return false, nil
	}
	if strings.HasPrefix(input, "/") {
		return s.handleCommand(input)
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return true, nil
	}
	return false, s.send(ctx, input)
}

// send runs one round trip in the current conversation. Ctrl+C cancels it.
func (s *ChatSession) send(ctx context.Context, text string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	convID := s.app.Store.CurrentID()
	if err := s.orch.Send(ctx, convID, text); err != nil {
		return err
	}

	conv, err := s.app.Store.Get(convID)
	if err != nil {
		return err
	}
	reply := conv.LastMessage()
	switch {
	case reply == nil:
	case s.failed.Load():
		if !s.markdown {
			fmt.Fprintln(s.out)
		}
		fmt.Fprintln(s.out, ErrorStyle.Render(reply.Content))
	case s.markdown:
		fmt.Fprint(s.out, renderMarkdown(reply.Content, GetTerminalWidth()))
	default:
		fmt.Fprintln(s.out)
	}
	fmt.Fprintln(s.out)
	return s.app.checkSaved()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *ChatSession) handleCommand(input string) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
	store := s.app.Store

	switch cmd {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/?":
		s.printHelp()

	case "/new", "/n":
		if arg != "" {
			if _, err := s.app.Registry.Resolve(arg); err != nil {
				return false, err
			}
		}
		if s.orch.Busy() {
			return false, chat.ErrBusy
		}
		conv := store.Create(arg)
		fmt.Fprintf(s.out, "%s %s (%s)\n", SuccessStyle.Render("New conversation"), shortID(conv.ID), conv.Model)

	case "/list", "/ls":
		s.app.writeConversationTable(s.out)

	case "/switch", "/s":
		if arg == "" {
			return false, ErrMissingArgument("conversation", "/switch 2")
		}
		conv, err := resolveConversation(store, arg)
		if err != nil {
			return false, err
		}
		store.Select(conv.ID)
		fmt.Fprintf(s.out, "Switched to %s\n", HighlightStyle.Render(conv.Title))

	case "/delete", "/d":
		id := store.CurrentID()
		if arg != "" {
			conv, err := resolveConversation(store, arg)
			if err != nil {
				return false, err
			}
			id = conv.ID
		}
		if err := store.Delete(id); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Deleted %s\n", shortID(id))

	case "/model", "/m":
		conv, ok := store.Current()
		if !ok {
			return false, &NotFoundError{Resource: "conversation", ID: "current"}
		}
		if arg == "" {
			id, _ := s.app.Registry.Resolve(conv.Model)
			fmt.Fprintf(s.out, "Model: %s %s\n", conv.Model, DimStyle.Render(id))
			return false, nil
		}
		id, err := s.app.Registry.Resolve(arg)
		if err != nil {
			return false, err
		}
		if err := store.UpdateModel(conv.ID, arg); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Model set to %s %s\n", arg, DimStyle.Render(id))

	case "/history", "/h":
		conv, ok := store.Current()
		if !ok {
			return false, &NotFoundError{Resource: "conversation", ID: "current"}
		}
		writeConversation(s.out, conv, s.markdown)

	case "/export", "/e":
		conv, ok := store.Current()
		if !ok {
			return false, &NotFoundError{Resource: "conversation", ID: "current"}
		}
		path, _, err := s.app.exportConversation(conv, arg, "")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("Exported to"), path)

	case "/models":
		s.app.writeModelTable(s.out)

	default:
		return false, &UsageError{Reason: fmt.Sprintf("unknown command %s", fields[0]), Example: "/help"}
	}
	return false, s.app.checkSaved()
}

func (s *ChatSession) printWelcome() {
	conv, _ := s.app.Store.Current()
	fmt.Fprintln(s.out, TitleStyle.Render("TryMe chat"))
	fmt.Fprintf(s.out, "%s %s  %s %s\n",
		LabelStyle.Render("Conversation:"), conv.Title,
		LabelStyle.Render("Model:"), conv.Model)
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	if last := conv.LastMessage(); last != nil && last.Role == model.RoleAssistant {
		fmt.Fprintf(s.out, "\n%s\n%s\n", roleLabel(last.Role), last.Content)
	}
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	help := [][2]string{
		{"/new [MODEL]", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/switch N|ID", "Switch conversation"},
		{"/delete [N|ID]", "Delete a conversation (default: current)"},
		{"/model [KEY]", "Show or change the model"},
		{"/history", "Print the current conversation"},
		{"/export [FORMAT]", "Save the conversation as markdown, json or html"},
		{"/models", "List model keys"},
		{"/quit", "Exit"},
	}
	for _, h := range help {
		fmt.Fprintf(s.out, "  %s %s\n", HighlightStyle.Render(fmt.Sprintf("%-16s", h[0])), h[1])
	}
	fmt.Fprintln(s.out, DimStyle.Render("  Ctrl+C cancels a reply in progress."))
}

// errIsAbort reports whether err ended the prompt by user request.
func errIsAbort(err error) bool {
	return errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF)
}
