// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tryme/internal/chat"
	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/config"
	"github.com/jeranaias/tryme/internal/conversation"
	"github.com/jeranaias/tryme/internal/export"
	"github.com/jeranaias/tryme/internal/model"
	"github.com/jeranaias/tryme/internal/storage"
)

// =============================================================================
// PARSE TESTS
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantCmd Command
		check   func(*testing.T, Args)
	}{
		{name: "no args", argv: nil, wantCmd: CmdChat},
		{
			name:    "global model before command",
			argv:    []string{"-m", "LLAMA", "chat"},
			wantCmd: CmdChat,
			check:   func(t *testing.T, a Args) { assert.Equal(t, "LLAMA", a.Model) },
		},
		{
			name:    "ask with stream",
			argv:    []string{"ask", "--stream", "hello", "world"},
			wantCmd: CmdAsk,
			check: func(t *testing.T, a Args) {
				assert.True(t, a.Stream)
				assert.Equal(t, "hello world", a.Query)
			},
		},
		{
			name:    "ask no-save with model=",
			argv:    []string{"ask", "--no-save", "--model=QWEN", "hi"},
			wantCmd: CmdAsk,
			check: func(t *testing.T, a Args) {
				assert.True(t, a.NoSave)
				assert.Equal(t, "QWEN", a.Model)
				assert.Equal(t, "hi", a.Query)
			},
		},
		{
			name:    "bare question",
			argv:    []string{"What", "is", "Go?"},
			wantCmd: CmdAsk,
			check:   func(t *testing.T, a Args) { assert.Equal(t, "What is Go?", a.Query) },
		},
		{
			name:    "config set",
			argv:    []string{"config", "set", "chat.temperature", "0.3"},
			wantCmd: CmdConfig,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "set", a.Subcommand)
				assert.Equal(t, []string{"chat.temperature", "0.3"}, a.Raw)
			},
		},
		{
			name:    "config init force",
			argv:    []string{"config", "init", "--force"},
			wantCmd: CmdConfig,
			check:   func(t *testing.T, a Args) { assert.True(t, a.Force) },
		},
		{
			name:    "delete",
			argv:    []string{"rm", "2"},
			wantCmd: CmdDelete,
			check:   func(t *testing.T, a Args) { assert.Equal(t, "2", a.Subcommand) },
		},
		{
			name:    "json list",
			argv:    []string{"--json", "ls"},
			wantCmd: CmdList,
			check:   func(t *testing.T, a Args) { assert.True(t, a.JSON) },
		},
		{name: "version flag", argv: []string{"--version"}, wantCmd: CmdVersion},
		{name: "help", argv: []string{"-h"}, wantCmd: CmdHelp},
		{
			name:    "export flags",
			argv:    []string{"export", "2", "-f", "html", "--output=/tmp/out"},
			wantCmd: CmdExport,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "2", a.Subcommand)
				assert.Equal(t, "html", a.Format)
				assert.Equal(t, "/tmp/out", a.OutputDir)
			},
		},
		{
			name:    "probe models",
			argv:    []string{"probe", "LLAMA", "QWEN"},
			wantCmd: CmdProbe,
			check:   func(t *testing.T, a Args) { assert.Equal(t, []string{"LLAMA", "QWEN"}, a.Raw) },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd, args := Parse(tc.argv)
			assert.Equal(t, tc.wantCmd, cmd, "got %s", cmd)
			if tc.check != nil {
				tc.check(t, args)
			}
		})
	}
}

func TestArgParser(t *testing.T) {
	p := NewArgParser([]string{"--stream", "hello", "--limit", "5", "--json=true", "-x", "--", "--literal"}, "stream", "json")

	assert.True(t, p.BoolFlag("stream"))
	assert.True(t, p.BoolFlag("json"))
	assert.True(t, p.BoolFlag("x"))
	assert.Equal(t, "5", p.Flag("limit", "l"))
	assert.Equal(t, []string{"hello", "--literal"}, p.PositionalFrom(0))
	assert.Equal(t, "", p.Positional(5))
}

// =============================================================================
// EXIT CODE TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", ErrMissingArgument("key", ""), ExitUsageError},
		{"not found", &NotFoundError{Resource: "conversation", ID: "x"}, ExitNotFoundError},
		{"store not found", fmt.Errorf("wrap: %w", conversation.ErrConversationNotFound), ExitNotFoundError},
		{"not configured", cloud.ErrNotConfigured, ExitConfigError},
		{"invalid config", config.ValidateErrors{{Field: "log.level", Message: "bad"}}, ExitConfigError},
		{"unauthorized", &cloud.RequestFailedError{Status: 401, Message: "no"}, ExitAuthError},
		{"server error", &cloud.RequestFailedError{Status: 500, Message: "boom"}, ExitNetworkError},
		{"transport", &cloud.TransportError{Op: "send", Err: errors.New("dial tcp")}, ExitNetworkError},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"reply wraps cause", &ReplyError{Text: "Sorry", Err: &cloud.RequestFailedError{Status: 403}}, ExitAuthError},
		{"export format", fmt.Errorf("x: %w", export.ErrUnknownFormat), ExitUsageError},
		{"other", errors.New("something"), ExitGeneralError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GetExitCode(tc.err))
		})
	}
}

// =============================================================================
// APP HELPERS
// =============================================================================

// fakeAPI serves streaming and blocking completions. reply is the content
// returned for every request; status, when set, fails every request.
type fakeAPI struct {
	mu       sync.Mutex
	reply    string
	status   int
	requests []cloud.ChatRequest
}

func (f *fakeAPI) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func (f *fakeAPI) Requests() []cloud.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloud.ChatRequest(nil), f.requests...)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req cloud.ChatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"message":"denied"}}`)
		return
	}
	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, f.reply)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	for _, word := range strings.SplitAfter(f.reply, " ") {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// newTestApp wires an app over a memory store and a fake API.
func newTestApp(t *testing.T, api *fakeAPI) (*App, *bytes.Buffer, *storage.MemoryStore) {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.API.Key = "sk-or-test"
	cfg.API.BaseURL = server.URL
	cfg.Storage.Backend = storage.BackendMemory

	blobs := storage.NewMemoryStore()
	app := newApp(cfg, nil, blobs, NewClientFromConfig(cfg, nil))
	out := &bytes.Buffer{}
	app.Out, app.ErrOut = out, out
	require.NoError(t, app.Store.Load(context.Background()))
	return app, out, blobs
}

// =============================================================================
// CHAT SESSION TESTS
// =============================================================================

func TestChatSession_SendStreamsReply(t *testing.T) {
	api := &fakeAPI{reply: "Goroutines are cheap threads."}
	app, out, _ := newTestApp(t, api)
	s := app.NewChatSession(false)

	quit, err := s.Handle(context.Background(), "  what is a goroutine?  ")
	require.NoError(t, err)
	assert.False(t, quit)

	assert.Contains(t, out.String(), "Goroutines are cheap threads.")

	conv, ok := app.Store.Current()
	require.True(t, ok)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "what is a goroutine?", conv.Messages[1].Content)
	assert.Equal(t, "Goroutines are cheap threads.", conv.Messages[2].Content)
	assert.Equal(t, "what is a goroutine?", conv.Title)

	require.Len(t, api.Requests(), 1)
	assert.Equal(t, "qwen/qwen3-coder:free", api.Requests()[0].Model)
}

func TestReloadExternal_WaitsForSend(t *testing.T) {
	app, _, blobs := newTestApp(t, &fakeAPI{})
	ctx := context.Background()

	// A Send holds the guard from the user message until the reply closes.
	require.True(t, app.guard.TryAcquire())
	_, err := app.Store.AppendUserMessage(model.WelcomeID, "mid-send")
	require.NoError(t, err)

	external, err := json.Marshal([]model.Conversation{model.NewConversation(model.DefaultModelKey, "from elsewhere")})
	require.NoError(t, err)
	require.NoError(t, blobs.Write(ctx, app.Config.Storage.Key, external))

	assert.False(t, app.reloadExternal(ctx))
	conv, ok := app.Store.Current()
	require.True(t, ok)
	assert.Equal(t, "mid-send", conv.LastMessage().Content)

	app.guard.Release()
	assert.True(t, app.reloadExternal(ctx))
	conv, ok = app.Store.Current()
	require.True(t, ok)
	assert.Equal(t, "from elsewhere", conv.LastMessage().Content)
	assert.False(t, app.guard.Busy())
}

func TestChatSession_ErrorReply(t *testing.T) {
	app, out, _ := newTestApp(t, &fakeAPI{status: http.StatusUnauthorized})
	s := app.NewChatSession(false)

	_, err := s.Handle(context.Background(), "hello")
	require.NoError(t, err)

	conv, _ := app.Store.Current()
	last := conv.LastMessage()
	assert.True(t, strings.HasPrefix(last.Content, chat.ErrorPrefix))
	assert.Contains(t, out.String(), "denied")
}

func TestChatSession_SlashCommands(t *testing.T) {
	app, out, _ := newTestApp(t, &fakeAPI{reply: "ok"})
	s := app.NewChatSession(false)
	ctx := context.Background()

	run := func(line string) error {
		out.Reset()
		_, err := s.Handle(ctx, line)
		return err
	}

	require.NoError(t, run("/new LLAMA"))
	assert.Equal(t, 2, app.Store.Len())
	cur, _ := app.Store.Current()
	assert.Equal(t, "LLAMA", cur.Model)

	require.NoError(t, run("/list"))
	assert.Contains(t, out.String(), model.WelcomeTitle)

	require.NoError(t, run("/switch 2"))
	assert.Equal(t, model.WelcomeID, app.Store.CurrentID())

	require.NoError(t, run("/model MISTRAL"))
	cur, _ = app.Store.Current()
	assert.Equal(t, "MISTRAL", cur.Model)

	require.NoError(t, run("/model"))
	assert.Contains(t, out.String(), "MISTRAL")

	require.NoError(t, run("/history"))
	assert.Contains(t, out.String(), model.WelcomeText)

	app.Config.Export.Dir = t.TempDir()
	require.NoError(t, run("/export json"))
	assert.Contains(t, out.String(), "Exported to")
	files, _ := filepath.Glob(filepath.Join(app.Config.Export.Dir, "*.json"))
	assert.Len(t, files, 1)
	assert.ErrorIs(t, run("/export pdf"), export.ErrUnknownFormat)

	require.NoError(t, run("/models"))
	assert.Contains(t, out.String(), "QWEN_CODER")

	require.NoError(t, run("/delete"))
	assert.Equal(t, 1, app.Store.Len())
	assert.NotEqual(t, model.WelcomeID, app.Store.CurrentID())

	var usage *UsageError
	assert.ErrorAs(t, run("/bogus"), &usage)
	assert.ErrorAs(t, run("/switch"), &usage)
	assert.ErrorIs(t, run("/model NOPE"), model.ErrUnknownModel)

	var notFound *NotFoundError
	assert.ErrorAs(t, run("/switch zzz"), &notFound)

	quit, err := s.Handle(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestChatSession_ReportsPersistFailure(t *testing.T) {
	app, _, blobs := newTestApp(t, &fakeAPI{reply: "ok"})
	blobs.FailWrites(errors.New("disk full"))

	_, err := app.NewChatSession(false).Handle(context.Background(), "/new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 2, app.Store.Len(), "state changes even when the write fails")
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestAsk_SavesConversation(t *testing.T) {
	app, out, blobs := newTestApp(t, &fakeAPI{reply: "Channels carry values."})

	err := app.Ask(context.Background(), Args{Query: "what is a channel?"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Channels carry values.")
	assert.Equal(t, 2, app.Store.Len())

	reloaded := conversation.New(blobs)
	require.NoError(t, reloaded.Load(context.Background()))
	first := reloaded.List()[0]
	assert.Equal(t, "what is a channel?", first.Title)
	assert.Equal(t, "Channels carry values.", first.LastMessage().Content)
}

func TestAsk_ErrorExitCode(t *testing.T) {
	app, _, _ := newTestApp(t, &fakeAPI{status: http.StatusUnauthorized})

	err := app.Ask(context.Background(), Args{Query: "hi", Stream: true})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), chat.ErrorPrefix))
	assert.Equal(t, ExitAuthError, GetExitCode(err))
}

func TestAsk_NoSave(t *testing.T) {
	for _, stream := range []bool{false, true} {
		t.Run(fmt.Sprintf("stream=%v", stream), func(t *testing.T) {
			api := &fakeAPI{reply: "just this once"}
			app, out, blobs := newTestApp(t, api)

			require.NoError(t, app.Ask(context.Background(), Args{Query: "hi", NoSave: true, Stream: stream}))
			assert.Contains(t, out.String(), "just this once")
			assert.Equal(t, 1, app.Store.Len())
			assert.Zero(t, blobs.Writes())

			require.Len(t, api.Requests(), 1)
			msgs := api.Requests()[0].Messages
			assert.Equal(t, "system", msgs[0].Role)
			assert.Equal(t, "hi", msgs[len(msgs)-1].Content)
		})
	}
}

func TestAsk_Preconditions(t *testing.T) {
	app, _, _ := newTestApp(t, &fakeAPI{})

	var usage *UsageError
	assert.ErrorAs(t, app.Ask(context.Background(), Args{Query: "   "}), &usage)

	app.Client = cloud.NewClient("")
	assert.ErrorIs(t, app.Ask(context.Background(), Args{Query: "hi"}), cloud.ErrNotConfigured)
}

func TestListShowNewDelete(t *testing.T) {
	app, out, _ := newTestApp(t, &fakeAPI{})

	require.NoError(t, app.New())
	assert.Equal(t, 2, app.Store.Len())

	out.Reset()
	app.JSON = true
	require.NoError(t, app.List())
	var resp struct {
		Success bool                  `json:"success"`
		Data    []ConversationSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.True(t, resp.Data[0].Current)
	assert.Equal(t, model.WelcomeID, resp.Data[1].ID)

	app.JSON = false
	out.Reset()
	require.NoError(t, app.Show("2"))
	assert.Contains(t, out.String(), model.WelcomeTitle)

	require.NoError(t, app.Delete("1"))
	assert.Equal(t, 1, app.Store.Len())
	assert.Equal(t, model.WelcomeID, app.Store.CurrentID())

	var usage *UsageError
	assert.ErrorAs(t, app.Delete(""), &usage)
	var notFound *NotFoundError
	assert.ErrorAs(t, app.Show("nope"), &notFound)
}

func TestShow_EmptyReply(t *testing.T) {
	app, out, _ := newTestApp(t, &fakeAPI{reply: ""})
	s := app.NewChatSession(false)

	_, err := s.Handle(context.Background(), "anything?")
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, app.Show(app.Store.CurrentID()))
	assert.Contains(t, out.String(), "(empty reply)")
}

func TestExport(t *testing.T) {
	app, out, _ := newTestApp(t, &fakeAPI{})
	dir := t.TempDir()

	require.NoError(t, app.Export("", "", dir))
	files, err := filepath.Glob(filepath.Join(dir, "*.md"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), model.WelcomeText)
	assert.Contains(t, out.String(), files[0])

	out.Reset()
	app.JSON = true
	require.NoError(t, app.Export("1", "html", dir))
	var resp struct {
		Success bool       `json:"success"`
		Data    ExportData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, model.WelcomeID, resp.Data.ID)
	assert.Equal(t, "text/html", resp.Data.MimeType)
	assert.FileExists(t, resp.Data.Path)

	assert.ErrorIs(t, app.Export("", "pdf", dir), export.ErrUnknownFormat)
	var notFound *NotFoundError
	assert.ErrorAs(t, app.Export("nope", "", dir), &notFound)
}

func TestExport_UsesConfigDefaults(t *testing.T) {
	app, _, _ := newTestApp(t, &fakeAPI{})
	app.Config.Export.Dir = t.TempDir()
	app.Config.Export.Format = export.FormatJSON

	require.NoError(t, app.Export("", "", ""))
	files, err := filepath.Glob(filepath.Join(app.Config.Export.Dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestResolveConversation(t *testing.T) {
	store := conversation.New(storage.NewMemoryStore())
	require.NoError(t, store.Load(context.Background()))
	created := store.Create("")

	got, err := resolveConversation(store, "1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	got, err = resolveConversation(store, created.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	got, err = resolveConversation(store, model.WelcomeID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID, "positions win over ids")
}

func TestModels_JSON(t *testing.T) {
	app, out, _ := newTestApp(t, &fakeAPI{})
	app.JSON = true

	require.NoError(t, app.Models())
	var resp struct {
		Data []ModelData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))

	defaults := 0
	for _, m := range resp.Data {
		if m.Default {
			defaults++
			assert.Equal(t, model.DefaultModelKey, m.Key)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestProbe(t *testing.T) {
	api := &fakeAPI{reply: "pong"}
	app, out, _ := newTestApp(t, api)

	require.NoError(t, app.Probe(context.Background(), []string{"LLAMA", "MISTRAL"}))
	assert.Contains(t, out.String(), "OK")
	require.Len(t, api.Requests(), 1, "probing stops at the first model that answers")
	assert.False(t, api.Requests()[0].Stream)

	api.setStatus(http.StatusBadGateway)
	err := app.Probe(context.Background(), nil)
	assert.ErrorIs(t, err, cloud.ErrNoModelAvailable)
	assert.Equal(t, ExitNetworkError, GetExitCode(err))
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func TestHandleConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	for _, name := range []string{"TRYME_API_KEY", "OPENROUTER_API_KEY", "VITE_OPENROUTER_API_KEY", "TRYME_MODEL", "TRYME_STORAGE"} {
		t.Setenv(name, "")
	}
	path := filepath.Join(home, "config.toml")
	var out bytes.Buffer

	require.NoError(t, HandleConfig(&out, Args{Subcommand: "path"}))
	assert.Equal(t, path, strings.TrimSpace(out.String()))

	require.NoError(t, HandleConfig(&out, Args{Subcommand: "init"}))
	_, err := os.Stat(path)
	require.NoError(t, err)

	var usage *UsageError
	assert.ErrorAs(t, HandleConfig(&out, Args{Subcommand: "init"}), &usage)
	require.NoError(t, HandleConfig(&out, Args{Subcommand: "init", Force: true}))

	require.NoError(t, HandleConfig(&out, Args{Subcommand: "set", Raw: []string{"chat.default_model", "LLAMA"}}))
	require.NoError(t, HandleConfig(&out, Args{Subcommand: "set", Raw: []string{"api.key", "sk-or-secret"}}))
	assert.NotContains(t, out.String(), "sk-or-secret")

	out.Reset()
	require.NoError(t, HandleConfig(&out, Args{Subcommand: "get", Raw: []string{"chat.default_model"}}))
	assert.Equal(t, "LLAMA", strings.TrimSpace(out.String()))

	out.Reset()
	require.NoError(t, HandleConfig(&out, Args{Subcommand: "show"}))
	assert.NotContains(t, out.String(), "sk-or-secret")
	assert.Contains(t, out.String(), "chat.default_model")

	// Invalid values never reach the file.
	var verrs config.ValidateErrors
	assert.ErrorAs(t, HandleConfig(&out, Args{Subcommand: "set", Raw: []string{"chat.temperature", "9"}}), &verrs)
	assert.ErrorAs(t, HandleConfig(&out, Args{Subcommand: "set", Raw: []string{"chat.nope", "1"}}), &usage)
	assert.ErrorAs(t, HandleConfig(&out, Args{Subcommand: "get"}), &usage)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Chat.Temperature)
	assert.Equal(t, "sk-or-secret", cfg.API.Key)
}

func TestRun_HelpAndVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), CmdHelp, Args{}, &out, &out))
	assert.Contains(t, out.String(), "Usage:")

	out.Reset()
	require.NoError(t, Run(context.Background(), CmdVersion, Args{JSON: true}, &out, &out))
	var resp struct {
		Data VersionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, Version, resp.Data.Version)
}

func TestRun_MemoryBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	t.Setenv("TRYME_STORAGE", "memory")

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), CmdList, Args{}, &out, &out))
	assert.Contains(t, out.String(), model.WelcomeTitle)

	// The log goes to the config directory.
	_, err := os.Stat(filepath.Join(home, "tryme.log"))
	assert.NoError(t, err)
}
