// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring of configuration, storage, client and orchestrator.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/jeranaias/tryme/internal/chat"
	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/config"
	"github.com/jeranaias/tryme/internal/conversation"
	"github.com/jeranaias/tryme/internal/logging"
	"github.com/jeranaias/tryme/internal/model"
	"github.com/jeranaias/tryme/internal/storage"
)

// =============================================================================
// APP
// =============================================================================

// App is everything a command needs, built once per process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Blobs    storage.BlobStore
	Store    *conversation.Store
	Client   *cloud.Client
	Registry *model.Registry

	Out    io.Writer
	ErrOut io.Writer
	Quiet  bool
	JSON   bool

	// guard is shared by every orchestrator the app creates.
	guard   *chat.Guard
	closers []io.Closer
}

// NewApp opens the log and the storage backend named by cfg, loads the
// conversations and builds the completion client.
func NewApp(ctx context.Context, cfg *config.Config, args Args, out, errOut io.Writer) (*App, error) {
	if args.Model != "" {
		if _, err := cfg.Registry().Resolve(args.Model); err != nil {
			return nil, &UsageError{Reason: err.Error(), Example: "tryme models"}
		}
		cfg.Chat.DefaultModel = args.Model
	}

	logger, logCloser, err := OpenLogger(cfg, args.Verbose)
	if err != nil {
		return nil, err
	}

	path, err := cfg.StoragePath()
	if err != nil {
		closeQuietly(logCloser)
		return nil, err
	}
	blobs, err := storage.Open(ctx, storage.Options{
		Backend:  cfg.Storage.Backend,
		Path:     path,
		RedisURL: cfg.Storage.RedisURL,
	})
	if err != nil {
		closeQuietly(logCloser)
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}

	app := newApp(cfg, logger, blobs, NewClientFromConfig(cfg, logger))
	app.Out, app.ErrOut = out, errOut
	app.Quiet, app.JSON = args.Quiet, args.JSON
	app.closers = append(app.closers, blobs)
	if logCloser != nil {
		app.closers = append(app.closers, logCloser)
	}

	if err := app.Store.Load(ctx); err != nil {
		// Load seeds the welcome conversation on failure, so the session
		// stays usable; nothing was overwritten.
		logger.Warn("failed to load conversations", "error", err)
		if !app.Quiet {
			fmt.Fprintf(errOut, "%s could not read saved conversations: %v\n", WarningStyle.Render("[WARN]"), err)
		}
	}

	logger.Info("tryme started",
		"version", Version,
		"go", runtime.Version(),
		"storage", cfg.Storage.Backend,
		"model", cfg.Chat.DefaultModel,
		"key", app.Client.KeyFingerprint(),
	)
	return app, nil
}

// newApp wires already-open dependencies. Tests use it directly.
func newApp(cfg *config.Config, logger *slog.Logger, blobs storage.BlobStore, client *cloud.Client) *App {
	logger = logging.OrDiscard(logger)
	store := conversation.New(blobs,
		conversation.WithKey(cfg.Storage.Key),
		conversation.WithDefaultModel(cfg.Chat.DefaultModel),
		conversation.WithLogger(logger),
	)
	return &App{
		Config:   cfg,
		Logger:   logger,
		Blobs:    blobs,
		Store:    store,
		Client:   client,
		Registry: cfg.Registry(),
		Out:      io.Discard,
		ErrOut:   io.Discard,
		guard:    &chat.Guard{},
	}
}

// NewClientFromConfig builds the completion client from the [api] section.
func NewClientFromConfig(cfg *config.Config, logger *slog.Logger) *cloud.Client {
	return cloud.NewClient(cfg.API.Key).
		WithBaseURL(cfg.API.BaseURL).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithStreamTimeout(time.Duration(cfg.API.StreamTimeoutSecs) * time.Second).
		WithSiteURL(cfg.API.SiteURL).
		WithSiteName(cfg.API.SiteName).
		WithUserAgent("tryme/" + Version).
		WithRateLimit(cfg.API.RequestsPerMinute).
		WithLogger(logger)
}

// OpenLogger returns a debug logger on stderr when verbose, otherwise a
// file logger at the configured level.
func OpenLogger(cfg *config.Config, verbose bool) (*slog.Logger, io.Closer, error) {
	if verbose {
		return logging.New("debug", os.Stderr), nil, nil
	}
	path, err := cfg.LogPath()
	if err != nil {
		return nil, nil, err
	}
	return logging.NewFile(cfg.Log.Level, path)
}

// Orchestrator returns an orchestrator reporting progress to obs. All
// orchestrators of an app share one busy guard.
func (a *App) Orchestrator(obs chat.Observer) *chat.Orchestrator {
	temperature := a.Config.Chat.Temperature
	return chat.New(a.Store, a.Client, chat.Options{
		SystemPrompt: a.Config.Chat.SystemPrompt,
		Temperature:  &temperature,
		MaxTokens:    a.Config.Chat.MaxTokens,
		Registry:     a.Registry,
		Guard:        a.guard,
		Observer:     obs,
		Logger:       a.Logger,
	})
}

// checkSaved reports the last failed persistence write, if any.
func (a *App) checkSaved() error {
	if err := a.Store.LastPersistError(); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

// Close releases the storage backend and the log file.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// =============================================================================
// DISPATCH
// =============================================================================

// loadConfig loads --config FILE when given, else the default location.
func loadConfig(args Args) (*config.Config, error) {
	if args.ConfigFile == "" {
		return config.Load()
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	return config.LoadFromPath(args.ConfigFile)
}

// Run executes cmd. It never exits the process.
func Run(ctx context.Context, cmd Command, args Args, out, errOut io.Writer) error {
	switch cmd {
	case CmdHelp:
		PrintUsage(out)
		return nil
	case CmdVersion:
		return handleVersion(out, args)
	case CmdConfig:
		return HandleConfig(out, args)
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, args, out, errOut)
	if err != nil {
		return err
	}
	defer app.Close()

	switch cmd {
	case CmdChat:
		return app.RunChat(ctx)
	case CmdAsk:
		return app.Ask(ctx, args)
	case CmdList:
		return app.List()
	case CmdShow:
		return app.Show(args.Subcommand)
	case CmdNew:
		return app.New()
	case CmdDelete:
		return app.Delete(args.Subcommand)
	case CmdModels:
		return app.Models()
	case CmdProbe:
		return app.Probe(ctx, args.Raw)
	case CmdExport:
		return app.Export(args.Subcommand, args.Format, args.OutputDir)
	default:
		return &UsageError{Reason: fmt.Sprintf("unknown command %s", cmd)}
	}
}

func handleVersion(out io.Writer, args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print(out)
	}
	PrintVersion(out)
	return nil
}
