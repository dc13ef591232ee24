// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Print the effective configuration
//   path                Print the config file location
//   init [--force]      Write a default config file
//   get KEY             Print one setting
//   set KEY VALUE       Change one setting in the config file
//   keys                List settable keys
//
// Examples:
//   tryme config set chat.default_model LLAMA
//   tryme config set api.requests_per_minute 20
//   tryme config get chat.temperature
//
// "set" edits the file only; environment overrides are never written back.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/config"
)

const apiKeyField = "api.key"

// HandleConfig runs a config subcommand.
func HandleConfig(out io.Writer, args Args) error {
	switch strings.ToLower(args.Subcommand) {
	case "", "show":
		return handleConfigShow(out, args)
	case "path":
		return handleConfigPath(out, args)
	case "init":
		return handleConfigInit(out, args)
	case "get":
		if len(args.Raw) < 1 {
			return ErrMissingArgument("key", "tryme config get chat.temperature")
		}
		return handleConfigGet(out, args, args.Raw[0])
	case "set":
		if len(args.Raw) < 2 {
			return ErrMissingArgument("key and value", "tryme config set chat.default_model LLAMA")
		}
		return handleConfigSet(out, args, args.Raw[0], strings.Join(args.Raw[1:], " "))
	case "keys":
		for _, k := range config.Keys() {
			fmt.Fprintln(out, k)
		}
		return nil
	default:
		return &UsageError{
			Reason:  fmt.Sprintf("unknown config subcommand %q", args.Subcommand),
			Example: "tryme config show",
		}
	}
}

// configFilePath returns --config or the default location.
func configFilePath(args Args) (string, error) {
	if args.ConfigFile != "" {
		return args.ConfigFile, nil
	}
	return config.ConfigPath()
}

func handleConfigShow(out io.Writer, args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config", json.RawMessage(cfg.String())).Print(out)
	}

	section := ""
	for _, key := range config.Keys() {
		if s, _, _ := strings.Cut(key, "."); s != section {
			section = s
			fmt.Fprintf(out, "\n%s\n", TitleStyle.Render("["+section+"]"))
		}
		fmt.Fprintf(out, "  %s %s\n", LabelStyle.Render(fmt.Sprintf("%-22s", key)), displayValue(cfg, key))
	}
	if len(cfg.Models) > 0 {
		fmt.Fprintf(out, "\n%s\n", TitleStyle.Render("[models]"))
		for k, v := range cfg.Models {
			fmt.Fprintf(out, "  %s %s\n", LabelStyle.Render(fmt.Sprintf("%-22s", k)), v)
		}
	}
	return nil
}

// displayValue formats one setting, replacing the API key with its
// fingerprint.
func displayValue(cfg *config.Config, key string) string {
	if key == apiKeyField {
		if cfg.API.Key == "" {
			return DimStyle.Render("(not set)")
		}
		return DimStyle.Render("(set, sha256:" + cloud.KeyFingerprint(cfg.API.Key) + ")")
	}
	v, err := cfg.Get(key)
	if err != nil {
		return ErrorStyle.Render(err.Error())
	}
	if s, ok := v.(string); ok && s == "" {
		return DimStyle.Render("(default)")
	}
	return fmt.Sprint(v)
}

func handleConfigPath(out io.Writer, args Args) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, path)
	return nil
}

func handleConfigInit(out io.Writer, args Args) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !args.Force {
		return &UsageError{Reason: "config file already exists: " + path, Example: "tryme config init --force"}
	}
	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("Wrote"), path)
	return nil
}

func handleConfigGet(out io.Writer, args Args, key string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if strings.EqualFold(key, apiKeyField) {
		fmt.Fprintln(out, displayValue(cfg, apiKeyField))
		return nil
	}
	v, err := cfg.Get(key)
	if err != nil {
		return &UsageError{Reason: err.Error(), Example: "tryme config keys"}
	}
	fmt.Fprintln(out, v)
	return nil
}

// handleConfigSet changes one key in the file and validates the result
// before writing.
func handleConfigSet(out io.Writer, args Args, key, value string) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Reason: err.Error(), Example: "tryme config keys"}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	shown := value
	if strings.EqualFold(key, apiKeyField) {
		shown = "sha256:" + cloud.KeyFingerprint(value)
	}
	fmt.Fprintf(out, "%s %s = %s\n", SuccessStyle.Render("Set"), key, shown)
	return nil
}
