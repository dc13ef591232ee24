// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and usage for tryme.

package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdList
	CmdShow
	CmdNew
	CmdDelete
	CmdModels
	CmdProbe
	CmdExport
	CmdConfig
	CmdVersion
	CmdHelp
)

var commandNames = map[Command]string{
	CmdChat:    "chat",
	CmdAsk:     "ask",
	CmdList:    "list",
	CmdShow:    "show",
	CmdNew:     "new",
	CmdDelete:  "delete",
	CmdModels:  "models",
	CmdProbe:   "probe",
	CmdExport:  "export",
	CmdConfig:  "config",
	CmdVersion: "version",
	CmdHelp:    "help",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool
	JSON       bool
	Model      string // model key for new conversations
	ConfigFile string // explicit config.toml

	// Command-specific
	Query      string
	Subcommand string
	Stream     bool   // ask: print deltas as they arrive
	NoSave     bool   // ask: do not record the exchange
	Force      bool   // config init: overwrite
	Format     string // export: markdown, json or html
	OutputDir  string // export: destination directory

	// Raw holds the arguments after the command name.
	Raw []string
}

const usageText = `tryme - chat with hosted language models from the terminal

Usage:
  tryme                          Start interactive chat (default)
  tryme chat [--model KEY]       Interactive chat
  tryme ask "question"           Ask a single question
  tryme list                     List conversations
  tryme show [N|ID]              Print a conversation (default: current)
  tryme new [--model KEY]        Start a new conversation
  tryme delete N|ID              Delete a conversation
  tryme models                   List model keys
  tryme probe [MODEL...]         Find the first model that answers
  tryme export [N|ID]            Write a conversation to a file (default: current)
  tryme config [subcommand]      Configuration
  tryme version                  Show version
  tryme help                     Show this help

Ask flags:
  -s, --stream                   Print the reply as it streams
  --no-save                      Do not record the exchange

Export flags:
  -f, --format FORMAT            markdown, json or html (default from config)
  -o, --output DIR               Destination directory (default from config)

Config subcommands:
  show                           Print the effective configuration (key redacted)
  path                           Print the config file location
  init [--force]                 Write a default config file
  get KEY                        Print one setting, e.g. chat.temperature
  set KEY VALUE                  Change one setting in the config file
  keys                           List settable keys

Global flags:
  -m, --model KEY                Model key or vendor/model id
  --config FILE                  Use FILE instead of ~/.tryme/config.toml
  --json                         JSON output for list, show, models, probe
  -q, --quiet                    Less output
  -v, --verbose                  Log to stderr at debug level

Chat commands:
  /new [MODEL]  /list  /switch N|ID  /delete [N|ID]  /model [KEY]
  /history  /export [FORMAT]  /models  /help  /quit

Environment:
  OPENROUTER_API_KEY             API key (also TRYME_API_KEY)
  OPENROUTER_BASE_URL            API root (also TRYME_BASE_URL)
  TRYME_HOME                     Config directory (default ~/.tryme)
  TRYME_MODEL, TRYME_STORAGE, TRYME_REDIS_URL, TRYME_LOG_LEVEL
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "tryme %s (commit %s, built %s, %s)\n", Version, GitCommit, BuildDate, runtime.Version())
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses argv (without the program name).
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdChat, args
	}

	word := remaining[0]
	cmd := strings.ToLower(word)
	remaining = remaining[1:]
	args.Raw = remaining

	switch cmd {
	case "chat":
		return CmdChat, args

	case "ask", "a":
		parseAskArgs(&args, remaining)
		return CmdAsk, args

	case "list", "ls", "conversations":
		return CmdList, args

	case "show", "history":
		args.Subcommand = firstOrEmpty(remaining)
		return CmdShow, args

	case "new":
		return CmdNew, args

	case "delete", "rm":
		args.Subcommand = firstOrEmpty(remaining)
		return CmdDelete, args

	case "models":
		return CmdModels, args

	case "probe":
		return CmdProbe, args

	case "export":
		p := NewArgParser(remaining)
		args.Subcommand = p.Positional(0)
		args.Format = p.Flag("f", "format")
		args.OutputDir = p.Flag("o", "output")
		return CmdExport, args

	case "config":
		p := NewArgParser(remaining, "force")
		args.Subcommand = p.Positional(0)
		args.Force = p.BoolFlag("force")
		args.Raw = p.PositionalFrom(1)
		return CmdConfig, args

	case "version", "--version":
		return CmdVersion, args

	case "help", "-h", "--help":
		return CmdHelp, args

	default:
		// Anything else is a question: tryme "what is a goroutine?"
		parseAskArgs(&args, append([]string{word}, remaining...))
		return CmdAsk, args
	}
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		switch arg {
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		case "--json":
			args.JSON = true
		case "-m", "--model":
			if i+1 < len(argv) {
				i++
				args.Model = argv[i]
			}
		case "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigFile = argv[i]
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--model="):
				args.Model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--config="):
				args.ConfigFile = strings.TrimPrefix(arg, "--config=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, args
}

// parseAskArgs parses ask flags and joins the rest into the query.
func parseAskArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining, "s", "stream", "no-save")
	args.Stream = p.BoolFlag("s", "stream")
	args.NoSave = p.BoolFlag("no-save")
	args.Query = strings.Join(p.PositionalFrom(0), " ")
}
