// tryme - Chat with hosted language models from the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/tryme/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse(os.Args[1:])

	// SIGTERM ends the process cleanly. Interrupts are handled per reply by
	// the commands that stream, so Ctrl+C cancels a reply rather than the
	// session.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, cmd, args, os.Stdout, os.Stderr); err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
