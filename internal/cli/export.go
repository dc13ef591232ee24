// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export.go - The export command.
//
// Usage:
//   tryme export [N|ID] [--format markdown|json|html] [--output DIR]
//
// Flags fall back to the [export] section of the config file.

package cli

import (
	"fmt"
	"strings"

	"github.com/jeranaias/tryme/internal/export"
	"github.com/jeranaias/tryme/internal/model"
)

// Export writes the conversation ref points to (default: current) to a file.
func (a *App) Export(ref, format, dir string) error {
	conv, ok := a.Store.Current()
	if ref != "" {
		var err error
		if conv, err = resolveConversation(a.Store, ref); err != nil {
			return err
		}
	} else if !ok {
		return &NotFoundError{Resource: "conversation", ID: "current"}
	}

	path, exp, err := a.exportConversation(conv, format, dir)
	if err != nil {
		return err
	}

	if a.JSON {
		return NewJSONResponse("export", ExportData{
			ID:       conv.ID,
			Title:    conv.Title,
			Format:   strings.TrimPrefix(exp.FileExtension(), "."),
			MimeType: exp.MimeType(),
			Path:     path,
		}).Print(a.Out)
	}
	if !a.Quiet {
		fmt.Fprintf(a.Out, "%s %s\n", SuccessStyle.Render("Exported to"), path)
	} else {
		fmt.Fprintln(a.Out, path)
	}
	return nil
}

// exportConversation applies config defaults for empty format and dir.
func (a *App) exportConversation(conv model.Conversation, format, dir string) (string, export.Exporter, error) {
	if format == "" {
		format = a.Config.Export.Format
	}
	if dir == "" {
		dir = a.Config.Export.Dir
	}

	opts := export.DefaultOptions()
	opts.Theme = strings.ToLower(a.Config.Export.Theme)
	exp, err := export.ForFormat(format, opts)
	if err != nil {
		return "", nil, err
	}

	path, err := export.ExportToFile(conv, exp, dir)
	if err != nil {
		return "", nil, err
	}
	a.Logger.Info("conversation exported", "conversation", conv.ID, "format", exp.MimeType(), "path", path)
	return path, exp, nil
}
