// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations out as Markdown, JSON or HTML files.
//
// # Key Types
//
//   - Exporter: converts a conversation to one output format
//   - Options: metadata, timestamps and HTML theme
//
// # Usage
//
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(conv, exp, ".")
//
// Messages still marked as loading are left out, so an export taken while a
// reply streams holds only completed messages.
package export
