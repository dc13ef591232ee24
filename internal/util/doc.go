// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the tryme packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - TruncateRunes: UTF-8 safe truncation with a suffix
//   - TruncateWidth, PadRight: display-width aware helpers for column output
//
// # Usage
//
//	// Persist a blob without ever leaving a half-written file behind
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Fit a title into a 30-column table cell
//	cell := util.PadRight(util.TruncateWidth(title, 30), 30)
package util
