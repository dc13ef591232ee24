// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/tryme/internal/model"
	"github.com/jeranaias/tryme/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for conversation exporters.
type Exporter interface {
	// Export converts a conversation to the target format and returns the content.
	Export(conv model.Conversation) ([]byte, error)

	// FileExtension returns the file extension including the dot (".md").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Format names accepted by ForFormat.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatHTML     = "html"
)

var (
	// ErrUnknownFormat is returned by ForFormat for an unsupported name.
	ErrUnknownFormat = errors.New("unknown export format")

	// ErrNothingToExport is returned when a conversation has no completed
	// messages.
	ErrNothingToExport = errors.New("conversation has no messages to export")
)

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds a metadata header (model, dates, message count).
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool

	// Theme for HTML export, "dark" or "light".
	Theme string

	// ExportedAt stamps the output. Zero means time.Now().
	ExportedAt time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

func (o *Options) exportedAt() time.Time {
	if o.ExportedAt.IsZero() {
		return time.Now()
	}
	return o.ExportedAt
}

func (o *Options) theme() string {
	if o.Theme == "light" {
		return "light"
	}
	return "dark"
}

// Formats lists the canonical format names.
func Formats() []string {
	return []string{FormatMarkdown, FormatJSON, FormatHTML}
}

// ForFormat returns the exporter for a format name or file extension
// ("md", "markdown", "json", "html", "htm"). An empty name means Markdown.
func ForFormat(name string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "", "md", FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatHTML, "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, name, strings.Join(Formats(), ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a conversation into dir using the given exporter and
// returns the written path. The file is written atomically with mode 0600,
// since conversations may contain anything the user typed.
func ExportToFile(conv model.Conversation, exporter Exporter, dir string) (string, error) {
	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, Filename(conv, exporter.FileExtension(), time.Now()))
	if err := util.AtomicWriteFile(outputPath, content, 0600); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return outputPath, nil
}

// Filename builds "conversation_<title>_<timestamp><ext>" with the title made
// safe for every common filesystem.
func Filename(conv model.Conversation, ext string, at time.Time) string {
	return fmt.Sprintf("conversation_%s_%s%s", sanitizeFilename(conv.Title), at.Format("20060102_150405"), ext)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// completedMessages validates conv and returns the messages worth exporting.
func completedMessages(conv model.Conversation) ([]model.Message, error) {
	if conv.CreatedAt.IsZero() {
		return nil, fmt.Errorf("conversation %s has invalid creation timestamp", conv.ID)
	}
	msgs := make([]model.Message, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.IsLoading {
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil, ErrNothingToExport
	}
	return msgs, nil
}

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	// Leading dots would hide the file or walk upwards.
	out := strings.TrimLeft(string(result), ".")
	if out == "" {
		return "conversation"
	}
	return out
}

// roleLabel returns the heading used for a message role.
func roleLabel(role model.Role) string {
	if role == "" {
		return "Unknown"
	}
	return role.DisplayName()
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
