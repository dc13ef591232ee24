// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/jeranaias/tryme/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a single self-contained HTML page.
//
// Message bodies are rendered from Markdown by goldmark without its unsafe
// option, so raw HTML in a message is dropped and dangerous link schemes are
// blanked. Everything else goes through html/template escaping.
type HTMLExporter struct {
	options  *Options
	markdown goldmark.Markdown
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options: opts,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

type htmlPage struct {
	Title      string
	Created    string
	CreatedISO string
	Model      string
	Theme      string
	Count      int
	Metadata   bool
	Timestamps bool
	Messages   []htmlMessage
	ExportedOn string
}

type htmlMessage struct {
	Role      string
	Label     string
	Timestamp string
	Body      template.HTML
}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(conv model.Conversation) ([]byte, error) {
	msgs, err := completedMessages(conv)
	if err != nil {
		return nil, err
	}

	page := htmlPage{
		Title:      conv.Title,
		Created:    formatTimestamp(conv.CreatedAt),
		CreatedISO: conv.CreatedAt.Format(time.RFC3339),
		Model:      conv.Model,
		Theme:      e.options.theme(),
		Count:      len(msgs),
		Metadata:   e.options.IncludeMetadata,
		Timestamps: e.options.IncludeTimestamps,
		ExportedOn: e.options.exportedAt().Format("January 2, 2006 at 3:04 PM"),
	}
	for _, msg := range msgs {
		body, err := e.renderContent(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to render message %s: %w", msg.ID, err)
		}
		hm := htmlMessage{
			Role:  string(msg.Role),
			Label: roleLabel(msg.Role),
			Body:  body,
		}
		if !msg.Timestamp.IsZero() {
			hm.Timestamp = formatShortTimestamp(msg.Timestamp)
		}
		page.Messages = append(page.Messages, hm)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// renderContent converts message Markdown to HTML.
func (e *HTMLExporter) renderContent(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := e.markdown.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	// goldmark output is sanitized: raw HTML is omitted in safe mode.
	return template.HTML(buf.String()), nil
}

// =============================================================================
// PAGE TEMPLATE
// =============================================================================

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <meta name="generator" content="tryme">
    <meta name="date" content="{{.CreatedISO}}">
    <style>
        /* Reset and base styles */
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Dank Mono", "Source Code Pro", monospace;
        }

        /* Dark theme (default) */
        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-secondary: #a9b1d6;
            --text-muted: #565f89;
            --border-color: #414868;
            --user-bg: #1f2335;
            --assistant-bg: #24283b;
            --code-bg: #1a1b26;
            --accent-blue: #7aa2f7;
            --accent-green: #9ece6a;
            --accent-purple: #bb9af7;
            --accent-red: #f7768e;
        }

        /* Light theme */
        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --bg-tertiary: #e1e4e8;
            --text-primary: #24292e;
            --text-secondary: #586069;
            --text-muted: #6a737d;
            --border-color: #e1e4e8;
            --user-bg: #f6f8fa;
            --assistant-bg: #ffffff;
            --code-bg: #f6f8fa;
            --accent-blue: #0366d6;
            --accent-green: #22863a;
            --accent-purple: #6f42c1;
            --accent-red: #d73a49;
        }

        body {
            font-family: var(--font-sans);
            font-size: 16px;
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
            transition: background 0.3s ease, color 0.3s ease;
        }

        .container {
            max-width: 900px;
            margin: 0 auto;
            background: var(--bg-secondary);
            border-radius: 12px;
            box-shadow: 0 4px 6px rgba(0, 0, 0, 0.1);
            overflow: hidden;
        }

        /* Header */
        .header {
            padding: 32px;
            background: var(--bg-tertiary);
            border-bottom: 2px solid var(--border-color);
        }

        .header h1 {
            font-size: 28px;
            font-weight: 700;
            margin-bottom: 16px;
            color: var(--text-primary);
        }

        .metadata {
            display: flex;
            flex-wrap: wrap;
            gap: 16px;
            font-size: 14px;
            color: var(--text-secondary);
            align-items: center;
        }

        .meta-item {
            display: inline-flex;
            align-items: center;
            gap: 4px;
        }

        .theme-toggle {
            margin-left: auto;
            background: var(--bg-secondary);
            border: 1px solid var(--border-color);
            border-radius: 6px;
            padding: 6px 12px;
            cursor: pointer;
            font-size: 18px;
            transition: all 0.2s ease;
        }

        .theme-toggle:hover {
            background: var(--bg-primary);
            transform: scale(1.05);
        }

        /* Conversation */
        .conversation {
            padding: 24px 32px;
        }

        .message {
            margin-bottom: 24px;
            padding: 20px;
            border-radius: 8px;
            border-left: 4px solid transparent;
            transition: all 0.2s ease;
        }

        .user-message {
            background: var(--user-bg);
            border-left-color: var(--accent-blue);
        }

        .assistant-message {
            background: var(--assistant-bg);
            border-left-color: var(--accent-green);
        }

        .system-message {
            background: var(--bg-tertiary);
            border-left-color: var(--accent-purple);
        }

        .message-header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 12px;
            font-size: 14px;
        }

        .role-label {
            font-weight: 600;
            color: var(--text-primary);
        }

        .timestamp {
            color: var(--text-muted);
            font-size: 13px;
            font-family: var(--font-mono);
        }

        .message-content {
            color: var(--text-primary);
            line-height: 1.7;
        }

        .message-content p {
            margin-bottom: 12px;
        }

        .message-content p:last-child {
            margin-bottom: 0;
        }

        /* Code blocks */
        .message-content pre {
            margin: 16px 0;
            padding: 16px;
            overflow-x: auto;
            border-radius: 8px;
            background: var(--code-bg);
            border: 1px solid var(--border-color);
        }

        .message-content pre code {
            font-family: var(--font-mono);
            font-size: 14px;
            line-height: 1.5;
            color: var(--text-primary);
        }

        .message-content :not(pre) > code {
            font-family: var(--font-mono);
            font-size: 14px;
            padding: 2px 6px;
            background: var(--code-bg);
            border: 1px solid var(--border-color);
            border-radius: 4px;
            color: var(--accent-purple);
        }

        /* Footer */
        .footer {
            padding: 20px 32px;
            text-align: center;
            font-size: 14px;
            color: var(--text-muted);
            border-top: 1px solid var(--border-color);
        }

        /* Print styles */
        @media print {
            body {
                padding: 0;
            }

            .container {
                box-shadow: none;
                border-radius: 0;
            }

            .theme-toggle {
                display: none;
            }

            .message {
                page-break-inside: avoid;
            }
        }

        /* Responsive */
        @media (max-width: 768px) {
            body {
                padding: 10px;
            }

            .header, .conversation, .footer {
                padding: 16px;
            }

            .message {
                padding: 16px;
            }
        }
    </style>
</head>
<body class="{{.Theme}}-theme">
    <div class="container">
{{- if .Metadata}}
        <header class="header">
            <h1>{{.Title}}</h1>
            <div class="metadata">
                <span class="meta-item"><strong>Model:</strong> {{.Model}}</span>
                <span class="meta-item"><strong>Created:</strong> {{.Created}}</span>
                <span class="meta-item"><strong>Messages:</strong> {{.Count}}</span>
                <button class="theme-toggle" onclick="toggleTheme()" title="Toggle theme">[Theme]</button>
            </div>
        </header>
{{- end}}
        <main class="conversation">
{{- range .Messages}}
            <div class="message {{.Role}}-message">
                <div class="message-header">
                    <span class="role-label">{{.Label}}</span>
{{- if and $.Timestamps .Timestamp}}
                    <span class="timestamp">{{.Timestamp}}</span>
{{- end}}
                </div>
                <div class="message-content">
{{.Body}}
                </div>
            </div>
{{- end}}
        </main>
        <footer class="footer">
            <p>Exported from <strong>tryme</strong> on {{.ExportedOn}}</p>
        </footer>
    </div>
    <script>
        function toggleTheme() {
            const body = document.body;
            const next = body.classList.contains('dark-theme') ? 'light' : 'dark';
            body.classList.remove('dark-theme', 'light-theme');
            body.classList.add(next + '-theme');
            localStorage.setItem('theme', next);
        }

        document.addEventListener('DOMContentLoaded', function() {
            const saved = localStorage.getItem('theme');
            if (saved === 'dark' || saved === 'light') {
                document.body.classList.remove('dark-theme', 'light-theme');
                document.body.classList.add(saved + '-theme');
            }
        });
    </script>
</body>
</html>
`))
