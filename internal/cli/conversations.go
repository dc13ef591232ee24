// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - Conversation and model commands.
//
// Commands:
//   list                List conversations, newest first
//   show [N|ID]         Print a conversation (default: the newest)
//   new                 Start a new conversation with the default model
//   delete N|ID         Delete a conversation
//   models              List model keys
//   probe [MODEL...]    Find the first model that answers
//
// N is the 1-based position shown by list; ID may be a unique prefix.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/model"
	"github.com/jeranaias/tryme/internal/util"
)

const (
	titleColumnWidth = 40
	modelColumnWidth = 12
)

// =============================================================================
// LIST / SHOW
// =============================================================================

// List prints the conversation table.
func (a *App) List() error {
	if a.JSON {
		current := a.Store.CurrentID()
		rows := make([]ConversationSummary, 0, a.Store.Len())
		for _, c := range a.Store.List() {
			rows = append(rows, ConversationSummary{
				ID:        c.ID,
				Title:     c.Title,
				Model:     c.Model,
				Messages:  len(c.Messages),
				CreatedAt: c.CreatedAt,
				Current:   c.ID == current,
			})
		}
		return NewJSONResponse("list", rows).Print(a.Out)
	}
	a.writeConversationTable(a.Out)
	return nil
}

func (a *App) writeConversationTable(w io.Writer) {
	current := a.Store.CurrentID()
	now := time.Now()
	for i, c := range a.Store.List() {
		marker := " "
		if c.ID == current {
			marker = HighlightStyle.Render("*")
		}
		title := util.PadRight(util.TruncateWidth(util.SingleLine(c.Title), titleColumnWidth), titleColumnWidth)
		fmt.Fprintf(w, "%s %3d  %s  %s  %s  %s\n",
			marker, i+1,
			DimStyle.Render(shortID(c.ID)),
			title,
			util.PadRight(util.TruncateWidth(c.Model, modelColumnWidth), modelColumnWidth),
			DimStyle.Render(fmt.Sprintf("%d msgs, %s", len(c.Messages), formatAge(c.CreatedAt, now))),
		)
	}
}

// Show prints one conversation. An empty ref shows the current one.
func (a *App) Show(ref string) error {
	conv, ok := a.Store.Current()
	if ref != "" {
		var err error
		if conv, err = resolveConversation(a.Store, ref); err != nil {
			return err
		}
	} else if !ok {
		return &NotFoundError{Resource: "conversation", ID: "current"}
	}

	if a.JSON {
		return NewJSONResponse("show", conv).Print(a.Out)
	}
	writeConversation(a.Out, conv, a.Config.Chat.Markdown && isTerminalWriter(a.Out))
	return nil
}

// writeConversation prints a title line and every message.
func writeConversation(w io.Writer, conv model.Conversation, markdown bool) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render(conv.Title), DimStyle.Render("("+conv.Model+")"))
	for _, m := range conv.Messages {
		fmt.Fprintf(w, "\n%s %s\n", roleLabel(m.Role), DimStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04")))
		switch {
		case m.IsLoading:
			fmt.Fprintln(w, DimStyle.Render("..."))
		case m.IsEmpty():
			fmt.Fprintln(w, DimStyle.Render("(empty reply)"))
		case markdown && m.Role == model.RoleAssistant:
			fmt.Fprint(w, renderMarkdown(m.Content, GetTerminalWidth()))
		default:
			fmt.Fprintln(w, m.Content)
		}
	}
}

// =============================================================================
// NEW / DELETE
// =============================================================================

// New creates a conversation with the default model.
func (a *App) New() error {
	conv := a.Store.Create("")
	if a.JSON {
		return NewJSONResponse("new", conv).Print(a.Out)
	}
	if !a.Quiet {
		fmt.Fprintf(a.Out, "%s %s (%s)\n", SuccessStyle.Render("Created"), conv.ID, conv.Model)
	}
	return a.checkSaved()
}

// Delete removes the conversation ref points to.
func (a *App) Delete(ref string) error {
	if ref == "" {
		return ErrMissingArgument("conversation", "tryme delete 2")
	}
	conv, err := resolveConversation(a.Store, ref)
	if err != nil {
		return err
	}
	if err := a.Store.Delete(conv.ID); err != nil {
		return err
	}
	if !a.Quiet {
		fmt.Fprintf(a.Out, "%s %s %s\n", SuccessStyle.Render("Deleted"), shortID(conv.ID), conv.Title)
	}
	return a.checkSaved()
}

// =============================================================================
// MODELS / PROBE
// =============================================================================

// Models prints the model registry.
func (a *App) Models() error {
	if a.JSON {
		var rows []ModelData
		for _, m := range a.Registry.List() {
			rows = append(rows, ModelData{
				Key:     m.Key,
				ID:      m.ID,
				Name:    m.Name,
				Default: strings.EqualFold(m.Key, a.Registry.Default()),
			})
		}
		return NewJSONResponse("models", rows).Print(a.Out)
	}
	a.writeModelTable(a.Out)
	return nil
}

func (a *App) writeModelTable(w io.Writer) {
	for _, m := range a.Registry.List() {
		marker := " "
		if strings.EqualFold(m.Key, a.Registry.Default()) {
			marker = HighlightStyle.Render("*")
		}
		fmt.Fprintf(w, "%s %s %s %s\n",
			marker,
			util.PadRight(m.Key, modelColumnWidth),
			util.PadRight(util.TruncateWidth(m.Name, 28), 28),
			DimStyle.Render(m.ID))
	}
}

// Probe asks each model for a short reply until one answers. With no
// arguments every registry model is tried, default first.
func (a *App) Probe(ctx context.Context, refs []string) error {
	if !a.Client.IsConfigured() {
		return cloud.ErrNotConfigured
	}

	ids, err := a.probeTargets(refs)
	if err != nil {
		return err
	}

	results, probeErr := a.Client.Probe(ctx, ids)

	if a.JSON {
		rows := make([]ProbeData, 0, len(results))
		for _, r := range results {
			row := ProbeData{Model: r.Model, OK: r.OK(), Reply: r.Reply, DurationMs: r.Duration.Milliseconds()}
			if r.Err != nil {
				row.Error = r.Err.Error()
			}
			rows = append(rows, row)
		}
		if err := NewJSONResponse("probe", rows).Print(a.Out); err != nil {
			return err
		}
		return probeErr
	}

	for _, r := range results {
		status := SuccessStyle.Render("OK  ")
		detail := util.TruncateWidth(util.SingleLine(r.Reply), 50)
		if !r.OK() {
			status = ErrorStyle.Render("FAIL")
			detail = util.TruncateWidth(util.SingleLine(r.Err.Error()), 70)
		}
		fmt.Fprintf(a.Out, "%s %s %s %s\n", status,
			util.PadRight(r.Model, 44),
			DimStyle.Render(util.PadRight(formatDurationShort(r.Duration), 7)),
			detail)
	}
	return probeErr
}

// probeTargets resolves refs to remote ids, or lists the registry with the
// default first.
func (a *App) probeTargets(refs []string) ([]string, error) {
	var ids []string
	if len(refs) > 0 {
		for _, ref := range refs {
			id, err := a.Registry.Resolve(ref)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	def, err := a.Registry.Resolve("")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{def: true}
	ids = append(ids, def)
	for _, m := range a.Registry.List() {
		if !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
