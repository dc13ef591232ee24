// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Formatting helpers shared by commands.

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/tryme/internal/conversation"
	"github.com/jeranaias/tryme/internal/model"
)

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

// formatAge formats how long ago t was.
func formatAge(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}

// shortID shortens a conversation id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveConversation finds a conversation by 1-based list position, exact
// id or unique id prefix.
func resolveConversation(store *conversation.Store, ref string) (model.Conversation, error) {
	ref = strings.TrimSpace(ref)
	list := store.List()

	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(list) {
		return list[n-1], nil
	}

	var match *model.Conversation
	for i := range list {
		if list[i].ID == ref {
			return list[i], nil
		}
		if ref != "" && strings.HasPrefix(list[i].ID, ref) {
			if match != nil {
				return model.Conversation{}, &UsageError{Reason: fmt.Sprintf("conversation reference %q is ambiguous", ref)}
			}
			match = &list[i]
		}
	}
	if match == nil {
		return model.Conversation{}, &NotFoundError{Resource: "conversation", ID: ref}
	}
	return *match, nil
}
