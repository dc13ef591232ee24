// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/tryme/internal/util"
)

// Seed values shared by the welcome conversation and new conversations.
const (
	// WelcomeID is the fixed ID of the seeded welcome conversation. It is also
	// the current-conversation fallback when the store runs empty.
	WelcomeID = "1"

	// WelcomeTitle is the title of the seeded welcome conversation.
	WelcomeTitle = "Welcome to TryMe"

	// NewConversationTitle is the title of a freshly created conversation,
	// replaced by a derived title after the first exchange.
	NewConversationTitle = "New Conversation"

	// WelcomeText is the assistant greeting every conversation starts with.
	WelcomeText = "Hello! I'm TryMe, your AI coding assistant. I can help you with programming, " +
		"debugging, code reviews, and technical questions. What would you like to work on today?"

	// TitleMaxRunes is how much of the first user message becomes the title.
	TitleMaxRunes = 50
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	Model     string    `json:"model"`
}

// NewConversation creates a conversation holding a single assistant greeting.
func NewConversation(modelKey, greeting string) Conversation {
	now := time.Now()
	greet := NewMessage(RoleAssistant, greeting)
	greet.Timestamp = now
	return Conversation{
		ID:        NewID(),
		Title:     NewConversationTitle,
		Messages:  []Message{greet},
		CreatedAt: now,
		Model:     modelKey,
	}
}

// NewWelcomeConversation creates the seeded conversation used when nothing
// has been persisted yet.
func NewWelcomeConversation(modelKey string) Conversation {
	conv := NewConversation(modelKey, WelcomeText)
	conv.ID = WelcomeID
	conv.Title = WelcomeTitle
	conv.Messages[0].ID = "1"
	return conv
}

// Clone returns a deep copy, safe to hand out while the original keeps
// changing.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// MessageIndex returns the index of the message with the given ID, or -1.
func (c *Conversation) MessageIndex(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// HasLoading reports whether any message is still marked as loading.
func (c *Conversation) HasLoading() bool {
	for i := range c.Messages {
		if c.Messages[i].IsLoading {
			return true
		}
	}
	return false
}

// =============================================================================
// VALIDATION
// =============================================================================

// ErrInvalidConversation is wrapped by Validate failures.
var ErrInvalidConversation = errors.New("invalid conversation")

// Validate checks the structural invariants a persisted record must satisfy
// before it is re-hydrated: an ID, at least one message, unique message IDs
// and known roles.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConversation)
	}
	if len(c.Messages) == 0 {
		return fmt.Errorf("%w %s: no messages", ErrInvalidConversation, c.ID)
	}
	seen := make(map[string]bool, len(c.Messages))
	for i, msg := range c.Messages {
		if msg.ID == "" {
			return fmt.Errorf("%w %s: message %d has no id", ErrInvalidConversation, c.ID, i)
		}
		if seen[msg.ID] {
			return fmt.Errorf("%w %s: duplicate message id %s", ErrInvalidConversation, c.ID, msg.ID)
		}
		seen[msg.ID] = true
		if !msg.Role.Valid() {
			return fmt.Errorf("%w %s: message %s has role %q", ErrInvalidConversation, c.ID, msg.ID, msg.Role)
		}
	}
	return nil
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// TitleFromText derives a conversation title from the first user message:
// NFC-normalised, flattened to one line and cut to TitleMaxRunes runes with a
// trailing "..." when anything was dropped.
func TitleFromText(text string) string {
	return util.TruncateRunes(util.SingleLine(norm.NFC.String(text)), TitleMaxRunes, "...")
}
