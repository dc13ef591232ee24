// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// MODEL REGISTRY TESTS
// =============================================================================

func TestRegistry_Resolve(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{name: "short key", key: "QWEN_CODER", want: "qwen/qwen3-coder:free"},
		{name: "case insensitive", key: "mistral", want: "mistralai/mistral-7b-instruct:free"},
		{name: "empty uses default", key: "", want: "qwen/qwen3-coder:free"},
		{name: "remote id passthrough", key: "anthropic/claude-3-haiku", want: "anthropic/claude-3-haiku"},
		{name: "remote id with tag", key: "qwen/qwen3-coder:free", want: "qwen/qwen3-coder:free"},
		{name: "unknown short key", key: "NOPE", wantErr: true},
		{name: "whitespace id", key: "bad model/x", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(tc.key)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownModel) {
					t.Fatalf("Resolve(%q) error = %v, want ErrUnknownModel", tc.key, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tc.key, err)
			}
			if got != tc.want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestRegistry_WithOverrides(t *testing.T) {
	r := DefaultRegistry().WithOverrides(map[string]string{
		"qwen_coder": "qwen/qwen3-coder",
		"HAIKU":      "anthropic/claude-3-haiku",
	})

	if got, _ := r.Resolve("QWEN_CODER"); got != "qwen/qwen3-coder" {
		t.Errorf("override not applied, got %q", got)
	}
	if got, _ := r.Resolve("haiku"); got != "anthropic/claude-3-haiku" {
		t.Errorf("new key not added, got %q", got)
	}
	if _, ok := DefaultRegistry().Lookup("HAIKU"); ok {
		t.Error("overrides must not mutate the base registry")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	list := DefaultRegistry().List()
	if len(list) != len(DefaultModels) {
		t.Fatalf("List() returned %d entries, want %d", len(list), len(DefaultModels))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Key > list[i].Key {
			t.Errorf("List() not sorted at %d: %s > %s", i, list[i-1].Key, list[i].Key)
		}
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewWelcomeConversation(t *testing.T) {
	conv := NewWelcomeConversation(DefaultModelKey)

	if conv.ID != WelcomeID {
		t.Errorf("ID = %q, want %q", conv.ID, WelcomeID)
	}
	if conv.Title != WelcomeTitle {
		t.Errorf("Title = %q, want %q", conv.Title, WelcomeTitle)
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 seeded message, got %d", len(conv.Messages))
	}
	greet := conv.Messages[0]
	if greet.Role != RoleAssistant || greet.IsLoading || greet.Content != WelcomeText {
		t.Errorf("unexpected greeting: %+v", greet)
	}
	if err := conv.Validate(); err != nil {
		t.Errorf("seeded conversation invalid: %v", err)
	}
}

func TestConversation_CloneIsDeep(t *testing.T) {
	conv := NewConversation("LLAMA", "hi")
	clone := conv.Clone()
	clone.Messages[0].Content = "changed"

	if conv.Messages[0].Content != "hi" {
		t.Error("mutating the clone changed the original")
	}
}

func TestConversation_Validate(t *testing.T) {
	good := NewConversation("LLAMA", "hi")

	noID := good.Clone()
	noID.ID = ""

	empty := good.Clone()
	empty.Messages = nil

	dup := good.Clone()
	dup.Messages = append(dup.Messages, dup.Messages[0])

	badRole := good.Clone()
	badRole.Messages[0].Role = "tool"

	for name, conv := range map[string]Conversation{
		"no id": noID, "no messages": empty, "duplicate ids": dup, "bad role": badRole,
	} {
		if err := conv.Validate(); !errors.Is(err, ErrInvalidConversation) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidConversation", name, err)
		}
	}
	if err := good.Validate(); err != nil {
		t.Errorf("valid conversation rejected: %v", err)
	}
}

func TestTitleFromText(t *testing.T) {
	if got := TitleFromText("How do I reverse a list?"); got != "How do I reverse a list?" {
		t.Errorf("short title = %q", got)
	}

	long := strings.Repeat("a", 80)
	got := TitleFromText(long)
	if got != strings.Repeat("a", TitleMaxRunes)+"..." {
		t.Errorf("long title = %q", got)
	}

	// One rune past the limit is still cut.
	if got := TitleFromText(strings.Repeat("b", TitleMaxRunes+1)); got != strings.Repeat("b", TitleMaxRunes)+"..." {
		t.Errorf("boundary title = %q", got)
	}
	if got := TitleFromText(strings.Repeat("b", TitleMaxRunes)); got != strings.Repeat("b", TitleMaxRunes) {
		t.Errorf("exact title = %q", got)
	}

	if got := TitleFromText("line one\nline two"); got != "line one line two" {
		t.Errorf("multiline title = %q", got)
	}

	// "e" + combining acute composes to a single rune under NFC.
	if got := TitleFromText("cafe\u0301"); got != "caf\u00e9" {
		t.Errorf("NFC title = %q", got)
	}
}

func TestNewPlaceholder(t *testing.T) {
	p := NewPlaceholder()
	if p.Role != RoleAssistant || !p.IsLoading || !p.IsEmpty() || p.ID == "" {
		t.Errorf("unexpected placeholder: %+v", p)
	}
}
