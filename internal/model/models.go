// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes one entry of the model registry.
type ModelInfo struct {
	// Key is the short identifier stored on conversations (e.g. "QWEN_CODER").
	Key string `json:"key" toml:"key"`

	// ID is the fully-qualified remote model name sent to the endpoint.
	ID string `json:"id" toml:"id"`

	// Name is the human-readable display name.
	Name string `json:"name" toml:"name"`
}

// DefaultModelKey is the model new conversations use unless configured
// otherwise.
const DefaultModelKey = "QWEN_CODER"

// DefaultModels is the built-in registry table. Every entry targets a free
// OpenRouter route.
var DefaultModels = []ModelInfo{
	{Key: "MISTRAL", ID: "mistralai/mistral-7b-instruct:free", Name: "Mistral 7B (Free)"},
	{Key: "LLAMA", ID: "meta-llama/llama-3.1-8b-instruct:free", Name: "Llama 3.1 8B (Free)"},
	{Key: "GPT_3_5", ID: "openai/gpt-3.5-turbo:free", Name: "GPT-3.5 Turbo (Free)"},
	{Key: "QWEN_CODER", ID: "qwen/qwen3-coder:free", Name: "Qwen 3 Coder (Free)"},
	{Key: "QWEN", ID: "qwen/qwen2.5-7b-instruct:free", Name: "Qwen 2.5 7B (Free)"},
	{Key: "QWEN_32K", ID: "qwen/qwen-2.5-32b-instruct:free", Name: "Qwen 2.5 32B (Free)"},
	{Key: "QWEN_72B", ID: "qwen/qwen-2.5-72b-instruct:free", Name: "Qwen 2.5 72B (Free)"},
}

// ErrUnknownModel is returned when a key is neither registered nor a
// fully-qualified remote id.
var ErrUnknownModel = errors.New("unknown model")

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// Registry maps short model keys to remote model ids. Keys are matched
// case-insensitively. A Registry is read-only after construction.
type Registry struct {
	models     map[string]ModelInfo
	defaultKey string
}

// NewRegistry builds a registry from the given entries. Later entries
// override earlier ones with the same key.
func NewRegistry(defaultKey string, models ...ModelInfo) *Registry {
	r := &Registry{
		models:     make(map[string]ModelInfo, len(models)),
		defaultKey: strings.TrimSpace(defaultKey),
	}
	for _, m := range models {
		m.Key = normalizeKey(m.Key)
		if m.Key == "" || m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		r.models[m.Key] = m
	}
	return r
}

// DefaultRegistry returns a registry over DefaultModels.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultModelKey, DefaultModels...)
}

// WithOverrides returns a new registry with extra key -> id entries layered on
// top, as supplied by the [models] config table.
func (r *Registry) WithOverrides(overrides map[string]string) *Registry {
	models := r.List()
	for key, id := range overrides {
		models = append(models, ModelInfo{Key: key, ID: id})
	}
	return NewRegistry(r.defaultKey, models...)
}

// Default returns the default model key.
func (r *Registry) Default() string {
	return r.defaultKey
}

// Lookup returns the registry entry for key.
func (r *Registry) Lookup(key string) (ModelInfo, bool) {
	m, ok := r.models[normalizeKey(key)]
	return m, ok
}

// Resolve returns the remote model id for key. An empty key resolves the
// default. Keys that already look like remote ids ("vendor/name[:tag]") are
// passed through unchanged.
func (r *Registry) Resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = r.defaultKey
	}
	if m, ok := r.Lookup(key); ok {
		return m.ID, nil
	}
	if IsRemoteID(key) {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownModel, key)
}

// List returns all entries sorted by key.
func (r *Registry) List() []ModelInfo {
	out := make([]ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// IsRemoteID reports whether s has the shape of a fully-qualified remote
// model id: "vendor/name", optionally with a ":tag", and no whitespace.
func IsRemoteID(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	vendor, name, ok := strings.Cut(s, "/")
	return ok && vendor != "" && name != "" && !strings.HasPrefix(name, ":")
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
