// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv isolates a test from the developer's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"TRYME_API_KEY", "OPENROUTER_API_KEY", "VITE_OPENROUTER_API_KEY",
		"TRYME_BASE_URL", "OPENROUTER_BASE_URL", "VITE_OPENROUTER_BASE_URL",
		"TRYME_MODEL", "TRYME_STORAGE", "TRYME_REDIS_URL", "TRYME_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
	t.Setenv(HomeEnv, t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Chat.DefaultModel != "QWEN_CODER" || cfg.Chat.Temperature != 0.7 || cfg.Chat.MaxTokens != 1000 {
		t.Errorf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if cfg.API.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Storage.Key != "tryme-conversations" || cfg.Storage.Backend != "file" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
}

func TestLoadFromPath_ZeroTemperature(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[chat]
temperature = 0.0
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Chat.Temperature != 0 {
		t.Errorf("explicit zero temperature replaced with %g", cfg.Chat.Temperature)
	}
}

func TestLoadFromPath_PartialFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[chat]
default_model = "LLAMA"
temperature = 0.2

[storage]
backend = "sqlite"

[models]
HAIKU = "anthropic/claude-3-haiku"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Chat.DefaultModel != "LLAMA" || cfg.Chat.Temperature != 0.2 {
		t.Errorf("file values not applied: %+v", cfg.Chat)
	}
	if cfg.Chat.MaxTokens != 1000 || !cfg.Chat.Markdown {
		t.Errorf("defaults lost for unset keys: %+v", cfg.Chat)
	}
	if got, _ := cfg.Registry().Resolve("haiku"); got != "anthropic/claude-3-haiku" {
		t.Errorf("models override not applied, got %q", got)
	}
	if p, _ := cfg.StoragePath(); filepath.Base(p) != "tryme.db" {
		t.Errorf("sqlite default path = %q", p)
	}
}

func TestLoadFromPath_UnknownKeyRejected(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[chat]\ntemprature = 0.5\n")

	_, err := LoadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), "chat.temprature") {
		t.Errorf("expected unknown key error, got %v", err)
	}
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	if os.PathSeparator != '/' {
		t.Skip("POSIX permissions only")
	}
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[api]\nkey = \"sk-or-file\"\n")
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-env")
	t.Setenv("VITE_OPENROUTER_API_KEY", "sk-or-vite")
	t.Setenv("OPENROUTER_BASE_URL", "http://localhost:9999/v1")
	t.Setenv("TRYME_MODEL", "MISTRAL")
	t.Setenv("TRYME_STORAGE", "memory")
	t.Setenv("TRYME_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[api]\nkey = \"sk-or-file\"\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Key != "sk-or-env" {
		t.Errorf("Key = %q, want env value", cfg.API.Key)
	}
	if cfg.API.BaseURL != "http://localhost:9999/v1" || cfg.Chat.DefaultModel != "MISTRAL" ||
		cfg.Storage.Backend != "memory" || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	t.Setenv("TRYME_API_KEY", "sk-or-tryme")
	cfg.ApplyEnvOverrides()
	if cfg.API.Key != "sk-or-tryme" {
		t.Errorf("TRYME_API_KEY should take precedence, got %q", cfg.API.Key)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	writeFile(t, envPath, "OPENROUTER_API_KEY=sk-or-dotenv\nTRYME_MODEL=LLAMA\n")
	t.Setenv("TRYME_MODEL", "MISTRAL")
	// godotenv sets variables directly; restore them after the test.
	t.Cleanup(func() { os.Unsetenv("OPENROUTER_API_KEY") })
	os.Unsetenv("OPENROUTER_API_KEY")

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("OPENROUTER_API_KEY"); got != "sk-or-dotenv" {
		t.Errorf("OPENROUTER_API_KEY = %q", got)
	}
	if got := os.Getenv("TRYME_MODEL"); got != "MISTRAL" {
		t.Errorf(".env must not override the environment, got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad base url", func(c *Config) { c.API.BaseURL = "openrouter.ai" }, "api.base_url"},
		{"negative timeout", func(c *Config) { c.API.TimeoutSecs = -1 }, "api.timeout_secs"},
		{"negative rpm", func(c *Config) { c.API.RequestsPerMinute = -5 }, "api.requests_per_minute"},
		{"unknown model", func(c *Config) { c.Chat.DefaultModel = "NOPE" }, "chat.default_model"},
		{"temperature", func(c *Config) { c.Chat.Temperature = 3 }, "chat.temperature"},
		{"bad model override", func(c *Config) { c.Models = map[string]string{"X": "not an id"} }, "models.X"},
		{"backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"redis without url", func(c *Config) { c.Storage.Backend = "redis" }, "storage.redis_url"},
		{"bad key", func(c *Config) { c.Storage.Key = "../x" }, "storage.key"},
		{"export format", func(c *Config) { c.Export.Format = "pdf" }, "export.format"},
		{"export theme", func(c *Config) { c.Export.Theme = "neon" }, "export.theme"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()

			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidateErrors, got %v", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tc.field, verrs)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Chat.Temperature = -1
	cfg.Log.Level = "loud"

	var verrs ValidateErrors
	if !errors.As(cfg.Validate(), &verrs) || len(verrs) != 2 {
		t.Errorf("expected 2 errors, got %v", verrs)
	}
}

// =============================================================================
// SAVE / GET / SET TESTS
// =============================================================================

func TestSaveAndReload(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.API.Key = "sk-or-saved"
	cfg.Chat.DefaultModel = "QWEN_72B"
	cfg.Models = map[string]string{"HAIKU": "anthropic/claude-3-haiku"}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if os.PathSeparator == '/' {
		info, _ := os.Stat(path)
		if info.Mode().Perm() != 0600 {
			t.Errorf("saved permissions = %o", info.Mode().Perm())
		}
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.API.Key != "sk-or-saved" || loaded.Chat.DefaultModel != "QWEN_72B" || loaded.Models["HAIKU"] == "" {
		t.Errorf("round trip lost values: %s", loaded)
	}
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("chat.temperature", "0.3"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("storage.watch", "false"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("api.requests_per_minute", "20"); err != nil {
		t.Fatal(err)
	}

	if v, _ := cfg.Get("chat.temperature"); v != 0.3 {
		t.Errorf("chat.temperature = %v", v)
	}
	if cfg.Storage.Watch || cfg.API.RequestsPerMinute != 20 {
		t.Errorf("Set did not apply: %+v", cfg)
	}

	for _, bad := range []string{"chat", "chat.nope", "nope.key", "chat.max_tokens.x", "models.HAIKU"} {
		if _, err := cfg.Get(bad); err == nil {
			t.Errorf("Get(%q) should fail", bad)
		}
	}
	if err := cfg.Set("chat.max_tokens", "many"); err == nil {
		t.Error("Set with a non-integer should fail")
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	cfg := Default()
	for _, k := range keys {
		if _, err := cfg.Get(k); err != nil {
			t.Errorf("Keys() listed %q but Get failed: %v", k, err)
		}
	}
	if len(keys) == 0 || keys[0] != "api.base_url" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestString_RedactsKey(t *testing.T) {
	cfg := Default()
	cfg.API.Key = "sk-or-secret-value"
	out := cfg.String()
	if strings.Contains(out, "sk-or-secret-value") {
		t.Error("String() leaked the API key")
	}
	if !strings.Contains(out, "REDACTED") {
		t.Error("String() should mark the key as redacted")
	}
}
