// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/export"
	"github.com/jeranaias/tryme/internal/model"
	"github.com/jeranaias/tryme/internal/storage"
	"github.com/jeranaias/tryme/internal/util"
)

// Filenames and environment variables.
const (
	// HomeEnv overrides the configuration directory.
	HomeEnv = "TRYME_HOME"

	configFileName = "config.toml"
	dotEnvFileName = ".env"
	logFileName    = "tryme.log"
	dataDirName    = "data"
	sqliteFileName = "tryme.db"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete tryme configuration.
type Config struct {
	API     APIConfig     `toml:"api" json:"api"`
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Export  ExportConfig  `toml:"export" json:"export"`
	Log     LogConfig     `toml:"log" json:"log"`

	// Models adds or overrides short model keys: KEY = "vendor/model:tag".
	Models map[string]string `toml:"models,omitempty" json:"models,omitempty"`
}

// APIConfig contains the completion endpoint configuration.
type APIConfig struct {
	// Key is the bearer credential. Prefer the environment over the file.
	Key string `toml:"key" json:"key"`
	// BaseURL is the API root; /chat/completions is appended.
	BaseURL string `toml:"base_url" json:"base_url"`
	// SiteURL and SiteName are sent as attribution headers.
	SiteURL  string `toml:"site_url" json:"site_url"`
	SiteName string `toml:"site_name" json:"site_name"`
	// TimeoutSecs bounds blocking requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// StreamTimeoutSecs bounds a whole streaming request (0 = no limit).
	StreamTimeoutSecs int `toml:"stream_timeout_secs" json:"stream_timeout_secs"`
	// RequestsPerMinute caps outgoing requests (0 = unlimited).
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// ChatConfig contains request defaults.
type ChatConfig struct {
	DefaultModel string  `toml:"default_model" json:"default_model"`
	SystemPrompt string  `toml:"system_prompt" json:"system_prompt"`
	Temperature  float64 `toml:"temperature" json:"temperature"`
	MaxTokens    int     `toml:"max_tokens" json:"max_tokens"`
	// Markdown renders finished replies with glamour on a terminal.
	Markdown bool `toml:"markdown" json:"markdown"`
}

// StorageConfig selects the conversation persistence backend.
type StorageConfig struct {
	// Backend is one of: file, sqlite, redis, memory.
	Backend string `toml:"backend" json:"backend"`
	// Path is the data directory (file) or database file (sqlite). Empty
	// uses a location under the config directory.
	Path     string `toml:"path" json:"path"`
	RedisURL string `toml:"redis_url" json:"redis_url"`
	// Key is the storage key of the conversation collection.
	Key string `toml:"key" json:"key"`
	// Watch reloads conversations when another process rewrites them
	// (file backend only).
	Watch bool `toml:"watch" json:"watch"`
}

// ExportConfig holds defaults for "tryme export" and /export.
type ExportConfig struct {
	// Format is one of: markdown, json, html.
	Format string `toml:"format" json:"format"`
	// Dir receives exported files. Empty means the working directory.
	Dir string `toml:"dir" json:"dir"`
	// Theme is the HTML color scheme, dark or light.
	Theme string `toml:"theme" json:"theme"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// File is the log file. Empty uses tryme.log in the config directory.
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     cloud.DefaultBaseURL,
			SiteURL:     cloud.DefaultSiteURL,
			SiteName:    cloud.DefaultSiteName,
			TimeoutSecs: int(cloud.DefaultTimeout / time.Second),
		},
		Chat: ChatConfig{
			DefaultModel: model.DefaultModelKey,
			SystemPrompt: "You are TryMe, a helpful AI assistant. Be concise, friendly, and helpful in your responses.",
			Temperature:  0.7,
			MaxTokens:    1000,
			Markdown:     true,
		},
		Storage: StorageConfig{
			Backend: storage.BackendFile,
			Key:     storage.DefaultKey,
			Watch:   true,
		},
		Export: ExportConfig{
			Format: export.FormatMarkdown,
			Theme:  "dark",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.SiteName == "" {
		c.API.SiteName = d.API.SiteName
	}
	if c.API.SiteURL == "" {
		c.API.SiteURL = d.API.SiteURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = d.Chat.DefaultModel
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = d.Chat.SystemPrompt
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = d.Chat.MaxTokens
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Key == "" {
		c.Storage.Key = d.Storage.Key
	}
	if c.Export.Format == "" {
		c.Export.Format = d.Export.Format
	}
	if c.Export.Theme == "" {
		c.Export.Theme = d.Export.Theme
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the configuration directory: $TRYME_HOME or ~/.tryme.
func ConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".tryme"), nil
}

// ConfigPath returns the path of config.toml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// StoragePath returns the configured storage path, or the backend default
// under the config directory.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if strings.EqualFold(c.Storage.Backend, storage.BackendSQLite) {
		return filepath.Join(dir, sqliteFileName), nil
	}
	return filepath.Join(dir, dataDirName), nil
}

// LogPath returns the configured log file, or tryme.log in the config
// directory.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logFileName), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads ./.env, then config.toml from the config directory if it
// exists, then applies environment overrides, fills defaults and validates.
func Load() (*Config, error) {
	if err := LoadDotEnv(dotEnvFileName); err != nil {
		return nil, err
	}
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load for an explicit config file. A missing file is not an
// error; defaults are used instead.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are rejected so typos
// surface instead of being ignored.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Not fatal: permissions are not fixable on every filesystem.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding ones already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ensureSecurePermissions tightens a config file holding a credential to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variables on top of the file. For
// each setting the first non-empty variable in the list wins.
func (c *Config) ApplyEnvOverrides() {
	if v := firstEnv("TRYME_API_KEY", "OPENROUTER_API_KEY", "VITE_OPENROUTER_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := firstEnv("TRYME_BASE_URL", "OPENROUTER_BASE_URL", "VITE_OPENROUTER_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := firstEnv("TRYME_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}
	if v := firstEnv("TRYME_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := firstEnv("TRYME_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := firstEnv("TRYME_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every ValidationError found by Validate.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Registry returns the model registry with the [models] overrides applied.
func (c *Config) Registry() *model.Registry {
	return model.NewRegistry(c.Chat.DefaultModel, model.DefaultModels...).WithOverrides(c.Models)
}

// Validate checks every setting and returns all problems at once. A
// missing API key is not an error here; commands that need it report
// cloud.ErrNotConfigured.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.base_url", "must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSecs < 0 {
		add("api.timeout_secs", "must be non-negative, got %d", c.API.TimeoutSecs)
	}
	if c.API.StreamTimeoutSecs < 0 {
		add("api.stream_timeout_secs", "must be non-negative, got %d", c.API.StreamTimeoutSecs)
	}
	if c.API.RequestsPerMinute < 0 {
		add("api.requests_per_minute", "must be non-negative, got %d", c.API.RequestsPerMinute)
	}

	if _, err := c.Registry().Resolve(c.Chat.DefaultModel); err != nil {
		add("chat.default_model", "%v", err)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		add("chat.temperature", "must be between 0.0 and 2.0, got %g", c.Chat.Temperature)
	}
	if c.Chat.MaxTokens < 0 {
		add("chat.max_tokens", "must be non-negative, got %d", c.Chat.MaxTokens)
	}
	for key, id := range c.Models {
		if !model.IsRemoteID(id) {
			add("models."+key, "must be a vendor/model id, got %q", id)
		}
	}

	switch strings.ToLower(c.Storage.Backend) {
	case storage.BackendFile, storage.BackendSQLite, storage.BackendMemory:
	case storage.BackendRedis:
		if c.Storage.RedisURL == "" {
			add("storage.redis_url", "required for the redis backend")
		}
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite, redis, memory", c.Storage.Backend)
	}
	if err := storage.ValidateKey(c.Storage.Key); err != nil {
		add("storage.key", "%v", err)
	}

	if _, err := export.ForFormat(c.Export.Format, nil); err != nil {
		add("export.format", "invalid format '%s', must be one of: %s", c.Export.Format, strings.Join(export.Formats(), ", "))
	}
	if t := strings.ToLower(c.Export.Theme); t != "dark" && t != "light" {
		add("export.theme", "invalid theme '%s', must be dark or light", c.Export.Theme)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes cfg as TOML to path atomically with 0600 permissions.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# tryme configuration file")
	fmt.Fprintln(&buf, "# Environment variables (TRYME_*, OPENROUTER_API_KEY) override these values.")
	fmt.Fprintln(&buf)

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// KEY ACCESS
// =============================================================================

// Get returns the value at a dotted key such as "chat.temperature".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field at a dotted key.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	return setFieldValue(field, value)
}

// lookup walks a dotted key through the section structs by TOML tag.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return reflect.Value{}, fmt.Errorf("invalid key %q, expected section.name", key)
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct || field.Kind() == reflect.Map {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %v", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %v", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %v", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("cannot set field of type %s", field.Type())
	}
	return nil
}

// Keys returns every settable dotted key, sorted.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		if section.Type.Kind() != reflect.Struct {
			continue
		}
		prefix, _, _ := strings.Cut(section.Tag.Get("toml"), ",")
		for j := 0; j < section.Type.NumField(); j++ {
			name, _, _ := strings.Cut(section.Type.Field(j).Tag.Get("toml"), ",")
			keys = append(keys, prefix+"."+name)
		}
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// DISPLAY
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Models != nil {
		clone.Models = make(map[string]string, len(c.Models))
		for k, v := range c.Models {
			clone.Models[k] = v
		}
	}
	return &clone
}

// String renders the config as JSON with the API key replaced by its
// fingerprint.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.API.Key != "" {
		safe.API.Key = "[REDACTED " + cloud.KeyFingerprint(c.API.Key) + "]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
