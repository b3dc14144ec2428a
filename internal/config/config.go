// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/mmchat/internal/util"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageBolt   = "bolt"
	StorageSQLite = "sqlite"
)

// Sync policies.
const (
	SyncMirror = "mirror"
	SyncMerge  = "merge"
)

// Stream finalization policies.
const (
	CancelDiscard = "discard"
	CancelCommit  = "commit"
	EndCommit     = "commit"
	EndDiscard    = "discard"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete mmchat configuration.
type Config struct {
	Backend BackendConfig `toml:"backend" json:"backend"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Sync    SyncConfig    `toml:"sync" json:"sync"`
	Stream  StreamConfig  `toml:"stream" json:"stream"`
	Log     LogConfig     `toml:"log" json:"log"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// BackendConfig describes the chat backend.
type BackendConfig struct {
	BaseURL     string  `toml:"base_url" json:"base_url"`
	Token       string  `toml:"token" json:"token,omitempty"`
	TimeoutSecs int     `toml:"timeout_secs" json:"timeout_secs"`
	RatePerSec  float64 `toml:"rate_per_sec" json:"rate_per_sec"`
}

// StorageConfig selects the local cache backend.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend"` // file | bolt | sqlite
	Path    string `toml:"path" json:"path"`       // empty = inside the config dir
}

// SyncConfig controls conversation reconciliation.
type SyncConfig struct {
	Policy  string `toml:"policy" json:"policy"` // mirror | merge
	OnStart bool   `toml:"on_start" json:"on_start"`
}

// StreamConfig controls how partial replies are finalized.
type StreamConfig struct {
	CancelPolicy string `toml:"cancel_policy" json:"cancel_policy"` // discard | commit
	EndPolicy    string `toml:"end_policy" json:"end_policy"`       // commit | discard
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	File   string `toml:"file" json:"file,omitempty"`
}

// UIConfig controls terminal rendering.
type UIConfig struct {
	Markdown bool `toml:"markdown" json:"markdown"`
	WordWrap int  `toml:"word_wrap" json:"word_wrap"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:     "http://127.0.0.1:8000",
			TimeoutSecs: 60,
			RatePerSec:  10,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
		},
		Sync: SyncConfig{
			Policy:  SyncMirror,
			OnStart: true,
		},
		Stream: StreamConfig{
			CancelPolicy: CancelDiscard,
			EndPolicy:    EndCommit,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		UI: UIConfig{
			Markdown: true,
			WordWrap: 100,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the mmchat configuration directory. MMCHAT_HOME overrides
// the default of ~/.mmchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("MMCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".mmchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// StoragePath returns the cache location for the configured backend.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	switch c.Storage.Backend {
	case StorageBolt:
		return filepath.Join(dir, "cache.db"), nil
	case StorageSQLite:
		return filepath.Join(dir, "cache.sqlite"), nil
	default:
		return filepath.Join(dir, "cache"), nil
	}
}

// ensureSecurePermissions tightens config files to 0600; they may hold a token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory.
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finish(cfg)
		}
	}

	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadJSON(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finish(cfg)
		}
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# mmchat configuration file\n")
	b.WriteString("# Generated by mmchat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func oneOf(errs *ValidateErrors, field, value string, allowed ...string) {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return
		}
	}
	*errs = append(*errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid value '%s', must be one of: %s", value, strings.Join(allowed, ", ")),
	})
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Backend
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "backend.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be an absolute http(s) URL", c.Backend.BaseURL),
		})
	}
	if c.Backend.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "backend.timeout_secs", Message: "must not be negative"})
	}
	if c.Backend.RatePerSec < 0 {
		errs = append(errs, ValidationError{Field: "backend.rate_per_sec", Message: "must not be negative"})
	}

	oneOf(&errs, "storage.backend", c.Storage.Backend, StorageFile, StorageBolt, StorageSQLite)
	oneOf(&errs, "sync.policy", c.Sync.Policy, SyncMirror, SyncMerge)
	oneOf(&errs, "stream.cancel_policy", c.Stream.CancelPolicy, CancelDiscard, CancelCommit)
	oneOf(&errs, "stream.end_policy", c.Stream.EndPolicy, EndCommit, EndDiscard)
	oneOf(&errs, "log.level", c.Log.Level, "debug", "info", "warn", "error")
	oneOf(&errs, "log.format", c.Log.Format, "text", "json")

	if c.UI.WordWrap < 0 {
		errs = append(errs, ValidationError{Field: "ui.word_wrap", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if c.Backend.TimeoutSecs == 0 {
		c.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	if c.Sync.Policy == "" {
		c.Sync.Policy = defaults.Sync.Policy
	}
	if c.Stream.CancelPolicy == "" {
		c.Stream.CancelPolicy = defaults.Stream.CancelPolicy
	}
	if c.Stream.EndPolicy == "" {
		c.Stream.EndPolicy = defaults.Stream.EndPolicy
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - MMCHAT_BASE_URL: overrides backend.base_url
//   - MMCHAT_TOKEN: overrides backend.token
//   - MMCHAT_STORAGE: overrides storage.backend
//   - MMCHAT_STORAGE_PATH: overrides storage.path
//   - MMCHAT_SYNC_POLICY: overrides sync.policy
//   - MMCHAT_LOG_LEVEL: overrides log.level
//   - MMCHAT_NO_MARKDOWN: set to "1" or "true" to print raw replies
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MMCHAT_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("MMCHAT_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv("MMCHAT_STORAGE"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MMCHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MMCHAT_SYNC_POLICY"); v != "" {
		c.Sync.Policy = strings.ToLower(v)
	}
	if v := os.Getenv("MMCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MMCHAT_NO_MARKDOWN"); v != "" {
		c.UI.Markdown = !(v == "1" || strings.ToLower(v) == "true")
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "sync.policy").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation, converting strings to
// the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field
// equivalent ("base_url" -> "BaseUrl"; lookups are case-insensitive).
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value interface{}) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %s", s)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid number: %s", s)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("invalid boolean: %s", s)
			}
			field.SetBool(b)
			return nil
		}
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || !rv.Type().ConvertibleTo(field.Type()) {
		return fmt.Errorf("cannot assign %T to %s", value, field.Type())
	}
	field.Set(rv.Convert(field.Type()))
	return nil
}

// =============================================================================
// MISC
// =============================================================================

// Clone returns a copy of the configuration. Config holds no reference types.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as JSON with the token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Backend.Token != "" {
		safe.Backend.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
