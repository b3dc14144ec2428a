// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MMCHAT_HOME", dir)
	for _, k := range []string{
		"MMCHAT_BASE_URL", "MMCHAT_TOKEN", "MMCHAT_STORAGE", "MMCHAT_STORAGE_PATH",
		"MMCHAT_SYNC_POLICY", "MMCHAT_LOG_LEVEL", "MMCHAT_NO_MARKDOWN",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.Equal(t, SyncMirror, cfg.Sync.Policy)
	assert.Equal(t, CancelDiscard, cfg.Stream.CancelPolicy)
	assert.Equal(t, EndCommit, cfg.Stream.EndPolicy)
	require.NoError(t, cfg.Validate())
}

func TestConfig_LoadWithoutFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Backend.BaseURL, cfg.Backend.BaseURL)
}

func TestConfig_LoadTOMLThenEnv(t *testing.T) {
	dir := isolate(t)

	content := `
[backend]
base_url = "https://chat.example.com/"
token = "secret"

[storage]
backend = "bolt"

[sync]
policy = "merge"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))
	t.Setenv("MMCHAT_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, StorageBolt, cfg.Storage.Backend)
	assert.Equal(t, SyncMerge, cfg.Sync.Policy)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, EndCommit, cfg.Stream.EndPolicy)
}

func TestConfig_LoadJSONFallback(t *testing.T) {
	dir := isolate(t)

	content := `{"storage":{"backend":"sqlite"},"ui":{"markdown":false,"word_wrap":80}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.Storage.Backend)
	assert.False(t, cfg.UI.Markdown)
	assert.Equal(t, 80, cfg.UI.WordWrap)

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConfig_SaveAndReload(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	cfg.Backend.Token = "tok"
	cfg.Sync.Policy = SyncMerge
	require.NoError(t, Save(cfg))

	loaded, err := LoadFromPath(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.Backend.BaseURL = "not a url" }, "backend.base_url"},
		{"bad scheme", func(c *Config) { c.Backend.BaseURL = "ftp://x" }, "backend.base_url"},
		{"bad storage", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"bad policy", func(c *Config) { c.Sync.Policy = "yolo" }, "sync.policy"},
		{"bad cancel", func(c *Config) { c.Stream.CancelPolicy = "keep" }, "stream.cancel_policy"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative rate", func(c *Config) { c.Backend.RatePerSec = -1 }, "backend.rate_per_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("sync.policy", "merge"))
	require.NoError(t, cfg.Set("backend.timeout_secs", "30"))
	require.NoError(t, cfg.Set("backend.rate_per_sec", "2.5"))
	require.NoError(t, cfg.Set("ui.markdown", "false"))

	v, err := cfg.Get("sync.policy")
	require.NoError(t, err)
	assert.Equal(t, "merge", v)
	assert.Equal(t, 30, cfg.Backend.TimeoutSecs)
	assert.Equal(t, 2.5, cfg.Backend.RatePerSec)
	assert.False(t, cfg.UI.Markdown)

	_, err = cfg.Get("sync.nope")
	assert.Error(t, err)
	_, err = cfg.Get("sync")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("backend.timeout_secs", "soon"))
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Backend.Token = "super-secret"

	s := cfg.String()
	assert.False(t, strings.Contains(s, "super-secret"))
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "super-secret", cfg.Backend.Token)
}

func TestConfig_StoragePath(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	p, err := cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache"), p)

	cfg.Storage.Backend = StorageBolt
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache.db"), p)

	cfg.Storage.Path = "/tmp/custom"
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom", p)
}
