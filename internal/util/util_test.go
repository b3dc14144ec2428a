// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "cache.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"ok":true}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	require.NoError(t, AtomicWriteFile(path, []byte("first version, longer"), 0o600))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAtomicWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	for i := 0; i < 5; i++ {
		require.NoError(t, AtomicWriteFile(path, []byte("x"), 0o600))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// TEXT TESTS
// =============================================================================

func TestTruncateWidth(t *testing.T) {
	assert.Equal(t, "", TruncateWidth("hello", 0))
	assert.Equal(t, "hello", TruncateWidth("hello", 5))
	assert.Equal(t, "he...", TruncateWidth("hello world", 5))

	// Each CJK character is two columns wide.
	got := TruncateWidth("你好世界你好", 7)
	assert.LessOrEqual(t, runewidth.StringWidth(got), 7)
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", PadRight("ab", 5))
	assert.Equal(t, "ab...", PadRight("abcdefgh", 5))
	assert.Equal(t, 6, runewidth.StringWidth(PadRight("你好", 6)))
}

func TestSingleLine(t *testing.T) {
	assert.Equal(t, "a b c", SingleLine("a\nb\r\nc"))
}
