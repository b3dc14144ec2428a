// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/mmchat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

func sample() *model.ConversationData {
	conv := &model.Conversation{
		ID:               "c1",
		Title:            "Trip: Lisbon #1",
		CreatedAt:        fixed.Add(-time.Hour),
		UpdatedAt:        fixed,
		MessageCount:     2,
		HistorySessionID: "s1",
	}
	return &model.ConversationData{
		Conversation: conv,
		Messages: []*model.Message{
			{ID: "m1", Content: "What is on this ticket?", IsUser: true, Timestamp: fixed.Add(-time.Minute),
				FileInfo: &model.FileInfo{ID: "f1", Name: "ticket.png", OCRText: "LIS 14:05"}},
			{ID: "m2", Content: "A flight to Lisbon at 14:05.", Timestamp: fixed},
		},
	}
}

func opts() *Options {
	o := DefaultOptions()
	o.Now = func() time.Time { return fixed }
	return o
}

func TestMarkdown_Export(t *testing.T) {
	out, err := NewMarkdownExporter(opts()).Export(sample())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Trip: Lisbon #1\"\n"))
	assert.Contains(t, md, "session: s1\n")
	assert.Contains(t, md, `# Trip: Lisbon \#1`)
	assert.Contains(t, md, "### [User] <sub>12:29:00</sub>")
	assert.Contains(t, md, "> Attachment: `ticket.png`")
	assert.Contains(t, md, "```text\nLIS 14:05\n```")
	assert.Contains(t, md, "A flight to Lisbon at 14:05.")
	assert.Contains(t, md, "generator: mmchat")
}

func TestMarkdown_WithoutMetadata(t *testing.T) {
	o := &Options{Now: func() time.Time { return fixed }}
	out, err := NewMarkdownExporter(o).Export(sample())
	require.NoError(t, err)
	md := string(out)

	assert.False(t, strings.HasPrefix(md, "---"))
	assert.NotContains(t, md, "Session Information")
	assert.Contains(t, md, "### [Assistant]\n\n")
}

func TestMarkdown_EmptyConversation(t *testing.T) {
	data := sample()
	data.Messages = nil
	_, err := NewMarkdownExporter(nil).Export(data)
	assert.ErrorIs(t, err, ErrEmptyConversation)
}

func TestJSON_Export(t *testing.T) {
	out, err := NewJSONExporter(opts()).Export(sample())
	require.NoError(t, err)

	var doc struct {
		ExportedAt   time.Time          `json:"exportedAt"`
		Conversation model.Conversation `json:"conversation"`
		Messages     []model.Message    `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.True(t, fixed.Equal(doc.ExportedAt))
	assert.Equal(t, "s1", doc.Conversation.HistorySessionID)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "ticket.png", doc.Messages[0].FileInfo.Name)
}

func TestForFormat(t *testing.T) {
	e, err := ForFormat("MD", nil)
	require.NoError(t, err)
	assert.Equal(t, ".md", e.FileExtension())

	e, err = ForFormat("json", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", e.MimeType())

	_, err = ForFormat("pdf", nil)
	assert.Error(t, err)
}

func TestToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	path, err := ToFile(sample(), NewMarkdownExporter(opts()), dir, opts())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "conversation_Trip-_Lisbon_#1_20250301_123000.md"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "A flight to Lisbon")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "conversation"},
		{"a/b\\c:d", "a-b-c-d"},
		{"two words\there", "two_words_here"},
		{strings.Repeat("x", 60), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}
