// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorPrefix is prepended to the content of messages synthesised from
// stream or transport failures.
const ErrorPrefix = "Error: "

// Now returns the current time in UTC without a monotonic clock reading.
// Timestamps created this way survive a JSON round trip value-equal.
func Now() time.Time {
	return time.Now().UTC()
}

// NewID returns a fresh identifier for messages and conversations.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// FILE INFO
// =============================================================================

// FileInfo describes an attachment uploaded alongside a user message.
type FileInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	URL         string `json:"url,omitempty"`

	// OCRText is the text the backend extracted from an image or scan.
	OCRText string `json:"ocrText,omitempty"`
}

// IsImage reports whether the attachment is an image.
func (f *FileInfo) IsImage() bool {
	return f != nil && strings.HasPrefix(f.ContentType, "image/")
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single message in a conversation.
//
// A message is immutable once committed. The only mutable variant is the
// streaming accumulator, which has IsStreaming set until it is finalized.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	IsUser      bool      `json:"isUser"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
	FileInfo    *FileInfo `json:"fileInfo,omitempty"`

	// streamContent collects fragments while streaming.
	streamContent strings.Builder
}

// NewUserMessage creates a committed message authored by the user.
func NewUserMessage(content string, file *FileInfo) *Message {
	return &Message{
		ID:        NewID(),
		Content:   content,
		IsUser:    true,
		Timestamp: Now(),
		FileInfo:  file,
	}
}

// NewAssistantMessage creates an empty streaming accumulator.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          NewID(),
		Timestamp:   Now(),
		IsStreaming: true,
	}
}

// NewErrorMessage creates a committed assistant message describing a failure.
func NewErrorMessage(reason string) *Message {
	return &Message{
		ID:        NewID(),
		Content:   ErrorPrefix + reason,
		Timestamp: Now(),
	}
}

// AppendContent appends a streamed fragment. It is a no-op once the message
// has been finalized.
func (m *Message) AppendContent(fragment string) {
	if !m.IsStreaming {
		return
	}
	m.streamContent.WriteString(fragment)
}

// StreamedContent returns the content accumulated so far.
func (m *Message) StreamedContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// Finalize ends streaming and moves the accumulated text into Content.
func (m *Message) Finalize() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
}

// FinalizeWithError ends streaming and replaces the content with an error
// description.
func (m *Message) FinalizeWithError(reason string) {
	m.streamContent.Reset()
	m.Content = ErrorPrefix + reason
	m.IsStreaming = false
}

// Clone returns a copy that shares no mutable state with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{
		ID:          m.ID,
		Content:     m.StreamedContent(),
		IsUser:      m.IsUser,
		Timestamp:   m.Timestamp,
		IsStreaming: m.IsStreaming,
	}
	if m.FileInfo != nil {
		f := *m.FileInfo
		c.FileInfo = &f
	}
	if c.IsStreaming {
		c.streamContent.WriteString(c.Content)
	}
	return c
}

// Preview returns a single-line preview of the content, at most n runes.
func (m *Message) Preview(n int) string {
	s := strings.ReplaceAll(m.StreamedContent(), "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
