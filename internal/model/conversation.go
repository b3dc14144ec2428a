// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// DefaultTitle is the title given to conversations before the first message.
const DefaultTitle = "New Chat"

// titleLength caps automatically generated titles.
const titleLength = 30

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is the client's own record of a chat thread.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	IsActive     bool      `json:"isActive"`

	// HistorySessionID links the conversation to a RemoteSession.
	// Empty means local-only.
	HistorySessionID string `json:"historySessionId,omitempty"`
	LastMessage      string `json:"lastMessage,omitempty"`
}

// NewConversation creates a local-only conversation.
func NewConversation(title string) *Conversation {
	if title == "" {
		title = DefaultTitle
	}
	now := Now()
	return &Conversation{
		ID:        NewID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewConversationFromSession synthesises a local conversation for a remote
// session that has no local counterpart yet.
func NewConversationFromSession(s *RemoteSession) *Conversation {
	title := s.Title
	if title == "" {
		title = DefaultTitle
	}
	return &Conversation{
		ID:               NewID(),
		Title:            title,
		CreatedAt:        s.CreatedAt.UTC(),
		UpdatedAt:        s.UpdatedAt.UTC(),
		MessageCount:     s.MessageCount,
		HistorySessionID: s.ID,
	}
}

// IsSynced reports whether the conversation is linked to a remote session.
func (c *Conversation) IsSynced() bool {
	return c.HistorySessionID != ""
}

// Clone returns a shallow copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// TitleFrom derives a conversation title from the first user message.
func TitleFrom(content string) string {
	m := Message{Content: content}
	t := m.Preview(titleLength)
	if t == "" {
		return DefaultTitle
	}
	return t
}

// =============================================================================
// CONVERSATION DATA
// =============================================================================

// ConversationData is the per-conversation bucket owned by a Conversation.
// It is deleted together with its conversation.
type ConversationData struct {
	Conversation *Conversation  `json:"conversation"`
	Messages     []*Message     `json:"messages"`
	RAGDocuments []*RAGDocument `json:"ragDocuments"`
}

// NewConversationData creates an empty bucket for conv.
func NewConversationData(conv *Conversation) *ConversationData {
	return &ConversationData{
		Conversation: conv,
		Messages:     []*Message{},
		RAGDocuments: []*RAGDocument{},
	}
}

// Clone deep-copies the bucket, pointing it at conv.
func (d *ConversationData) Clone(conv *Conversation) *ConversationData {
	if d == nil {
		return nil
	}
	out := &ConversationData{
		Conversation: conv,
		Messages:     make([]*Message, len(d.Messages)),
		RAGDocuments: make([]*RAGDocument, len(d.RAGDocuments)),
	}
	for i, m := range d.Messages {
		out.Messages[i] = m.Clone()
	}
	for i, doc := range d.RAGDocuments {
		cp := *doc
		out.RAGDocuments[i] = &cp
	}
	return out
}
