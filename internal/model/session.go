// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// RemoteSession is the backend's authoritative record of a conversation.
// The client never mutates it; it is only read for diffing.
type RemoteSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Tags         []string  `json:"tags"`
	Archived     bool      `json:"archived,omitempty"`
}

// RemoteMessage is a message as stored by the backend's history service.
type RemoteMessage struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	FileInfo  *FileInfo `json:"file_info,omitempty"`
}

// ToRemote converts a local message for the history service.
func (m *Message) ToRemote() RemoteMessage {
	role := "assistant"
	if m.IsUser {
		role = "user"
	}
	return RemoteMessage{
		Role:      role,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
		FileInfo:  m.FileInfo,
	}
}

// ToLocal converts a history-service message into a committed local message.
func (r RemoteMessage) ToLocal() *Message {
	id := r.ID
	if id == "" {
		id = NewID()
	}
	return &Message{
		ID:        id,
		Content:   r.Content,
		IsUser:    r.Role == "user",
		Timestamp: r.CreatedAt.UTC(),
		FileInfo:  r.FileInfo,
	}
}
