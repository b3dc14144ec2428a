// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/mmchat/internal/model"
)

// CacheKey is the single cache entry holding all conversation state.
const CacheKey = "chat_conversations"

// persisted is the cache document. Timestamps are RFC 3339 strings.
type persisted struct {
	Conversations         []*model.Conversation `json:"conversations"`
	ConversationData      []dataEntry           `json:"conversationData"`
	CurrentConversationID *string               `json:"currentConversationId"`
}

type dataEntry struct {
	ID   string                  `json:"id"`
	Data *model.ConversationData `json:"data"`
}

// Encode serialises s. Buckets follow the conversation order.
func Encode(s *State) ([]byte, error) {
	doc := persisted{
		Conversations:    s.Conversations,
		ConversationData: make([]dataEntry, 0, len(s.Conversations)),
	}
	if doc.Conversations == nil {
		doc.Conversations = []*model.Conversation{}
	}
	if s.CurrentID != "" {
		id := s.CurrentID
		doc.CurrentConversationID = &id
	}
	for _, c := range s.Conversations {
		if d, ok := s.Data[c.ID]; ok {
			doc.ConversationData = append(doc.ConversationData, dataEntry{ID: c.ID, Data: d})
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversations: %w", err)
	}
	return data, nil
}

// Decode parses a cache document into a normalized State.
func Decode(data []byte) (*State, error) {
	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}

	s := NewState()
	for _, c := range doc.Conversations {
		if c == nil || c.ID == "" {
			continue
		}
		s.Conversations = append(s.Conversations, c)
	}
	for _, e := range doc.ConversationData {
		if e.Data != nil {
			s.Data[e.ID] = e.Data
		}
	}
	if doc.CurrentConversationID != nil {
		s.CurrentID = *doc.CurrentConversationID
	}
	s.normalize()
	return s, nil
}
