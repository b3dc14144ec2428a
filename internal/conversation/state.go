// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"sort"

	"github.com/jeranaias/mmchat/internal/model"
)

// State is the full local conversation state.
//
// Conversations is ordered newest first. Every conversation has a bucket in
// Data keyed by its ID. At most one conversation is active, and it is the
// one named by CurrentID.
type State struct {
	Conversations []*model.Conversation
	Data          map[string]*model.ConversationData
	CurrentID     string
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Data: make(map[string]*model.ConversationData)}
}

// Find returns the conversation with id and its index, or (-1, nil).
func (s *State) Find(id string) (int, *model.Conversation) {
	for i, c := range s.Conversations {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

// FindBySession returns the conversation linked to a remote session.
func (s *State) FindBySession(sessionID string) *model.Conversation {
	if sessionID == "" {
		return nil
	}
	for _, c := range s.Conversations {
		if c.HistorySessionID == sessionID {
			return c
		}
	}
	return nil
}

// Current returns the active conversation, or nil.
func (s *State) Current() *model.Conversation {
	if s.CurrentID == "" {
		return nil
	}
	_, c := s.Find(s.CurrentID)
	return c
}

// Add inserts conv at the front with an empty bucket.
func (s *State) Add(conv *model.Conversation) *model.ConversationData {
	s.Conversations = append([]*model.Conversation{conv}, s.Conversations...)
	data := model.NewConversationData(conv)
	s.Data[conv.ID] = data
	return data
}

// Append inserts conv at the back with an empty bucket.
func (s *State) Append(conv *model.Conversation) *model.ConversationData {
	s.Conversations = append(s.Conversations, conv)
	data := model.NewConversationData(conv)
	s.Data[conv.ID] = data
	return data
}

// Bucket returns the data bucket for id, creating it if the conversation
// exists but has none.
func (s *State) Bucket(id string) *model.ConversationData {
	if d, ok := s.Data[id]; ok {
		return d
	}
	_, c := s.Find(id)
	if c == nil {
		return nil
	}
	d := model.NewConversationData(c)
	s.Data[id] = d
	return d
}

// SetCurrent makes id the only active conversation. An empty id clears the
// selection. It reports false if id is unknown.
func (s *State) SetCurrent(id string) bool {
	if id != "" {
		if _, c := s.Find(id); c == nil {
			return false
		}
	}
	for _, c := range s.Conversations {
		c.IsActive = c.ID == id
	}
	s.CurrentID = id
	return true
}

// Remove deletes conversation id together with its bucket. If it was the
// active one, the first remaining conversation becomes active, or none.
func (s *State) Remove(id string) bool {
	i, _ := s.Find(id)
	if i < 0 {
		return false
	}
	s.Conversations = append(s.Conversations[:i:i], s.Conversations[i+1:]...)
	delete(s.Data, id)

	if s.CurrentID == id {
		next := ""
		if len(s.Conversations) > 0 {
			next = s.Conversations[0].ID
		}
		s.SetCurrent(next)
	}
	return true
}

// SortByUpdated orders conversations by UpdatedAt, newest first.
func (s *State) SortByUpdated() {
	sort.SliceStable(s.Conversations, func(i, j int) bool {
		return s.Conversations[i].UpdatedAt.After(s.Conversations[j].UpdatedAt)
	})
}

// Clone deep-copies the state.
func (s *State) Clone() *State {
	out := &State{
		Conversations: make([]*model.Conversation, len(s.Conversations)),
		Data:          make(map[string]*model.ConversationData, len(s.Data)),
		CurrentID:     s.CurrentID,
	}
	for i, c := range s.Conversations {
		cc := c.Clone()
		out.Conversations[i] = cc
		if d, ok := s.Data[c.ID]; ok {
			out.Data[c.ID] = d.Clone(cc)
		}
	}
	return out
}

// normalize repairs a decoded state: missing buckets are created, orphan
// buckets dropped, bucket back-references relinked and the active flag made
// consistent with CurrentID.
func (s *State) normalize() {
	if s.Data == nil {
		s.Data = make(map[string]*model.ConversationData)
	}
	known := make(map[string]bool, len(s.Conversations))
	for _, c := range s.Conversations {
		known[c.ID] = true
		d := s.Bucket(c.ID)
		d.Conversation = c
		if d.Messages == nil {
			d.Messages = []*model.Message{}
		}
		if d.RAGDocuments == nil {
			d.RAGDocuments = []*model.RAGDocument{}
		}
	}
	for id := range s.Data {
		if !known[id] {
			delete(s.Data, id)
		}
	}
	if !s.SetCurrent(s.CurrentID) {
		s.SetCurrent("")
	}
}
