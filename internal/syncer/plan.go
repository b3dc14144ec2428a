// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"fmt"
	"strings"

	"github.com/jeranaias/mmchat/internal/conversation"
	"github.com/jeranaias/mmchat/internal/model"
)

// Policy decides the fate of local conversations the remote does not know.
type Policy int

const (
	// MirrorRemote makes the local list an exact mirror: conversations whose
	// session vanished and conversations that were never synced are removed.
	MirrorRemote Policy = iota

	// MergeKeepLocal removes conversations whose session vanished but keeps
	// never-synced ones.
	MergeKeepLocal
)

func (p Policy) String() string {
	if p == MergeKeepLocal {
		return "merge"
	}
	return "mirror"
}

// ParsePolicy maps "mirror" or "merge".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "mirror":
		return MirrorRemote, nil
	case "merge":
		return MergeKeepLocal, nil
	}
	return MirrorRemote, fmt.Errorf("unknown sync policy %q", s)
}

// Update pairs a local conversation with the session it must follow.
type Update struct {
	ConversationID string
	Session        *model.RemoteSession
}

// Removal names a local conversation to drop and why.
type Removal struct {
	ConversationID string
	Unsynced       bool // never linked, as opposed to remotely deleted
}

// Plan is the set of changes that brings the local list in line with the
// remote one.
type Plan struct {
	Adds     []*model.RemoteSession
	Updates  []Update
	Removals []Removal
}

// Empty reports whether applying the plan would change nothing.
func (p Plan) Empty() bool {
	return len(p.Adds) == 0 && len(p.Updates) == 0 && len(p.Removals) == 0
}

func (p Plan) String() string {
	return fmt.Sprintf("%d added, %d updated, %d removed", len(p.Adds), len(p.Updates), len(p.Removals))
}

// Diff computes the plan for local against remote without touching either.
// The session ID is the join key. Duplicate sessions in remote are ignored
// after the first; a second local conversation linked to the same session is
// removed.
func Diff(local []*model.Conversation, remote []*model.RemoteSession, policy Policy) Plan {
	var plan Plan

	bySession := make(map[string]*model.Conversation, len(local))
	for _, c := range local {
		if !c.IsSynced() {
			if policy == MirrorRemote {
				plan.Removals = append(plan.Removals, Removal{ConversationID: c.ID, Unsynced: true})
			}
			continue
		}
		if _, dup := bySession[c.HistorySessionID]; dup {
			plan.Removals = append(plan.Removals, Removal{ConversationID: c.ID})
			continue
		}
		bySession[c.HistorySessionID] = c
	}

	seen := make(map[string]bool, len(remote))
	for _, s := range remote {
		if s == nil || s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true

		c, ok := bySession[s.ID]
		if !ok {
			plan.Adds = append(plan.Adds, s)
			continue
		}
		if differs(c, s) {
			plan.Updates = append(plan.Updates, Update{ConversationID: c.ID, Session: s})
		}
	}

	for _, c := range local {
		if c.IsSynced() && !seen[c.HistorySessionID] && bySession[c.HistorySessionID] == c {
			plan.Removals = append(plan.Removals, Removal{ConversationID: c.ID})
		}
	}
	return plan
}

// differs reports whether the session carries newer summary fields.
func differs(c *model.Conversation, s *model.RemoteSession) bool {
	return !c.UpdatedAt.Equal(s.UpdatedAt) ||
		c.Title != sessionTitle(s) ||
		c.MessageCount != s.MessageCount
}

func sessionTitle(s *model.RemoteSession) string {
	if s.Title == "" {
		return model.DefaultTitle
	}
	return s.Title
}

// Apply executes plan against st, then re-sorts by UpdatedAt. If the active
// conversation was removed, the first remaining conversation becomes active.
func Apply(st *conversation.State, plan Plan) {
	for _, s := range plan.Adds {
		st.Append(model.NewConversationFromSession(s))
	}

	for _, u := range plan.Updates {
		_, c := st.Find(u.ConversationID)
		if c == nil {
			continue
		}
		c.Title = sessionTitle(u.Session)
		c.UpdatedAt = u.Session.UpdatedAt.UTC()
		c.MessageCount = u.Session.MessageCount
	}

	currentRemoved := false
	for _, r := range plan.Removals {
		if r.ConversationID == st.CurrentID {
			currentRemoved = true
		}
		st.Remove(r.ConversationID)
	}

	st.SortByUpdated()

	if currentRemoved {
		next := ""
		if len(st.Conversations) > 0 {
			next = st.Conversations[0].ID
		}
		st.SetCurrent(next)
	}
}
