// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/jeranaias/mmchat/internal/storage"
)

// lastMessageLength caps the LastMessage preview.
const lastMessageLength = 50

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned for an unknown conversation id.
	ErrConversationNotFound = &Error{Message: "conversation not found"}

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = &Error{Message: "conversation store closed"}
)

// Error represents a conversation store error.
// It can be compared using errors.Is.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is support.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Message == t.Message
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
}

// =============================================================================
// STORE
// =============================================================================

// Mutation changes State and reports whether anything changed. A changed
// state is persisted before the next queued operation runs.
type Mutation func(s *State) (changed bool, err error)

type request struct {
	ctx   context.Context
	mut   Mutation
	reply chan error
}

// Store serialises access to a State and persists it to a Cache.
type Store struct {
	cache  storage.Cache
	logger *slog.Logger

	state *State
	queue chan request
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewStore starts the writer goroutine. The state starts empty until Load.
func NewStore(cache storage.Cache, logger *slog.Logger) *Store {
	s := &Store{
		cache:  cache,
		logger: logging.OrDefault(logger),
		state:  NewState(),
		queue:  make(chan request),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.queue:
			req.reply <- s.apply(req)
		case <-s.quit:
			return
		}
	}
}

func (s *Store) apply(req request) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	changed, err := req.mut(s.state)
	if err != nil || !changed {
		return err
	}
	// The mutation has happened; finish the write even if the caller gives up.
	return s.persist(context.WithoutCancel(req.ctx))
}

func (s *Store) persist(ctx context.Context) error {
	data, err := Encode(s.state)
	if err != nil {
		return err
	}
	if err := s.cache.Put(ctx, CacheKey, data); err != nil {
		s.logger.Error("CONVERSATIONS_PERSIST_FAILED", "error", err)
		return fmt.Errorf("failed to persist conversations: %w", err)
	}
	s.logger.Debug("CONVERSATIONS_PERSISTED", "conversations", len(s.state.Conversations), "bytes", len(data))
	return nil
}

// Apply runs m on the writer goroutine and waits for it, including the
// cache write when m reports a change.
func (s *Store) Apply(ctx context.Context, m Mutation) error {
	req := request{ctx: ctx, mut: m, reply: make(chan error, 1)}
	select {
	case s.queue <- req:
	case <-s.quit:
		return ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// View runs fn against the state without persisting. fn must not retain
// the state.
func (s *Store) View(ctx context.Context, fn func(s *State) error) error {
	return s.Apply(ctx, func(st *State) (bool, error) {
		return false, fn(st)
	})
}

// Close stops the writer goroutine. Pending Apply calls either complete or
// return ErrStoreClosed.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Load replaces the in-memory state with the cached one. A missing entry
// yields an empty state; an unreadable one is logged and discarded.
func (s *Store) Load(ctx context.Context) error {
	return s.Apply(ctx, func(st *State) (bool, error) {
		data, err := s.cache.Get(ctx, CacheKey)
		if errors.Is(err, storage.ErrNotFound) {
			*st = *NewState()
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read conversations: %w", err)
		}
		loaded, err := Decode(data)
		if err != nil {
			s.logger.Warn("CONVERSATIONS_CACHE_CORRUPT", "error", err)
			*st = *NewState()
			return false, nil
		}
		*st = *loaded
		s.logger.Debug("CONVERSATIONS_LOADED", "conversations", len(st.Conversations))
		return false, nil
	})
}

// Save writes the current state to the cache.
func (s *Store) Save(ctx context.Context) error {
	return s.Apply(ctx, func(*State) (bool, error) { return true, nil })
}

// =============================================================================
// QUERIES
// =============================================================================

// Snapshot returns a deep copy of the state.
func (s *Store) Snapshot(ctx context.Context) (*State, error) {
	var out *State
	err := s.View(ctx, func(st *State) error {
		out = st.Clone()
		return nil
	})
	return out, err
}

// List returns copies of all conversations, newest first.
func (s *Store) List(ctx context.Context) ([]*model.Conversation, error) {
	var out []*model.Conversation
	err := s.View(ctx, func(st *State) error {
		out = make([]*model.Conversation, len(st.Conversations))
		for i, c := range st.Conversations {
			out[i] = c.Clone()
		}
		return nil
	})
	return out, err
}

// Get returns a copy of a conversation's bucket.
func (s *Store) Get(ctx context.Context, id string) (*model.ConversationData, error) {
	var out *model.ConversationData
	err := s.View(ctx, func(st *State) error {
		_, c := st.Find(id)
		if c == nil {
			return notFound(id)
		}
		cc := c.Clone()
		out = st.Bucket(id).Clone(cc)
		return nil
	})
	return out, err
}

// Current returns a copy of the active conversation, or nil.
func (s *Store) Current(ctx context.Context) (*model.Conversation, error) {
	var out *model.Conversation
	err := s.View(ctx, func(st *State) error {
		out = st.Current().Clone()
		return nil
	})
	return out, err
}

// Resolve finds a conversation by exact id, by id prefix, or by
// case-insensitive title. Ambiguous prefixes are rejected.
func (s *Store) Resolve(ctx context.Context, ref string) (*model.Conversation, error) {
	var out *model.Conversation
	err := s.View(ctx, func(st *State) error {
		if _, c := st.Find(ref); c != nil {
			out = c.Clone()
			return nil
		}
		var matches []*model.Conversation
		for _, c := range st.Conversations {
			if strings.HasPrefix(c.ID, ref) || strings.EqualFold(c.Title, ref) {
				matches = append(matches, c)
			}
		}
		switch len(matches) {
		case 0:
			return notFound(ref)
		case 1:
			out = matches[0].Clone()
			return nil
		}
		return fmt.Errorf("%q matches %d conversations", ref, len(matches))
	})
	return out, err
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Create adds a local-only conversation at the front and makes it current.
func (s *Store) Create(ctx context.Context, title string) (*model.Conversation, error) {
	var out *model.Conversation
	err := s.Apply(ctx, func(st *State) (bool, error) {
		conv := model.NewConversation(title)
		st.Add(conv)
		st.SetCurrent(conv.ID)
		out = conv.Clone()
		return true, nil
	})
	return out, err
}

// SetCurrent makes id the active conversation.
func (s *Store) SetCurrent(ctx context.Context, id string) error {
	return s.Apply(ctx, func(st *State) (bool, error) {
		if st.CurrentID == id {
			if _, c := st.Find(id); c != nil {
				return false, nil
			}
		}
		if !st.SetCurrent(id) {
			return false, notFound(id)
		}
		return true, nil
	})
}

// AddMessage appends a committed message to a conversation and refreshes
// its summary fields. A default-titled conversation takes its title from
// the first user message.
func (s *Store) AddMessage(ctx context.Context, id string, msg *model.Message) error {
	if msg.IsStreaming {
		return fmt.Errorf("cannot store message %s while it is streaming", msg.ID)
	}
	return s.Apply(ctx, func(st *State) (bool, error) {
		_, c := st.Find(id)
		if c == nil {
			return false, notFound(id)
		}
		data := st.Bucket(id)
		data.Messages = append(data.Messages, msg.Clone())
		touch(c, data)
		if msg.IsUser && c.Title == model.DefaultTitle {
			c.Title = model.TitleFrom(msg.Content)
		}
		st.SortByUpdated()
		return true, nil
	})
}

// ReplaceMessages swaps a conversation's message list.
func (s *Store) ReplaceMessages(ctx context.Context, id string, msgs []*model.Message) error {
	return s.Apply(ctx, func(st *State) (bool, error) {
		_, c := st.Find(id)
		if c == nil {
			return false, notFound(id)
		}
		data := st.Bucket(id)
		data.Messages = make([]*model.Message, len(msgs))
		for i, m := range msgs {
			data.Messages[i] = m.Clone()
		}
		c.MessageCount = len(data.Messages)
		c.LastMessage = ""
		if n := len(data.Messages); n > 0 {
			c.LastMessage = data.Messages[n-1].Preview(lastMessageLength)
		}
		return true, nil
	})
}

// LinkSession records the remote session backing a conversation.
func (s *Store) LinkSession(ctx context.Context, id, sessionID string) error {
	return s.Apply(ctx, func(st *State) (bool, error) {
		_, c := st.Find(id)
		if c == nil {
			return false, notFound(id)
		}
		if other := st.FindBySession(sessionID); other != nil && other.ID != id {
			return false, fmt.Errorf("session %s is already linked to conversation %s", sessionID, other.ID)
		}
		if c.HistorySessionID == sessionID {
			return false, nil
		}
		c.HistorySessionID = sessionID
		return true, nil
	})
}

// Rename changes a conversation's title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title must not be empty")
	}
	return s.Apply(ctx, func(st *State) (bool, error) {
		_, c := st.Find(id)
		if c == nil {
			return false, notFound(id)
		}
		if c.Title == title {
			return false, nil
		}
		c.Title = title
		c.UpdatedAt = model.Now()
		st.SortByUpdated()
		return true, nil
	})
}

// Delete removes a conversation and its bucket, returning the removed
// conversation so callers can clean up a linked remote session.
func (s *Store) Delete(ctx context.Context, id string) (*model.Conversation, error) {
	var out *model.Conversation
	err := s.Apply(ctx, func(st *State) (bool, error) {
		_, c := st.Find(id)
		if c == nil {
			return false, notFound(id)
		}
		out = c.Clone()
		st.Remove(id)
		return true, nil
	})
	return out, err
}

// touch refreshes the summary fields derived from the message list.
func touch(c *model.Conversation, data *model.ConversationData) {
	c.MessageCount = len(data.Messages)
	if n := len(data.Messages); n > 0 {
		c.LastMessage = data.Messages[n-1].Preview(lastMessageLength)
	}
	c.UpdatedAt = model.Now()
}
