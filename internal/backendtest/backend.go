// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backendtest provides an in-memory multimodal chat backend for tests.
//
// Backend serves the session, message, document, knowledge-base, upload,
// auth, voice and chat-stream routes used by internal/api. Streams are
// scripted: each script entry becomes one "data:" line.
package backendtest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/labstack/echo/v5"
)

// Hang in a stream script blocks until the client goes away.
const Hang = "\x00hang"

// ChatRequest mirrors the chat stream request body.
type ChatRequest struct {
	Message         string `json:"message"`
	SessionID       string `json:"session_id"`
	FileID          string `json:"file_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	UseRAG          bool   `json:"use_rag"`
	History         []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history"`
}

// Backend is a fake backend. The zero value is not usable; call New.
type Backend struct {
	echo *echo.Echo

	mu        sync.Mutex
	token     string
	users     map[string]string
	sessions  map[string]*model.RemoteSession
	messages  map[string][]model.RemoteMessage
	documents map[string]*model.RAGDocument
	kbs       map[string]*model.KnowledgeBase
	kbDocs    map[string][]string
	failures  map[string]int
	requests  []string
	chats     []ChatRequest

	chatScript  []string
	voiceScript []string
	now         func() time.Time
}

// New creates an empty backend that accepts any token.
func New() *Backend {
	b := &Backend{
		echo:      echo.New(),
		users:     map[string]string{"demo": "demo"},
		sessions:  make(map[string]*model.RemoteSession),
		messages:  make(map[string][]model.RemoteMessage),
		documents: make(map[string]*model.RAGDocument),
		kbs:       make(map[string]*model.KnowledgeBase),
		kbDocs:    make(map[string][]string),
		failures:  make(map[string]int),
		now:       model.Now,
	}
	b.routes()
	return b
}

// Start serves b on a local httptest server closed at test cleanup and
// returns its base URL.
func (b *Backend) Start(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return srv.URL
}

// ServeHTTP checks auth and injected failures before routing.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	status := 0
	for prefix, code := range b.failures {
		if strings.HasPrefix(r.Method+" "+r.URL.Path, prefix) {
			status = code
			break
		}
	}
	token := b.token
	b.mu.Unlock()

	if status != 0 {
		writeDetail(w, status, "injected failure")
		return
	}
	open := strings.HasPrefix(r.URL.Path, "/api/auth/login") || strings.HasPrefix(r.URL.Path, "/api/auth/captcha")
	if token != "" && !open && r.Header.Get("Authorization") != "Bearer "+token {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	b.echo.ServeHTTP(w, r)
}

// RequireToken makes every route except login and captcha demand token.
func (b *Backend) RequireToken(token string) {
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

// Fail makes requests whose "METHOD /path" starts with prefix answer status.
// A zero status clears the failure.
func (b *Backend) Fail(prefix string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, prefix)
		return
	}
	b.failures[prefix] = status
}

// Requests returns "METHOD /path" for every request seen so far.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// Count returns how many requests matched key exactly. A key without a
// path, such as "DELETE", matches every request with that method.
func (b *Backend) Count(key string) int {
	n := 0
	for _, r := range b.Requests() {
		method, _, _ := strings.Cut(r, " ")
		if r == key || method == key {
			n++
		}
	}
	return n
}

// SetClock replaces the time source used for new records.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// ScriptChat sets the data payloads sent for the next chat streams.
// An empty script restores the default echo reply.
func (b *Backend) ScriptChat(lines ...string) {
	b.mu.Lock()
	b.chatScript = lines
	b.mu.Unlock()
}

// ScriptVoice sets the data payloads sent for speech-to-chat streams.
func (b *Backend) ScriptVoice(lines ...string) {
	b.mu.Lock()
	b.voiceScript = lines
	b.mu.Unlock()
}

// Chats returns the chat stream requests received.
func (b *Backend) Chats() []ChatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ChatRequest(nil), b.chats...)
}

// AddSession seeds a session.
func (b *Backend) AddSession(title string, updated time.Time, count int) *model.RemoteSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &model.RemoteSession{
		ID:           uuid.NewString(),
		Title:        title,
		CreatedAt:    updated,
		UpdatedAt:    updated,
		MessageCount: count,
		Tags:         []string{},
	}
	b.sessions[s.ID] = s
	return cloneSession(s)
}

// RemoveSession deletes a session as if another client had.
func (b *Backend) RemoveSession(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	delete(b.messages, id)
	b.mu.Unlock()
}

// Session returns a copy of a session, or nil.
func (b *Backend) Session(id string) *model.RemoteSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneSession(b.sessions[id])
}

// Sessions returns copies of all sessions, newest first.
func (b *Backend) Sessions() []*model.RemoteSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedSessions(func(*model.RemoteSession) bool { return true })
}

// Messages returns a copy of a session's stored messages.
func (b *Backend) Messages(sessionID string) []model.RemoteMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.RemoteMessage(nil), b.messages[sessionID]...)
}

// AddDocument seeds a ready document.
func (b *Backend) AddDocument(filename string, chunks int) *model.RAGDocument {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &model.RAGDocument{
		ID:         uuid.NewString(),
		Filename:   filename,
		Size:       int64(chunks) * 512,
		ChunkCount: chunks,
		Status:     model.DocumentReady,
		CreatedAt:  b.now(),
	}
	b.documents[d.ID] = d
	cp := *d
	return &cp
}

// AddKnowledgeBase seeds a knowledge base holding docIDs.
func (b *Backend) AddKnowledgeBase(name string, docIDs ...string) *model.KnowledgeBase {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	kb := &model.KnowledgeBase{
		ID:            uuid.NewString(),
		Name:          name,
		DocumentCount: len(docIDs),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.kbs[kb.ID] = kb
	b.kbDocs[kb.ID] = append([]string(nil), docIDs...)
	cp := *kb
	return &cp
}

func (b *Backend) sortedSessions(keep func(*model.RemoteSession) bool) []*model.RemoteSession {
	out := make([]*model.RemoteSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func cloneSession(s *model.RemoteSession) *model.RemoteSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Tags = append([]string{}, s.Tags...)
	return &cp
}
