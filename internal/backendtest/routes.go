// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backendtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/labstack/echo/v5"
)

type okResponse struct {
	OK bool `json:"ok"`
}

func (b *Backend) routes() {
	g := b.echo.Group("/api")

	g.GET("/chat-history/sessions", b.listSessions)
	g.POST("/chat-history/sessions", b.createSession)
	g.GET("/chat-history/sessions/:id", b.getSession)
	g.PUT("/chat-history/sessions/:id", b.updateSession)
	g.DELETE("/chat-history/sessions/:id", b.deleteSession)
	g.POST("/chat-history/sessions/:id/archive", b.archiveSession(true))
	g.POST("/chat-history/sessions/:id/restore", b.archiveSession(false))
	g.GET("/chat-history/sessions/:id/messages", b.listMessages)
	g.POST("/chat-history/sessions/:id/messages", b.addMessage)
	g.POST("/chat-history/sessions/:id/messages/batch", b.addMessages)
	g.DELETE("/chat-history/messages/:id", b.deleteMessage)

	g.GET("/documents", b.listDocuments)
	g.GET("/documents/:id", b.getDocument)
	g.DELETE("/documents/:id", b.deleteDocument)
	g.GET("/documents/:id/chunks", b.documentChunks)

	g.GET("/knowledge-bases", b.listKnowledgeBases)
	g.POST("/knowledge-bases", b.createKnowledgeBase)
	g.DELETE("/knowledge-bases/:id", b.deleteKnowledgeBase)
	g.GET("/knowledge-bases/:id/documents", b.knowledgeBaseDocuments)
	g.POST("/knowledge-bases/:id/documents", b.addKnowledgeBaseDocuments)
	g.DELETE("/knowledge-bases/:id/documents/:doc", b.removeKnowledgeBaseDocument)

	g.POST("/upload", b.upload)

	g.POST("/auth/login", b.login)
	g.POST("/auth/logout", b.logout)
	g.GET("/auth/captcha", b.captcha)
	g.POST("/auth/refresh", b.refresh)
	g.GET("/auth/profile", b.profile)
	g.POST("/auth/avatar", b.avatar)

	g.POST("/voice/speech-to-chat/stream", b.speechToChat)
	g.POST("/voice/tts", b.tts)
	g.GET("/voice/engines/status", b.engineStatus)
	g.POST("/voice/clear-history", b.clearVoiceHistory)

	g.POST("/chat/stream", b.chatStream)
}

func detail(c *echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

// =============================================================================
// SESSIONS AND MESSAGES
// =============================================================================

func (b *Backend) listSessions(c *echo.Context) error {
	q := c.Request().URL.Query()
	archived := q.Get("archived") == "true"
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	b.mu.Lock()
	list := b.sortedSessions(func(s *model.RemoteSession) bool { return s.Archived == archived })
	b.mu.Unlock()

	total := len(list)
	if offset > 0 {
		list = list[min(offset, len(list)):]
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": list, "total": total})
}

type sessionInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (b *Backend) createSession(c *echo.Context) error {
	var in sessionInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}
	if in.Title == "" {
		in.Title = model.DefaultTitle
	}

	b.mu.Lock()
	now := b.now()
	s := &model.RemoteSession{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        append([]string{}, in.Tags...),
	}
	b.sessions[s.ID] = s
	out := cloneSession(s)
	b.mu.Unlock()

	return c.JSON(http.StatusCreated, out)
}

func (b *Backend) getSession(c *echo.Context) error {
	s := b.Session(c.Param("id"))
	if s == nil {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	return c.JSON(http.StatusOK, s)
}

func (b *Backend) updateSession(c *echo.Context) error {
	var in sessionInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, found := b.sessions[c.Param("id")]
	if !found {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	if in.Title != "" {
		s.Title = in.Title
	}
	if in.Description != "" {
		s.Description = in.Description
	}
	if in.Tags != nil {
		s.Tags = append([]string{}, in.Tags...)
	}
	s.UpdatedAt = b.now()
	return c.JSON(http.StatusOK, cloneSession(s))
}

func (b *Backend) deleteSession(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	if _, found := b.sessions[id]; !found {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	delete(b.sessions, id)
	delete(b.messages, id)
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func (b *Backend) archiveSession(archived bool) func(*echo.Context) error {
	return func(c *echo.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		s, found := b.sessions[c.Param("id")]
		if !found {
			return detail(c, http.StatusNotFound, "Session not found")
		}
		s.Archived = archived
		return c.JSON(http.StatusOK, okResponse{OK: true})
	}
}

func (b *Backend) listMessages(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	if _, found := b.sessions[id]; !found {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	msgs := append([]model.RemoteMessage{}, b.messages[id]...)
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

// storeLocked appends m to session id. Callers hold b.mu.
func (b *Backend) storeLocked(s *model.RemoteSession, m model.RemoteMessage) model.RemoteMessage {
	now := b.now()
	m.ID = uuid.NewString()
	m.SessionID = s.ID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	b.messages[s.ID] = append(b.messages[s.ID], m)
	s.MessageCount++
	s.UpdatedAt = now
	return m
}

func (b *Backend) addMessage(c *echo.Context) error {
	var in model.RemoteMessage
	if err := c.Bind(&in); err != nil || (in.Role != "user" && in.Role != "assistant") {
		return detail(c, http.StatusUnprocessableEntity, "role must be user or assistant")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, found := b.sessions[c.Param("id")]
	if !found {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	return c.JSON(http.StatusCreated, b.storeLocked(s, in))
}

func (b *Backend) addMessages(c *echo.Context) error {
	var in struct {
		Messages []model.RemoteMessage `json:"messages"`
	}
	if err := c.Bind(&in); err != nil || len(in.Messages) == 0 {
		return detail(c, http.StatusUnprocessableEntity, "messages required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, found := b.sessions[c.Param("id")]
	if !found {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	out := make([]model.RemoteMessage, 0, len(in.Messages))
	for _, m := range in.Messages {
		out = append(out, b.storeLocked(s, m))
	}
	return c.JSON(http.StatusCreated, map[string]any{"messages": out})
}

func (b *Backend) deleteMessage(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	for sid, msgs := range b.messages {
		for i, m := range msgs {
			if m.ID != id {
				continue
			}
			b.messages[sid] = append(msgs[:i:i], msgs[i+1:]...)
			if s := b.sessions[sid]; s != nil {
				s.MessageCount--
			}
			return c.JSON(http.StatusOK, okResponse{OK: true})
		}
	}
	return detail(c, http.StatusNotFound, "Message not found")
}

// =============================================================================
// DOCUMENTS AND KNOWLEDGE BASES
// =============================================================================

func (b *Backend) listDocuments(c *echo.Context) error {
	b.mu.Lock()
	docs := make([]*model.RAGDocument, 0, len(b.documents))
	for _, d := range b.documents {
		cp := *d
		docs = append(docs, &cp)
	}
	b.mu.Unlock()
	sortDocuments(docs)
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

func (b *Backend) getDocument(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, found := b.documents[c.Param("id")]
	if !found {
		return detail(c, http.StatusNotFound, "Document not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (b *Backend) deleteDocument(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	if _, found := b.documents[id]; !found {
		return detail(c, http.StatusNotFound, "Document not found")
	}
	delete(b.documents, id)
	for kb, ids := range b.kbDocs {
		b.kbDocs[kb] = without(ids, id)
	}
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func (b *Backend) documentChunks(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, found := b.documents[c.Param("id")]
	if !found {
		return detail(c, http.StatusNotFound, "Document not found")
	}
	chunks := make([]model.DocumentChunk, 0, d.ChunkCount)
	for i := range d.ChunkCount {
		chunks = append(chunks, model.DocumentChunk{
			ID:         fmt.Sprintf("%s-%d", d.ID, i),
			DocumentID: d.ID,
			Index:      i,
			Content:    fmt.Sprintf("chunk %d of %s", i, d.Filename),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"chunks": chunks})
}

func (b *Backend) listKnowledgeBases(c *echo.Context) error {
	b.mu.Lock()
	list := make([]*model.KnowledgeBase, 0, len(b.kbs))
	for id, kb := range b.kbs {
		cp := *kb
		cp.DocumentCount = len(b.kbDocs[id])
		list = append(list, &cp)
	}
	b.mu.Unlock()
	sortKnowledgeBases(list)
	return c.JSON(http.StatusOK, map[string]any{"knowledge_bases": list})
}

func (b *Backend) createKnowledgeBase(c *echo.Context) error {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.Bind(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		return detail(c, http.StatusUnprocessableEntity, "name required")
	}
	kb := b.AddKnowledgeBase(in.Name)
	b.mu.Lock()
	b.kbs[kb.ID].Description = in.Description
	kb.Description = in.Description
	b.mu.Unlock()
	return c.JSON(http.StatusCreated, kb)
}

func (b *Backend) deleteKnowledgeBase(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	if _, found := b.kbs[id]; !found {
		return detail(c, http.StatusNotFound, "Knowledge base not found")
	}
	delete(b.kbs, id)
	delete(b.kbDocs, id)
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func (b *Backend) knowledgeBaseDocuments(c *echo.Context) error {
	b.mu.Lock()
	id := c.Param("id")
	if _, found := b.kbs[id]; !found {
		b.mu.Unlock()
		return detail(c, http.StatusNotFound, "Knowledge base not found")
	}
	docs := make([]*model.RAGDocument, 0, len(b.kbDocs[id]))
	for _, docID := range b.kbDocs[id] {
		if d := b.documents[docID]; d != nil {
			cp := *d
			docs = append(docs, &cp)
		}
	}
	b.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

func (b *Backend) addKnowledgeBaseDocuments(c *echo.Context) error {
	var in struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	if _, found := b.kbs[id]; !found {
		return detail(c, http.StatusNotFound, "Knowledge base not found")
	}
	for _, docID := range in.DocumentIDs {
		if _, found := b.documents[docID]; !found {
			return detail(c, http.StatusNotFound, "Document not found: "+docID)
		}
		b.kbDocs[id] = append(without(b.kbDocs[id], docID), docID)
	}
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func (b *Backend) removeKnowledgeBaseDocument(c *echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	if _, found := b.kbs[id]; !found {
		return detail(c, http.StatusNotFound, "Knowledge base not found")
	}
	b.kbDocs[id] = without(b.kbDocs[id], c.Param("doc"))
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

// =============================================================================
// UPLOAD AND AUTH
// =============================================================================

func (b *Backend) upload(c *echo.Context) error {
	r := c.Request()
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "file required")
	}
	defer f.Close()
	size, _ := io.Copy(io.Discard, f)

	res := map[string]any{
		"file_id":      uuid.NewString(),
		"filename":     hdr.Filename,
		"size":         size,
		"content_type": hdr.Header.Get("Content-Type"),
		"url":          "/files/" + hdr.Filename,
	}
	if r.FormValue("ocr") == "true" {
		res["ocr_text"] = "text recognized in " + hdr.Filename
	}
	if r.FormValue("index") == "true" {
		d := b.AddDocument(hdr.Filename, 1+int(size/512))
		res["document_id"] = d.ID
		if kb := r.FormValue("knowledge_base_id"); kb != "" {
			b.mu.Lock()
			if _, found := b.kbs[kb]; found {
				b.kbDocs[kb] = append(b.kbDocs[kb], d.ID)
			}
			b.mu.Unlock()
		}
	}
	return c.JSON(http.StatusOK, res)
}

func (b *Backend) issueToken() map[string]any {
	tok := "tok-" + uuid.NewString()
	b.mu.Lock()
	b.token = tok
	b.mu.Unlock()
	return map[string]any{"access_token": tok, "token_type": "bearer", "expires_in": 3600}
}

func (b *Backend) login(c *echo.Context) error {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}
	b.mu.Lock()
	want, found := b.users[in.Username]
	b.mu.Unlock()
	if !found || want != in.Password {
		return detail(c, http.StatusUnauthorized, "Incorrect username or password")
	}
	return c.JSON(http.StatusOK, b.issueToken())
}

func (b *Backend) logout(c *echo.Context) error {
	b.mu.Lock()
	if b.token != "" {
		b.token = "revoked-" + uuid.NewString()
	}
	b.mu.Unlock()
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func (b *Backend) captcha(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"captcha_id": uuid.NewString(),
		"image":      base64.StdEncoding.EncodeToString([]byte("png")),
	})
}

func (b *Backend) refresh(c *echo.Context) error {
	return c.JSON(http.StatusOK, b.issueToken())
}

func (b *Backend) profile(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"id": "u1", "username": "demo"})
}

func (b *Backend) avatar(c *echo.Context) error {
	f, hdr, err := c.Request().FormFile("avatar")
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "avatar required")
	}
	f.Close()
	return c.JSON(http.StatusOK, map[string]string{"avatar_url": "/static/avatars/" + hdr.Filename})
}

// =============================================================================
// STREAMS
// =============================================================================

func event(fields map[string]any) string {
	data, _ := json.Marshal(fields)
	return string(data)
}

func (b *Backend) chatStream(c *echo.Context) error {
	var in ChatRequest
	if err := c.Bind(&in); err != nil || strings.TrimSpace(in.Message) == "" {
		return detail(c, http.StatusUnprocessableEntity, "message required")
	}

	b.mu.Lock()
	b.chats = append(b.chats, in)
	script := b.chatScript
	b.mu.Unlock()

	if len(script) == 0 {
		script = []string{event(map[string]any{"type": "thinking"})}
		for _, word := range strings.SplitAfter("Echo: "+in.Message, " ") {
			script = append(script, event(map[string]any{"type": "content", "content": word}))
		}
		script = append(script, event(map[string]any{"type": "complete"}), "[DONE]")
	}
	return stream(c, script)
}

func (b *Backend) speechToChat(c *echo.Context) error {
	f, _, err := c.Request().FormFile("audio")
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "audio required")
	}
	f.Close()

	b.mu.Lock()
	script := b.voiceScript
	b.mu.Unlock()

	if len(script) == 0 {
		script = []string{
			event(map[string]any{"type": "recognition", "text": "hello from audio"}),
			event(map[string]any{"type": "ai_text", "text": "Heard: "}),
			event(map[string]any{"type": "ai_text", "text": "hello from audio"}),
			event(map[string]any{"type": "audio_chunk", "chunk_id": 0, "audio": base64.StdEncoding.EncodeToString([]byte("pcm-0"))}),
			event(map[string]any{"type": "complete"}),
		}
	}
	return stream(c, script)
}

func (b *Backend) tts(c *echo.Context) error {
	var in struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&in); err != nil || in.Text == "" {
		return detail(c, http.StatusUnprocessableEntity, "text required")
	}
	rw := c.Response()
	rw.Header().Set("Content-Type", "audio/wav")
	rw.WriteHeader(http.StatusOK)
	_, err := io.WriteString(rw, "RIFF"+in.Text)
	return err
}

func (b *Backend) engineStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"asr_ready":  true,
		"tts_ready":  true,
		"llm_ready":  true,
		"asr_model":  "fake-asr",
		"tts_engine": "fake-tts",
	})
}

func (b *Backend) clearVoiceHistory(c *echo.Context) error {
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func stream(c *echo.Context, script []string) error {
	rw := c.Response()
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)

	flush := func() {
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}
	flush()
	for _, line := range script {
		if line == Hang {
			<-c.Request().Context().Done()
			return nil
		}
		if _, err := fmt.Fprintf(rw, "data: %s\n\n", line); err != nil {
			return nil
		}
		flush()
	}
	return nil
}
