// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/backendtest"
	"github.com/jeranaias/mmchat/internal/conversation"
	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/jeranaias/mmchat/internal/storage"
	"github.com/jeranaias/mmchat/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *Service
	store   *conversation.Store
	backend *backendtest.Backend
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()
	b := backendtest.New()
	client := api.New(api.Options{BaseURL: b.Start(t), Logger: logging.Discard()})
	store := conversation.NewStore(storage.NewMemoryCache(), logging.Discard())
	opts.Logger = logging.Discard()
	svc := NewService(store, client, opts)
	t.Cleanup(func() {
		svc.Wait()
		store.Close()
	})
	return &fixture{svc: svc, store: store, backend: b}
}

func (f *fixture) messages(t *testing.T, convID string) []*model.Message {
	t.Helper()
	data, err := f.store.Get(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, len(data.Messages), data.Conversation.MessageCount)
	return data.Messages
}

func TestSend_CommitsReplyAndLinksSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{})

	reply, err := f.svc.Send(ctx, "  hello there  ", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, stream.OutcomeCompleted, reply.Outcome)
	assert.Equal(t, "Echo: hello there", reply.Assistant.Content)
	assert.False(t, reply.Assistant.IsStreaming)

	msgs := f.messages(t, reply.ConversationID)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsUser)
	assert.Equal(t, "hello there", msgs[0].Content)

	f.svc.Wait()
	conv, err := f.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello there", conv.Title)
	require.NotEmpty(t, conv.HistorySessionID)

	remote := f.backend.Messages(conv.HistorySessionID)
	require.Len(t, remote, 2)
	assert.Equal(t, "user", remote[0].Role)
	assert.Equal(t, "assistant", remote[1].Role)
	assert.Equal(t, "hello there", f.backend.Session(conv.HistorySessionID).Title)
}

func TestSend_LinkedConversationReusesSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{})

	first, err := f.svc.Send(ctx, "one", SendOptions{})
	require.NoError(t, err)
	f.svc.Wait()
	_, err = f.svc.Send(ctx, "two", SendOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	sessions := f.backend.Sessions()
	require.Len(t, sessions, 1)
	assert.Len(t, f.backend.Messages(sessions[0].ID), 4)
	assert.Len(t, f.messages(t, first.ConversationID), 4)

	chats := f.backend.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, sessions[0].ID, chats[1].SessionID)
	assert.Len(t, chats[1].History, 2)
}

func TestSend_RapidSendsCreateOneSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{})

	for _, text := range []string{"a", "b", "c"} {
		_, err := f.svc.Send(ctx, text, SendOptions{})
		require.NoError(t, err)
	}
	f.svc.Wait()

	sessions := f.backend.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, f.backend.Count("POST /api/chat-history/sessions"))
	assert.Equal(t, 3, f.backend.Count("POST /api/chat-history/sessions/"+sessions[0].ID+"/messages/batch"))
}

func TestSend_PassesAttachmentAndKnowledgeBase(t *testing.T) {
	f := setup(t, Options{HistoryLimit: -1})
	file := &model.FileInfo{ID: "file-1", Name: "scan.png"}

	reply, err := f.svc.Send(context.Background(), "what is this", SendOptions{
		File:            file,
		KnowledgeBaseID: "kb-1",
		UseRAG:          true,
	})
	require.NoError(t, err)
	assert.Equal(t, "scan.png", reply.User.FileInfo.Name)

	chats := f.backend.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "file-1", chats[0].FileID)
	assert.Equal(t, "kb-1", chats[0].KnowledgeBaseID)
	assert.True(t, chats[0].UseRAG)
	assert.Empty(t, chats[0].History)
}

func TestSend_EmptyMessage(t *testing.T) {
	f := setup(t, Options{})
	_, err := f.svc.Send(context.Background(), "   ", SendOptions{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, f.backend.Chats())
}

func TestSend_ErrorEventAppendsOneErrorMessage(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{})
	f.backend.ScriptChat(`{"type":"content","content":"par"}`, `{"type":"error","message":"model overloaded"}`)

	reply, err := f.svc.Send(ctx, "hi", SendOptions{})
	var se *stream.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "model overloaded", se.Message)

	msgs := f.messages(t, reply.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.ErrorPrefix+"model overloaded", msgs[1].Content)
	assert.Empty(t, f.svc.Status())

	f.svc.Wait()
	assert.Empty(t, f.backend.Sessions(), "failed exchanges are not saved remotely")
}

func TestSend_TransportFailureAppendsErrorMessage(t *testing.T) {
	f := setup(t, Options{})
	f.backend.Fail("POST /api/chat/stream", http.StatusInternalServerError)

	reply, err := f.svc.Send(context.Background(), "hi", SendOptions{})
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)

	msgs := f.messages(t, reply.ConversationID)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, model.ErrorPrefix)
	assert.False(t, msgs[1].IsUser)
	assert.Equal(t, 1, f.backend.Count("POST /api/chat/stream"), "no automatic retry")
}

// sendAndCancel starts a send against a hanging stream, waits for partial
// content, cancels, and returns the outcome.
func sendAndCancel(t *testing.T, f *fixture) (*Reply, error) {
	t.Helper()
	f.backend.ScriptChat(`{"type":"content","content":"partial"}`, backendtest.Hang)

	var (
		reply *Reply
		err   error
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reply, err = f.svc.Send(context.Background(), "long question", SendOptions{})
	}()

	require.Eventually(t, func() bool {
		m := f.svc.Streaming()
		return m != nil && m.Content == "partial"
	}, 5*time.Second, 10*time.Millisecond)

	_, busy := f.svc.Send(context.Background(), "second", SendOptions{})
	assert.ErrorIs(t, busy, ErrBusy)

	assert.True(t, f.svc.Cancel())
	wg.Wait()
	return reply, err
}

func TestSend_CancelDiscardsPartial(t *testing.T) {
	f := setup(t, Options{})
	reply, err := sendAndCancel(t, f)

	assert.ErrorIs(t, err, stream.ErrCancelled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, stream.OutcomeCancelled, reply.Outcome)
	assert.Nil(t, reply.Assistant)
	assert.Equal(t, stream.StatusCancelled, f.svc.Status())
	assert.Nil(t, f.svc.Streaming())
	assert.False(t, f.svc.Cancel())

	msgs := f.messages(t, reply.ConversationID)
	require.Len(t, msgs, 1, "only the user message survives")
}

func TestSend_CancelCommitsPartial(t *testing.T) {
	f := setup(t, Options{CancelPolicy: stream.CommitPartial})
	reply, err := sendAndCancel(t, f)

	assert.ErrorIs(t, err, stream.ErrCancelled)
	msgs := f.messages(t, reply.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
}

func TestSend_SilentEndCommits(t *testing.T) {
	f := setup(t, Options{})
	f.backend.ScriptChat(`{"type":"content","content":"no terminator"}`)

	reply, err := f.svc.Send(context.Background(), "hi", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, stream.OutcomeExhausted, reply.Outcome)
	require.NotNil(t, reply.Assistant)
	assert.Equal(t, "no terminator", reply.Assistant.Content)
}

func TestSend_StatusHandler(t *testing.T) {
	var mu sync.Mutex
	var statuses, fragments []string
	f := setup(t, Options{Handlers: stream.Handlers{
		OnStatus: func(s string) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
		OnContent: func(s string) {
			mu.Lock()
			fragments = append(fragments, s)
			mu.Unlock()
		},
	}})

	_, err := f.svc.Send(context.Background(), "hi", SendOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Thinking..."}, statuses)
	assert.Equal(t, []string{"Echo: ", "hi"}, fragments)
}

func TestSendVoice(t *testing.T) {
	ctx := context.Background()
	var chunks [][]byte
	f := setup(t, Options{Handlers: stream.Handlers{
		OnAudio: func(_ int, audio []byte) { chunks = append(chunks, audio) },
	}})

	reply, err := f.svc.SendVoice(ctx, "clip.webm", bytes.NewReader([]byte("audio")))
	require.NoError(t, err)
	require.NotNil(t, reply.User)
	assert.Equal(t, "hello from audio", reply.User.Content)
	assert.Equal(t, "Heard: hello from audio", reply.Assistant.Content)
	assert.Equal(t, [][]byte{[]byte("pcm-0")}, chunks)

	msgs := f.messages(t, reply.ConversationID)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsUser)

	f.svc.Wait()
	assert.Len(t, f.backend.Sessions(), 1)
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{})

	reply, err := f.svc.Send(ctx, "hi", SendOptions{})
	require.NoError(t, err)
	f.svc.Wait()
	require.Len(t, f.backend.Sessions(), 1)

	require.NoError(t, f.svc.DeleteConversation(ctx, reply.ConversationID))
	f.svc.Wait()
	assert.Empty(t, f.backend.Sessions())

	_, err = f.store.Get(ctx, reply.ConversationID)
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestDeleteConversation_RemoteFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{})

	reply, err := f.svc.Send(ctx, "hi", SendOptions{})
	require.NoError(t, err)
	f.svc.Wait()
	f.backend.Fail("DELETE /api/chat-history/sessions", http.StatusBadGateway)

	require.NoError(t, f.svc.DeleteConversation(ctx, reply.ConversationID))
	f.svc.Wait()

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, f.backend.Sessions(), 1)
}

func TestDeleteConversation_LocalOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{})
	conv, err := f.store.Create(ctx, "scratch")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteConversation(ctx, conv.ID))
	f.svc.Wait()
	assert.Zero(t, f.backend.Count("DELETE"))
}
