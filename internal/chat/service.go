// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat coordinates sending a message, ingesting the streamed reply
// and recording both in the conversation store.
//
// A Service owns the single streaming slot: at most one reply streams at a
// time. Saving finished exchanges to the backend's history service happens
// in the background and is never retried.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/conversation"
	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/jeranaias/mmchat/internal/stream"
)

const (
	// DefaultHistoryLimit is how many prior messages are sent as context.
	DefaultHistoryLimit = 20

	// remoteTimeout bounds each background history save.
	remoteTimeout = 30 * time.Second
)

var (
	// ErrBusy is returned when a reply is already streaming.
	ErrBusy = errors.New("a reply is already streaming")

	// ErrEmptyMessage is returned for blank input without an attachment.
	ErrEmptyMessage = errors.New("message is empty")
)

// Backend is the subset of the API client the Service needs.
type Backend interface {
	ChatStream(ctx context.Context, in api.ChatRequest) (io.ReadCloser, error)
	SpeechToChat(ctx context.Context, filename string, audio io.Reader, opts api.VoiceOptions) (io.ReadCloser, error)
	CreateSession(ctx context.Context, in api.SessionInput) (*model.RemoteSession, error)
	AddMessages(ctx context.Context, sessionID string, msgs []model.RemoteMessage) ([]model.RemoteMessage, error)
	DeleteSession(ctx context.Context, id string) error
}

// Options configure a Service.
type Options struct {
	// CancelPolicy applies to text chat. Voice replies always keep partial
	// content on cancel.
	CancelPolicy stream.CancelPolicy
	EndPolicy    stream.EndPolicy

	// HistoryLimit caps context messages. Zero means DefaultHistoryLimit,
	// negative sends none.
	HistoryLimit int

	// VoiceTTS asks the backend for synthesized audio on voice replies.
	VoiceTTS bool

	Handlers stream.Handlers
	Logger   *slog.Logger
}

// SendOptions carry the optional parts of a text message.
type SendOptions struct {
	File            *model.FileInfo
	KnowledgeBaseID string
	UseRAG          bool
}

// Reply describes a finished send.
type Reply struct {
	ConversationID string
	User           *model.Message
	// Assistant is the committed reply, the error message, or nil when
	// nothing was committed.
	Assistant *model.Message
	Outcome   stream.Outcome
}

// Service sends messages within the current conversation.
type Service struct {
	store   *conversation.Store
	backend Backend
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	active *stream.Ingestor
	cancel context.CancelFunc
	status string

	remoteMu sync.Mutex
	wg       sync.WaitGroup
}

// NewService creates a Service.
func NewService(store *conversation.Store, backend Backend, opts Options) *Service {
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Service{
		store:   store,
		backend: backend,
		opts:    opts,
		logger:  logging.OrDefault(opts.Logger),
	}
}

// =============================================================================
// STREAMING SLOT
// =============================================================================

// claim reserves the streaming slot for a new ingestor.
func (s *Service) claim(ctx context.Context, cancelPolicy stream.CancelPolicy) (*stream.Ingestor, context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, nil, nil, ErrBusy
	}

	ing := stream.NewIngestor(stream.Options{
		CancelPolicy: cancelPolicy,
		EndPolicy:    s.opts.EndPolicy,
		Handlers:     s.opts.Handlers,
		Logger:       s.logger,
	})
	sctx, cancel := context.WithCancel(ctx)
	s.active = ing
	s.cancel = cancel
	s.status = ""

	release := func() {
		cancel()
		s.mu.Lock()
		s.active = nil
		s.cancel = nil
		s.mu.Unlock()
	}
	return ing, sctx, release, nil
}

func (s *Service) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Cancel aborts the streaming reply, if any, and reports whether there was
// one.
func (s *Service) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Status returns the processing status of the live reply, or the status
// left by the last one ("cancelled" after an abort).
func (s *Service) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return s.active.Status()
	}
	return s.status
}

// Streaming returns a copy of the reply being streamed, or nil.
func (s *Service) Streaming() *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active.Streaming()
}

// Wait blocks until background history saves and remote deletes finish.
// Call it before closing the conversation store.
func (s *Service) Wait() {
	s.wg.Wait()
}

// =============================================================================
// SENDING
// =============================================================================

// currentConversation returns the active conversation, creating one when
// there is none.
func (s *Service) currentConversation(ctx context.Context) (*model.Conversation, error) {
	conv, err := s.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	return s.store.Create(ctx, "")
}

// Send posts text to the current conversation and streams the reply.
//
// The user message is recorded before the request. Errors: ErrBusy,
// ErrEmptyMessage, stream.ErrCancelled after Cancel or ctx cancellation,
// *stream.ServerError for an error event, and transport failures. Every
// failure except cancellation leaves exactly one error message in the
// conversation.
func (s *Service) Send(ctx context.Context, text string, opts SendOptions) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" && opts.File == nil {
		return nil, ErrEmptyMessage
	}

	ing, sctx, release, err := s.claim(ctx, s.opts.CancelPolicy)
	if err != nil {
		return nil, err
	}
	defer release()
	log := logging.FromContext(ctx, s.logger)

	conv, err := s.currentConversation(ctx)
	if err != nil {
		return nil, err
	}
	prior, err := s.store.Get(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	user := model.NewUserMessage(text, opts.File)
	if err := s.store.AddMessage(ctx, conv.ID, user); err != nil {
		return nil, err
	}
	reply := &Reply{ConversationID: conv.ID, User: user}

	req := api.ChatRequest{
		Message:         text,
		SessionID:       conv.HistorySessionID,
		KnowledgeBaseID: opts.KnowledgeBaseID,
		UseRAG:          opts.UseRAG,
	}
	if opts.File != nil {
		req.FileID = opts.File.ID
	}
	if s.opts.HistoryLimit > 0 {
		req.History = api.HistoryFrom(prior.Messages, s.opts.HistoryLimit)
	}

	log.Debug("CHAT_SEND", "conversation_id", conv.ID, "chars", len(text), "rag", opts.UseRAG)
	body, err := s.backend.ChatStream(sctx, req)
	if err != nil {
		return s.finish(ctx, reply, stream.Result{Outcome: stream.OutcomeFailed}, err)
	}
	res, err := ing.Run(sctx, body)
	return s.finish(ctx, reply, res, err)
}

// SendVoice uploads recorded audio to the current conversation. The
// recognized speech becomes the user message once the stream ends.
// Partial replies are kept on cancel.
func (s *Service) SendVoice(ctx context.Context, filename string, audio io.Reader) (*Reply, error) {
	ing, sctx, release, err := s.claim(ctx, stream.CommitPartial)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.currentConversation(ctx)
	if err != nil {
		return nil, err
	}
	reply := &Reply{ConversationID: conv.ID}

	body, err := s.backend.SpeechToChat(sctx, filename, audio, api.VoiceOptions{
		SessionID: conv.HistorySessionID,
		TTS:       s.opts.VoiceTTS,
	})
	if err != nil {
		return s.finish(ctx, reply, stream.Result{Outcome: stream.OutcomeFailed}, err)
	}
	res, err := ing.Run(sctx, body)

	if text := strings.TrimSpace(res.Recognized); text != "" {
		reply.User = model.NewUserMessage(text, nil)
		if err := s.store.AddMessage(context.WithoutCancel(ctx), conv.ID, reply.User); err != nil {
			return reply, err
		}
	}
	return s.finish(ctx, reply, res, err)
}

// finish records the outcome of an ingestion.
func (s *Service) finish(ctx context.Context, reply *Reply, res stream.Result, runErr error) (*Reply, error) {
	log := logging.FromContext(ctx, s.logger)
	reply.Outcome = res.Outcome
	// The caller's ctx may be the one that was cancelled.
	wctx := context.WithoutCancel(ctx)

	var se *stream.ServerError
	switch {
	case runErr == nil:
		if res.Message == nil {
			return reply, nil
		}
		reply.Assistant = res.Message
		if err := s.store.AddMessage(wctx, reply.ConversationID, res.Message); err != nil {
			return reply, err
		}
		if reply.User != nil {
			s.saveRemote(ctx, reply.ConversationID, reply.User, reply.Assistant)
		}
		return reply, nil

	case stream.IsCancellation(runErr):
		reply.Outcome = stream.OutcomeCancelled
		s.setStatus(stream.StatusCancelled)
		log.Info("CHAT_CANCELLED", "conversation_id", reply.ConversationID, "kept_partial", res.Message != nil)
		if res.Message != nil {
			reply.Assistant = res.Message
			if err := s.store.AddMessage(wctx, reply.ConversationID, res.Message); err != nil {
				return reply, err
			}
		}
		return reply, stream.ErrCancelled

	case errors.As(runErr, &se) && res.Message != nil:
		reply.Assistant = res.Message

	default:
		reply.Assistant = model.NewErrorMessage(runErr.Error())
	}

	log.Warn("CHAT_FAILED", "conversation_id", reply.ConversationID, "error", runErr)
	s.setStatus("")
	if err := s.store.AddMessage(wctx, reply.ConversationID, reply.Assistant); err != nil {
		return reply, errors.Join(runErr, err)
	}
	return reply, runErr
}

// =============================================================================
// REMOTE HISTORY
// =============================================================================

// saveRemote saves an exchange to the conversation's remote session in the
// background, creating and linking the session first when needed.
func (s *Service) saveRemote(ctx context.Context, convID string, user, assistant *model.Message) {
	base := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// One at a time so two quick sends cannot create two sessions.
		s.remoteMu.Lock()
		defer s.remoteMu.Unlock()

		ctx, cancel := context.WithTimeout(base, remoteTimeout)
		defer cancel()
		log := logging.FromContext(ctx, s.logger)

		sessionID, err := s.ensureSession(ctx, convID)
		if err != nil {
			log.Warn("HISTORY_LINK_FAILED", "conversation_id", convID, "error", err)
			return
		}
		msgs := []model.RemoteMessage{user.ToRemote(), assistant.ToRemote()}
		if _, err := s.backend.AddMessages(ctx, sessionID, msgs); err != nil {
			log.Warn("HISTORY_SAVE_FAILED", "conversation_id", convID, "session_id", sessionID, "error", err)
			return
		}
		log.Debug("HISTORY_SAVED", "conversation_id", convID, "session_id", sessionID)
	}()
}

func (s *Service) ensureSession(ctx context.Context, convID string) (string, error) {
	data, err := s.store.Get(ctx, convID)
	if err != nil {
		return "", err
	}
	if id := data.Conversation.HistorySessionID; id != "" {
		return id, nil
	}

	sess, err := s.backend.CreateSession(ctx, api.SessionInput{Title: data.Conversation.Title})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.store.LinkSession(ctx, convID, sess.ID); err != nil {
		return "", err
	}
	s.logger.Info("HISTORY_LINKED", "conversation_id", convID, "session_id", sess.ID)
	return sess.ID, nil
}

// DeleteConversation removes a conversation locally and, when it is linked,
// deletes the remote session in the background. A remote failure is logged
// only.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	conv, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if conv.HistorySessionID == "" {
		return nil
	}

	base := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(base, remoteTimeout)
		defer cancel()
		if err := s.backend.DeleteSession(ctx, conv.HistorySessionID); err != nil {
			logging.FromContext(ctx, s.logger).Warn("REMOTE_DELETE_FAILED",
				"conversation_id", id, "session_id", conv.HistorySessionID, "error", err)
		}
	}()
	return nil
}
