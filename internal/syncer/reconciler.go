// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncer reconciles the local conversation list with the backend's
// chat-history sessions.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jeranaias/mmchat/internal/conversation"
	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
)

var (
	// ErrNotSynced is returned by LoadHistory for local-only conversations.
	ErrNotSynced = errors.New("conversation is not linked to a remote session")

	// ErrFetchFailed wraps failures listing remote sessions. Errors from
	// Run that do not match it come from updating the local cache.
	ErrFetchFailed = errors.New("failed to fetch sessions")
)

// SessionSource is the read side of the chat-history service.
type SessionSource interface {
	ListSessions(ctx context.Context) ([]*model.RemoteSession, error)
	ListMessages(ctx context.Context, sessionID string) ([]model.RemoteMessage, error)
}

// Options configure a Reconciler.
type Options struct {
	Policy Policy
	Logger *slog.Logger
}

// Reconciler pulls remote sessions into a conversation.Store.
type Reconciler struct {
	store  *conversation.Store
	remote SessionSource
	policy Policy
	logger *slog.Logger
}

// New creates a Reconciler.
func New(store *conversation.Store, remote SessionSource, opts Options) *Reconciler {
	return &Reconciler{
		store:  store,
		remote: remote,
		policy: opts.Policy,
		logger: logging.OrDefault(opts.Logger),
	}
}

// Policy returns the configured policy.
func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Sync runs one reconciliation pass and reports whether it succeeded.
// Failures are logged; the local state is left untouched when the remote
// fetch fails.
func (r *Reconciler) Sync(ctx context.Context) bool {
	_, err := r.Run(ctx)
	return err == nil
}

// Run is Sync returning the applied plan and the failure cause.
//
// The plan is computed and applied inside one store mutation, so nothing
// else can change the list in between. An empty plan leaves the state and
// the cache untouched.
func (r *Reconciler) Run(ctx context.Context) (Plan, error) {
	log := logging.FromContext(ctx, r.logger)

	sessions, err := r.remote.ListSessions(ctx)
	if err != nil {
		log.Warn("SYNC_FETCH_FAILED", "error", err)
		return Plan{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	var plan Plan
	err = r.store.Apply(ctx, func(st *conversation.State) (bool, error) {
		plan = Diff(st.Conversations, sessions, r.policy)
		if plan.Empty() {
			return false, nil
		}
		Apply(st, plan)
		return true, nil
	})
	if err != nil {
		log.Error("SYNC_APPLY_FAILED", "error", err)
		return plan, err
	}

	log.Info("SYNC_COMPLETE",
		"policy", r.policy.String(),
		"remote", len(sessions),
		"added", len(plan.Adds),
		"updated", len(plan.Updates),
		"removed", len(plan.Removals),
	)
	return plan, nil
}

// Preview fetches the remote sessions and returns the plan Run would apply,
// without applying it.
func (r *Reconciler) Preview(ctx context.Context) (Plan, error) {
	sessions, err := r.remote.ListSessions(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	var plan Plan
	err = r.store.View(ctx, func(st *conversation.State) error {
		plan = Diff(st.Conversations, sessions, r.policy)
		return nil
	})
	return plan, err
}

// LoadHistory replaces a synced conversation's messages with the ones held
// by its remote session.
func (r *Reconciler) LoadHistory(ctx context.Context, conversationID string) (int, error) {
	data, err := r.store.Get(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	sessionID := data.Conversation.HistorySessionID
	if sessionID == "" {
		return 0, ErrNotSynced
	}

	remote, err := r.remote.ListMessages(ctx, sessionID)
	if err != nil {
		logging.FromContext(ctx, r.logger).Warn("HISTORY_FETCH_FAILED", "session_id", sessionID, "error", err)
		return 0, fmt.Errorf("failed to fetch history: %w", err)
	}

	msgs := make([]*model.Message, len(remote))
	for i, m := range remote {
		msgs[i] = m.ToLocal()
	}
	if err := r.store.ReplaceMessages(ctx, conversationID, msgs); err != nil {
		return 0, err
	}
	return len(msgs), nil
}
