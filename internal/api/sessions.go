// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jeranaias/mmchat/internal/model"
)

const sessionsPath = "/api/chat-history/sessions"

// SessionInput is the body for creating or updating a session.
type SessionInput struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ListSessionsOptions filter ListSessionsWith.
type ListSessionsOptions struct {
	Archived bool
	Limit    int
	Offset   int
}

type sessionList struct {
	Sessions []*model.RemoteSession `json:"sessions"`
	Total    int                    `json:"total"`
}

// CreateSession creates a history session.
func (c *Client) CreateSession(ctx context.Context, in SessionInput) (*model.RemoteSession, error) {
	var s model.RemoteSession
	if err := c.do(ctx, http.MethodPost, sessionsPath, nil, in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns all active (non-archived) sessions.
func (c *Client) ListSessions(ctx context.Context) ([]*model.RemoteSession, error) {
	return c.ListSessionsWith(ctx, ListSessionsOptions{})
}

// ListSessionsWith returns sessions matching opts.
func (c *Client) ListSessionsWith(ctx context.Context, opts ListSessionsOptions) ([]*model.RemoteSession, error) {
	q := url.Values{}
	if opts.Archived {
		q.Set("archived", "true")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out sessionList
	if err := c.do(ctx, http.MethodGet, sessionsPath, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, id string) (*model.RemoteSession, error) {
	var s model.RemoteSession
	if err := c.do(ctx, http.MethodGet, sessionsPath+"/"+pathID(id), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSession changes a session's title, description or tags.
func (c *Client) UpdateSession(ctx context.Context, id string, in SessionInput) (*model.RemoteSession, error) {
	var s model.RemoteSession
	if err := c.do(ctx, http.MethodPut, sessionsPath+"/"+pathID(id), nil, in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionsPath+"/"+pathID(id), nil, nil, nil)
}

// ArchiveSession hides a session from the default listing.
func (c *Client) ArchiveSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, sessionsPath+"/"+pathID(id)+"/archive", nil, nil, nil)
}

// RestoreSession returns an archived session to the default listing.
func (c *Client) RestoreSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, sessionsPath+"/"+pathID(id)+"/restore", nil, nil, nil)
}
