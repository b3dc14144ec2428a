// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/jeranaias/mmchat/internal/model"
)

type messageList struct {
	Messages []model.RemoteMessage `json:"messages"`
}

type messageBatch struct {
	Messages []model.RemoteMessage `json:"messages"`
}

func messagesPath(sessionID string) string {
	return sessionsPath + "/" + pathID(sessionID) + "/messages"
}

// ListMessages returns a session's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]model.RemoteMessage, error) {
	var out messageList
	if err := c.do(ctx, http.MethodGet, messagesPath(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// AddMessage appends one message to a session.
func (c *Client) AddMessage(ctx context.Context, sessionID string, m model.RemoteMessage) (*model.RemoteMessage, error) {
	var out model.RemoteMessage
	if err := c.do(ctx, http.MethodPost, messagesPath(sessionID), nil, m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddMessages appends several messages in one request.
func (c *Client) AddMessages(ctx context.Context, sessionID string, msgs []model.RemoteMessage) ([]model.RemoteMessage, error) {
	var out messageList
	err := c.do(ctx, http.MethodPost, messagesPath(sessionID)+"/batch", nil, messageBatch{Messages: msgs}, &out)
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// DeleteMessage removes a single stored message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat-history/messages/"+pathID(messageID), nil, nil, nil)
}
