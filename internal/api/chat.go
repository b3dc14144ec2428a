// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/mmchat/internal/model"
)

// HistoryTurn is one prior exchange sent as context.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a streaming chat request.
type ChatRequest struct {
	Message         string        `json:"message"`
	SessionID       string        `json:"session_id,omitempty"`
	FileID          string        `json:"file_id,omitempty"`
	KnowledgeBaseID string        `json:"knowledge_base_id,omitempty"`
	UseRAG          bool          `json:"use_rag,omitempty"`
	History         []HistoryTurn `json:"history,omitempty"`
}

// HistoryFrom converts committed local messages into context turns,
// keeping at most the last limit. Streaming messages are skipped.
func HistoryFrom(msgs []*model.Message, limit int) []HistoryTurn {
	turns := make([]HistoryTurn, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.IsStreaming {
			continue
		}
		role := "assistant"
		if m.IsUser {
			role = "user"
		}
		turns = append(turns, HistoryTurn{Role: role, Content: m.Content})
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

// ChatStream opens the SSE chat stream. The caller must close the body.
func (c *Client) ChatStream(ctx context.Context, in ChatRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/stream", nil, bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	return c.openStream(req)
}
