// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/jeranaias/mmchat/internal/model"
)

const documentsPath = "/api/documents"

type documentList struct {
	Documents []*model.RAGDocument `json:"documents"`
}

type chunkList struct {
	Chunks []model.DocumentChunk `json:"chunks"`
}

// ListDocuments returns every RAG document visible to the user.
func (c *Client) ListDocuments(ctx context.Context) ([]*model.RAGDocument, error) {
	var out documentList
	if err := c.do(ctx, http.MethodGet, documentsPath, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// GetDocument fetches one document's metadata.
func (c *Client) GetDocument(ctx context.Context, id string) (*model.RAGDocument, error) {
	var d model.RAGDocument
	if err := c.do(ctx, http.MethodGet, documentsPath+"/"+pathID(id), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, documentsPath+"/"+pathID(id), nil, nil, nil)
}

// DocumentChunks returns the indexed chunks of a document.
func (c *Client) DocumentChunks(ctx context.Context, id string) ([]model.DocumentChunk, error) {
	var out chunkList
	if err := c.do(ctx, http.MethodGet, documentsPath+"/"+pathID(id)+"/chunks", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Chunks, nil
}
