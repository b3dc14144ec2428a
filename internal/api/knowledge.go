// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/jeranaias/mmchat/internal/model"
)

const knowledgePath = "/api/knowledge-bases"

// KnowledgeBaseInput is the body for creating a knowledge base.
type KnowledgeBaseInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type knowledgeList struct {
	KnowledgeBases []*model.KnowledgeBase `json:"knowledge_bases"`
}

type documentIDs struct {
	DocumentIDs []string `json:"document_ids"`
}

// ListKnowledgeBases returns all knowledge bases without their documents.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]*model.KnowledgeBase, error) {
	var out knowledgeList
	if err := c.do(ctx, http.MethodGet, knowledgePath, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.KnowledgeBases, nil
}

// CreateKnowledgeBase creates an empty knowledge base.
func (c *Client) CreateKnowledgeBase(ctx context.Context, in KnowledgeBaseInput) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := c.do(ctx, http.MethodPost, knowledgePath, nil, in, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// DeleteKnowledgeBase removes a knowledge base. Documents are kept.
func (c *Client) DeleteKnowledgeBase(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, knowledgePath+"/"+pathID(id), nil, nil, nil)
}

// KnowledgeBaseDocuments lists the documents attached to a knowledge base.
func (c *Client) KnowledgeBaseDocuments(ctx context.Context, id string) ([]*model.RAGDocument, error) {
	var out documentList
	if err := c.do(ctx, http.MethodGet, knowledgePath+"/"+pathID(id)+"/documents", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// AddKnowledgeBaseDocuments attaches existing documents to a knowledge base.
func (c *Client) AddKnowledgeBaseDocuments(ctx context.Context, id string, docIDs ...string) error {
	return c.do(ctx, http.MethodPost, knowledgePath+"/"+pathID(id)+"/documents", nil, documentIDs{DocumentIDs: docIDs}, nil)
}

// RemoveKnowledgeBaseDocument detaches a document from a knowledge base.
func (c *Client) RemoveKnowledgeBaseDocument(ctx context.Context, id, docID string) error {
	return c.do(ctx, http.MethodDelete, knowledgePath+"/"+pathID(id)+"/documents/"+pathID(docID), nil, nil, nil)
}
