// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Document processing states reported by the backend.
const (
	DocumentPending    = "pending"
	DocumentProcessing = "processing"
	DocumentReady      = "completed"
	DocumentFailed     = "failed"
)

// RAGDocument is a document indexed for retrieval.
type RAGDocument struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunk_count"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ready reports whether the document can be used for retrieval.
func (d *RAGDocument) Ready() bool {
	return d.Status == DocumentReady
}

// DocumentChunk is one indexed slice of a RAGDocument.
type DocumentChunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// KnowledgeBase groups documents for retrieval-augmented chat.
type KnowledgeBase struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	DocumentCount int            `json:"document_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Documents     []*RAGDocument `json:"documents,omitempty"`
}
