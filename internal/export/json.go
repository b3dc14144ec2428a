// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/mmchat/internal/model"
)

// JSONExporter writes the complete conversation. Options other than the
// clock are ignored so the output can be read back.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSONExporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonDocument struct {
	ExportedAt   time.Time            `json:"exportedAt"`
	Conversation *model.Conversation  `json:"conversation"`
	Messages     []*model.Message     `json:"messages"`
	Documents    []*model.RAGDocument `json:"ragDocuments,omitempty"`
}

// Export renders data as indented JSON.
func (e *JSONExporter) Export(data *model.ConversationData) ([]byte, error) {
	if data == nil || data.Conversation == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	msgs := data.Messages
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return json.MarshalIndent(jsonDocument{
		ExportedAt:   e.options.now().UTC(),
		Conversation: data.Conversation,
		Messages:     msgs,
		Documents:    data.RAGDocuments,
	}, "", "  ")
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
