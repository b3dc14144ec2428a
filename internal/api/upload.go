// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jeranaias/mmchat/internal/model"
)

// MaxUploadSize bounds a single uploaded file.
const MaxUploadSize = 50 * 1024 * 1024

// ErrUploadTooLarge is returned before sending a file over MaxUploadSize.
var ErrUploadTooLarge = fmt.Errorf("file exceeds upload limit of %d bytes", MaxUploadSize)

// UploadOptions control how the backend processes an uploaded file.
type UploadOptions struct {
	// OCR asks the backend to extract text from images and scanned PDFs.
	OCR bool
	// Index adds the file to the RAG document index.
	Index bool
	// KnowledgeBaseID attaches the indexed document to a knowledge base.
	KnowledgeBaseID string
}

type uploadResult struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	OCRText     string `json:"ocr_text"`
	DocumentID  string `json:"document_id"`
}

// Upload is a stored file.
type Upload struct {
	File *model.FileInfo
	// DocumentID is set when the file was indexed.
	DocumentID string
}

// UploadFile sends one file. name is used for the form filename.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader, opts UploadOptions) (*Upload, error) {
	fields := map[string]string{}
	if opts.OCR {
		fields["ocr"] = "true"
	}
	if opts.Index {
		fields["index"] = "true"
	}
	if opts.KnowledgeBaseID != "" {
		fields["knowledge_base_id"] = opts.KnowledgeBaseID
	}

	body, contentType, err := multipartBody("file", name, r, fields)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", nil, body, contentType)
	if err != nil {
		return nil, err
	}

	var res uploadResult
	if err := c.roundTrip(req, &res); err != nil {
		return nil, err
	}
	return &Upload{
		File: &model.FileInfo{
			ID:          res.FileID,
			Name:        res.Filename,
			Size:        res.Size,
			ContentType: res.ContentType,
			URL:         res.URL,
			OCRText:     res.OCRText,
		},
		DocumentID: res.DocumentID,
	}, nil
}

// multipartBody buffers a form with one file part and plain fields.
func multipartBody(field, name string, r io.Reader, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile(field, filepath.Base(name))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if n > MaxUploadSize {
		return nil, "", ErrUploadTooLarge
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// audioContentType guesses a MIME type from an audio filename.
func audioContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}
