// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when ingestion is aborted by the caller.
	// It matches context.Canceled with errors.Is.
	ErrCancelled = fmt.Errorf("stream cancelled: %w", context.Canceled)

	// ErrAlreadyRun is returned when an Ingestor is reused.
	ErrAlreadyRun = errors.New("ingestor already used")

	// ErrLineTooLong is returned when a line exceeds MaxLineSize.
	ErrLineTooLong = errors.New("stream line exceeds maximum size")
)

// ServerError is an explicit error event sent by the backend.
type ServerError struct {
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// StreamError is a transport failure during ingestion, preserving any
// content received before it.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err stems from a caller abort rather than a
// failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
