// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for common backend failures.
var (
	// ErrUnauthorized indicates a missing, invalid or expired token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the backend throttled the request.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Detail string
	Path   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend error (HTTP %d) %s: %s", e.Status, e.Path, e.Detail)
	}
	return fmt.Sprintf("backend error (HTTP %d) %s", e.Status, e.Path)
}

// Is maps status codes onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// Temporary reports whether retrying later could succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// errorBody matches FastAPI's {"detail": ...} where detail is a string or a
// list of validation issues.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type validationIssue struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseError builds an APIError from a response body.
func parseError(status int, path string, body []byte) *APIError {
	e := &APIError{Status: status, Path: path}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		e.Detail = strings.TrimSpace(string(body))
		if len(e.Detail) > 200 {
			e.Detail = e.Detail[:200]
		}
		return e
	}

	var s string
	if json.Unmarshal(eb.Detail, &s) == nil {
		e.Detail = s
		return e
	}
	var issues []validationIssue
	if json.Unmarshal(eb.Detail, &issues) == nil && len(issues) > 0 {
		parts := make([]string, 0, len(issues))
		for _, is := range issues {
			loc := make([]string, 0, len(is.Loc))
			for _, l := range is.Loc {
				loc = append(loc, fmt.Sprint(l))
			}
			parts = append(parts, strings.Join(loc, ".")+": "+is.Msg)
		}
		e.Detail = strings.Join(parts, "; ")
		return e
	}
	e.Detail = eb.Message
	return e
}
