// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/config"
	"github.com/jeranaias/mmchat/internal/conversation"
	"github.com/jeranaias/mmchat/internal/knowledge"
	"github.com/jeranaias/mmchat/internal/stream"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
	// ExitCancelled matches the shell convention for SIGINT.
	ExitCancelled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is invalid command usage.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

func usageErrorf(example, format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...), Example: example}
}

// CommandError wraps a failure with the command that produced it.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func commandError(command, action string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Action: action, Err: err}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error onto an exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var verrs config.ValidateErrors
	var netErr net.Error
	var opErr *net.OpError

	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.Is(err, stream.ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &verrs):
		return ExitConfigError
	case errors.Is(err, api.ErrUnauthorized):
		return ExitAuthError
	case errors.Is(err, api.ErrNotFound),
		errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, knowledge.ErrUnknownBase):
		return ExitNotFoundError
	case errors.As(err, &netErr) && netErr.Timeout():
		return ExitTimeoutError
	case errors.As(err, &opErr):
		return ExitNetworkError
	}
	return ExitGeneralError
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to w, as JSON in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		out := map[string]any{
			"success":   false,
			"error":     err.Error(),
			"exit_code": GetExitCode(err),
		}
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			out["status"] = apiErr.Status
			out["detail"] = apiErr.Detail
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}
