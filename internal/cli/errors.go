// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for the tryme CLI.
//
// Commands return errors and never exit; main maps them to exit codes with
// GetExitCode.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/tryme/internal/cloud"
	"github.com/jeranaias/tryme/internal/config"
	"github.com/jeranaias/tryme/internal/conversation"
	"github.com/jeranaias/tryme/internal/export"
	"github.com/jeranaias/tryme/internal/model"
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
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid command usage.
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

// NotFoundError reports a conversation reference that matched nothing.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ReplyError is returned by ask when the reply recorded in the conversation
// is an error message. Err is the underlying failure.
type ReplyError struct {
	Text string
	Err  error
}

func (e *ReplyError) Error() string {
	return e.Text
}

func (e *ReplyError) Unwrap() error {
	return e.Err
}

// ErrMissingArgument creates a usage error for a missing argument.
func ErrMissingArgument(what, example string) error {
	return &UsageError{Reason: what + " is required", Example: example}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) || errors.Is(err, export.ErrUnknownFormat) {
		return ExitUsageError
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) || errors.Is(err, conversation.ErrConversationNotFound) {
		return ExitNotFoundError
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) || errors.Is(err, cloud.ErrNotConfigured) || errors.Is(err, model.ErrUnknownModel) {
		return ExitConfigError
	}

	var reqErr *cloud.RequestFailedError
	if errors.As(err, &reqErr) {
		if reqErr.Status == http.StatusUnauthorized || reqErr.Status == http.StatusForbidden {
			return ExitAuthError
		}
		return ExitNetworkError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	var transportErr *cloud.TransportError
	if errors.As(err, &transportErr) || errors.Is(err, cloud.ErrNoModelAvailable) {
		return ExitNetworkError
	}

	return ExitGeneralError
}

// DisplayError writes err in the CLI's error format, or as a JSON response
// in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse("", err).Print(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())

	if errors.Is(err, cloud.ErrNotConfigured) {
		fmt.Fprintln(w, DimStyle.Render("Set OPENROUTER_API_KEY or run: tryme config set api.key sk-or-..."))
	}
}
