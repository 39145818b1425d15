// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/bureau-foundation/matrix-commander/commander"
	"github.com/bureau-foundation/matrix-commander/lib/cryptostore"
	"github.com/bureau-foundation/matrix-commander/messaging"
	"github.com/bureau-foundation/matrix-commander/verification"
)

// ErrorCategory tells a script what to do about a failure without
// parsing the message.
type ErrorCategory string

const (
	// CategoryValidation: bad input. Fix it and run again.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: a referenced thing does not exist, including
	// the local session itself.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden: the homeserver or a human said no.
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryConflict: local or remote state is inconsistent with
	// the request, e.g. the store is held by another process.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient: timeouts and rate limits. Retrying may help.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal: anything else.
	CategoryInternal ErrorCategory = "internal"
)

// Exit codes per category. 1 stays the generic failure code.
const (
	ExitInternal    = 1
	ExitValidation  = 2
	ExitNotFound    = 3
	ExitForbidden   = 4
	ExitConflict    = 5
	ExitTransient   = 6
	ExitInterrupted = 130
)

// ExitCode maps the category to a process exit code.
func (c ErrorCategory) ExitCode() int {
	switch c {
	case CategoryValidation:
		return ExitValidation
	case CategoryNotFound:
		return ExitNotFound
	case CategoryForbidden:
		return ExitForbidden
	case CategoryConflict:
		return ExitConflict
	case CategoryTransient:
		return ExitTransient
	default:
		return ExitInternal
	}
}

// ToolError is a categorized command failure. The message is the
// wrapped error's; the category travels beside it.
type ToolError struct {
	Category ErrorCategory
	Err      error
}

func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// Validation creates a validation error.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Forbidden creates a forbidden error.
func Forbidden(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryForbidden, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// Classify returns the category of err. An explicit ToolError anywhere
// in the chain wins; otherwise the session, verification, store and
// homeserver error kinds decide. Order matters: a login failure caused
// by a timeout is transient, not forbidden.
func Classify(err error) ErrorCategory {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Category
	}

	var roomErr *commander.RoomError
	if errors.As(err, &roomErr) {
		switch roomErr.Reason {
		case commander.RoomUnknown:
			return CategoryNotFound
		case commander.RoomNotJoined:
			return CategoryForbidden
		default:
			return CategoryValidation
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, commander.ErrSyncTimeout),
		errors.Is(err, verification.ErrVerificationTimeout):
		return CategoryTransient
	case errors.Is(err, commander.ErrNotLoggedIn),
		errors.Is(err, fs.ErrNotExist):
		return CategoryNotFound
	case errors.Is(err, commander.ErrCredentialsMalformed),
		errors.Is(err, commander.ErrInvalidFile):
		return CategoryValidation
	case errors.Is(err, cryptostore.ErrLocked),
		errors.Is(err, cryptostore.ErrKeyMismatch),
		errors.Is(err, verification.ErrVerificationFailed):
		return CategoryConflict
	case errors.Is(err, verification.ErrVerificationRejected):
		return CategoryForbidden
	}

	var matrixErr *messaging.MatrixError
	if errors.As(err, &matrixErr) {
		switch {
		case matrixErr.Code == messaging.ErrCodeLimitExceeded || matrixErr.StatusCode >= 500:
			return CategoryTransient
		case matrixErr.Code == messaging.ErrCodeNotFound:
			return CategoryNotFound
		case messaging.IsAuthError(err):
			return CategoryForbidden
		case matrixErr.StatusCode >= 400:
			return CategoryValidation
		}
	}

	if errors.Is(err, commander.ErrLoginFailed) {
		return CategoryForbidden
	}
	return CategoryInternal
}

// ExitCodeFor returns the exit code for an error returned by a
// command. Interrupted commands exit 130 as a shell would.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return Classify(err).ExitCode()
}
