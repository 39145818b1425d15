// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// MatrixError is an error response from the homeserver:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeForbidden { ... }
type MatrixError struct {
	// Code is the Matrix error code, or ErrCodeUnknown when the server
	// (or a proxy in front of it) answered with something other than
	// a Matrix error body.
	Code    string `json:"errcode"`
	Message string `json:"error"`

	// RetryAfterMillis accompanies M_LIMIT_EXCEEDED.
	RetryAfterMillis int64 `json:"retry_after_ms,omitempty"`

	// SoftLogout accompanies M_UNKNOWN_TOKEN when the device still
	// exists and may be recovered with a refresh token.
	SoftLogout bool `json:"soft_logout,omitempty"`

	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes the client reacts to.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeTooLarge      = "M_TOO_LARGE"
	ErrCodeUserDeactive  = "M_USER_DEACTIVATED"
)

// IsMatrixError reports whether err wraps a *MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsAuthError reports whether the homeserver rejected the credentials
// themselves, as opposed to failing to serve the request.
func IsAuthError(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	switch matrixErr.Code {
	case ErrCodeUnknownToken, ErrCodeMissingToken, ErrCodeForbidden, ErrCodeUserDeactive:
		return true
	}
	return matrixErr.StatusCode == http.StatusUnauthorized
}

// retryDelay reports whether an error response is transient and, if
// the server said how long to wait, for how long.
func retryDelay(matrixErr *MatrixError) (retry bool, wait time.Duration) {
	switch matrixErr.StatusCode {
	case http.StatusTooManyRequests:
		return true, time.Duration(matrixErr.RetryAfterMillis) * time.Millisecond
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, 0
	}
	return false, 0
}
