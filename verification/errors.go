// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"errors"
	"fmt"
)

var (
	// ErrVerificationFailed is a protocol fault: a malformed or
	// unexpected message, an unsupported method, or a key mismatch.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrVerificationRejected means a human declined the request or
	// reported that the emoji did not match.
	ErrVerificationRejected = errors.New("verification rejected")

	// ErrVerificationTimeout means a step did not complete in time.
	ErrVerificationTimeout = errors.New("verification timed out")
)

// Cancel codes from the Matrix specification.
const (
	CodeUser               = "m.user"
	CodeTimeout            = "m.timeout"
	CodeUnknownTransaction = "m.unknown_transaction"
	CodeUnknownMethod      = "m.unknown_method"
	CodeUnexpectedMessage  = "m.unexpected_message"
	CodeKeyMismatch        = "m.key_mismatch"
	CodeUserMismatch       = "m.user_mismatch"
	CodeInvalidMessage     = "m.invalid_message"
	CodeAccepted           = "m.accepted"
	CodeMismatchedSAS      = "m.mismatched_sas"
	CodeMismatchedCommit   = "m.mismatched_commitment"
)

// CancelError ends a verification attempt.
type CancelError struct {
	Code   string
	Reason string

	// Remote is true when the other party cancelled.
	Remote bool
}

func (e *CancelError) Error() string {
	who := "locally"
	if e.Remote {
		who = "by the other device"
	}
	if e.Reason == "" {
		return fmt.Sprintf("verification cancelled %s (%s)", who, e.Code)
	}
	return fmt.Sprintf("verification cancelled %s (%s): %s", who, e.Code, e.Reason)
}

// Is matches the error kind for the cancel code.
func (e *CancelError) Is(target error) bool {
	return target == kindOf(e.Code)
}

func kindOf(code string) error {
	switch code {
	case CodeUser, CodeMismatchedSAS:
		return ErrVerificationRejected
	case CodeTimeout:
		return ErrVerificationTimeout
	default:
		return ErrVerificationFailed
	}
}
