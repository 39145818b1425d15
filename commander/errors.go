// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotLoggedIn means there is no credentials file.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrCredentialsMalformed means a credentials file exists but
	// cannot be used. It is distinct from ErrNotLoggedIn so callers
	// can tell the user to log in again rather than for the first time.
	ErrCredentialsMalformed = errors.New("credentials file is malformed")

	// ErrLoginFailed means the homeserver rejected a fresh login or a
	// restored token, or could not be reached to check it.
	ErrLoginFailed = errors.New("login failed")

	// ErrInvalidClientConnection means an operation was attempted on a
	// session that was never established or has been closed.
	ErrInvalidClientConnection = errors.New("no valid client connection")

	// ErrInvalidRoom means a room target could not be resolved to a
	// joined room. See RoomError for the reason.
	ErrInvalidRoom = errors.New("invalid room")

	// ErrInvalidFile means an attachment has no usable name.
	ErrInvalidFile = errors.New("invalid file")

	// ErrStoreUnavailable means the local encrypted store could not
	// be opened. It is never retried.
	ErrStoreUnavailable = errors.New("local store unavailable")

	// ErrSyncTimeout means a sync round did not complete in time.
	ErrSyncTimeout = errors.New("sync timed out")
)

// RoomErrorReason says why a room target was rejected.
type RoomErrorReason int

const (
	// RoomMissing: no room was given and there is no default room.
	RoomMissing RoomErrorReason = iota
	// RoomMalformed: the target is neither a room ID nor an alias.
	RoomMalformed
	// RoomUnknown: the alias does not exist.
	RoomUnknown
	// RoomNotJoined: the room exists but the account is not a member.
	RoomNotJoined
)

func (r RoomErrorReason) String() string {
	switch r {
	case RoomMissing:
		return "no room given and no default room"
	case RoomMalformed:
		return "not a room ID or alias"
	case RoomUnknown:
		return "no such room alias"
	case RoomNotJoined:
		return "room not joined"
	default:
		return fmt.Sprintf("RoomErrorReason(%d)", int(r))
	}
}

// RoomError is a room resolution failure. It matches ErrInvalidRoom.
type RoomError struct {
	Room   string
	Reason RoomErrorReason

	// Err is the underlying parse or lookup error, if any.
	Err error
}

func (e *RoomError) Error() string {
	message := fmt.Sprintf("invalid room %q: %s", e.Room, e.Reason)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

// Is reports whether target is ErrInvalidRoom.
func (e *RoomError) Is(target error) bool { return target == ErrInvalidRoom }

func (e *RoomError) Unwrap() error { return e.Err }

// LogoutError collects the independent failures of a logout. Local
// cleanup runs even when the server call fails, so more than one field
// may be set.
type LogoutError struct {
	// Server is the failed (or skipped) server-side logout.
	Server error
	// Credentials is the failure to remove the credentials file.
	Credentials error
	// Store is the failure to close or erase the store directory.
	Store error
}

func (e *LogoutError) Error() string {
	var parts []string
	if e.Server != nil {
		parts = append(parts, "server logout: "+e.Server.Error())
	}
	if e.Credentials != nil {
		parts = append(parts, "removing credentials: "+e.Credentials.Error())
	}
	if e.Store != nil {
		parts = append(parts, "removing store: "+e.Store.Error())
	}
	return "logout incomplete: " + strings.Join(parts, "; ")
}

// Unwrap returns the non-nil failures.
func (e *LogoutError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.Server, e.Credentials, e.Store} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (e *LogoutError) empty() bool {
	return e.Server == nil && e.Credentials == nil && e.Store == nil
}
