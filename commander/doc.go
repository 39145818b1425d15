// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commander is the session core of matrix-commander.
//
// A [Session] is built one of two ways. [Login] authenticates with a
// password, saves the resulting credentials file and returns a
// connected session. [Restore] replays a saved credentials file into a
// new client without a password. Both paths open the local encrypted
// store (see lib/cryptostore) and then run one synchronization round
// under the configured [SyncMode]: [SyncOff] skips the network
// entirely, [SyncFull] performs exactly one bounded /sync request.
//
// Once connected, a session sends text messages and file attachments
// to a resolved room, lists the account's devices, and runs emoji
// verification through package verification. [Logout] ends the
// session on the homeserver and removes the credentials file and the
// store directory, reporting each failure independently in a
// [*LogoutError].
//
// Errors are sentinel values matched with errors.Is: [ErrNotLoggedIn]
// means there is no local session, [ErrLoginFailed] means a local or
// fresh session was rejected. Room resolution failures are
// [*RoomError] values matching [ErrInvalidRoom].
package commander
