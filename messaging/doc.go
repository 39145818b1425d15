// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is matrix-commander's client for the Matrix
// client-server API.
//
// [Client] is the unauthenticated handle: homeserver URL, HTTP
// transport, request timeout and retry budget. It performs password
// login and wraps stored tokens into sessions. [DirectSession] adds an
// access token (held in a secret.Buffer) and exposes the operations
// the client needs: whoami, a single sync round, joined rooms, alias
// resolution, room messages, media upload, the device list, logout,
// to-device messages, and device key upload and query.
//
// Every request attempt is bounded by the client's timeout. Transport
// failures, rate limiting (429, honouring retry_after_ms) and gateway
// errors (502, 503, 504) are retried with doubling backoff until the
// retry budget, measured from the first attempt, is spent. Other
// failures return immediately as [*MatrixError]; [IsMatrixError] tests
// for a code.
//
// When a session holds a refresh token and the homeserver rejects the
// access token with M_UNKNOWN_TOKEN, the session refreshes once,
// reports the new tokens through its refresh handler and repeats the
// request.
//
// Request URLs are built by concatenating escaped path segments onto
// the homeserver URL, which keeps room IDs and aliases containing '/'
// or ':' intact.
package messaging
