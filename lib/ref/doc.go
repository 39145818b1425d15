// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for Matrix identifiers.
//
// Identifiers are parsed once at the boundary (command-line input, the
// credentials file, homeserver responses) and carried as typed values
// afterwards, so a room alias cannot be passed where a room ID is
// expected and a malformed room ID is rejected before any request is
// made. All types implement encoding.TextMarshaler and
// TextUnmarshaler, so they round-trip through JSON and CBOR as plain
// strings. The zero value of each type means "unset"; check with
// IsZero.
package ref
