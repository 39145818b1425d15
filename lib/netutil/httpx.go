// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds reads of homeserver HTTP responses so that a
// misbehaving server cannot make the client allocate without limit.
package netutil

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON response bodies. A full sync of a large
// account is a few megabytes; this is far above that.
const MaxResponseSize int64 = 64 << 20

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("netutil: response body exceeds size limit")

// ReadResponse reads body up to MaxResponseSize bytes. A body that is
// longer than the limit is an error rather than silently truncated JSON.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, MaxResponseSize)
	}
	return data, nil
}

// ErrorBody reads what it can of an error response for use in a
// diagnostic message. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}
