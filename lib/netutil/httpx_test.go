// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(strings.NewReader(`{"next_batch":"s1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"next_batch":"s1"}` {
			t.Fatalf("got %q", data)
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(failReader{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})

	t.Run("oversized body", func(t *testing.T) {
		body := io.LimitReader(zeroReader{}, MaxResponseSize+10)
		_, err := ReadResponse(body)
		if !errors.Is(err, ErrResponseTooLarge) {
			t.Fatalf("err = %v, want ErrResponseTooLarge", err)
		}
	})
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(bytes.NewReader([]byte("bad gateway"))); got != "bad gateway" {
		t.Errorf("ErrorBody = %q", got)
	}
	if got := ErrorBody(failReader{}); got != "" {
		t.Errorf("ErrorBody on failing reader = %q", got)
	}
}
