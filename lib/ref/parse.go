// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parseSigilID splits "<sigil>localpart:server" into its parts. The
// localpart is opaque here: room IDs and event IDs carry
// server-generated strings and historical user IDs predate the
// localpart grammar, so only the structure is enforced.
func parseSigilID(raw string, sigil byte, kind string) (localpart, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if raw[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", kind, sigil, raw)
	}
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, raw)
	}
	if colon == 1 {
		return "", "", fmt.Errorf("%s has empty local part: %q", kind, raw)
	}
	server = raw[colon+1:]
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("%s %q: %w", kind, raw, err)
	}
	return raw[1:colon], server, nil
}

// validateServer accepts hostnames, IPv4 and bracketed IPv6 literals
// with an optional port. It rejects what can never appear in a server
// name rather than implementing the full grammar.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for index := 0; index < len(server); index++ {
		c := server[index]
		if c <= ' ' || c == 0x7f || c == '@' || c == '#' || c == '!' || c == '$' || c == '/' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, index)
		}
	}
	return nil
}

func marshalID(id string) ([]byte, error) {
	return []byte(id), nil
}
