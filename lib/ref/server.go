// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// ServerName is a homeserver name: the part after ':' in user IDs,
// room IDs and aliases.
type ServerName struct {
	name string
}

// ParseServerName validates a raw server name.
func ParseServerName(raw string) (ServerName, error) {
	if err := validateServer(raw); err != nil {
		return ServerName{}, err
	}
	return ServerName{name: raw}, nil
}

func (s ServerName) String() string { return s.name }

func (s ServerName) IsZero() bool { return s.name == "" }
