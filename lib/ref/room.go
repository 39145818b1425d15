// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomID is a validated Matrix room ID such as "!OGEhHVWSdvArJzumhm:example.org".
// Room IDs are assigned by the homeserver; the client only ever parses
// them.
type RoomID struct {
	id string
}

// ParseRoomID validates a raw room ID.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parseSigilID(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is ParseRoomID for known-valid literals.
func MustParseRoomID(raw string) RoomID {
	roomID, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return roomID
}

func (r RoomID) String() string { return r.id }

func (r RoomID) IsZero() bool { return r.id == "" }

func (r RoomID) MarshalText() ([]byte, error) { return marshalID(r.id) }

func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoomAlias is a validated room alias such as "#general:example.org".
// It resolves to a RoomID through the homeserver's room directory.
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates a raw room alias.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if _, _, err := parseSigilID(raw, '#', "room alias"); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{alias: raw}, nil
}

// MustParseRoomAlias is ParseRoomAlias for known-valid literals.
func MustParseRoomAlias(raw string) RoomAlias {
	alias, err := ParseRoomAlias(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomAlias(%q): %v", raw, err))
	}
	return alias
}

func (a RoomAlias) String() string { return a.alias }

func (a RoomAlias) IsZero() bool { return a.alias == "" }

// Server returns the server that owns the alias.
func (a RoomAlias) Server() ServerName {
	_, server, _ := parseSigilID(a.alias, '#', "room alias")
	return ServerName{name: server}
}

func (a RoomAlias) MarshalText() ([]byte, error) { return marshalID(a.alias) }

func (a *RoomAlias) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = RoomAlias{}
		return nil
	}
	parsed, err := ParseRoomAlias(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
