// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID such as "@alice:example.org".
type UserID struct {
	id string
}

// ParseUserID validates a raw user ID.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parseSigilID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is ParseUserID for known-valid literals. It panics on
// error.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return userID
}

// String returns the full user ID.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is unset.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and the first ':'.
func (u UserID) Localpart() string {
	localpart, _, _ := parseSigilID(u.id, '@', "user ID")
	return localpart
}

// Server returns the homeserver name the user belongs to.
func (u UserID) Server() ServerName {
	_, server, _ := parseSigilID(u.id, '@', "user ID")
	return ServerName{name: server}
}

func (u UserID) MarshalText() ([]byte, error) { return marshalID(u.id) }

func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
