// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EventID identifies a room event. From room version 4 onward it is
// "$" followed by an opaque hash with no server suffix, so nothing past
// the sigil is validated.
type EventID struct {
	id string
}

// ParseEventID validates a raw event ID.
func ParseEventID(raw string) (EventID, error) {
	if len(raw) < 2 || raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID must be '$' followed by an identifier: %q", raw)
	}
	return EventID{id: raw}, nil
}

func (e EventID) String() string { return e.id }

func (e EventID) IsZero() bool { return e.id == "" }

func (e EventID) MarshalText() ([]byte, error) { return marshalID(e.id) }

func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
