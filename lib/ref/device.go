// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// DeviceID is a Matrix device ID. Device IDs are opaque; the type keeps
// them from being confused with the other strings that travel next to
// them (user IDs, access tokens).
type DeviceID struct {
	id string
}

// ParseDeviceID rejects only the empty string and whitespace.
func ParseDeviceID(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, fmt.Errorf("device ID is empty")
	}
	for index := 0; index < len(raw); index++ {
		if raw[index] <= ' ' {
			return DeviceID{}, fmt.Errorf("device ID %q: invalid character at position %d", raw, index)
		}
	}
	return DeviceID{id: raw}, nil
}

// MustParseDeviceID is ParseDeviceID for known-valid literals.
func MustParseDeviceID(raw string) DeviceID {
	deviceID, err := ParseDeviceID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseDeviceID(%q): %v", raw, err))
	}
	return deviceID
}

func (d DeviceID) String() string { return d.id }

func (d DeviceID) IsZero() bool { return d.id == "" }

func (d DeviceID) MarshalText() ([]byte, error) { return marshalID(d.id) }

func (d *DeviceID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = DeviceID{}
		return nil
	}
	parsed, err := ParseDeviceID(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
