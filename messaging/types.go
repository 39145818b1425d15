// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               UserIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
	RefreshToken             bool           `json:"refresh_token,omitempty"`
}

// UserIdentifier selects the account for login. Type is "m.id.user".
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID       ref.UserID   `json:"user_id"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	DeviceID     ref.DeviceID `json:"device_id"`
	ExpiresInMS  int64        `json:"expires_in_ms,omitempty"`
}

// RefreshRequest is the request body for POST /refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is returned by POST /refresh. The homeserver may
// omit RefreshToken, in which case the old one stays valid.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresInMS  int64  `json:"expires_in_ms,omitempty"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID   `json:"user_id"`
	DeviceID ref.DeviceID `json:"device_id,omitempty"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from a previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send timeout even when zero
	Filter     string // filter ID or inline JSON filter
	FullState  bool
}

// SyncResponse is the part of the /sync response this client reads.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Rooms     RoomsSection    `json:"rooms"`
	ToDevice  ToDeviceSection `json:"to_device"`
}

// RoomsSection groups per-room sync data by membership. Room contents
// are kept raw: only membership itself is interpreted here.
type RoomsSection struct {
	Join   map[ref.RoomID]json.RawMessage `json:"join,omitempty"`
	Invite map[ref.RoomID]json.RawMessage `json:"invite,omitempty"`
	Leave  map[ref.RoomID]json.RawMessage `json:"leave,omitempty"`
}

// ToDeviceSection holds send-to-device events addressed to this device.
type ToDeviceSection struct {
	Events []ToDeviceEvent `json:"events"`
}

// ToDeviceEvent is one send-to-device event. Content is decoded by the
// consumer that understands Type.
type ToDeviceEvent struct {
	Type    string          `json:"type"`
	Sender  ref.UserID      `json:"sender"`
	Content json.RawMessage `json:"content"`
}

// SendEventResponse is returned by SendEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// Device is one entry of GET /devices.
type Device struct {
	DeviceID    ref.DeviceID `json:"device_id"`
	DisplayName string       `json:"display_name,omitempty"`
	LastSeenIP  string       `json:"last_seen_ip,omitempty"`
	LastSeenTS  int64        `json:"last_seen_ts,omitempty"`
}

// DevicesResponse is returned by GET /devices.
type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// SendToDeviceRequest is the body of PUT /sendToDevice. The inner map
// is keyed by device ID, or "*" for all of the user's devices.
type SendToDeviceRequest struct {
	Messages map[ref.UserID]map[string]any `json:"messages"`
}

// DeviceKeys are the identity keys a device publishes. Keys maps
// "<algorithm>:<device id>" to an unpadded base64 public key.
// Signatures maps user ID to key ID to signature.
type DeviceKeys struct {
	UserID     ref.UserID                   `json:"user_id"`
	DeviceID   ref.DeviceID                 `json:"device_id"`
	Algorithms []string                     `json:"algorithms"`
	Keys       map[string]string            `json:"keys"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
	Unsigned   map[string]any               `json:"unsigned,omitempty"`

	// Raw is the object as received. Signatures are checked against
	// it because the homeserver may include fields this struct drops.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the keys and keeps a copy of the raw object.
func (k *DeviceKeys) UnmarshalJSON(data []byte) error {
	type plain DeviceKeys
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*k = DeviceKeys(decoded)
	k.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// KeysUploadRequest is the body of POST /keys/upload. One-time keys
// are not published: this client does not establish Olm sessions.
type KeysUploadRequest struct {
	DeviceKeys *DeviceKeys `json:"device_keys,omitempty"`
}

// KeysUploadResponse is returned by POST /keys/upload.
type KeysUploadResponse struct {
	OneTimeKeyCounts map[string]int `json:"one_time_key_counts"`
}

// KeysQueryRequest is the body of POST /keys/query. An empty device
// list asks for all of the user's devices.
type KeysQueryRequest struct {
	DeviceKeys map[ref.UserID][]string `json:"device_keys"`
	Timeout    int                     `json:"timeout,omitempty"`
}

// KeysQueryResponse is returned by POST /keys/query.
type KeysQueryResponse struct {
	DeviceKeys map[ref.UserID]map[string]DeviceKeys `json:"device_keys"`
	Failures   map[string]json.RawMessage           `json:"failures,omitempty"`
}
