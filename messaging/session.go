// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
)

// Session is the set of authenticated operations the commander and
// verification layers consume. *DirectSession is the production
// implementation; tests substitute fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID.
	UserID() ref.UserID

	// DeviceID returns the device this session is logged in as.
	DeviceID() ref.DeviceID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	WhoAmI(ctx context.Context) (*WhoAmIResponse, error)
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)
	SendMessage(ctx context.Context, roomID ref.RoomID, content any) (ref.EventID, error)
	UploadMedia(ctx context.Context, contentType, filename string, data []byte) (string, error)
	Devices(ctx context.Context) ([]Device, error)
	Logout(ctx context.Context) error

	// SendToDevice, UploadKeys and QueryKeys carry the verification
	// handshake.
	SendToDevice(ctx context.Context, eventType string, messages map[ref.UserID]map[string]any) error
	UploadKeys(ctx context.Context, keys DeviceKeys) (*KeysUploadResponse, error)
	QueryKeys(ctx context.Context, devices map[ref.UserID][]string) (*KeysQueryResponse, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
