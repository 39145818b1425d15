// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/lib/secret"
)

// TokenRefreshHandler receives newly issued tokens after a refresh so
// they can be persisted. An error is logged; the refreshed tokens stay
// in use for this session either way.
type TokenRefreshHandler func(accessToken, refreshToken string) error

// DirectSession is an authenticated Matrix session for one device.
//
// The access and refresh tokens are stored in secret.Buffers. The
// caller must call Close when the DirectSession is no longer needed.
type DirectSession struct {
	client   *Client
	userID   ref.UserID
	deviceID ref.DeviceID

	// tokenMu guards the token buffers and the refresh handler. It is
	// held across a refresh so concurrent failures refresh only once.
	tokenMu      sync.Mutex
	accessToken  *secret.Buffer
	refreshToken *secret.Buffer
	onRefresh    TokenRefreshHandler

	// transactionCounter generates unique transaction IDs for idempotent sends.
	transactionCounter atomic.Int64
}

// UserID returns the fully-qualified Matrix user ID.
func (s *DirectSession) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device ID for this session.
func (s *DirectSession) DeviceID() ref.DeviceID {
	return s.deviceID
}

// AccessToken returns the current access token as a heap string. Use
// only at boundaries that need a string, such as persisting the
// session.
func (s *DirectSession) AccessToken() string {
	token, _ := s.currentToken()
	return token
}

// RefreshToken returns the current refresh token, or "" if the session
// has none.
func (s *DirectSession) RefreshToken() string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.refreshToken == nil || s.refreshToken.Closed() {
		return ""
	}
	return s.refreshToken.String()
}

// Client returns the client this session was created from.
func (s *DirectSession) Client() *Client {
	return s.client
}

// OnTokenRefresh installs the handler called after a successful token
// refresh.
func (s *DirectSession) OnTokenRefresh(handler TokenRefreshHandler) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.onRefresh = handler
}

// Close releases the token memory. Idempotent.
func (s *DirectSession) Close() error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	var firstErr error
	if s.accessToken != nil {
		firstErr = s.accessToken.Close()
	}
	if s.refreshToken != nil {
		if err := s.refreshToken.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *DirectSession) currentToken() (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.accessToken == nil || s.accessToken.Closed() {
		return "", fmt.Errorf("messaging: session is closed")
	}
	return s.accessToken.String(), nil
}

// do performs an authenticated call, refreshing the access token once
// if the homeserver reports it unknown.
func (s *DirectSession) do(ctx context.Context, request call) ([]byte, error) {
	token, err := s.currentToken()
	if err != nil {
		return nil, err
	}
	body, err := s.client.do(ctx, request, token)
	if err == nil || !IsMatrixError(err, ErrCodeUnknownToken) {
		return body, err
	}

	refreshed, refreshErr := s.refresh(ctx, token)
	if refreshErr != nil {
		return body, fmt.Errorf("%w (token refresh failed: %v)", err, refreshErr)
	}
	if !refreshed {
		return body, err
	}
	token, tokenErr := s.currentToken()
	if tokenErr != nil {
		return nil, tokenErr
	}
	return s.client.do(ctx, request, token)
}

// refresh replaces the access token if it is still staleToken. It
// reports false when the session has no refresh token.
func (s *DirectSession) refresh(ctx context.Context, staleToken string) (bool, error) {
	s.tokenMu.Lock()
	if s.refreshToken == nil || s.refreshToken.Closed() || s.accessToken.Closed() {
		s.tokenMu.Unlock()
		return false, nil
	}
	if s.accessToken.String() != staleToken {
		// Another request refreshed while this one waited for the lock.
		s.tokenMu.Unlock()
		return true, nil
	}

	response, err := s.client.refresh(ctx, s.refreshToken.String())
	if err != nil {
		s.tokenMu.Unlock()
		return false, err
	}

	newAccess, err := secret.NewFromString(response.AccessToken)
	if err != nil {
		s.tokenMu.Unlock()
		return false, fmt.Errorf("protecting refreshed access token: %w", err)
	}
	s.accessToken.Close()
	s.accessToken = newAccess
	if response.RefreshToken != "" {
		newRefresh, err := secret.NewFromString(response.RefreshToken)
		if err != nil {
			s.tokenMu.Unlock()
			return false, fmt.Errorf("protecting refreshed refresh token: %w", err)
		}
		s.refreshToken.Close()
		s.refreshToken = newRefresh
	}
	handler := s.onRefresh
	accessToken, refreshToken := s.accessToken.String(), s.refreshToken.String()
	s.tokenMu.Unlock()

	s.client.logger.Info("refreshed matrix access token", "user_id", s.userID, "device_id", s.deviceID)
	if handler != nil {
		if err := handler(accessToken, refreshToken); err != nil {
			s.client.logger.Warn("persisting refreshed tokens failed", "error", err)
		}
	}
	return true, nil
}

// nextTransactionID returns a transaction ID unique within this
// process and, by its timestamp, across restarts.
func (s *DirectSession) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return "mc-" + strconv.FormatInt(s.client.clock.Now().UnixNano(), 10) + "-" + strconv.FormatInt(counter, 10)
}

// WhoAmI validates the access token and returns the identity it
// belongs to.
func (s *DirectSession) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	body, err := s.do(ctx, call{method: http.MethodGet, path: "/_matrix/client/v3/account/whoami"})
	if err != nil {
		return nil, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return &response, nil
}

// Sync performs one /sync round. For an initial sync leave
// options.Since empty. The long-poll wait is added to the attempt
// timeout.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout || options.Timeout > 0 {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	if options.FullState {
		query.Set("full_state", "true")
	}

	body, err := s.do(ctx, call{
		method: http.MethodGet,
		path:   "/_matrix/client/v3/sync",
		query:  query,
		wait:   time.Duration(options.Timeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// JoinedRooms returns the rooms the user is a member of.
func (s *DirectSession) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.do(ctx, call{method: http.MethodGet, path: "/_matrix/client/v3/joined_rooms"})
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// ResolveAlias resolves a room alias (e.g., "#general:example.org") to
// a room ID. An unknown alias is a *MatrixError with M_NOT_FOUND.
func (s *DirectSession) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	body, err := s.do(ctx, call{
		method: http.MethodGet,
		path:   escapePath("/_matrix/client/v3/directory/room", alias.String()),
	})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: resolve alias %q failed: %w", alias, err)
	}

	var response ResolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse resolve alias response: %w", err)
	}
	return response.RoomID, nil
}

// SendMessage sends an m.room.message event and returns its event ID.
func (s *DirectSession) SendMessage(ctx context.Context, roomID ref.RoomID, content any) (ref.EventID, error) {
	return s.SendEvent(ctx, roomID, "m.room.message", content)
}

// SendEvent sends an event of any type to a room using an idempotent
// PUT with a fresh transaction ID. Retries reuse the same ID, so a
// retried send is deduplicated by the homeserver.
func (s *DirectSession) SendEvent(ctx context.Context, roomID ref.RoomID, eventType string, content any) (ref.EventID, error) {
	body, err := s.do(ctx, call{
		method: http.MethodPut,
		path:   escapePath("/_matrix/client/v3/rooms", roomID.String(), "send", eventType, s.nextTransactionID()),
		body:   content,
	})
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send event to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// UploadMedia uploads data to the homeserver's media repository and
// returns the MXC URI (e.g., "mxc://example.org/abc123").
func (s *DirectSession) UploadMedia(ctx context.Context, contentType, filename string, data []byte) (string, error) {
	query := url.Values{}
	if filename != "" {
		query.Set("filename", filename)
	}
	if data == nil {
		data = []byte{}
	}
	body, err := s.do(ctx, call{
		method:      http.MethodPost,
		path:        "/_matrix/media/v3/upload",
		query:       query,
		raw:         data,
		contentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}

	var response UploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	if response.ContentURI == "" {
		return "", fmt.Errorf("messaging: upload response has no content_uri")
	}
	return response.ContentURI, nil
}

// Devices lists the devices of the logged-in user.
func (s *DirectSession) Devices(ctx context.Context) ([]Device, error) {
	body, err := s.do(ctx, call{method: http.MethodGet, path: "/_matrix/client/v3/devices"})
	if err != nil {
		return nil, fmt.Errorf("messaging: list devices failed: %w", err)
	}

	var response DevicesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse devices response: %w", err)
	}
	return response.Devices, nil
}

// Logout invalidates the access token and deletes the device on the
// homeserver. The session is unusable afterwards but still needs Close.
func (s *DirectSession) Logout(ctx context.Context) error {
	_, err := s.do(ctx, call{method: http.MethodPost, path: "/_matrix/client/v3/logout", body: struct{}{}})
	if err != nil {
		return fmt.Errorf("messaging: logout failed: %w", err)
	}
	s.client.logger.Info("logged out of matrix", "user_id", s.userID, "device_id", s.deviceID)
	return nil
}

// SendToDevice sends one event type to a set of devices. messages is
// keyed by user ID, then device ID.
func (s *DirectSession) SendToDevice(ctx context.Context, eventType string, messages map[ref.UserID]map[string]any) error {
	_, err := s.do(ctx, call{
		method: http.MethodPut,
		path:   escapePath("/_matrix/client/v3/sendToDevice", eventType, s.nextTransactionID()),
		body:   SendToDeviceRequest{Messages: messages},
	})
	if err != nil {
		return fmt.Errorf("messaging: send to-device %s failed: %w", eventType, err)
	}
	return nil
}

// UploadKeys publishes this device's identity keys.
func (s *DirectSession) UploadKeys(ctx context.Context, keys DeviceKeys) (*KeysUploadResponse, error) {
	body, err := s.do(ctx, call{
		method: http.MethodPost,
		path:   "/_matrix/client/v3/keys/upload",
		body:   KeysUploadRequest{DeviceKeys: &keys},
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: key upload failed: %w", err)
	}

	var response KeysUploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse key upload response: %w", err)
	}
	return &response, nil
}

// QueryKeys fetches the published device keys of the given users.
func (s *DirectSession) QueryKeys(ctx context.Context, devices map[ref.UserID][]string) (*KeysQueryResponse, error) {
	request := KeysQueryRequest{DeviceKeys: make(map[ref.UserID][]string, len(devices))}
	for userID, deviceIDs := range devices {
		if deviceIDs == nil {
			deviceIDs = []string{}
		}
		request.DeviceKeys[userID] = deviceIDs
	}
	body, err := s.do(ctx, call{method: http.MethodPost, path: "/_matrix/client/v3/keys/query", body: request})
	if err != nil {
		return nil, fmt.Errorf("messaging: key query failed: %w", err)
	}

	var response KeysQueryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse key query response: %w", err)
	}
	return &response, nil
}
