// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
)

// newTestSession returns a session with access token "test-token" and
// no refresh token.
func newTestSession(t *testing.T, handler http.HandlerFunc) *DirectSession {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := newTestClient(t, server)
	session, err := client.SessionFromToken(TokenSession{
		UserID:      ref.MustParseUserID("@alice:example.org"),
		DeviceID:    ref.MustParseDeviceID("DEVICEA"),
		AccessToken: "test-token",
	})
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func assertAuth(t *testing.T, request *http.Request, token string) {
	t.Helper()
	if got := request.Header.Get("Authorization"); got != "Bearer "+token {
		t.Errorf("Authorization = %q, want %q", got, "Bearer "+token)
	}
}

func TestSessionFromTokenValidation(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.SessionFromToken(TokenSession{AccessToken: "x"}); err == nil {
		t.Error("SessionFromToken without user ID succeeded")
	}
	if _, err := client.SessionFromToken(TokenSession{UserID: ref.MustParseUserID("@a:b")}); err == nil {
		t.Error("SessionFromToken without access token succeeded")
	}
}

func TestWhoAmI(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("path = %s", request.URL.Path)
		}
		writeJSON(t, writer, http.StatusOK, map[string]any{"user_id": "@alice:example.org", "device_id": "DEVICEA"})
	})
	response, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if response.UserID != session.UserID() || response.DeviceID != session.DeviceID() {
		t.Errorf("WhoAmI = %+v", response)
	}
}

func TestSync(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		query := request.URL.Query()
		if query.Get("since") != "s1" || query.Get("timeout") != "0" || query.Get("filter") != `{"presence":{"types":[]}}` {
			t.Errorf("query = %v", query)
		}
		writeJSON(t, writer, http.StatusOK, map[string]any{
			"next_batch": "s2",
			"rooms": map[string]any{
				"join":  map[string]any{"!abc:example.org": map[string]any{}},
				"leave": map[string]any{"!old:example.org": map[string]any{}},
			},
			"to_device": map[string]any{
				"events": []any{map[string]any{
					"type":    "m.key.verification.request",
					"sender":  "@bob:example.org",
					"content": map[string]any{"transaction_id": "t1"},
				}},
			},
		})
	})

	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "s1",
		SetTimeout: true,
		Filter:     `{"presence":{"types":[]}}`,
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if response.NextBatch != "s2" {
		t.Errorf("NextBatch = %q", response.NextBatch)
	}
	if _, ok := response.Rooms.Join[ref.MustParseRoomID("!abc:example.org")]; !ok {
		t.Errorf("joined rooms = %v", response.Rooms.Join)
	}
	if _, ok := response.Rooms.Leave[ref.MustParseRoomID("!old:example.org")]; !ok {
		t.Errorf("left rooms = %v", response.Rooms.Leave)
	}
	if len(response.ToDevice.Events) != 1 || response.ToDevice.Events[0].Type != "m.key.verification.request" {
		t.Fatalf("to-device events = %+v", response.ToDevice.Events)
	}
	if response.ToDevice.Events[0].Sender.String() != "@bob:example.org" {
		t.Errorf("sender = %q", response.ToDevice.Events[0].Sender)
	}
}

func TestSendMessage(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("method = %s", request.Method)
		}
		mu.Lock()
		paths = append(paths, request.URL.EscapedPath())
		mu.Unlock()
		var content map[string]any
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Errorf("decoding content: %v", err)
			return
		}
		if content["body"] != "hello" {
			t.Errorf("content = %v", content)
		}
		writeJSON(t, writer, http.StatusOK, map[string]any{"event_id": "$event1"})
	})

	roomID := ref.MustParseRoomID("!room/with/slashes:example.org")
	for range 2 {
		eventID, err := session.SendMessage(context.Background(), roomID, map[string]any{"msgtype": "m.text", "body": "hello"})
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		if eventID.String() != "$event1" {
			t.Errorf("event ID = %q", eventID)
		}
	}

	if len(paths) != 2 {
		t.Fatalf("got %d requests", len(paths))
	}
	prefix := "/_matrix/client/v3/rooms/%21room%2Fwith%2Fslashes:example.org/send/m.room.message/"
	for _, path := range paths {
		if !strings.HasPrefix(path, prefix) {
			t.Errorf("path %q lacks prefix %q", path, prefix)
		}
	}
	if paths[0] == paths[1] {
		t.Errorf("two sends reused transaction path %q", paths[0])
	}
}

func TestUploadMedia(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/media/v3/upload" {
			t.Errorf("path = %s", request.URL.Path)
		}
		if request.URL.Query().Get("filename") != "cat photo.png" {
			t.Errorf("filename = %q", request.URL.Query().Get("filename"))
		}
		if request.Header.Get("Content-Type") != "image/png" {
			t.Errorf("Content-Type = %q", request.Header.Get("Content-Type"))
		}
		data, _ := io.ReadAll(request.Body)
		if string(data) != "PNGDATA" {
			t.Errorf("body = %q", data)
		}
		writeJSON(t, writer, http.StatusOK, map[string]any{"content_uri": "mxc://example.org/abc"})
	})
	uri, err := session.UploadMedia(context.Background(), "image/png", "cat photo.png", []byte("PNGDATA"))
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if uri != "mxc://example.org/abc" {
		t.Errorf("uri = %q", uri)
	}
}

func TestJoinedRoomsAndResolveAlias(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.EscapedPath() {
		case "/_matrix/client/v3/joined_rooms":
			writeJSON(t, writer, http.StatusOK, map[string]any{"joined_rooms": []string{"!a:example.org", "!b:example.org"}})
		case "/_matrix/client/v3/directory/room/%23general:example.org":
			writeJSON(t, writer, http.StatusOK, map[string]any{"room_id": "!a:example.org", "servers": []string{"example.org"}})
		default:
			writeJSON(t, writer, http.StatusNotFound, map[string]any{"errcode": ErrCodeNotFound, "error": "Room alias not found"})
		}
	})
	ctx := context.Background()

	rooms, err := session.JoinedRooms(ctx)
	if err != nil {
		t.Fatalf("JoinedRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[1].String() != "!b:example.org" {
		t.Errorf("rooms = %v", rooms)
	}

	roomID, err := session.ResolveAlias(ctx, ref.MustParseRoomAlias("#general:example.org"))
	if err != nil {
		t.Fatalf("ResolveAlias: %v", err)
	}
	if roomID.String() != "!a:example.org" {
		t.Errorf("room ID = %q", roomID)
	}

	_, err = session.ResolveAlias(ctx, ref.MustParseRoomAlias("#missing:example.org"))
	if !IsMatrixError(err, ErrCodeNotFound) {
		t.Errorf("error = %v, want M_NOT_FOUND", err)
	}
}

func TestDevicesAndLogout(t *testing.T) {
	var loggedOut atomic.Bool
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/_matrix/client/v3/devices":
			writeJSON(t, writer, http.StatusOK, map[string]any{"devices": []any{
				map[string]any{"device_id": "DEVICEA", "display_name": "laptop", "last_seen_ts": 1700000000000},
				map[string]any{"device_id": "PHONE"},
			}})
		case "/_matrix/client/v3/logout":
			if request.Method != http.MethodPost {
				t.Errorf("logout method = %s", request.Method)
			}
			loggedOut.Store(true)
			writeJSON(t, writer, http.StatusOK, map[string]any{})
		}
	})
	ctx := context.Background()

	devices, err := session.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 2 || devices[0].DisplayName != "laptop" || devices[1].DeviceID.String() != "PHONE" {
		t.Errorf("devices = %+v", devices)
	}
	if err := session.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !loggedOut.Load() {
		t.Error("logout endpoint not called")
	}
}

func TestSendToDeviceAndKeys(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		switch {
		case strings.HasPrefix(request.URL.Path, "/_matrix/client/v3/sendToDevice/m.key.verification.ready/"):
			var body SendToDeviceRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Error(err)
				return
			}
			if _, ok := body.Messages[ref.MustParseUserID("@bob:example.org")]["BOBDEVICE"]; !ok {
				t.Errorf("messages = %v", body.Messages)
			}
			writeJSON(t, writer, http.StatusOK, map[string]any{})
		case request.URL.Path == "/_matrix/client/v3/keys/upload":
			var body KeysUploadRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Error(err)
				return
			}
			if body.DeviceKeys == nil || body.DeviceKeys.Keys["ed25519:DEVICEA"] != "edkey" {
				t.Errorf("upload body = %+v", body)
			}
			writeJSON(t, writer, http.StatusOK, map[string]any{"one_time_key_counts": map[string]int{}})
		case request.URL.Path == "/_matrix/client/v3/keys/query":
			var body map[string]map[string][]string
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Error(err)
				return
			}
			if devices, ok := body["device_keys"]["@bob:example.org"]; !ok || len(devices) != 0 {
				t.Errorf("query body = %v", body)
			}
			writeJSON(t, writer, http.StatusOK, map[string]any{"device_keys": map[string]any{
				"@bob:example.org": map[string]any{"BOBDEVICE": map[string]any{
					"user_id": "@bob:example.org", "device_id": "BOBDEVICE",
					"algorithms": []string{"m.olm.v1.curve25519-aes-sha2"},
					"keys":       map[string]string{"ed25519:BOBDEVICE": "bobkey"},
				}},
			}})
		default:
			t.Errorf("unexpected %s %s", request.Method, request.URL.Path)
		}
	})
	ctx := context.Background()
	bob := ref.MustParseUserID("@bob:example.org")

	err := session.SendToDevice(ctx, "m.key.verification.ready", map[ref.UserID]map[string]any{
		bob: {"BOBDEVICE": map[string]any{"transaction_id": "t1"}},
	})
	if err != nil {
		t.Fatalf("SendToDevice: %v", err)
	}

	_, err = session.UploadKeys(ctx, DeviceKeys{
		UserID:   session.UserID(),
		DeviceID: session.DeviceID(),
		Keys:     map[string]string{"ed25519:DEVICEA": "edkey"},
	})
	if err != nil {
		t.Fatalf("UploadKeys: %v", err)
	}

	response, err := session.QueryKeys(ctx, map[ref.UserID][]string{bob: nil})
	if err != nil {
		t.Fatalf("QueryKeys: %v", err)
	}
	if response.DeviceKeys[bob]["BOBDEVICE"].Keys["ed25519:BOBDEVICE"] != "bobkey" {
		t.Errorf("query response = %+v", response)
	}
}

func TestTokenRefresh(t *testing.T) {
	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/_matrix/client/v3/refresh":
			refreshes.Add(1)
			if request.Header.Get("Authorization") != "" {
				t.Error("refresh sent an Authorization header")
			}
			var body RefreshRequest
			json.NewDecoder(request.Body).Decode(&body)
			if body.RefreshToken != "refresh-1" {
				t.Errorf("refresh token = %q", body.RefreshToken)
			}
			writeJSON(t, writer, http.StatusOK, map[string]any{"access_token": "access-2", "refresh_token": "refresh-2"})
		case "/_matrix/client/v3/account/whoami":
			if request.Header.Get("Authorization") != "Bearer access-2" {
				writeJSON(t, writer, http.StatusUnauthorized, map[string]any{
					"errcode": ErrCodeUnknownToken, "error": "expired", "soft_logout": true,
				})
				return
			}
			writeJSON(t, writer, http.StatusOK, map[string]any{"user_id": "@alice:example.org"})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	session, err := client.SessionFromToken(TokenSession{
		UserID:       ref.MustParseUserID("@alice:example.org"),
		DeviceID:     ref.MustParseDeviceID("DEVICEA"),
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	var persisted [2]string
	session.OnTokenRefresh(func(accessToken, refreshToken string) error {
		persisted = [2]string{accessToken, refreshToken}
		return nil
	})

	if _, err := session.WhoAmI(context.Background()); err != nil {
		t.Fatalf("WhoAmI after refresh: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes.Load())
	}
	if persisted != [2]string{"access-2", "refresh-2"} {
		t.Errorf("handler saw %v", persisted)
	}

	// The refreshed token is used directly from now on.
	if _, err := session.WhoAmI(context.Background()); err != nil {
		t.Fatalf("second WhoAmI: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refreshes = %d after second call, want 1", refreshes.Load())
	}
}

func TestUnknownTokenWithoutRefreshToken(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/_matrix/client/v3/refresh" {
			t.Error("refresh attempted without a refresh token")
		}
		writeJSON(t, writer, http.StatusUnauthorized, map[string]any{"errcode": ErrCodeUnknownToken, "error": "gone"})
	})
	_, err := session.WhoAmI(context.Background())
	if !IsMatrixError(err, ErrCodeUnknownToken) {
		t.Fatalf("error = %v, want M_UNKNOWN_TOKEN", err)
	}
	if !IsAuthError(err) {
		t.Error("M_UNKNOWN_TOKEN is not an auth error")
	}
}

func TestClosedSession(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		t.Errorf("request sent on a closed session: %s", request.URL.Path)
	})
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := session.JoinedRooms(context.Background()); err == nil {
		t.Error("JoinedRooms on a closed session succeeded")
	}
}
