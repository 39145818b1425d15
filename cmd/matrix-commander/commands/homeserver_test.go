// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

const (
	testUserID   = "@alice:example.org"
	testDeviceID = "DEVICEA"
	testToken    = "syt_cli_token"
	testPassword = "correct horse battery staple"
	testRoomID   = "!room:example.org"
)

type postedEvent struct {
	roomID    string
	eventType string
	content   map[string]any
}

// homeserver is a minimal client-server API: enough for login, one
// sync round, sending, uploading, listing devices and logging out.
type homeserver struct {
	server *httptest.Server

	mu      sync.Mutex
	logins  []map[string]any
	syncs   int
	events  []postedEvent
	uploads []string
	logouts int
}

func newHomeserver(t *testing.T) *homeserver {
	t.Helper()
	h := &homeserver{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_matrix/client/v3/login", h.login)
	mux.HandleFunc("GET /_matrix/client/v3/sync", h.authenticated(h.sync))
	mux.HandleFunc("GET /_matrix/client/v3/joined_rooms", h.authenticated(h.joinedRooms))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", h.authenticated(h.send))
	mux.HandleFunc("POST /_matrix/media/v3/upload", h.authenticated(h.upload))
	mux.HandleFunc("GET /_matrix/client/v3/devices", h.authenticated(h.devices))
	mux.HandleFunc("POST /_matrix/client/v3/logout", h.authenticated(h.logout))
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func respond(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func (h *homeserver) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer "+testToken {
			respond(writer, http.StatusUnauthorized, map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "unknown token"})
			return
		}
		next(writer, request)
	}
}

func (h *homeserver) login(writer http.ResponseWriter, request *http.Request) {
	var body map[string]any
	json.NewDecoder(request.Body).Decode(&body)
	h.mu.Lock()
	h.logins = append(h.logins, body)
	h.mu.Unlock()
	if body["password"] != testPassword {
		respond(writer, http.StatusForbidden, map[string]string{"errcode": "M_FORBIDDEN", "error": "invalid password"})
		return
	}
	respond(writer, http.StatusOK, map[string]string{
		"user_id":      testUserID,
		"access_token": testToken,
		"device_id":    testDeviceID,
	})
}

func (h *homeserver) sync(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	h.syncs++
	batch := h.syncs
	h.mu.Unlock()
	respond(writer, http.StatusOK, map[string]any{
		"next_batch": "batch_" + strconv.Itoa(batch),
		"rooms":      map[string]any{"join": map[string]any{testRoomID: map[string]any{}}},
	})
}

func (h *homeserver) joinedRooms(writer http.ResponseWriter, request *http.Request) {
	respond(writer, http.StatusOK, map[string]any{"joined_rooms": []string{testRoomID}})
}

func (h *homeserver) send(writer http.ResponseWriter, request *http.Request) {
	var content map[string]any
	json.NewDecoder(request.Body).Decode(&content)
	h.mu.Lock()
	h.events = append(h.events, postedEvent{
		roomID:    request.PathValue("room"),
		eventType: request.PathValue("type"),
		content:   content,
	})
	count := len(h.events)
	h.mu.Unlock()
	respond(writer, http.StatusOK, map[string]string{"event_id": "$event" + strconv.Itoa(count)})
}

func (h *homeserver) upload(writer http.ResponseWriter, request *http.Request) {
	io.Copy(io.Discard, request.Body)
	h.mu.Lock()
	h.uploads = append(h.uploads, request.URL.Query().Get("filename"))
	h.mu.Unlock()
	respond(writer, http.StatusOK, map[string]string{"content_uri": "mxc://example.org/upload1"})
}

func (h *homeserver) devices(writer http.ResponseWriter, request *http.Request) {
	respond(writer, http.StatusOK, map[string]any{"devices": []map[string]any{
		{"device_id": testDeviceID, "display_name": "matrix-commander"},
		{"device_id": "PHONE", "display_name": "Element Android"},
	}})
}

func (h *homeserver) logout(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	h.logouts++
	h.mu.Unlock()
	respond(writer, http.StatusOK, map[string]any{})
}

func (h *homeserver) postedEvents() []postedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]postedEvent(nil), h.events...)
}

func (h *homeserver) loginCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.logins)
}

func (h *homeserver) uploadNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.uploads...)
}

func (h *homeserver) logoutCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logouts
}
