// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

const (
	testUserID   = "@alice:example.org"
	testDeviceID = "DEVICEA"
	testToken    = "syt_test_token"
	testPassword = "correct horse battery staple"
	testRoomID   = "!room:example.org"
	testAlias    = "#general:example.org"
)

type sentEvent struct {
	roomID    string
	eventType string
	content   map[string]any
}

type uploadedMedia struct {
	contentType string
	filename    string
	size        int
}

// fakeHomeserver serves the client-server endpoints the commander uses
// from in-memory state.
type fakeHomeserver struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	joined       []string
	aliases      map[string]string
	toDevice     []map[string]any
	syncDelay    time.Duration
	syncStatus   int
	logoutStatus int
	syncQueries  []url.Values
	logins       []map[string]any
	sent         []sentEvent
	uploads      []uploadedMedia
	logouts      int
	keyUploads   int
	toDeviceSent []sentEvent
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	h := &fakeHomeserver{
		t:       t,
		joined:  []string{testRoomID},
		aliases: map[string]string{testAlias: testRoomID},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_matrix/client/v3/login", h.login)
	mux.HandleFunc("GET /_matrix/client/v3/sync", h.authenticated(h.sync))
	mux.HandleFunc("GET /_matrix/client/v3/joined_rooms", h.authenticated(h.joinedRooms))
	mux.HandleFunc("GET /_matrix/client/v3/directory/room/{alias}", h.authenticated(h.resolveAlias))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", h.authenticated(h.send))
	mux.HandleFunc("POST /_matrix/media/v3/upload", h.authenticated(h.upload))
	mux.HandleFunc("GET /_matrix/client/v3/devices", h.authenticated(h.devices))
	mux.HandleFunc("POST /_matrix/client/v3/logout", h.authenticated(h.logout))
	mux.HandleFunc("POST /_matrix/client/v3/keys/upload", h.authenticated(h.uploadKeys))
	mux.HandleFunc("POST /_matrix/client/v3/keys/query", h.authenticated(h.queryKeys))
	mux.HandleFunc("PUT /_matrix/client/v3/sendToDevice/{type}/{txn}", h.authenticated(h.sendToDevice))
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHomeserver) URL() string { return h.server.URL }

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func writeMatrixError(writer http.ResponseWriter, status int, code, message string) {
	writeJSON(writer, status, map[string]string{"errcode": code, "error": message})
}

func (h *fakeHomeserver) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer "+testToken {
			writeMatrixError(writer, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "unknown token")
			return
		}
		next(writer, request)
	}
}

func (h *fakeHomeserver) login(writer http.ResponseWriter, request *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeMatrixError(writer, http.StatusBadRequest, "M_NOT_JSON", err.Error())
		return
	}
	h.mu.Lock()
	h.logins = append(h.logins, body)
	h.mu.Unlock()
	if body["password"] != testPassword {
		writeMatrixError(writer, http.StatusForbidden, "M_FORBIDDEN", "invalid password")
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{
		"user_id":      testUserID,
		"access_token": testToken,
		"device_id":    testDeviceID,
	})
}

func (h *fakeHomeserver) sync(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	h.syncQueries = append(h.syncQueries, request.URL.Query())
	delay, status := h.syncDelay, h.syncStatus
	toDevice := h.toDevice
	h.toDevice = nil
	joined := make(map[string]any, len(h.joined))
	for _, roomID := range h.joined {
		joined[roomID] = map[string]any{}
	}
	batch := len(h.syncQueries)
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-request.Context().Done():
			return
		}
	}
	if status != 0 {
		writeMatrixError(writer, status, "M_UNKNOWN", "sync failed")
		return
	}
	if toDevice == nil {
		toDevice = []map[string]any{}
	}
	writeJSON(writer, http.StatusOK, map[string]any{
		"next_batch": "batch_" + strconv.Itoa(batch),
		"rooms":      map[string]any{"join": joined},
		"to_device":  map[string]any{"events": toDevice},
	})
}

func (h *fakeHomeserver) joinedRooms(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]any{"joined_rooms": h.joined})
}

func (h *fakeHomeserver) resolveAlias(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	roomID, ok := h.aliases[request.PathValue("alias")]
	h.mu.Unlock()
	if !ok {
		writeMatrixError(writer, http.StatusNotFound, "M_NOT_FOUND", "room alias not found")
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"room_id": roomID, "servers": []string{"example.org"}})
}

func (h *fakeHomeserver) send(writer http.ResponseWriter, request *http.Request) {
	var content map[string]any
	if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
		writeMatrixError(writer, http.StatusBadRequest, "M_NOT_JSON", err.Error())
		return
	}
	h.mu.Lock()
	h.sent = append(h.sent, sentEvent{
		roomID:    request.PathValue("room"),
		eventType: request.PathValue("type"),
		content:   content,
	})
	count := len(h.sent)
	h.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]string{"event_id": "$event" + strconv.Itoa(count)})
}

func (h *fakeHomeserver) upload(writer http.ResponseWriter, request *http.Request) {
	data, err := io.ReadAll(request.Body)
	if err != nil {
		writeMatrixError(writer, http.StatusBadRequest, "M_UNKNOWN", err.Error())
		return
	}
	h.mu.Lock()
	h.uploads = append(h.uploads, uploadedMedia{
		contentType: request.Header.Get("Content-Type"),
		filename:    request.URL.Query().Get("filename"),
		size:        len(data),
	})
	h.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]string{"content_uri": "mxc://example.org/media1"})
}

func (h *fakeHomeserver) devices(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{"devices": []map[string]any{
		{"device_id": testDeviceID, "display_name": "matrix-commander"},
		{"device_id": "PHONE", "display_name": "Element Android", "last_seen_ts": 1700000000000},
	}})
}

func (h *fakeHomeserver) logout(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	h.logouts++
	status := h.logoutStatus
	h.mu.Unlock()
	if status != 0 {
		writeMatrixError(writer, status, "M_UNKNOWN", "logout failed")
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{})
}

func (h *fakeHomeserver) syncCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.syncQueries)
}

func (h *fakeHomeserver) sentEvents() []sentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sentEvent(nil), h.sent...)
}

// testConfig returns a config pointing at the fake homeserver with
// paths under a fresh temporary directory.
func testConfig(t *testing.T, homeserver *fakeHomeserver) Config {
	t.Helper()
	directory := t.TempDir()
	config := Config{
		CredentialsPath: filepath.Join(directory, "credentials.json"),
		StoreDirectory:  filepath.Join(directory, "store"),
		Timeout:         5 * time.Second,
		Logger:          slog.New(slog.DiscardHandler),
	}
	if homeserver != nil {
		config.Homeserver = homeserver.URL()
	}
	return config
}

func (h *fakeHomeserver) logoutCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logouts
}

func (h *fakeHomeserver) uploadKeys(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	h.keyUploads++
	h.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]any{"one_time_key_counts": map[string]int{}})
}

// queryKeys knows no devices.
func (h *fakeHomeserver) queryKeys(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{"device_keys": map[string]any{}, "failures": map[string]any{}})
}

func (h *fakeHomeserver) sendToDevice(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Messages map[string]map[string]map[string]any `json:"messages"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeMatrixError(writer, http.StatusBadRequest, "M_NOT_JSON", err.Error())
		return
	}
	h.mu.Lock()
	for userID, devices := range body.Messages {
		for deviceID, content := range devices {
			h.toDeviceSent = append(h.toDeviceSent, sentEvent{
				roomID:    userID + "/" + deviceID,
				eventType: request.PathValue("type"),
				content:   content,
			})
		}
	}
	h.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]any{})
}
