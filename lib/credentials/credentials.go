// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credentials persists the login session between runs.
//
// The credentials file is a small JSON document holding the homeserver
// URL, the user and device IDs, the access token (and refresh token,
// when the homeserver issued one) and the default room. It is written
// once by login, rewritten when a refreshed token is issued, read at
// the start of every run and deleted by logout.
//
// The file is either fully written or absent. Save writes a temporary
// file in the same directory, syncs it and renames it over the target,
// so a crash or a full disk mid-write leaves the previous file intact.
// The file mode is 0600 and the directory 0700: the access token is a
// bearer credential for the account.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/matrix-commander/lib/secret"
)

var (
	// ErrNotFound means no credentials file exists at the path: the
	// user has never logged in, or has logged out.
	ErrNotFound = errors.New("credentials: no credentials file")

	// ErrMalformed means a file exists but cannot be used.
	ErrMalformed = errors.New("credentials: malformed credentials file")
)

// Credentials is the persisted session.
type Credentials struct {
	Homeserver   string `json:"homeserver"`
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	DeviceID     string `json:"device_id"`

	// RoomDefault is where messages go when no room is named. May be
	// empty.
	RoomDefault string `json:"room_default"`
}

// Validate checks that every field required to restore a session is
// present.
func (c *Credentials) Validate() error {
	var missing []string
	if c.Homeserver == "" {
		missing = append(missing, "homeserver")
	}
	if c.UserID == "" {
		missing = append(missing, "user_id")
	}
	if c.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if c.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %v", missing)
	}
	return nil
}

// Load reads the credentials at path. An absent file is ErrNotFound;
// unreadable, unparsable or incomplete content is ErrMalformed.
func Load(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMalformed, path, err)
	}
	defer secret.Zero(data)

	var credentials Credentials
	if err := json.Unmarshal(data, &credentials); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrMalformed, path, err)
	}
	if err := credentials.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return &credentials, nil
}

// Save atomically replaces the file at path with credentials, creating
// the parent directory if needed.
func Save(credentials *Credentials, path string) error {
	return save(credentials, path, writeAll)
}

// Exists reports whether a regular file is present at path. A missing
// parent directory, or anything else that makes the path unusable, is
// reported as false.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the credentials file. An absent file is ErrNotFound so
// that logout can warn about it without failing.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w at %s", ErrNotFound, path)
		}
		return fmt.Errorf("credentials: removing %s: %w", path, err)
	}
	return nil
}

func writeAll(file *os.File, data []byte) error {
	_, err := file.Write(data)
	return err
}

// save is Save with the write step injectable, so tests can fail a
// write partway through.
func save(credentials *Credentials, path string, write func(*os.File, []byte) error) error {
	if err := credentials.Validate(); err != nil {
		return fmt.Errorf("credentials: refusing to save: %w", err)
	}
	data, err := json.MarshalIndent(credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: marshaling: %w", err)
	}
	data = append(data, '\n')
	defer secret.Zero(data)

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0700); err != nil {
		return fmt.Errorf("credentials: creating directory %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("credentials: creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()
	committed := false
	defer func() {
		if !committed {
			temporary.Close()
			os.Remove(temporaryPath)
		}
	}()

	// CreateTemp already uses 0600; the chmod guards against a umask
	// or filesystem that widened it.
	if err := temporary.Chmod(0600); err != nil {
		return fmt.Errorf("credentials: setting permissions: %w", err)
	}
	if err := write(temporary, data); err != nil {
		return fmt.Errorf("credentials: writing %s: %w", temporaryPath, err)
	}
	if err := temporary.Sync(); err != nil {
		return fmt.Errorf("credentials: syncing %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("credentials: closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("credentials: replacing %s: %w", path, err)
	}
	committed = true

	// The rename is durable only once the directory entry is synced.
	if handle, err := os.Open(directory); err == nil {
		handle.Sync()
		handle.Close()
	}
	return nil
}
