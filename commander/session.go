// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/matrix-commander/lib/credentials"
	"github.com/bureau-foundation/matrix-commander/lib/cryptostore"
	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/lib/secret"
	"github.com/bureau-foundation/matrix-commander/messaging"
)

// Session is a connected client bound to its local store. There is
// one per process. A nil or closed Session is not established, and
// every operation on it fails with ErrInvalidClientConnection.
type Session struct {
	config Config
	logger *slog.Logger
	matrix messaging.Session
	store  *cryptostore.Store

	// credentials is the record this session was built from, with the
	// tokens removed. Token refreshes rewrite the file from it.
	credentials credentials.Credentials

	mu       sync.Mutex
	closed   bool
	toDevice []messaging.ToDeviceEvent
}

// LoginRequest holds the interactive part of a fresh login.
type LoginRequest struct {
	// Username is a localpart or a full user ID.
	Username string

	// Password is read but not closed.
	Password *secret.Buffer

	// DeviceName overrides Config.DeviceName when set.
	DeviceName string

	// RoomDefault is saved with the credentials as the room used when
	// a send names none.
	RoomDefault string
}

// build creates the homeserver client and opens the store. The client
// uses the same timeout for each request and as its retry budget.
func build(ctx context.Context, homeserver string, config Config) (*messaging.Client, *cryptostore.Store, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserver,
		HTTPClient:    config.HTTPClient,
		Logger:        config.Logger,
		Clock:         config.Clock,
		Timeout:       config.Timeout,
		RetryTimeout:  config.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	store, err := cryptostore.Open(ctx, cryptostore.Config{
		Directory: config.StoreDirectory,
		Logger:    config.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return client, store, nil
}

// Login authenticates with a password, saves the credentials and
// returns a session that has completed one sync round under
// config.SyncMode. A sync failure after a successful login is returned
// as is; the saved credentials stay.
func Login(ctx context.Context, config Config, request LoginRequest) (*Session, error) {
	config = config.withDefaults()
	if err := config.validatePaths(); err != nil {
		return nil, err
	}
	if config.Homeserver == "" {
		return nil, fmt.Errorf("commander: a homeserver is required to log in")
	}

	client, store, err := build(ctx, config.Homeserver, config)
	if err != nil {
		return nil, err
	}

	deviceName := request.DeviceName
	if deviceName == "" {
		deviceName = config.DeviceName
	}
	direct, err := client.Login(ctx, messaging.PasswordLogin{
		Username:     request.Username,
		Password:     request.Password,
		DeviceName:   deviceName,
		RefreshToken: config.RequestRefreshToken,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	record := credentials.Credentials{
		Homeserver:   client.HomeserverURL(),
		UserID:       direct.UserID().String(),
		AccessToken:  direct.AccessToken(),
		RefreshToken: direct.RefreshToken(),
		DeviceID:     direct.DeviceID().String(),
		RoomDefault:  request.RoomDefault,
	}
	if err := credentials.Save(&record, config.CredentialsPath); err != nil {
		direct.Close()
		store.Close()
		return nil, err
	}
	config.Logger.Info("saved credentials",
		"path", config.CredentialsPath,
		"user_id", record.UserID,
		"device_id", record.DeviceID,
	)

	session := newSession(config, direct, store, record)
	direct.OnTokenRefresh(session.persistTokens)
	if err := session.Sync(ctx, config.SyncMode); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// Restore rebuilds the session recorded in the credentials file. No
// credentials file is ErrNotLoggedIn; an unusable one is
// ErrCredentialsMalformed. The token is checked by the sync round (when
// config.SyncMode is SyncFull): an unreachable homeserver or a rejected
// token is ErrLoginFailed. Restore never modifies the credentials file
// except to record refreshed tokens.
func Restore(ctx context.Context, config Config) (*Session, error) {
	config = config.withDefaults()
	if err := config.validatePaths(); err != nil {
		return nil, err
	}

	record, err := credentials.Load(config.CredentialsPath)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCredentialsMalformed, err)
	}

	userID, err := ref.ParseUserID(record.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: user_id: %w", ErrCredentialsMalformed, err)
	}
	deviceID, err := ref.ParseDeviceID(record.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: device_id: %w", ErrCredentialsMalformed, err)
	}

	client, store, err := build(ctx, record.Homeserver, config)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: homeserver: %w", ErrCredentialsMalformed, err)
	}

	direct, err := client.SessionFromToken(messaging.TokenSession{
		UserID:       userID,
		DeviceID:     deviceID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	session := newSession(config, direct, store, *record)
	direct.OnTokenRefresh(session.persistTokens)
	if err := session.Sync(ctx, config.SyncMode); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	config.Logger.Debug("restored session", "user_id", userID, "device_id", deviceID)
	return session, nil
}

func newSession(config Config, matrix messaging.Session, store *cryptostore.Store, record credentials.Credentials) *Session {
	record.AccessToken = ""
	record.RefreshToken = ""
	return &Session{
		config:      config,
		logger:      config.Logger,
		matrix:      matrix,
		store:       store,
		credentials: record,
	}
}

// persistTokens rewrites the credentials file after a token refresh.
func (s *Session) persistTokens(accessToken, refreshToken string) error {
	record := s.credentials
	record.AccessToken = accessToken
	record.RefreshToken = refreshToken
	if err := credentials.Save(&record, s.config.CredentialsPath); err != nil {
		return err
	}
	s.logger.Debug("saved refreshed tokens", "path", s.config.CredentialsPath)
	return nil
}

// established returns nil if the session can be used.
func (s *Session) established() error {
	if s == nil {
		return ErrInvalidClientConnection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.matrix == nil {
		return ErrInvalidClientConnection
	}
	return nil
}

// UserID returns the logged-in user.
func (s *Session) UserID() ref.UserID { return s.matrix.UserID() }

// DeviceID returns the logged-in device.
func (s *Session) DeviceID() ref.DeviceID { return s.matrix.DeviceID() }

// Homeserver returns the homeserver URL recorded for this session.
func (s *Session) Homeserver() string { return s.credentials.Homeserver }

// RoomDefault returns the default room saved at login, possibly "".
func (s *Session) RoomDefault() string { return s.credentials.RoomDefault }

// Matrix returns the authenticated homeserver session.
func (s *Session) Matrix() messaging.Session { return s.matrix }

// Store returns the local encrypted store.
func (s *Session) Store() *cryptostore.Store { return s.store }

// Close releases the token memory and the store. The credentials file
// and the store directory are left in place. Idempotent.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.toDevice = nil
	s.mu.Unlock()

	var errs []error
	if s.matrix != nil {
		errs = append(errs, s.matrix.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
