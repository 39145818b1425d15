// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/clock"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// SyncMode selects how much synchronization a session performs before
// other operations.
type SyncMode int

const (
	// SyncFull performs exactly one bounded sync round.
	SyncFull SyncMode = iota
	// SyncOff performs no network sync.
	SyncOff
)

// ParseSyncMode parses "full" or "off", case-insensitively.
func ParseSyncMode(value string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "full":
		return SyncFull, nil
	case "off":
		return SyncOff, nil
	default:
		return 0, fmt.Errorf("unknown sync mode %q (want full or off)", value)
	}
}

func (m SyncMode) String() string {
	switch m {
	case SyncFull:
		return "full"
	case SyncOff:
		return "off"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// Config is threaded into every constructor; nothing in this package
// reads global state.
type Config struct {
	// Homeserver is the base URL used by Login. Restore uses the
	// homeserver recorded in the credentials file instead.
	Homeserver string

	// CredentialsPath is the credentials JSON file.
	CredentialsPath string

	// StoreDirectory holds the local encrypted store.
	StoreDirectory string

	// Timeout is both the per-request timeout and the retry budget
	// of the homeserver client, and bounds each sync round and each
	// verification step.
	Timeout time.Duration

	SyncMode SyncMode

	// DeviceName is the display name for a device created by Login.
	DeviceName string

	// RequestRefreshToken asks the homeserver for a refresh token at
	// login.
	RequestRefreshToken bool

	HTTPClient *http.Client
	Logger     *slog.Logger
	Clock      clock.Clock
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.DeviceName == "" {
		c.DeviceName = "matrix-commander"
	}
	return c
}

func (c Config) validatePaths() error {
	if c.CredentialsPath == "" {
		return fmt.Errorf("commander: CredentialsPath is required")
	}
	if c.StoreDirectory == "" {
		return fmt.Errorf("commander: StoreDirectory is required")
	}
	return nil
}
