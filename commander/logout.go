// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/matrix-commander/lib/credentials"
	"github.com/bureau-foundation/matrix-commander/lib/cryptostore"
)

// Logout ends the session on the homeserver if one is established,
// closes it, then removes the credentials file and the store
// directory named by config. The three steps are independent: each
// runs regardless of the others' outcome and every failure is
// reported in the returned *LogoutError.
func Logout(ctx context.Context, session *Session, config Config) error {
	config = config.withDefaults()
	logger := config.Logger
	result := &LogoutError{}

	if session.established() == nil {
		if err := session.matrix.Logout(ctx); err != nil {
			logger.Warn("server logout failed, continuing with local cleanup", "error", err)
			result.Server = err
		}
	} else {
		logger.Info("no established session, skipping server logout")
	}
	if session != nil {
		if err := session.Close(); err != nil {
			logger.Warn("closing session failed", "error", err)
			result.Store = fmt.Errorf("closing store: %w", err)
		}
	}

	if config.CredentialsPath == "" {
		result.Credentials = errors.New("no credentials path configured")
	} else if credentials.Exists(config.CredentialsPath) {
		if err := credentials.Remove(config.CredentialsPath); err != nil {
			logger.Error("removing credentials file failed", "path", config.CredentialsPath, "error", err)
			result.Credentials = err
		} else {
			logger.Info("removed credentials file", "path", config.CredentialsPath)
		}
	} else {
		logger.Warn("credentials file not found, nothing to remove", "path", config.CredentialsPath)
	}

	if err := cryptostore.Erase(config.StoreDirectory); err != nil {
		logger.Error("removing store directory failed", "directory", config.StoreDirectory, "error", err)
		result.Store = errors.Join(result.Store, err)
	} else {
		logger.Info("removed store directory", "directory", config.StoreDirectory)
	}

	if result.empty() {
		return nil
	}
	return result
}
