// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/commander"
	"github.com/bureau-foundation/matrix-commander/lib/config"
)

// Streams is everything a command touches outside its flags.
type Streams struct {
	// In supplies message text for "send -".
	In io.Reader

	// Out receives results: event IDs, device lists, emoji.
	Out io.Writer

	// Terminal is true when Out is a terminal, which switches listings
	// to their styled rendering.
	Terminal bool

	// Prompt asks for passwords and confirmations.
	Prompt *cli.Prompt

	// NewLogger builds the logger once the level is known.
	NewLogger func(slog.Level) *slog.Logger
}

// StandardStreams wires the process's stdin, stdout and stderr.
func StandardStreams() Streams {
	return Streams{
		In:        os.Stdin,
		Out:       os.Stdout,
		Terminal:  term.IsTerminal(int(os.Stdout.Fd())),
		Prompt:    cli.TerminalPrompt(),
		NewLogger: cli.NewCommandLogger,
	}
}

// commonParams are accepted by every command that touches a session.
// Each overrides the matching configuration file value when set.
type commonParams struct {
	Config      string        `flag:"config" desc:"configuration file (default $MATRIX_COMMANDER_CONFIG)"`
	Credentials string        `flag:"credentials" desc:"credentials file"`
	Store       string        `flag:"store" desc:"local encrypted store directory"`
	Timeout     time.Duration `flag:"timeout" desc:"per-request timeout and retry budget"`
	Sync        string        `flag:"sync" desc:"synchronization before the command: full or off"`
	LogLevel    string        `flag:"log-level" desc:"debug, info, warn or error"`
}

// resolve merges the configuration file with the flags and returns the
// session configuration plus the file configuration it came from.
func (p *commonParams) resolve(streams Streams) (commander.Config, *config.Config, error) {
	var (
		file *config.Config
		err  error
	)
	if p.Config != "" {
		file, err = config.LoadFile(p.Config)
	} else {
		file, err = config.Load()
	}
	if err != nil {
		return commander.Config{}, nil, &cli.ToolError{Category: cli.CategoryValidation, Err: err}
	}

	if p.Credentials != "" {
		file.Paths.Credentials = p.Credentials
	}
	if p.Store != "" {
		file.Paths.Store = p.Store
	}
	if p.Timeout != 0 {
		file.Timeout = p.Timeout
	}
	if p.Sync != "" {
		file.Sync = p.Sync
	}
	if p.LogLevel != "" {
		file.LogLevel = p.LogLevel
	}
	if err := file.Validate(); err != nil {
		return commander.Config{}, nil, cli.Validation("%w", err)
	}

	syncMode, err := commander.ParseSyncMode(file.Sync)
	if err != nil {
		return commander.Config{}, nil, cli.Validation("%w", err)
	}
	level, err := cli.ParseLevel(file.LogLevel)
	if err != nil {
		return commander.Config{}, nil, cli.Validation("%w", err)
	}
	newLogger := streams.NewLogger
	if newLogger == nil {
		newLogger = cli.NewCommandLogger
	}

	return commander.Config{
		Homeserver:          file.Homeserver,
		CredentialsPath:     file.Paths.Credentials,
		StoreDirectory:      file.Paths.Store,
		Timeout:             file.Timeout,
		SyncMode:            syncMode,
		DeviceName:          file.DeviceName,
		RequestRefreshToken: file.RefreshTokens,
		Logger:              newLogger(level),
	}, file, nil
}

// restore resolves the configuration and restores the saved session.
// The caller closes the session.
func (p *commonParams) restore(ctx context.Context, streams Streams, command string) (*commander.Session, error) {
	sessionConfig, _, err := p.resolve(streams)
	if err != nil {
		return nil, err
	}
	sessionConfig.Logger = sessionConfig.Logger.With("command", command)
	session, err := commander.Restore(ctx, sessionConfig)
	if err != nil {
		return nil, restoreError(err)
	}
	return session, nil
}

// restoreError adds the next step to the two failures a user can act on.
func restoreError(err error) error {
	switch {
	case errors.Is(err, commander.ErrNotLoggedIn):
		return &cli.ToolError{Category: cli.CategoryNotFound,
			Err: fmt.Errorf("%w (run 'matrix-commander login <username>' first)", err)}
	case errors.Is(err, commander.ErrCredentialsMalformed):
		return &cli.ToolError{Category: cli.CategoryValidation,
			Err: fmt.Errorf("%w (run 'matrix-commander logout' and log in again)", err)}
	default:
		return err
	}
}
