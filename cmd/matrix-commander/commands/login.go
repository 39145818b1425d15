// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/commander"
	"github.com/bureau-foundation/matrix-commander/lib/credentials"
	"github.com/bureau-foundation/matrix-commander/lib/secret"
)

type loginParams struct {
	commonParams
	Homeserver   string `flag:"homeserver" desc:"homeserver base URL (default from the configuration file)"`
	PasswordFile string `flag:"password-file" desc:"read the password from a file, or - for the first line of stdin"`
	DeviceName   string `flag:"device-name" desc:"display name of the new device"`
	RoomDefault  string `flag:"room-default" desc:"room used by send and file when --room is absent"`
	RefreshToken bool   `flag:"refresh-token" desc:"ask the homeserver for a refresh token"`
}

func loginCommand(streams Streams) *cli.Command {
	var params loginParams
	return &cli.Command{
		Name:    "login",
		Summary: "Log in with a password and save the session",
		Description: `Log in to a homeserver with a password, save the credentials, and run
one synchronization round. The password is prompted for unless
--password-file is given. An existing session must be logged out first.`,
		Usage: "matrix-commander login <username> [flags]",
		Examples: []cli.Example{
			{
				Description: "Log in interactively",
				Command:     "matrix-commander login alice --homeserver https://matrix.example.org",
			},
			{
				Description: "Log in from a script with a default room",
				Command:     "matrix-commander login @alice:example.org --password-file ~/.mx-pass --room-default '#ops:example.org'",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("login", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: matrix-commander login <username>")
			}
			sessionConfig, file, err := params.resolve(streams)
			if err != nil {
				return err
			}
			if params.Homeserver != "" {
				sessionConfig.Homeserver = params.Homeserver
			}
			if sessionConfig.Homeserver == "" {
				return cli.Validation("no homeserver: pass --homeserver or set homeserver in the configuration file")
			}
			sessionConfig.RequestRefreshToken = file.RefreshTokens || params.RefreshToken
			if credentials.Exists(sessionConfig.CredentialsPath) {
				return cli.Conflict("already logged in (%s exists); run 'matrix-commander logout' first",
					sessionConfig.CredentialsPath)
			}

			password, err := readPassword(streams.Prompt, params.PasswordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			sessionConfig.Logger = sessionConfig.Logger.With("command", "login")
			session, err := commander.Login(ctx, sessionConfig, commander.LoginRequest{
				Username:    args[0],
				Password:    password,
				DeviceName:  params.DeviceName,
				RoomDefault: params.RoomDefault,
			})
			if err != nil {
				return err
			}
			defer session.Close()

			fmt.Fprintf(streams.Out, "Logged in as %s on device %s\n", session.UserID(), session.DeviceID())
			return nil
		},
	}
}

// readPassword reads the password from passwordFile when one is given,
// otherwise prompts for it.
func readPassword(prompt *cli.Prompt, passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		buffer, err := secret.ReadFromPath(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return buffer, nil
	}
	if prompt == nil {
		return nil, cli.Validation("no terminal available for an interactive password prompt (use --password-file)")
	}
	return prompt.Password("Password")
}
