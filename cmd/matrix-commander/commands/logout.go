// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/commander"
	"github.com/bureau-foundation/matrix-commander/lib/cryptostore"
)

func logoutCommand(streams Streams) *cli.Command {
	var params commonParams
	return &cli.Command{
		Name:    "logout",
		Summary: "End the session and erase local state",
		Description: `Log the device out on the homeserver, then remove the credentials file
and the local store. Local state is removed even when the session
cannot be restored or the homeserver is unreachable.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("logout", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return cli.Validation("logout takes no arguments")
			}
			sessionConfig, _, err := params.resolve(streams)
			if err != nil {
				return err
			}
			logger := sessionConfig.Logger.With("command", "logout")
			sessionConfig.Logger = logger

			session, err := commander.Restore(ctx, sessionConfig)
			switch {
			case err == nil:
			case errors.Is(err, cryptostore.ErrLocked):
				// Another process is using the store; erasing it now
				// would pull it out from under that process.
				return err
			default:
				logger.Warn("could not restore the session, removing local state only", "error", err)
				session = nil
			}

			if err := commander.Logout(ctx, session, sessionConfig); err != nil {
				return err
			}
			fmt.Fprintln(streams.Out, "Logged out.")
			return nil
		},
	}
}
