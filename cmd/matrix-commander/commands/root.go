// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the matrix-commander command tree.
package commands

import "github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"

// Root returns the top-level command.
func Root(streams Streams) *cli.Command {
	return &cli.Command{
		Name: "matrix-commander",
		Description: `matrix-commander sends messages and files to Matrix rooms from the
command line, using a session saved by "login" and restored by every
other command.`,
		Output: streams.Out,
		Subcommands: []*cli.Command{
			loginCommand(streams),
			verifyCommand(streams),
			sendCommand(streams),
			fileCommand(streams),
			devicesCommand(streams),
			logoutCommand(streams),
			versionCommand(streams),
		},
	}
}
