// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/commander"
)

func devicesCommand(streams Streams) *cli.Command {
	var params commonParams
	return &cli.Command{
		Name:    "devices",
		Summary: "List the account's devices",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("devices", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return cli.Validation("devices takes no arguments")
			}
			session, err := params.restore(ctx, streams, "devices")
			if err != nil {
				return err
			}
			defer session.Close()

			devices, err := session.Devices(ctx)
			if err != nil {
				return err
			}
			if streams.Terminal {
				_, err = io.WriteString(streams.Out, cli.RenderDevices(devices, session.DeviceID()))
			} else {
				_, err = io.WriteString(streams.Out, commander.FormatDevices(devices))
			}
			return err
		},
	}
}
