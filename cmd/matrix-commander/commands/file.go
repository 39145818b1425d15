// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/commander"
)

type fileParams struct {
	commonParams
	Room  string `flag:"room,r" desc:"room ID or alias (default: the room saved at login)"`
	Label string `flag:"label" desc:"display name of the attachment (default: the file name)"`
	MIME  string `flag:"mime" desc:"content type (default: guessed from the extension)"`
}

func fileCommand(streams Streams) *cli.Command {
	var params fileParams
	return &cli.Command{
		Name:    "file",
		Summary: "Upload a file and post it to a room",
		Description: `Upload a file to the homeserver's media repository and post it to a
room. Images, video and audio are posted as such; anything else as a
generic file.`,
		Usage: "matrix-commander file <path> [flags]",
		Examples: []cli.Example{
			{Command: "matrix-commander file --room '#ops:example.org' chart.png"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("file", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: matrix-commander file <path>")
			}
			session, err := params.restore(ctx, streams, "file")
			if err != nil {
				return err
			}
			defer session.Close()

			eventID, err := session.SendFile(ctx, commander.FileRequest{
				Room:  params.Room,
				Path:  args[0],
				Label: params.Label,
				MIME:  params.MIME,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(streams.Out, eventID)
			return nil
		},
	}
}
