// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/commander"
)

type sendParams struct {
	commonParams
	Room     string `flag:"room,r" desc:"room ID or alias (default: the room saved at login)"`
	Code     bool   `flag:"code" desc:"send as a fenced code block"`
	Markdown bool   `flag:"markdown,m" desc:"render the text as markdown"`
	Notice   bool   `flag:"notice" desc:"send as a notice"`
	Emote    bool   `flag:"emote" desc:"send as an emote"`
}

func sendCommand(streams Streams) *cli.Command {
	var params sendParams
	return &cli.Command{
		Name:    "send",
		Summary: "Send a text message to a room",
		Description: `Send the arguments, joined by spaces, as one message. A single "-"
reads the message from stdin. --code takes precedence over --markdown;
--notice takes precedence over --emote.`,
		Usage: "matrix-commander send <text...> [flags]",
		Examples: []cli.Example{
			{Command: "matrix-commander send --room '#ops:example.org' 'deploy finished'"},
			{
				Description: "Send a command's output as a code block",
				Command:     "df -h | matrix-commander send --code -",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("send", &params) },
		Run: func(ctx context.Context, args []string) error {
			text, err := messageText(streams.In, args)
			if err != nil {
				return err
			}
			session, err := params.restore(ctx, streams, "send")
			if err != nil {
				return err
			}
			defer session.Close()

			eventID, err := session.SendMessage(ctx, params.Room, text, commander.MessageOptions{
				Code:     params.Code,
				Markdown: params.Markdown,
				Notice:   params.Notice,
				Emote:    params.Emote,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(streams.Out, eventID)
			return nil
		},
	}
}

// messageText joins args, or reads in when args is just "-".
func messageText(in io.Reader, args []string) (string, error) {
	if len(args) == 0 {
		return "", cli.Validation("usage: matrix-commander send <text...> (or - to read stdin)")
	}
	text := strings.Join(args, " ")
	if text == "-" {
		if in == nil {
			return "", cli.Validation("no stdin to read the message from")
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", cli.Internal("reading message from stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return "", cli.Validation("empty message")
	}
	return text, nil
}
