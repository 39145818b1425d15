// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/verification"
)

func verifyCommand(streams Streams) *cli.Command {
	var params commonParams
	return &cli.Command{
		Name:    "verify",
		Summary: "Verify this device by comparing emoji",
		Description: `Wait for another device of the same account to request verification,
then compare seven emoji shown on both screens. Start the verification
from the other device after running this command. Each step waits at
most --timeout.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("verify", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return cli.Validation("verify takes no arguments")
			}
			if streams.Prompt == nil {
				return cli.Validation("verify needs a terminal to ask questions on")
			}
			session, err := params.restore(ctx, streams, "verify")
			if err != nil {
				return err
			}
			defer session.Close()

			fmt.Fprintf(streams.Out, "Waiting for a verification request for %s (device %s)...\n",
				session.UserID(), session.DeviceID())
			operator := &terminalOperator{prompt: streams.Prompt, out: streams.Out}
			if err := session.Verify(ctx, operator); err != nil {
				return err
			}
			fmt.Fprintln(streams.Out, "Verification complete.")
			return nil
		},
	}
}

// terminalOperator asks the person at the terminal.
type terminalOperator struct {
	prompt *cli.Prompt
	out    io.Writer
}

func (o *terminalOperator) AcceptRequest(ctx context.Context, request verification.Request) (bool, error) {
	fmt.Fprintf(o.out, "Verification request from %s, device %s.\n", request.UserID, request.DeviceID)
	if request.Ed25519 != "" {
		fmt.Fprintf(o.out, "Device key: %s\n", request.Ed25519)
	}
	return o.prompt.Confirm(ctx, "Accept the request?")
}

func (o *terminalOperator) ConfirmEmoji(ctx context.Context, emoji []verification.Emoji) (bool, error) {
	fmt.Fprintln(o.out, "Compare these emoji with the other device:")
	fmt.Fprintln(o.out, cli.RenderEmoji(emoji))
	return o.prompt.Confirm(ctx, "Do they match, in the same order?")
}
