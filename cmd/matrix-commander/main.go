// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// matrix-commander is a command-line Matrix client for sending messages
// and files from scripts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/cli"
	"github.com/bureau-foundation/matrix-commander/cmd/matrix-commander/commands"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Root(commands.StandardStreams()).Execute(ctx, os.Args[1:])
	if err == nil {
		return 0
	}
	var exitErr interface{ ExitCode() int }
	if !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return cli.ExitCodeFor(err)
}
