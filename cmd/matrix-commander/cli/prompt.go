// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/bureau-foundation/matrix-commander/lib/secret"
)

// Prompt asks the person at the terminal for passwords and yes/no
// answers. Questions go to Out, answers come from In one line at a
// time.
type Prompt struct {
	In  io.Reader
	Out io.Writer

	// ReadPassword reads a line without echo. Nil means there is no
	// terminal to prompt on.
	ReadPassword func() ([]byte, error)

	once  sync.Once
	lines chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// TerminalPrompt prompts on stdin and stderr. Password prompts need
// stdin to be a terminal.
func TerminalPrompt() *Prompt {
	prompt := &Prompt{In: os.Stdin, Out: os.Stderr}
	descriptor := int(os.Stdin.Fd())
	if term.IsTerminal(descriptor) {
		prompt.ReadPassword = func() ([]byte, error) { return term.ReadPassword(descriptor) }
	}
	return prompt
}

// Password reads a password with echo disabled.
func (p *Prompt) Password(label string) (*secret.Buffer, error) {
	if p.ReadPassword == nil {
		return nil, Validation("no terminal available for an interactive password prompt (use --password-file)")
	}
	fmt.Fprintf(p.Out, "%s: ", label)
	data, err := p.ReadPassword()
	fmt.Fprintln(p.Out)
	if err != nil {
		return nil, Internal("reading password: %w", err)
	}
	defer secret.Zero(data)
	if len(data) == 0 {
		return nil, Validation("empty password")
	}
	return secret.NewFromBytes(data)
}

// Confirm asks a yes/no question until it gets an answer. An empty
// answer is no. It returns ctx's error if ctx ends first; the pending
// line, if one arrives later, answers the next question.
func (p *Prompt) Confirm(ctx context.Context, question string) (bool, error) {
	p.once.Do(p.startReading)
	for {
		fmt.Fprintf(p.Out, "%s [y/N] ", question)
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.Out)
			return false, ctx.Err()
		case result, ok := <-p.lines:
			if !ok {
				return false, Validation("no answer: input closed")
			}
			if result.err != nil {
				return false, Internal("reading answer: %w", result.err)
			}
			switch strings.ToLower(strings.TrimSpace(result.line)) {
			case "y", "yes":
				return true, nil
			case "", "n", "no":
				return false, nil
			}
			fmt.Fprintln(p.Out, "Please answer y or n.")
		}
	}
}

// startReading feeds lines from In to a channel so that Confirm can
// give up on a read when its context ends.
func (p *Prompt) startReading() {
	p.lines = make(chan lineResult)
	go func() {
		defer close(p.lines)
		reader := bufio.NewReader(p.In)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				p.lines <- lineResult{line: line}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.lines <- lineResult{err: err}
				}
				return
			}
		}
	}()
}
