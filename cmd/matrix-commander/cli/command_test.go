// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

type sendParams struct {
	Room   string        `flag:"room,r" desc:"target room"`
	Notice bool          `flag:"notice" desc:"send as notice"`
	Wait   time.Duration `flag:"wait" desc:"wait" default:"5s"`
}

func testTree(params *sendParams, called *[]string) *Command {
	return &Command{
		Name: "matrix-commander",
		Subcommands: []*Command{
			{
				Name:    "send",
				Summary: "Send a message",
				Flags:   func() *pflag.FlagSet { return FlagsFromParams("send", params) },
				Run: func(_ context.Context, args []string) error {
					*called = append([]string{"send"}, args...)
					return nil
				},
			},
			{
				Name:    "devices",
				Summary: "List devices",
				Run: func(_ context.Context, args []string) error {
					*called = append([]string{"devices"}, args...)
					return nil
				},
			},
		},
	}
}

func TestExecuteDispatchesWithFlags(t *testing.T) {
	var params sendParams
	var called []string
	root := testTree(&params, &called)

	if err := root.Execute(context.Background(), []string{"send", "-r", "#general:example.org", "--notice", "hello", "world"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Join(called, " ") != "send hello world" {
		t.Errorf("called = %v", called)
	}
	if params.Room != "#general:example.org" || !params.Notice {
		t.Errorf("params = %+v", params)
	}
	if params.Wait != 5*time.Second {
		t.Errorf("Wait = %v, want the 5s default", params.Wait)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	var params sendParams
	var called []string
	root := testTree(&params, &called)

	err := root.Execute(context.Background(), []string{"devcies"})
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "devices"`) {
		t.Errorf("error = %v, want a suggestion", err)
	}
	if Classify(err) != CategoryValidation {
		t.Errorf("category = %s, want validation", Classify(err))
	}
	if called != nil {
		t.Errorf("nothing should have run, got %v", called)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	var params sendParams
	var called []string
	root := testTree(&params, &called)

	err := root.Execute(context.Background(), []string{"send", "--notcie", "hi"})
	if err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --notice?") {
		t.Errorf("error = %v, want a flag suggestion", err)
	}
}

func TestExecuteHelp(t *testing.T) {
	var params sendParams
	var called []string
	root := testTree(&params, &called)
	var output bytes.Buffer
	root.Output = &output

	if err := root.Execute(context.Background(), []string{"--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"Commands:", "send", "Send a message", "devices"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("root help missing %q:\n%s", want, output.String())
		}
	}

	output.Reset()
	if err := root.Execute(context.Background(), []string{"send", "-h"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"matrix-commander send [flags]", "--room", "target room", "--notice"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("send help missing %q:\n%s", want, output.String())
		}
	}
}

func TestExecuteRequiresCommand(t *testing.T) {
	var params sendParams
	var called []string
	root := testTree(&params, &called)

	err := root.Execute(context.Background(), nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Category != CategoryValidation {
		t.Fatalf("error = %v, want a validation ToolError", err)
	}
}

func TestBindFlagsRejectsBadParams(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(sendParams{}, flagSet); err == nil {
		t.Error("a non-pointer should be rejected")
	}

	type unsupported struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&unsupported{}, flagSet); err == nil {
		t.Error("an unsupported field type should be rejected")
	}

	type badDefault struct {
		Count int `flag:"count" default:"many"`
	}
	if err := BindFlags(&badDefault{}, flagSet); err == nil {
		t.Error("an unparsable default should be rejected")
	}
}

func TestBindFlagsEmbedded(t *testing.T) {
	type common struct {
		Config string `flag:"config" desc:"config file"`
	}
	type params struct {
		common
		Label string `flag:"label"`
	}
	var bound params
	flagSet := FlagsFromParams("file", &bound)
	if err := flagSet.Parse([]string{"--config", "/etc/mc.yaml", "--label", "Q3"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if bound.Config != "/etc/mc.yaml" || bound.Label != "Q3" {
		t.Errorf("bound = %+v", bound)
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "send", 4},
		{"send", "send", 0},
		{"devcies", "devices", 2},
		{"logout", "login", 3},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
