// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the
// matrix-commander binary: a tree of commands with pflag flag sets
// bound from struct tags, "did you mean" suggestions for mistyped
// commands and flags, categorized errors that map to exit codes, the
// stderr logger, terminal prompts, and lipgloss rendering of the emoji
// and device listings.
package cli
