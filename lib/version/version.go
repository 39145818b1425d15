// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of matrix-commander.
//
// Release builds set the variables with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/matrix-commander/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Development builds fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Info returns "<version> (<commit>, <time>)".
func Info() string {
	commit, built, dirty := GitCommit, BuildTime, false
	if commit == "" {
		commit, built, dirty = fromBuildInfo()
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, orUnknown(commit), orUnknown(built))
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent with every homeserver request.
func UserAgent() string {
	return "matrix-commander/" + Version
}

func fromBuildInfo() (commit, built string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", "", false
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.time":
			built = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return commit, built, dirty
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
