// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads matrix-commander's configuration file.
//
// The file is chosen by the --config flag or the
// MATRIX_COMMANDER_CONFIG environment variable. Without either, the
// defaults apply; there is no search path. Files ending in .json or
// .jsonc are read as JSON with comments, anything else as YAML. Path
// values may reference environment variables as ${VAR} or
// ${VAR:-default}. Command-line flags override file values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "MATRIX_COMMANDER_CONFIG"

// Config is the complete configuration.
type Config struct {
	// Homeserver is used by login when the command line names none.
	// A restored session always uses the homeserver recorded in the
	// credentials file.
	Homeserver string `yaml:"homeserver"`

	// DeviceName is the display name given to a new device at login.
	DeviceName string `yaml:"device_name"`

	// Timeout bounds each homeserver request and is also the budget
	// for retrying transient failures.
	Timeout time.Duration `yaml:"timeout"`

	// Sync is "full" or "off".
	Sync string `yaml:"sync"`

	// RefreshTokens asks the homeserver for a refresh token at login.
	RefreshTokens bool `yaml:"refresh_tokens"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Paths PathsConfig `yaml:"paths"`
}

// PathsConfig locates the persistent state.
type PathsConfig struct {
	// Credentials is the credentials JSON file.
	Credentials string `yaml:"credentials"`

	// Store is the directory of the local encrypted store.
	Store string `yaml:"store"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	dataDirectory := filepath.Join(dataHome(), "matrix-commander")
	return &Config{
		DeviceName: "matrix-commander",
		Timeout:    60 * time.Second,
		Sync:       "full",
		LogLevel:   "info",
		Paths: PathsConfig{
			Credentials: filepath.Join(dataDirectory, "credentials.json"),
			Store:       filepath.Join(dataDirectory, "store"),
		},
	}
}

func dataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// Load reads the file named by MATRIX_COMMANDER_CONFIG, or returns the
// defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, expands variables and
// validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so after stripping comments and
		// trailing commas the same decoder handles both formats.
		data = jsonc.ToJSON(data)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	config.Paths.Credentials = expandVars(config.Paths.Credentials)
	config.Paths.Store = expandVars(config.Paths.Store)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandVars(value string) string {
	return varPattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if resolved := os.Getenv(parts[1]); resolved != "" {
			return resolved
		}
		return parts[2]
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Homeserver != "" {
		parsed, err := url.Parse(c.Homeserver)
		if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("homeserver %q must be an http or https URL", c.Homeserver))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	switch strings.ToLower(c.Sync) {
	case "full", "off":
	default:
		errs = append(errs, fmt.Errorf("sync must be full or off, got %q", c.Sync))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if c.Paths.Credentials == "" {
		errs = append(errs, errors.New("paths.credentials is required"))
	}
	if c.Paths.Store == "" {
		errs = append(errs, errors.New("paths.store is required"))
	}
	return errors.Join(errs...)
}
