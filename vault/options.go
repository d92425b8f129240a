// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keywarden/keywarden/internal/crypto"
)

const (
	// MinPasswordLen is the minimum master password length.
	MinPasswordLen = 8

	// DefaultSessionTimeout is the inactivity window before auto-lock.
	DefaultSessionTimeout = 15 * time.Minute

	// MinSessionTimeout and MaxSessionTimeout bound the configurable
	// inactivity window; values outside are clamped.
	MinSessionTimeout = time.Minute
	MaxSessionTimeout = 24 * time.Hour
)

// Options configures a Vault. The zero value of every field other than Dir
// selects a sensible default.
type Options struct {
	// Dir is the store directory (required). It is created owner-only.
	Dir string

	// SessionTimeout is the inactivity window before the vault auto-locks.
	// Clamped to [MinSessionTimeout, MaxSessionTimeout]; zero selects
	// DefaultSessionTimeout.
	SessionTimeout time.Duration

	// KDFParams are the Argon2id parameters for newly created containers.
	// The zero value selects crypto.DefaultParams. Existing containers are
	// always opened with the parameters persisted in the file.
	KDFParams crypto.Params

	// HardenProcess opts in to mlockall and core-dump disabling at Open.
	HardenProcess bool
}

// fileOptions is the YAML form of Options; durations are strings ("15m").
type fileOptions struct {
	Dir            string `yaml:"dir"`
	SessionTimeout string `yaml:"session_timeout"`
	HardenProcess  bool   `yaml:"harden_process"`
}

// LoadOptions reads an Options YAML file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options file: %w", err)
	}

	var fo fileOptions
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return Options{}, fmt.Errorf("failed to parse options file: %w", err)
	}
	if fo.Dir == "" {
		return Options{}, fmt.Errorf("options file %s: dir is required", path)
	}

	opts := Options{Dir: fo.Dir, HardenProcess: fo.HardenProcess}
	if fo.SessionTimeout != "" {
		d, err := time.ParseDuration(fo.SessionTimeout)
		if err != nil {
			return Options{}, fmt.Errorf("invalid session_timeout %q: %w", fo.SessionTimeout, err)
		}
		opts.SessionTimeout = d
	}
	return opts, nil
}

// withDefaults fills zero fields and clamps the session timeout.
func (o Options) withDefaults() Options {
	if o.SessionTimeout == 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	o.SessionTimeout = clampSessionTimeout(o.SessionTimeout)
	if o.KDFParams == (crypto.Params{}) {
		o.KDFParams = crypto.DefaultParams
	}
	return o
}

func clampSessionTimeout(d time.Duration) time.Duration {
	if d < MinSessionTimeout {
		return MinSessionTimeout
	}
	if d > MaxSessionTimeout {
		return MaxSessionTimeout
	}
	return d
}
