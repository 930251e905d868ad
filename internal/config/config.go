// Copyright 2026 The Reptyr-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the tool's on-disk TOML configuration, the knobs
// that tune the attach/steal sequences without touching code.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable knob. The zero value is not usable (zero
// durations, empty prefix); start from Default() or Load().
type Config struct {
	// SocketDirPrefix names the /tmp mkdtemp template used by the
	// fd-passing channel.
	SocketDirPrefix string `toml:"socket_dir_prefix"`

	// PollInterval is how often the stop/resume controller checks
	// /proc/pid/stat for state T.
	PollInterval time.Duration `toml:"-"`
	PollIntervalMS int64 `toml:"poll_interval_ms"`

	// StopTimeout bounds how long WaitForStop polls before giving up.
	StopTimeout time.Duration `toml:"-"`
	StopTimeoutMS int64 `toml:"stop_timeout_ms"`

	// LogLevel holds a logrus level name. It is loaded but not applied:
	// the loggers in package reptyr take their level from the caller.
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in configuration used when no file is loaded.
func Default() *Config {
	return &Config{
		SocketDirPrefix: "reptyr",
		PollInterval:    10 * time.Millisecond,
		PollIntervalMS:  10,
		StopTimeout:     time.Second,
		StopTimeoutMS:   1000,
		LogLevel:        "info",
	}
}

// Load reads path as TOML over Default(), so a partial file only
// overrides the fields it sets.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.PollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	cfg.StopTimeout = time.Duration(cfg.StopTimeoutMS) * time.Millisecond
	return cfg, nil
}
