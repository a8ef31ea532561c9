/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the TOML configuration file that
// drives a record or replay run.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/google/ouli/internal/ouerr"
)

// Mode selects whether the configured endpoints record live traffic or
// replay it from a recording directory.
type Mode string

const (
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

// Default limits applied when a config file leaves a limit unset.
const (
	DefaultMaxConnections  = 4096
	DefaultMaxRequestSize  = 16 << 20  // 16 MiB
	DefaultMaxResponseSize = 256 << 20 // 256 MiB
	DefaultMaxHeaders      = 128
)

type HeaderReplacement struct {
	Header  string `toml:"header"`
	Regex   string `toml:"regex"`
	Replace string `toml:"replace"`
}

type EndpointConfig struct {
	TargetType                 string              `toml:"target_type"`
	TargetHost                 string              `toml:"target_host"`
	TargetPort                 int64               `toml:"target_port"`
	SourcePort                 int64               `toml:"source_port"`
	SourceType                 string              `toml:"source_type"`
	Health                     string              `toml:"health"`
	RedactRequestHeaders       []string            `toml:"redact_request_headers"`
	ResponseHeaderReplacements []HeaderReplacement `toml:"response_header_replacements"`
}

// RedactionConfig configures the secret scrubber applied to captured
// request/response bodies and headers before persistence.
type RedactionConfig struct {
	Secrets       []string `toml:"secrets"`
	RegexPatterns []string `toml:"regex_patterns"`
}

// LimitsConfig bounds per-connection resource usage. Zero values are
// replaced by the package defaults before validation.
type LimitsConfig struct {
	MaxConnections  int `toml:"max_connections"`
	MaxRequestSize  int `toml:"max_request_size"`
	MaxResponseSize int `toml:"max_response_size"`
	MaxHeaders      int `toml:"max_headers"`
}

// Config is the top-level TOML document.
type Config struct {
	Mode         Mode             `toml:"mode"`
	RecordingDir string           `toml:"recording_dir"`
	Endpoints    []EndpointConfig `toml:"endpoints"`
	Redaction    RedactionConfig  `toml:"redaction"`
	Limits       LimitsConfig     `toml:"limits"`
}

func (l *LimitsConfig) applyDefaults() {
	if l.MaxConnections == 0 {
		l.MaxConnections = DefaultMaxConnections
	}
	if l.MaxRequestSize == 0 {
		l.MaxRequestSize = DefaultMaxRequestSize
	}
	if l.MaxResponseSize == 0 {
		l.MaxResponseSize = DefaultMaxResponseSize
	}
	if l.MaxHeaders == 0 {
		l.MaxHeaders = DefaultMaxHeaders
	}
}

func (c *Config) validate() error {
	if c.Mode != ModeRecord && c.Mode != ModeReplay {
		return &ouerr.ConfigError{Reason: fmt.Sprintf("mode must be %q or %q, got %q", ModeRecord, ModeReplay, c.Mode)}
	}
	if len(c.Endpoints) == 0 {
		return &ouerr.ConfigError{Reason: "at least one endpoint is required"}
	}
	for i, ep := range c.Endpoints {
		if ep.SourcePort < 1 || ep.SourcePort > 65535 {
			return &ouerr.ConfigError{Reason: fmt.Sprintf("endpoints[%d].source_port %d out of range 1-65535", i, ep.SourcePort)}
		}
		if ep.TargetPort < 1 || ep.TargetPort > 65535 {
			return &ouerr.ConfigError{Reason: fmt.Sprintf("endpoints[%d].target_port %d out of range 1-65535", i, ep.TargetPort)}
		}
	}
	if c.Limits.MaxConnections <= 0 {
		return &ouerr.ConfigError{Reason: "limits.max_connections must be > 0"}
	}
	if c.Limits.MaxRequestSize <= 0 {
		return &ouerr.ConfigError{Reason: "limits.max_request_size must be > 0"}
	}
	if c.Limits.MaxResponseSize <= 0 {
		return &ouerr.ConfigError{Reason: "limits.max_response_size must be > 0"}
	}
	if c.Limits.MaxHeaders <= 0 {
		return &ouerr.ConfigError{Reason: "limits.max_headers must be > 0"}
	}
	return nil
}

// ReadConfig loads and validates filename from the real filesystem.
func ReadConfig(filename string) (*Config, error) {
	return ReadConfigWithFs(afero.NewOsFs(), filename)
}

// ReadConfigWithFs loads and validates filename from fs, defaulting any
// unset limits before validating.
func ReadConfigWithFs(fs afero.Fs, filename string) (*Config, error) {
	buf, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if _, err := toml.Decode(string(buf), cfg); err != nil {
		return nil, fmt.Errorf("failed parsing %s: %w", filename, err)
	}

	cfg.Limits.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
