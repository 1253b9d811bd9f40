// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

// Package config loads launcher configuration from file and flags.
package config

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	flag "github.com/spf13/pflag"
)

// Config is the launcher configuration. Values resolve in order:
// defaults, then the YAML config file, then command-line flags.
type Config struct {
	Log           LogConfig           `koanf:"log"`
	Database      DatabaseConfig      `koanf:"database"`
	Plugins       PluginsConfig       `koanf:"plugins"`
	Command       CommandConfig       `koanf:"command"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Format string `koanf:"format"` // "json" or "text"
	Level  string `koanf:"level"`  // debug, info, warn, error
}

// DatabaseConfig holds the PostgreSQL connection settings. An empty
// URL disables the store; directory host functions then fail at call
// time.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// PluginsConfig controls plugin discovery and loading.
type PluginsConfig struct {
	// Dir is the root directory plugin subdirectories live under.
	Dir string `koanf:"dir"`

	// Autoload lists plugin directory names to load at startup. When
	// empty, every subdirectory of Dir is loaded.
	Autoload []string `koanf:"autoload"`

	// KeyStrategy selects how registry names are derived: "path" or
	// "manifest".
	KeyStrategy string `koanf:"key_strategy"`
}

// CommandConfig controls command dispatch.
type CommandConfig struct {
	Prefix string          `koanf:"prefix"`
	Admins []string        `koanf:"admins"` // sender JIDs allowed to run admin builtins
	Rate   RateLimitConfig `koanf:"rate"`
}

// RateLimitConfig shapes the per-sender token bucket. Zero values fall
// back to the dispatcher defaults.
type RateLimitConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Burst     int     `koanf:"burst"`
	Sustained float64 `koanf:"sustained"` // commands per second
}

// ObservabilityConfig controls the metrics and health endpoint.
type ObservabilityConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Plugins: PluginsConfig{
			Dir:         "plugins",
			KeyStrategy: "path",
		},
		Command: CommandConfig{
			Prefix: "!",
			Rate: RateLimitConfig{
				Enabled: true,
			},
		},
		Observability: ObservabilityConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9473",
		},
	}
}

// Load builds the configuration from the file at path (skipped when
// path is empty or the file does not exist) and the given flag set
// (may be nil). Flags override file values override defaults.
func Load(path string, flags *flag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
			}
		} else if !os.IsNotExist(err) {
			return nil, oops.Code("CONFIG_FILE_UNREADABLE").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the launcher cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").
			With("field", "log.format").
			Errorf("log format must be json or text, got %q", c.Log.Format)
	}

	switch c.Plugins.KeyStrategy {
	case "", "path", "manifest":
	default:
		return oops.Code("CONFIG_INVALID").
			With("field", "plugins.key_strategy").
			Errorf("key strategy must be path or manifest, got %q", c.Plugins.KeyStrategy)
	}

	if c.Plugins.Dir == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "plugins.dir").
			Errorf("plugins directory cannot be empty")
	}

	if c.Command.Prefix == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "command.prefix").
			Errorf("command prefix cannot be empty")
	}

	if c.Command.Rate.Burst < 0 || c.Command.Rate.Sustained < 0 {
		return oops.Code("CONFIG_INVALID").
			With("field", "command.rate").
			Errorf("rate limit values cannot be negative")
	}

	if c.Observability.Enabled && c.Observability.Addr == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "observability.addr").
			Errorf("observability address cannot be empty when enabled")
	}

	return nil
}
