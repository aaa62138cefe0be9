// Package config provides configuration management for the scripting
// engine's admin server, cmd/scriptd.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LimitsConfig mirrors internal/heap.Limits in YAML-settable form — a
// script's resource budget, sized per deployment rather than hardcoded.
type LimitsConfig struct {
	MaxInstructions uint64 `yaml:"max_instructions,omitempty"`
	MaxMemoryBytes  uint64 `yaml:"max_memory_bytes,omitempty"`
	TimeoutMillis   int64  `yaml:"timeout_millis,omitempty"`
}

// PoolConfig sizes internal/heappool.Pool.
type PoolConfig struct {
	MaxHeaps int `yaml:"max_heaps,omitempty"`
}

// ServerConfig configures cmd/scriptd's HTTP admin surface.
// Note: Addr comes only from the config file; cmd/scriptd's one CLI flag,
// -config, names that file.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Config is the top-level YAML document cmd/scriptd loads at startup.
type Config struct {
	Server     ServerConfig `yaml:"server,omitempty"`
	Limits     LimitsConfig `yaml:"limits"`
	Pool       PoolConfig   `yaml:"pool"`
	ScriptsDir string       `yaml:"scripts_dir,omitempty"`
}

// UnmarshalYAML implements custom unmarshaling with automatic defaults,
// following the teacher's type-alias pattern so a Config can never be
// constructed from YAML without sane resource limits.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig Config
	raw := rawConfig{
		Server: ServerConfig{
			Addr: ":9375",
		},
		Limits: LimitsConfig{
			MaxInstructions: 10_000_000,
			MaxMemoryBytes:  64 << 20,
			TimeoutMillis:   5000,
		},
		Pool: PoolConfig{
			MaxHeaps: 64,
		},
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Server.Addr == "" {
		raw.Server.Addr = ":9375"
	}
	if raw.Limits.MaxInstructions == 0 {
		raw.Limits.MaxInstructions = 10_000_000
	}
	if raw.Limits.MaxMemoryBytes == 0 {
		raw.Limits.MaxMemoryBytes = 64 << 20
	}
	if raw.Limits.TimeoutMillis == 0 {
		raw.Limits.TimeoutMillis = 5000
	}
	if raw.Pool.MaxHeaps == 0 {
		raw.Pool.MaxHeaps = 64
	}

	*c = Config(raw)
	return nil
}

// LoadConfig reads and parses a YAML configuration file, returning a
// validated Config instance. A missing or empty file yields defaults
// rather than an error, so cmd/scriptd can run unconfigured out of the box.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := yaml.Unmarshal([]byte("{}"), &cfg); err != nil {
				return nil, fmt.Errorf("failed to apply config defaults: %w", err)
			}
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
