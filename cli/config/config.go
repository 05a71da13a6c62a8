package config

import (
	"fmt"
	"time"
)

// Config is the on-disk shape of tether.yaml / tether.toml.
// Zero values mean "not set"; the CLI layers flags on top and falls back
// to library defaults for anything still empty.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote" toml:"remote"`
	Bridge  BridgeConfig  `yaml:"bridge" toml:"bridge"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Adapter AdapterConfig `yaml:"adapter" toml:"adapter"`
	Output  string        `yaml:"output,omitempty" toml:"output" validate:"omitempty,oneof=json yaml table"`
}

// RemoteConfig describes how to launch the remote runtime.
type RemoteConfig struct {
	Command       string            `yaml:"command" toml:"command" validate:"required"`
	Args          []string          `yaml:"args,omitempty" toml:"args"`
	Dir           string            `yaml:"dir,omitempty" toml:"dir"`
	ResolveFrom   string            `yaml:"resolve_from,omitempty" toml:"resolve_from"`
	Env           map[string]string `yaml:"env,omitempty" toml:"env"`
	ShutdownGrace Duration          `yaml:"shutdown_grace,omitempty" toml:"shutdown_grace"`
}

// BridgeConfig holds request and codec settings.
type BridgeConfig struct {
	Codec   string   `yaml:"codec,omitempty" toml:"codec" validate:"omitempty,oneof=msgpack cbor"`
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level,omitempty" toml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// AdapterConfig holds defaults for forwarding watched events.
type AdapterConfig struct {
	Type    string            `yaml:"type,omitempty" toml:"type" validate:"omitempty,oneof=webhook redis"`
	URL     string            `yaml:"url,omitempty" toml:"url" validate:"required_with=Type"`
	Channel string            `yaml:"channel,omitempty" toml:"channel"`
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers"`
	Timeout Duration          `yaml:"timeout,omitempty" toml:"timeout"`
	Retries *int              `yaml:"retries,omitempty" toml:"retries" validate:"omitempty,min=0"`
}

// Duration wraps time.Duration for string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalText lets TOML decode durations from strings.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *Duration) parse(s string) error {
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}
