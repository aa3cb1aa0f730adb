package registry

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the registry daemon's configuration.
type Config struct {
	Host string `toml:"host" envconfig:"HOST"`
	Port int    `toml:"port" envconfig:"PORT"`

	ProbeInterval    Duration `toml:"probe_interval" envconfig:"PROBE_INTERVAL"`
	ProbeTimeout     Duration `toml:"probe_timeout" envconfig:"PROBE_TIMEOUT"`
	MaxErrors        int      `toml:"max_errors" envconfig:"MAX_ERRORS"`
	EvictionTimeout  Duration `toml:"eviction_timeout" envconfig:"EVICTION_TIMEOUT"`
	CleanupInterval  Duration `toml:"cleanup_interval" envconfig:"CLEANUP_INTERVAL"`

	Telemetry TelemetryConfig `toml:"telemetry"`
}

// TelemetryConfig controls the optional /metrics endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus" envconfig:"PROMETHEUS"`
}

// Duration is a time.Duration that decodes from TOML/env as a Go duration
// string ("30s", "5m") instead of an integer count of nanoseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML string values
// and for envconfig's decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	return d.UnmarshalText([]byte(value))
}

// Get returns the time.Duration value.
func (d Duration) Get() time.Duration { return time.Duration(d) }

// DefaultConfig returns the registry's default configuration per §4.1.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            18000,
		ProbeInterval:   Duration(30 * time.Second),
		ProbeTimeout:    Duration(5 * time.Second),
		MaxErrors:       3,
		EvictionTimeout: Duration(60 * time.Second),
		CleanupInterval: Duration(60 * time.Second),
	}
}

// LoadConfig reads config from path (if it exists), falling back to
// defaults, then applies FLEETMESH_REGISTRY_* environment overrides, the
// TOML schema documented in the Registry's share of §6.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("fleetmesh_registry", &cfg); err != nil {
		return cfg, fmt.Errorf("apply env overrides: %w", err)
	}

	if cfg.MaxErrors <= 0 {
		return cfg, fmt.Errorf("max_errors must be positive, got %d", cfg.MaxErrors)
	}
	return cfg, nil
}
