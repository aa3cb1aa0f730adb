// Package router implements the fleet's dispatcher and reverse proxy:
// model-aware weighted round-robin selection over a locally-maintained
// routing table kept in sync with the registry, plus streaming and
// non-streaming OpenAI-shaped proxying.
package router

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/modelfleet/modelfleet/internal/registry"
)

// Config holds the router daemon's configuration.
type Config struct {
	Host string `toml:"host" envconfig:"HOST"`
	Port int    `toml:"port" envconfig:"PORT"`

	RegistryURL string `toml:"registry_url" envconfig:"REGISTRY_URL"`

	RouterProbeInterval registry.Duration `toml:"router_probe_interval" envconfig:"ROUTER_PROBE_INTERVAL"`
	MaxRouterErrors     int               `toml:"max_router_errors" envconfig:"MAX_ROUTER_ERRORS"`
	SyncInterval        registry.Duration `toml:"sync_interval" envconfig:"SYNC_INTERVAL"`

	ConnectTimeout   registry.Duration `toml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	RequestDeadline  registry.Duration `toml:"request_deadline" envconfig:"REQUEST_DEADLINE"`
	ClientTimeout    registry.Duration `toml:"client_timeout" envconfig:"CLIENT_TIMEOUT"`
	MaxBodyPeekBytes int64             `toml:"max_body_peek_bytes" envconfig:"MAX_BODY_PEEK_BYTES"`

	Telemetry TelemetryConfig `toml:"telemetry"`
}

// TelemetryConfig controls the optional /metrics endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus" envconfig:"PROMETHEUS"`
}

// DefaultConfig returns the router's default configuration per §4.3/§4.4.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                18100,
		RegistryURL:         "http://127.0.0.1:18000",
		RouterProbeInterval: registry.Duration(5 * time.Second),
		MaxRouterErrors:     3,
		SyncInterval:        registry.Duration(10 * time.Second),
		ConnectTimeout:      registry.Duration(10 * time.Second),
		RequestDeadline:     registry.Duration(300 * time.Second),
		ClientTimeout:       registry.Duration(5 * time.Second),
		MaxBodyPeekBytes:    1 << 20,
	}
}

// LoadConfig reads config from path (if it exists), falling back to
// defaults, then applies FLEETMESH_ROUTER_* environment overrides.
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

	if err := envconfig.Process("fleetmesh_router", &cfg); err != nil {
		return cfg, fmt.Errorf("apply env overrides: %w", err)
	}

	if cfg.MaxRouterErrors <= 0 {
		return cfg, fmt.Errorf("max_router_errors must be positive, got %d", cfg.MaxRouterErrors)
	}
	if cfg.RegistryURL == "" {
		return cfg, fmt.Errorf("registry_url must be set")
	}
	return cfg, nil
}
