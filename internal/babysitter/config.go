// Package babysitter implements the Backend Supervisor: spawn a single
// configured backend process, poll it for readiness, register it (and
// itself) with the Registry, heartbeat, and restart it on exit.
package babysitter

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/modelfleet/modelfleet/internal/registry"
)

// Config is the babysitter's TOML configuration, per §6.4.
type Config struct {
	Name        string `toml:"name" envconfig:"NAME"`
	Host        string `toml:"host" envconfig:"HOST"`
	Port        int    `toml:"port" envconfig:"PORT"`
	RegistryURL string `toml:"registry_url" envconfig:"REGISTRY_URL"`
	RouterURL   string `toml:"router_url" envconfig:"ROUTER_URL"`

	Babysitter SupervisorConfig `toml:"babysitter"`
	Backend    BackendConfig    `toml:"backend"`

	Telemetry TelemetryConfig `toml:"telemetry"`
}

// SupervisorConfig tunes the restart/heartbeat/readiness loops, per §4.2.
type SupervisorConfig struct {
	MaxRestarts           int               `toml:"max_restarts" envconfig:"MAX_RESTARTS"`
	RestartDelay          registry.Duration `toml:"restart_delay" envconfig:"RESTART_DELAY"`
	HeartbeatInterval     registry.Duration `toml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	ReadinessPath         string            `toml:"readiness_path" envconfig:"READINESS_PATH"`
	ReadinessPollInterval registry.Duration `toml:"readiness_poll_interval" envconfig:"READINESS_POLL_INTERVAL"`
	ReadinessPollTimeout  registry.Duration `toml:"readiness_poll_timeout" envconfig:"READINESS_POLL_TIMEOUT"`
	ShutdownGrace         registry.Duration `toml:"shutdown_grace" envconfig:"SHUTDOWN_GRACE"`
}

// BackendConfig describes how to spawn the managed process.
type BackendConfig struct {
	Type    string            `toml:"type"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	WorkDir string            `toml:"work_dir"`
	Env     map[string]string `toml:"env"`
}

// TelemetryConfig controls the optional /metrics endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus" envconfig:"PROMETHEUS"`
}

// DefaultConfig returns the babysitter's default configuration per §4.2/§6.4.
func DefaultConfig() Config {
	return Config{
		Host:        "0.0.0.0",
		RegistryURL: "http://127.0.0.1:18000",
		Babysitter: SupervisorConfig{
			MaxRestarts:           10000,
			RestartDelay:          registry.Duration(5 * time.Second),
			HeartbeatInterval:     registry.Duration(30 * time.Second),
			ReadinessPath:         "/models",
			ReadinessPollInterval: registry.Duration(300 * time.Millisecond),
			ReadinessPollTimeout:  registry.Duration(10 * time.Second),
			ShutdownGrace:         registry.Duration(5 * time.Second),
		},
		Backend: BackendConfig{Type: "command"},
	}
}

// LoadConfig reads config from path, falling back to defaults, then
// applies FLEETMESH_BABYSITTER_* environment overrides.
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

	if err := envconfig.Process("fleetmesh_babysitter", &cfg); err != nil {
		return cfg, fmt.Errorf("apply env overrides: %w", err)
	}

	if cfg.Name == "" {
		return cfg, fmt.Errorf("name is required")
	}
	if cfg.Port == 0 {
		return cfg, fmt.Errorf("port is required")
	}
	if cfg.Backend.Command == "" {
		return cfg, fmt.Errorf("backend.command is required")
	}
	return cfg, nil
}

// SupervisorPort is the babysitter's own HTTP listener — the managed
// backend's port plus one, per §6.4.
func (c Config) SupervisorPort() int { return c.Port + 1 }
