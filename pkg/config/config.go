// Package config loads and validates the daemon's YAML configuration:
// dataplane pool sizing, table declarations, port bindings and the
// northbound/metrics listeners.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultPoolCapacity   = 4096
	defaultControlAPIAddr = ":8080"
	defaultMetricsAddr    = ":9090"
)

// Config is the top-level daemon configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Dataplanes []DataplaneConfig `yaml:"dataplanes"`

	ControlAPI ControlAPIConfig `yaml:"control_api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DataplaneConfig describes one Dataplane instance to construct: its
// pool capacity, the tables to declare before the application loads,
// the application to attach, and the ports to register.
type DataplaneConfig struct {
	Name         string        `yaml:"name"`
	PoolCapacity int           `yaml:"pool_capacity"`
	Tables       []TableConfig `yaml:"tables"`
	Application  string        `yaml:"application"`
	Ports        []PortConfig  `yaml:"ports"`
}

// TableConfig declares one table to create on its dataplane before the
// application's Load hook runs, so an application can rely on
// operator-declared tables existing rather than creating every table
// itself (§4.4 Table). Kind is one of "exact", "prefix", or "wildcard".
type TableConfig struct {
	ID      uint32 `yaml:"id"`
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	KeySize int    `yaml:"key_size"`
}

// PortConfig describes one port to register on a dataplane.
type PortConfig struct {
	ID   uint32 `yaml:"id"`
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "udp" or "host"

	// kind == "udp"
	PeerAddress   string `yaml:"peer_address"`
	ListenAddress string `yaml:"listen_address"`

	// kind == "host"
	Interface string `yaml:"interface"`
}

// ControlAPIConfig configures the northbound HTTP control surface.
type ControlAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load reads, parses, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Save marshals cfg to YAML at path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.ControlAPI.Address == "" {
		c.ControlAPI.Address = defaultControlAPIAddr
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = defaultMetricsAddr
	}
	for i := range c.Dataplanes {
		if c.Dataplanes[i].PoolCapacity == 0 {
			c.Dataplanes[i].PoolCapacity = defaultPoolCapacity
		}
	}
}

// Validate rejects configuration that would fail deterministically at
// construction time, so operators see the problem before the daemon
// starts building dataplanes.
func (c *Config) Validate() error {
	seenNames := make(map[string]bool)
	for _, dp := range c.Dataplanes {
		if dp.Name == "" {
			return fmt.Errorf("dataplanes: entry missing name")
		}
		if seenNames[dp.Name] {
			return fmt.Errorf("dataplanes: duplicate name %q", dp.Name)
		}
		seenNames[dp.Name] = true

		if dp.PoolCapacity <= 0 {
			return fmt.Errorf("dataplanes.%s: pool_capacity must be positive", dp.Name)
		}

		seenTableIDs := make(map[uint32]bool)
		for _, t := range dp.Tables {
			if seenTableIDs[t.ID] {
				return fmt.Errorf("dataplanes.%s.tables: duplicate table id %d", dp.Name, t.ID)
			}
			seenTableIDs[t.ID] = true
			if t.KeySize <= 0 {
				return fmt.Errorf("dataplanes.%s.tables.%s: key_size must be positive", dp.Name, t.Name)
			}
			switch t.Kind {
			case "exact", "prefix", "wildcard":
			default:
				return fmt.Errorf("dataplanes.%s.tables.%s: unknown kind %q", dp.Name, t.Name, t.Kind)
			}
		}

		seenPortIDs := make(map[uint32]bool)
		seenPortNames := make(map[string]bool)
		for _, p := range dp.Ports {
			if seenPortIDs[p.ID] {
				return fmt.Errorf("dataplanes.%s.ports: duplicate port id %d", dp.Name, p.ID)
			}
			seenPortIDs[p.ID] = true
			if seenPortNames[p.Name] {
				return fmt.Errorf("dataplanes.%s.ports: duplicate port name %q", dp.Name, p.Name)
			}
			seenPortNames[p.Name] = true

			switch p.Kind {
			case "udp":
				if p.PeerAddress == "" || p.ListenAddress == "" {
					return fmt.Errorf("dataplanes.%s.ports.%s: udp port requires peer_address and listen_address", dp.Name, p.Name)
				}
			case "host":
				if p.Interface == "" {
					return fmt.Errorf("dataplanes.%s.ports.%s: host port requires interface", dp.Name, p.Name)
				}
			default:
				return fmt.Errorf("dataplanes.%s.ports.%s: unknown kind %q", dp.Name, p.Name, p.Kind)
			}
		}
	}
	return nil
}
