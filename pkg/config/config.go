// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the capq daemon.
type Config struct {
	LogLevel string       `yaml:"log_level" env:"CAPQ_LOG_LEVEL"`
	Device   DeviceConfig `yaml:"device"`
	Queue    QueueConfig  `yaml:"queue"`
	Health   HealthConfig `yaml:"health"`
}

// DeviceConfig configures the unix-socket device surface and the reader
// context pool behind it.
type DeviceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path" env:"CAPQ_DEVICE_SOCKET_PATH"`
	ReaderPool int    `yaml:"reader_pool"` // max concurrently open reader handles
}

// QueueConfig sizes the block queue manager.
type QueueConfig struct {
	Capacity    int    `yaml:"capacity"`     // blocks buffered per reader
	PoolBuffers int    `yaml:"pool_buffers"` // shared block buffers
	BufferSize  int    `yaml:"buffer_size"`  // bytes per buffer (max block size)
	LinkType    uint16 `yaml:"link_type"`    // pcapng link type for the stream prologue
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"CAPQ_HEALTH_PORT"` // e.g. ":8686"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Device: DeviceConfig{
			Enabled:    true,
			SocketPath: "/var/run/capq/device.sock",
			ReaderPool: 64,
		},
		Queue: QueueConfig{
			Capacity:    512,
			PoolBuffers: 2048,
			BufferSize:  64 * 1024,
			LinkType:    1, // ethernet
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8686",
		},
	}
}

// LoadDir loads every recognized YAML file in dir and merges them into a
// single Config. Expected files:
//   - base.yaml   → log_level, device
//   - queue.yaml  → queue
//   - health.yaml → health
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, f := range []string{"base.yaml", "queue.yaml", "health.yaml"} {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing Config,
// overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads CAPQ_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"CAPQ_LOG_LEVEL":          func(v string) { c.LogLevel = v },
		"CAPQ_DEVICE_SOCKET_PATH": func(v string) { c.Device.SocketPath = v },
		"CAPQ_HEALTH_PORT":        func(v string) { c.Health.Port = v },
	}

	boolOverrides := map[string]*bool{
		"CAPQ_DEVICE_ENABLED": &c.Device.Enabled,
		"CAPQ_HEALTH_ENABLED": &c.Health.Enabled,
	}

	intOverrides := map[string]*int{
		"CAPQ_QUEUE_CAPACITY":     &c.Queue.Capacity,
		"CAPQ_QUEUE_POOL_BUFFERS": &c.Queue.PoolBuffers,
		"CAPQ_QUEUE_BUFFER_SIZE":  &c.Queue.BufferSize,
		"CAPQ_DEVICE_READER_POOL": &c.Device.ReaderPool,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range intOverrides {
		if val := os.Getenv(envKey); val != "" {
			if n, ok := parseInt(val); ok {
				*target = n
			}
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func parseInt(s string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Device.Enabled && c.Device.SocketPath == "" {
		return fmt.Errorf("device.socket_path is required when device is enabled")
	}

	if c.Device.ReaderPool <= 0 {
		return fmt.Errorf("device.reader_pool must be positive")
	}

	if c.Queue.Capacity <= 0 || c.Queue.PoolBuffers <= 0 {
		return fmt.Errorf("queue.capacity and queue.pool_buffers must be positive")
	}

	// A pooled buffer must at least hold a packet block with no payload.
	if c.Queue.BufferSize < 64 {
		return fmt.Errorf("queue.buffer_size must be at least 64 bytes")
	}

	if c.Health.Enabled && c.Health.Port == "" {
		return fmt.Errorf("health.port is required when health is enabled")
	}

	return nil
}
