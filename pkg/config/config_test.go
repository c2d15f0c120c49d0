package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if !cfg.Device.Enabled {
		t.Error("device should be enabled by default")
	}
	if cfg.Device.ReaderPool != 64 {
		t.Errorf("ReaderPool = %d, want 64", cfg.Device.ReaderPool)
	}
	if cfg.Queue.LinkType != 1 {
		t.Errorf("LinkType = %d, want 1 (ethernet)", cfg.Queue.LinkType)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capq.yaml")
	data := `
log_level: debug
device:
  socket_path: /tmp/capq-test.sock
  reader_pool: 8
queue:
  capacity: 16
  buffer_size: 4096
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Device.SocketPath != "/tmp/capq-test.sock" {
		t.Errorf("SocketPath = %q", cfg.Device.SocketPath)
	}
	if cfg.Device.ReaderPool != 8 {
		t.Errorf("ReaderPool = %d, want 8", cfg.Device.ReaderPool)
	}
	if cfg.Queue.Capacity != 16 {
		t.Errorf("Capacity = %d, want 16", cfg.Queue.Capacity)
	}
	// Untouched fields keep their defaults.
	if cfg.Queue.PoolBuffers != 2048 {
		t.Errorf("PoolBuffers = %d, want default 2048", cfg.Queue.PoolBuffers)
	}
	if cfg.Health.Port != ":8686" {
		t.Errorf("Health.Port = %q, want default :8686", cfg.Health.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestLoadDirMergesFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"base.yaml":   "log_level: warn\n",
		"queue.yaml":  "queue:\n  capacity: 32\n",
		"health.yaml": "health:\n  port: \":9999\"\n",
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Queue.Capacity != 32 {
		t.Errorf("Capacity = %d, want 32", cfg.Queue.Capacity)
	}
	if cfg.Health.Port != ":9999" {
		t.Errorf("Health.Port = %q, want :9999", cfg.Health.Port)
	}
}

func TestLoadDirMissingFilesUseDefaults(t *testing.T) {
	cfg, err := LoadDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadDir on empty dir: %v", err)
	}
	if cfg.Queue.Capacity != 512 {
		t.Errorf("Capacity = %d, want default 512", cfg.Queue.Capacity)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAPQ_LOG_LEVEL", "debug")
	t.Setenv("CAPQ_QUEUE_CAPACITY", "99")
	t.Setenv("CAPQ_HEALTH_ENABLED", "false")
	t.Setenv("CAPQ_DEVICE_SOCKET_PATH", "/tmp/override.sock")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Queue.Capacity != 99 {
		t.Errorf("Capacity = %d, want 99", cfg.Queue.Capacity)
	}
	if cfg.Health.Enabled {
		t.Error("Health.Enabled should be overridden to false")
	}
	if cfg.Device.SocketPath != "/tmp/override.sock" {
		t.Errorf("SocketPath = %q", cfg.Device.SocketPath)
	}
}

func TestEnvOverrideBadIntIgnored(t *testing.T) {
	t.Setenv("CAPQ_QUEUE_CAPACITY", "not-a-number")
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Queue.Capacity != 512 {
		t.Errorf("Capacity = %d, want default 512 on bad override", cfg.Queue.Capacity)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket path", func(c *Config) { c.Device.SocketPath = "" }},
		{"zero reader pool", func(c *Config) { c.Device.ReaderPool = 0 }},
		{"zero queue capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"zero pool buffers", func(c *Config) { c.Queue.PoolBuffers = 0 }},
		{"tiny buffer size", func(c *Config) { c.Queue.BufferSize = 16 }},
		{"empty health port", func(c *Config) { c.Health.Port = "" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate should fail", tt.name)
		}
	}
}

func TestValidateDisabledSurfacesSkipChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Enabled = false
	cfg.Device.SocketPath = ""
	cfg.Health.Enabled = false
	cfg.Health.Port = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled surfaces should not require addresses: %v", err)
	}
}
