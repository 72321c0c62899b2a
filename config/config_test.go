package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:          "http",
			Host:               "127.0.0.1",
			HTTPPort:           8765,
			ShutdownTimeoutSec: 30,
		},
		Sandbox: SandboxConfig{
			Backend:             "docker",
			Image:               "python:3.11-slim",
			PythonBin:           "python3",
			MemoryMB:            512,
			DefaultTimeoutSec:   60,
			MaxTimeoutSec:       600,
			ProvisionTimeoutSec: 120,
			WarmupTimeoutSec:    300,
			WarmupLibraries:     []string{"numpy"},
		},
		Session: SessionConfig{
			IdleTimeoutSec:  1800,
			ReapIntervalSec: 60,
		},
		Fallback: FallbackConfig{Workdir: "."},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"InvalidServerTransport", func(c *Config) { c.Server.Transport = "grpc" }, "invalid server.transport"},
		{"InvalidHTTPPort", func(c *Config) { c.Server.HTTPPort = 0 }, "server.http_port must be between"},
		{"InvalidShutdownTimeout", func(c *Config) { c.Server.ShutdownTimeoutSec = 0 }, "server.shutdown_timeout_sec must be positive"},
		{"UnsupportedBackend", func(c *Config) { c.Sandbox.Backend = "firecracker" }, "unsupported sandbox.backend"},
		{"LocalBackendNotEnabled", func(c *Config) { c.Sandbox.Backend = "local" }, "unsupported sandbox.backend"},
		{"MissingImage", func(c *Config) { c.Sandbox.Image = "" }, "sandbox.image is required"},
		{"InvalidSandboxMemory", func(c *Config) { c.Sandbox.MemoryMB = 0 }, "sandbox.memory_mb must be positive"},
		{"InvalidDefaultTimeout", func(c *Config) { c.Sandbox.DefaultTimeoutSec = 0 }, "sandbox.default_timeout_sec must be positive"},
		{"MaxBelowDefaultTimeout", func(c *Config) { c.Sandbox.MaxTimeoutSec = 10 }, "sandbox.max_timeout_sec must be at least"},
		{"InvalidProvisionTimeout", func(c *Config) { c.Sandbox.ProvisionTimeoutSec = -1 }, "sandbox.provision_timeout_sec must be positive"},
		{"InvalidWarmupTimeout", func(c *Config) { c.Sandbox.WarmupTimeoutSec = 0 }, "sandbox.warmup_timeout_sec must be positive"},
		{"InvalidIdleTimeout", func(c *Config) { c.Session.IdleTimeoutSec = 0 }, "session.idle_timeout_sec must be positive"},
		{"InvalidReapInterval", func(c *Config) { c.Session.ReapIntervalSec = 0 }, "session.reap_interval_sec must be positive"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "verbose" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "loud" }, "invalid logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("ValidBackendWhenLocalEnabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "local"
		cfg.Sandbox.EnableLocalBackend = true
		cfg.Sandbox.Image = ""
		require.NoError(t, cfg.validate())
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, 8765, cfg.Server.HTTPPort)
	assert.Equal(t, "docker", cfg.Sandbox.Backend)
	assert.Equal(t, DefaultWarmupLibraries, cfg.Sandbox.WarmupLibraries)
	assert.Equal(t, 60, cfg.Sandbox.DefaultTimeoutSec)
	assert.Equal(t, 1800, cfg.Session.IdleTimeoutSec)
	assert.Equal(t, 60, cfg.Session.ReapIntervalSec)
	assert.Equal(t, "production", cfg.Logging.Mode)
}

func TestLoadFromFile(t *testing.T) {
	want := validConfig()
	want.Server.HTTPPort = 9000
	want.Session.IdleTimeoutSec = 120
	want.Sandbox.WarmupLibraries = []string{"numpy", "pandas"}

	data, err := yaml.Marshal(want)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sandboxd.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  idle_timeout_sec: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.idle_timeout_sec must be positive")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SANDBOXD_SERVER_HTTP_PORT", "9999")
	t.Setenv("SANDBOXD_SANDBOX_BACKEND", "podman")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "podman", cfg.Sandbox.Backend)
}

func TestDurations(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "1m0s", cfg.DefaultTimeout().String())
	assert.Equal(t, "10m0s", cfg.MaxTimeout().String())
	assert.Equal(t, "30m0s", cfg.IdleTimeout().String())
	assert.Equal(t, "1m0s", cfg.ReapInterval().String())
	assert.Equal(t, "127.0.0.1:8765", cfg.Addr())
}
