package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g. SANDBOXD_SERVER_HTTP_PORT.
const EnvPrefix = "SANDBOXD"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox" yaml:"sandbox"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Fallback FallbackConfig `mapstructure:"fallback" yaml:"fallback"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport          string `mapstructure:"transport" yaml:"transport"`
	Host               string `mapstructure:"host" yaml:"host"`
	HTTPPort           int    `mapstructure:"http_port" yaml:"http_port"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// SandboxConfig holds isolated environment configuration
type SandboxConfig struct {
	Backend             string   `mapstructure:"backend" yaml:"backend"`
	Image               string   `mapstructure:"image" yaml:"image"`
	PythonBin           string   `mapstructure:"python_bin" yaml:"python_bin"`
	MemoryMB            int      `mapstructure:"memory_mb" yaml:"memory_mb"`
	NetworkEnabled      bool     `mapstructure:"network_enabled" yaml:"network_enabled"`
	EnableLocalBackend  bool     `mapstructure:"enable_local_backend" yaml:"enable_local_backend"`
	DefaultTimeoutSec   int      `mapstructure:"default_timeout_sec" yaml:"default_timeout_sec"`
	MaxTimeoutSec       int      `mapstructure:"max_timeout_sec" yaml:"max_timeout_sec"`
	ProvisionTimeoutSec int      `mapstructure:"provision_timeout_sec" yaml:"provision_timeout_sec"`
	WarmupTimeoutSec    int      `mapstructure:"warmup_timeout_sec" yaml:"warmup_timeout_sec"`
	WarmupLibraries     []string `mapstructure:"warmup_libraries" yaml:"warmup_libraries"`
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	IdleTimeoutSec  int `mapstructure:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	ReapIntervalSec int `mapstructure:"reap_interval_sec" yaml:"reap_interval_sec"`
}

// FallbackConfig holds configuration for the unisolated fallback path
type FallbackConfig struct {
	PythonPath string `mapstructure:"python_path" yaml:"python_path"`
	Workdir    string `mapstructure:"workdir" yaml:"workdir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultWarmupLibraries are verified (and installed when missing) in every new environment.
var DefaultWarmupLibraries = []string{
	"pandas",
	"numpy",
	"matplotlib",
	"pypdf",
	"pdfplumber",
	"openpyxl",
	"requests",
}

// New loads the configuration from the default search paths
func New() (*Config, error) {
	return Load("")
}

// Load loads and validates the application configuration. An empty path searches
// ./config.yaml and ./config/config.yaml; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "http")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8765)
	v.SetDefault("server.shutdown_timeout_sec", 30)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.image", "python:3.11-slim")
	v.SetDefault("sandbox.python_bin", "python3")
	v.SetDefault("sandbox.memory_mb", 1024)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.enable_local_backend", false)
	v.SetDefault("sandbox.default_timeout_sec", 60)
	v.SetDefault("sandbox.max_timeout_sec", 600)
	v.SetDefault("sandbox.provision_timeout_sec", 120)
	v.SetDefault("sandbox.warmup_timeout_sec", 300)
	v.SetDefault("sandbox.warmup_libraries", DefaultWarmupLibraries)

	v.SetDefault("session.idle_timeout_sec", 30*60)
	v.SetDefault("session.reap_interval_sec", 60)

	v.SetDefault("fallback.python_path", "")
	v.SetDefault("fallback.workdir", ".")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got: %d", c.Server.HTTPPort)
	}

	if c.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("server.shutdown_timeout_sec must be positive, got: %d", c.Server.ShutdownTimeoutSec)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Backend != "local" && c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image is required for backend %s", c.Sandbox.Backend)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.default_timeout_sec must be positive, got: %d", c.Sandbox.DefaultTimeoutSec)
	}

	if c.Sandbox.MaxTimeoutSec < c.Sandbox.DefaultTimeoutSec {
		return fmt.Errorf("sandbox.max_timeout_sec must be at least sandbox.default_timeout_sec, got: %d < %d",
			c.Sandbox.MaxTimeoutSec, c.Sandbox.DefaultTimeoutSec)
	}

	if c.Sandbox.ProvisionTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.provision_timeout_sec must be positive, got: %d", c.Sandbox.ProvisionTimeoutSec)
	}

	if c.Sandbox.WarmupTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.warmup_timeout_sec must be positive, got: %d", c.Sandbox.WarmupTimeoutSec)
	}

	if c.Session.IdleTimeoutSec <= 0 {
		return fmt.Errorf("session.idle_timeout_sec must be positive, got: %d", c.Session.IdleTimeoutSec)
	}

	if c.Session.ReapIntervalSec <= 0 {
		return fmt.Errorf("session.reap_interval_sec must be positive, got: %d", c.Session.ReapIntervalSec)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// DefaultTimeout returns the per-execution timeout used when a request does not set one
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Sandbox.DefaultTimeoutSec) * time.Second
}

// MaxTimeout returns the upper bound applied to requested execution timeouts
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.Sandbox.MaxTimeoutSec) * time.Second
}

// IdleTimeout returns the inactivity threshold after which a session is evicted
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSec) * time.Second
}

// ReapInterval returns the idle reaper tick interval
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.Session.ReapIntervalSec) * time.Second
}

// ShutdownTimeout returns the graceful HTTP shutdown bound
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}
