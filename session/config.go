package session

import (
	"time"

	"github.com/isdmx/sandboxd/config"
)

// Config holds the session lifecycle and execution bounds.
type Config struct {
	DefaultTimeout   time.Duration
	MaxTimeout       time.Duration
	IdleTimeout      time.Duration
	ReapInterval     time.Duration
	ProvisionTimeout time.Duration
	WarmupTimeout    time.Duration
	WarmupLibraries  []string
}

// ConfigFrom extracts the session settings from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		DefaultTimeout:   cfg.DefaultTimeout(),
		MaxTimeout:       cfg.MaxTimeout(),
		IdleTimeout:      cfg.IdleTimeout(),
		ReapInterval:     cfg.ReapInterval(),
		ProvisionTimeout: time.Duration(cfg.Sandbox.ProvisionTimeoutSec) * time.Second,
		WarmupTimeout:    time.Duration(cfg.Sandbox.WarmupTimeoutSec) * time.Second,
		WarmupLibraries:  cfg.Sandbox.WarmupLibraries,
	}
}

// EffectiveTimeout applies the default to non-positive requests and clamps the
// rest to MaxTimeout.
func (c Config) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return c.DefaultTimeout
	}
	if c.MaxTimeout > 0 && requested > c.MaxTimeout {
		return c.MaxTimeout
	}
	return requested
}
