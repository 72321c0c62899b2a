package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/config"
)

// NewProvisioner creates the environment provisioner selected by sandbox.backend
func NewProvisioner(logger *zap.Logger, cfg *config.Config) (Provisioner, error) {
	containerConfig := &ContainerConfig{
		Image:          cfg.Sandbox.Image,
		PythonBin:      cfg.Sandbox.PythonBin,
		MemoryMB:       cfg.Sandbox.MemoryMB,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
	}

	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerProvisioner(logger, containerConfig), nil
	case "podman":
		return NewPodmanProvisioner(logger, containerConfig), nil
	case "local":
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend requires sandbox.enable_local_backend")
		}
		logger.Warn("local backend enabled: environments run unisolated on the host")
		return NewLocalProvisioner(logger, cfg.Sandbox.PythonBin), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// NewFallbackFromConfig creates the fallback executor from the fallback section
func NewFallbackFromConfig(logger *zap.Logger, cfg *config.Config) *FallbackExecutor {
	return NewFallbackExecutor(logger, cfg.Fallback.PythonPath, cfg.Fallback.Workdir)
}
