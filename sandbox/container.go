// Package sandbox provides isolated code execution environments.
//
// The ContainerProvisioner starts one long-lived container per workspace via a
// docker-compatible CLI, with resource limits, dropped capabilities, and no
// network unless enabled, then drives a persistent Python interpreter inside
// it through `exec -i`.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	availabilityTimeout = 10 * time.Second
	containerPidsLimit  = 512
	// WorkspaceLabel is attached to every container so operators can map containers to workspaces.
	WorkspaceLabel = "sandboxd.workspace"
)

// ContainerConfig holds configuration for container-backed environments
type ContainerConfig struct {
	Image          string
	PythonBin      string
	MemoryMB       int
	NetworkEnabled bool
}

type replLauncher func(ctx context.Context, logger *zap.Logger, args []string, cleanup func(context.Context) error) (Environment, error)

func launchREPL(ctx context.Context, logger *zap.Logger, args []string, cleanup func(context.Context) error) (Environment, error) {
	env, err := startREPL(ctx, logger, args, "", nil, cleanup)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// ContainerProvisioner implements Provisioner using docker or podman
type ContainerProvisioner struct {
	logger    *zap.Logger
	config    *ContainerConfig
	binary    string
	cmdRunner CommandRunner
	launch    replLauncher

	availableOnce sync.Once
	available     bool
}

// ContainerProvisionerOption defines a functional option for ContainerProvisioner
type ContainerProvisionerOption func(*ContainerProvisioner)

// WithContainerCommandRunner sets the CommandRunner for ContainerProvisioner
func WithContainerCommandRunner(cmdRunner CommandRunner) ContainerProvisionerOption {
	return func(p *ContainerProvisioner) {
		p.cmdRunner = cmdRunner
	}
}

// NewDockerProvisioner creates a ContainerProvisioner driving the docker CLI
func NewDockerProvisioner(logger *zap.Logger, config *ContainerConfig, opts ...ContainerProvisionerOption) *ContainerProvisioner {
	return newContainerProvisioner(logger, "docker", config, opts...)
}

// NewPodmanProvisioner creates a ContainerProvisioner driving the podman CLI
func NewPodmanProvisioner(logger *zap.Logger, config *ContainerConfig, opts ...ContainerProvisionerOption) *ContainerProvisioner {
	return newContainerProvisioner(logger, "podman", config, opts...)
}

func newContainerProvisioner(logger *zap.Logger, binary string, config *ContainerConfig, opts ...ContainerProvisionerOption) *ContainerProvisioner {
	p := &ContainerProvisioner{
		logger:    logger.Named(binary),
		config:    config,
		binary:    binary,
		cmdRunner: &RealCommandRunner{}, // Default implementation
		launch:    launchREPL,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name implements Provisioner.
func (p *ContainerProvisioner) Name() string {
	return p.binary
}

// Available implements Provisioner. The probe runs once per process.
func (p *ContainerProvisioner) Available(ctx context.Context) bool {
	p.availableOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), availabilityTimeout)
		defer cancel()

		stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(probeCtx,
			[]string{p.binary, "version", "--format", "{{.Server.Version}}"})
		if err != nil || exitCode != 0 {
			p.logger.Warn("container runtime unavailable, isolated environments disabled",
				zap.Int("exit_code", exitCode),
				zap.String("stderr", strings.TrimSpace(stderr)),
				zap.Error(err))
			return
		}
		p.available = true
		p.logger.Info("container runtime available", zap.String("server_version", strings.TrimSpace(stdout)))
	})
	return p.available
}

// Provision implements Provisioner.
func (p *ContainerProvisioner) Provision(ctx context.Context, workspaceID string) (Environment, error) {
	name := "sandboxd-" + uuid.NewString()
	logger := p.logger.With(zap.String("workspace_id", workspaceID), zap.String("container", name))

	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, p.runArgs(name, workspaceID))
	if err != nil {
		return nil, fmt.Errorf("%w: %s run: %v", ErrProvisioningFailed, p.binary, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%w: %s run exited with %d: %s", ErrProvisioningFailed, p.binary, exitCode, strings.TrimSpace(stderr))
	}
	logger.Debug("container started")

	cleanup := func(ctx context.Context) error {
		_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "rm", "-f", name})
		if err != nil {
			return fmt.Errorf("%s rm: %w", p.binary, err)
		}
		if exitCode != 0 {
			return fmt.Errorf("%s rm exited with %d: %s", p.binary, exitCode, strings.TrimSpace(stderr))
		}
		logger.Debug("container removed")
		return nil
	}

	execArgs := append([]string{p.binary, "exec", "-i", name}, DriverArgs(p.config.PythonBin)...)
	env, err := p.launch(ctx, logger, execArgs, cleanup)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// runArgs builds the detached run command with security restrictions.
func (p *ContainerProvisioner) runArgs(name, workspaceID string) []string {
	args := []string{
		p.binary, "run",
		"-d",
		"--rm",
		"--name", name,
		"--label", WorkspaceLabel + "=" + workspaceID,
		"--memory", fmt.Sprintf("%dm", p.config.MemoryMB),
		"--pids-limit", fmt.Sprintf("%d", containerPidsLimit),
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"-e", "MPLBACKEND=Agg",
	}

	if p.config.NetworkEnabled {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}

	return append(args, p.config.Image, "sleep", "infinity")
}
