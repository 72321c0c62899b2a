// Package sandbox provides isolated code execution environments.
//
// The LocalProvisioner runs the persistent interpreter directly on the host in a
// private temporary directory. It offers no isolation and exists for
// development only; configuration must opt in to it explicitly.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// LocalProvisioner implements Provisioner using host processes (for development only)
type LocalProvisioner struct {
	logger    *zap.Logger
	pythonBin string
	fs        FileSystem
	lookPath  func(file string) (string, error)
}

// LocalProvisionerOption defines a functional option for LocalProvisioner
type LocalProvisionerOption func(*LocalProvisioner)

// WithLocalFileSystem sets the FileSystem for LocalProvisioner
func WithLocalFileSystem(fs FileSystem) LocalProvisionerOption {
	return func(l *LocalProvisioner) {
		l.fs = fs
	}
}

// NewLocalProvisioner creates a new LocalProvisioner with default implementations and optional interfaces
func NewLocalProvisioner(logger *zap.Logger, pythonBin string, opts ...LocalProvisionerOption) *LocalProvisioner {
	p := &LocalProvisioner{
		logger:    logger.Named("local"),
		pythonBin: pythonBin,
		fs:        &RealFileSystem{}, // Default implementation
		lookPath:  exec.LookPath,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name implements Provisioner.
func (*LocalProvisioner) Name() string {
	return "local"
}

// Available implements Provisioner.
func (l *LocalProvisioner) Available(context.Context) bool {
	_, err := l.lookPath(l.pythonBin)
	return err == nil
}

// Provision implements Provisioner (WARNING: the environment is not isolated from the host)
func (l *LocalProvisioner) Provision(ctx context.Context, workspaceID string) (Environment, error) {
	workdir, err := l.fs.MkdirTemp("", "sandboxd-ws-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating workdir: %v", ErrProvisioningFailed, err)
	}
	logger := l.logger.With(zap.String("workspace_id", workspaceID), zap.String("workdir", workdir))

	cleanup := func(context.Context) error {
		return l.fs.RemoveAll(workdir)
	}

	env := append(os.Environ(), "MPLBACKEND=Agg")
	repl, err := startREPL(ctx, logger, DriverArgs(l.pythonBin), workdir, env, cleanup)
	if err != nil {
		return nil, err
	}
	return repl, nil
}
