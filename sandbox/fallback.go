package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	defaultFallbackPython = "python3"
	fallbackWaitDelay     = 2 * time.Second
)

// FallbackExecutor runs code in a one-shot, unisolated interpreter process.
// It is used only when a workspace has no isolated environment and provides no
// filesystem, network, or resource isolation. It never returns artifacts.
type FallbackExecutor struct {
	logger     *zap.Logger
	fs         FileSystem
	pythonPath string
	workdir    string
}

// FallbackOption defines a functional option for FallbackExecutor
type FallbackOption func(*FallbackExecutor)

// WithFallbackFileSystem sets the FileSystem used to probe for a virtualenv interpreter
func WithFallbackFileSystem(fs FileSystem) FallbackOption {
	return func(f *FallbackExecutor) {
		f.fs = fs
	}
}

// NewFallbackExecutor creates a FallbackExecutor. An empty pythonPath selects
// <workdir>/.venv/bin/python when present and python3 otherwise.
func NewFallbackExecutor(logger *zap.Logger, pythonPath, workdir string, opts ...FallbackOption) *FallbackExecutor {
	f := &FallbackExecutor{
		logger:  logger.Named("fallback"),
		fs:      &RealFileSystem{},
		workdir: workdir,
	}

	for _, opt := range opts {
		opt(f)
	}

	f.pythonPath = f.resolvePython(pythonPath)
	f.logger.Info("fallback interpreter selected", zap.String("python", f.pythonPath), zap.String("workdir", workdir))
	return f
}

func (f *FallbackExecutor) resolvePython(configured string) string {
	if configured != "" {
		return configured
	}
	venvPython := filepath.Join(f.workdir, ".venv", "bin", "python")
	if ok, err := f.fs.FileExists(venvPython); ok && err == nil {
		return venvPython
	}
	return defaultFallbackPython
}

// PythonPath returns the interpreter the fallback path runs.
func (f *FallbackExecutor) PythonPath() string {
	return f.pythonPath
}

// Execute runs code with `<python> -c` bounded by timeout. The whole process
// group is killed when the bound is exceeded. The result is always populated;
// the error classifies unsuccessful runs (see Classify) and is nil on success.
func (f *FallbackExecutor) Execute(ctx context.Context, code string, timeout time.Duration) (ExecutionResult, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctxWithTimeout, f.pythonPath, "-c", code) //nolint:gosec // running submitted code is the purpose
	cmd.Dir = f.workdir
	cmd.WaitDelay = fallbackWaitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	// A caller deadline at or before timeout still counts as exceeding the bound.
	if errors.Is(ctx.Err(), context.Canceled) {
		return Failure(stdoutBuf.String(), "Execution cancelled"), ctx.Err()
	}
	if errors.Is(ctxWithTimeout.Err(), context.DeadlineExceeded) {
		f.logger.Warn("fallback execution timed out", zap.Duration("timeout", timeout))
		return Failure(stdoutBuf.String(), TimeoutMessage(timeout)), fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
	}

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			err = fmt.Errorf("%w: %v", ErrFallbackExecution, err)
			f.logger.Error("fallback execution failed", zap.Error(err))
			return Failure(stdoutBuf.String(), err.Error()), err
		}
		exitCode = exitError.ExitCode()
	}

	out := RunOutput{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}
	return out.Result(), out.Err()
}
