package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// replExitGrace bounds how long Close waits for the driver to exit on its own.
	replExitGrace = 2 * time.Second
	// replWaitDelay bounds how long Wait keeps copying stderr after the process exits.
	replWaitDelay = 2 * time.Second
	// replCleanupTimeout bounds backend-specific teardown (container removal, temp dirs).
	replCleanupTimeout = 30 * time.Second
)

// replEnvironment drives a persistent interpreter process that speaks the
// line-delimited JSON protocol implemented by driver.py.
type replEnvironment struct {
	logger  *zap.Logger
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdoutR *os.File
	stdout  *bufio.Reader
	exited  chan struct{}
	cleanup func(ctx context.Context) error

	mu     sync.Mutex // one run at a time
	broken error

	closeOnce sync.Once
	closeErr  error
}

type replRequest struct {
	Code string `json:"code"`
}

type replReady struct {
	Ready bool `json:"ready"`
}

// startREPL launches args and waits for the driver handshake. On any failure
// the process is killed and cleanup (if set) is run before returning.
func startREPL(ctx context.Context, logger *zap.Logger, args []string, dir string, env []string, cleanup func(context.Context) error) (*replEnvironment, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no interpreter command", ErrProvisioningFailed)
	}

	fail := func(err error) (*replEnvironment, error) {
		if cleanup != nil {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replCleanupTimeout)
			defer cancel()
			if cerr := cleanup(cctx); cerr != nil {
				logger.Warn("cleanup after failed provisioning failed", zap.Error(cerr))
			}
		}
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec // interpreter command is built from configuration
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = replWaitDelay
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(fmt.Errorf("%w: stdin pipe: %v", ErrProvisioningFailed, err))
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fail(fmt.Errorf("%w: stdout pipe: %v", ErrProvisioningFailed, err))
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = &logWriter{logger: logger}

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return fail(fmt.Errorf("%w: starting %s: %v", ErrProvisioningFailed, args[0], err))
	}
	// The child holds its own copy of the write end.
	_ = stdoutW.Close()

	e := &replEnvironment{
		logger:  logger,
		cmd:     cmd,
		stdin:   stdin,
		stdoutR: stdoutR,
		stdout:  bufio.NewReader(stdoutR),
		exited:  make(chan struct{}),
		cleanup: cleanup,
	}
	go func() {
		err := cmd.Wait()
		logger.Debug("interpreter exited", zap.Error(err))
		close(e.exited)
	}()

	var ready replReady
	if err := e.readMessage(ctx, &ready); err != nil || !ready.Ready {
		if err == nil {
			err = errors.New("unexpected handshake message")
		}
		e.shutdown(ctx, false)
		return nil, fmt.Errorf("%w: interpreter handshake: %v", ErrProvisioningFailed, err)
	}

	logger.Debug("interpreter ready", zap.Int("pid", cmd.Process.Pid))
	return e, nil
}

// Run implements Environment.
func (e *replEnvironment) Run(ctx context.Context, code string) (RunOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.broken != nil {
		return RunOutput{}, e.broken
	}

	payload, err := json.Marshal(replRequest{Code: code})
	if err != nil {
		return RunOutput{}, fmt.Errorf("encoding request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := e.stdin.Write(payload); err != nil {
		e.broken = fmt.Errorf("%w: writing to interpreter: %v", ErrEnvironmentBroken, err)
		return RunOutput{}, e.broken
	}

	var out RunOutput
	if err := e.readMessage(ctx, &out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The interpreter was killed mid-run; its state is gone.
			e.broken = fmt.Errorf("%w: previous run was aborted", ErrEnvironmentBroken)
			e.shutdown(ctx, false)
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return RunOutput{}, fmt.Errorf("%w: %w", ErrExecutionTimeout, ctxErr)
			}
			return RunOutput{}, ctxErr
		}
		e.broken = err
		return RunOutput{}, err
	}
	return out, nil
}

// Close implements Environment.
func (e *replEnvironment) Close(ctx context.Context) error {
	e.shutdown(ctx, true)
	return e.closeErr
}

// shutdown stops the interpreter and runs backend cleanup exactly once.
// A graceful shutdown closes stdin first and gives the driver a moment to exit.
func (e *replEnvironment) shutdown(ctx context.Context, graceful bool) {
	e.closeOnce.Do(func() {
		_ = e.stdin.Close()
		if graceful {
			select {
			case <-e.exited:
			case <-time.After(replExitGrace):
			}
		}
		e.kill()

		if e.cleanup != nil {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replCleanupTimeout)
			defer cancel()
			if err := e.cleanup(cctx); err != nil {
				e.closeErr = fmt.Errorf("%w: %v", ErrTeardown, err)
			}
		}
	})
}

func (e *replEnvironment) kill() {
	if err := killProcessGroup(e.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.logger.Debug("failed to kill interpreter", zap.Error(err))
	}
	// Unblocks any pending read.
	_ = e.stdoutR.Close()
}

type readResult struct {
	line []byte
	err  error
}

// readMessage decodes the next protocol line into v, killing the interpreter
// if ctx ends first.
func (e *replEnvironment) readMessage(ctx context.Context, v any) error {
	ch := make(chan readResult, 1)
	go func() {
		line, err := e.stdout.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("%w: reading from interpreter: %v", ErrEnvironmentBroken, r.err)
		}
		if err := json.Unmarshal(r.line, v); err != nil {
			return fmt.Errorf("%w: decoding interpreter message: %v", ErrEnvironmentBroken, err)
		}
		return nil
	case <-ctx.Done():
		e.kill()
		<-ch
		return ctx.Err()
	}
}

// logWriter forwards interpreter stderr (and stray fd-level stdout) to the logger.
type logWriter struct {
	logger *zap.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debug("interpreter output", zap.ByteString("output", p))
	return len(p), nil
}
