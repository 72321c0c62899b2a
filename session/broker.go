package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/sandbox"
)

// maxResolveAttempts bounds how often Dispatch re-resolves a workspace whose
// session was torn down while it waited for the lock.
const maxResolveAttempts = 3

var errSessionUnavailable = errors.New("session was closed repeatedly while waiting")

// FallbackRunner executes code without an isolated environment.
// The error classifies a failed run; the result is populated either way.
type FallbackRunner interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (sandbox.ExecutionResult, error)
}

// Health summarizes the broker state.
type Health struct {
	Status           string `json:"status"`
	SandboxAvailable bool   `json:"sandbox_available"`
	ActiveSessions   int    `json:"active_sessions"`
	DegradedSessions int    `json:"degraded_sessions"`
	Backend          string `json:"backend"`
	Mode             string `json:"mode"`
}

// Broker routes execution requests to workspace sessions.
type Broker struct {
	logger   *zap.Logger
	registry *Registry
	fallback FallbackRunner
}

// NewBroker creates a Broker on top of registry.
func NewBroker(logger *zap.Logger, registry *Registry, fallback FallbackRunner) *Broker {
	return &Broker{
		logger:   logger.Named("broker"),
		registry: registry,
		fallback: fallback,
	}
}

// Dispatch executes code for workspaceID and always returns a fully populated
// result. A non-positive timeout selects the default; larger ones are clamped.
func (b *Broker) Dispatch(ctx context.Context, workspaceID, code string, timeout time.Duration) sandbox.ExecutionResult {
	timeout = b.registry.config.EffectiveTimeout(timeout)
	logger := b.logger.With(
		zap.String("execution_id", uuid.NewString()),
		zap.String("workspace_id", workspaceID),
	)
	start := time.Now()

	s, err := b.resolve(ctx, workspaceID)
	if err != nil {
		logger.Warn("no session for execution", zap.Error(err))
		b.registry.recorder.ExecutionFinished(ModeDegraded, OutcomeFault, time.Since(start))
		return sandbox.Failure("", fmt.Sprintf("Execution failed: %v", err))
	}
	defer s.release()

	mode := s.mode()
	logger.Debug("execution started", zap.String("mode", mode), zap.Duration("timeout", timeout))

	var (
		result  sandbox.ExecutionResult
		outcome string
	)
	if s.env == nil {
		result, outcome = b.runFallback(ctx, logger, code, timeout)
	} else {
		result, outcome = b.runIsolated(ctx, logger, s, code, timeout)
	}
	s.touch(b.registry.now())

	duration := time.Since(start)
	b.registry.recorder.ExecutionFinished(mode, outcome, duration)
	logger.Info("execution finished",
		zap.String("mode", mode),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)),
		zap.Int("artifacts", len(result.Artifacts)))
	return result
}

// resolve returns a live session for workspaceID with its lock held.
func (b *Broker) resolve(ctx context.Context, workspaceID string) (*Session, error) {
	for range maxResolveAttempts {
		s, err := b.registry.GetOrCreate(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		if !s.closed {
			return s, nil
		}
		s.release()
	}
	return nil, errSessionUnavailable
}

func (b *Broker) runFallback(ctx context.Context, logger *zap.Logger, code string, timeout time.Duration) (sandbox.ExecutionResult, string) {
	runCtx, cancel := b.registry.runContext(ctx, timeout)
	defer cancel()

	result, err := b.fallback.Execute(runCtx, code, timeout)
	kind := sandbox.Classify(err)
	if err != nil {
		logger.Debug("fallback run unsuccessful", zap.String("error_kind", kind), zap.Error(err))
	}
	return result, outcomeFor(kind)
}

// outcomeFor maps an error kind onto the outcome label of a finished execution.
func outcomeFor(kind string) string {
	switch kind {
	case sandbox.KindNone:
		return OutcomeSuccess
	case sandbox.KindRuntime:
		return OutcomeError
	case sandbox.KindTimeout:
		return OutcomeTimeout
	case sandbox.KindCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFault
	}
}

// runIsolated executes in the session's environment. Any environment fault
// discards the session so the next call starts from a fresh one.
func (b *Broker) runIsolated(ctx context.Context, logger *zap.Logger, s *Session, code string, timeout time.Duration) (sandbox.ExecutionResult, string) {
	runCtx, cancel := b.registry.runContext(ctx, timeout)
	defer cancel()

	out, err := s.env.Run(runCtx, code)
	if err == nil {
		runErr := out.Err()
		if runErr != nil {
			logger.Debug("code exited with an error", zap.Error(runErr))
		}
		return out.Result(), outcomeFor(sandbox.Classify(runErr))
	}

	kind := sandbox.Classify(err)
	logger.Warn("environment fault, discarding session",
		zap.String("error_kind", kind),
		zap.Error(err))
	b.registry.discardLocked(context.WithoutCancel(ctx), s, ReasonFault)

	switch kind {
	case sandbox.KindTimeout:
		return sandbox.Failure(out.Stdout, sandbox.TimeoutMessage(timeout)), OutcomeTimeout
	case sandbox.KindCancelled:
		return sandbox.Failure(out.Stdout, "Execution cancelled"), OutcomeCancelled
	default:
		return sandbox.Failure(out.Stdout, fmt.Sprintf("Execution failed: %v", err)), OutcomeFault
	}
}

// Destroy tears down the workspace's session if it has one.
func (b *Broker) Destroy(ctx context.Context, workspaceID string) error {
	b.logger.Info("destroying session", zap.String("workspace_id", workspaceID))
	return b.registry.Remove(ctx, workspaceID)
}

// Health reports backend availability and session counts.
func (b *Broker) Health(ctx context.Context) Health {
	sessions := b.registry.Snapshot()
	degraded := 0
	for _, s := range sessions {
		if s.Degraded {
			degraded++
		}
	}

	available := b.registry.prov.Available(ctx)
	mode := ModeIsolated
	if !available {
		mode = ModeDegraded
	}

	return Health{
		Status:           "ok",
		SandboxAvailable: available,
		ActiveSessions:   len(sessions),
		DegradedSessions: degraded,
		Backend:          b.registry.prov.Name(),
		Mode:             mode,
	}
}

// Sessions lists the active sessions.
func (b *Broker) Sessions() []Info {
	return b.registry.Snapshot()
}
