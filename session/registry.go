package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/sandbox"
)

// ErrRegistryClosed is returned once the registry has been drained.
var ErrRegistryClosed = errors.New("session registry is shut down")

// Registry owns the workspace to session mapping.
type Registry struct {
	logger   *zap.Logger
	prov     sandbox.Provisioner
	recorder Recorder
	config   Config
	now      func() time.Time

	// lifetime is cancelled by drain; provisioning and runs derive from it.
	lifetime context.Context
	stop     context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option defines a functional option for Registry
type Option func(*Registry)

// WithClock replaces the wall clock used for idle accounting
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty Registry. A nil recorder discards events.
func NewRegistry(logger *zap.Logger, prov sandbox.Provisioner, recorder Recorder, config Config, opts ...Option) *Registry {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	lifetime, stop := context.WithCancel(context.Background())
	r := &Registry{
		logger:   logger.Named("registry"),
		prov:     prov,
		recorder: recorder,
		config:   config,
		now:      time.Now,
		lifetime: lifetime,
		stop:     stop,
		sessions: make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// GetOrCreate returns the session for workspaceID, creating and provisioning
// it when none exists. Concurrent first calls for the same id provision once:
// latecomers block on the new session's lock until provisioning completes.
// Provisioning failures never surface here; the session is marked degraded.
func (r *Registry) GetOrCreate(ctx context.Context, workspaceID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if s, ok := r.sessions[workspaceID]; ok {
		s.touch(r.now())
		r.mu.Unlock()
		return s, nil
	}
	s := newSession(workspaceID, r.now())
	s.lock <- struct{}{}
	r.sessions[workspaceID] = s
	r.mu.Unlock()

	r.provision(ctx, s)
	s.touch(r.now())
	s.release()
	return s, nil
}

// provision runs with s locked and the registry unlocked.
func (r *Registry) provision(ctx context.Context, s *Session) {
	logger := r.logger.With(zap.String("workspace_id", s.workspaceID), zap.String("backend", r.prov.Name()))

	if !r.prov.Available(ctx) {
		s.degraded.Store(true)
		r.created(s, ModeDegraded)
		logger.Warn("isolation unavailable, session will use the unisolated fallback")
		return
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(r.lifetime, r.config.ProvisionTimeout)
	env, err := r.prov.Provision(pctx, s.workspaceID)
	cancel()
	if err != nil {
		s.degraded.Store(true)
		if r.lifetime.Err() != nil {
			logger.Info("environment provisioning aborted by shutdown", zap.Error(err))
			return
		}
		r.created(s, ModeDegraded)
		logger.Error("environment provisioning failed, session will use the unisolated fallback",
			zap.String("error_kind", sandbox.Classify(err)),
			zap.Error(err))
		return
	}
	logger.Info("environment provisioned", zap.Duration("duration", time.Since(start)))

	r.warmUp(logger, env)
	s.env = env
	r.created(s, ModeIsolated)
}

// created reports s to the recorder. The caller holds s's lock.
func (r *Registry) created(s *Session, mode string) {
	s.counted = true
	r.recorder.SessionCreated(mode)
}

// Remove tears down the session for workspaceID, waiting for any in-flight
// work on it first. Removing an unknown id is a no-op. The only error is ctx
// ending while waiting.
func (r *Registry) Remove(ctx context.Context, workspaceID string) error {
	r.mu.Lock()
	s, ok := r.sessions[workspaceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	r.discardLocked(ctx, s, ReasonDestroyed)
	return nil
}

// discardLocked unregisters and closes s. The caller holds s's lock.
func (r *Registry) discardLocked(ctx context.Context, s *Session, reason string) {
	if s.closed {
		return
	}
	s.closed = true

	r.mu.Lock()
	if cur, ok := r.sessions[s.workspaceID]; ok && cur == s {
		delete(r.sessions, s.workspaceID)
	}
	r.mu.Unlock()

	logger := r.logger.With(zap.String("workspace_id", s.workspaceID), zap.String("reason", reason))
	if s.env != nil {
		if err := s.env.Close(ctx); err != nil {
			logger.Warn("environment teardown failed",
				zap.String("error_kind", sandbox.Classify(err)),
				zap.Error(err))
		}
		s.env = nil
	}
	if s.counted {
		r.recorder.SessionClosed(reason)
	}
	logger.Info("session closed")
}

// evictIdle removes sessions idle longer than the configured threshold and
// returns how many it removed. Busy sessions are skipped.
func (r *Registry) evictIdle(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var candidates []*Session
	for _, s := range r.sessions {
		if s.idleFor(now) > r.config.IdleTimeout {
			candidates = append(candidates, s)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, s := range candidates {
		if !s.tryAcquire() {
			continue
		}
		if !s.closed && s.idleFor(r.now()) > r.config.IdleTimeout {
			r.discardLocked(ctx, s, ReasonIdle)
			evicted++
		}
		s.release()
	}
	return evicted
}

// drain closes the registry to new sessions, aborts in-flight work, and
// tears every session down in turn.
func (r *Registry) drain(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	r.stop()

	for _, s := range sessions {
		if err := s.acquire(ctx); err != nil {
			r.logger.Error("abandoning busy session during shutdown",
				zap.String("workspace_id", s.workspaceID),
				zap.Error(err))
			continue
		}
		r.discardLocked(ctx, s, ReasonShutdown)
		s.release()
	}
}

// runContext bounds one execution by timeout, ctx, and the registry lifetime.
func (r *Registry) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	stop := context.AfterFunc(r.lifetime, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Snapshot lists the registered sessions ordered by workspace id.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.info())
	}
	r.mu.Unlock()

	slices.SortFunc(infos, func(a, b Info) int {
		return strings.Compare(a.WorkspaceID, b.WorkspaceID)
	})
	return infos
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
