package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Supervisor starts the reaper and drains every session on shutdown.
type Supervisor struct {
	logger   *zap.Logger
	registry *Registry

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor creates a Supervisor for registry.
func NewSupervisor(logger *zap.Logger, registry *Registry) *Supervisor {
	return &Supervisor{
		logger:   logger.Named("supervisor"),
		registry: registry,
	}
}

// Start launches the idle reaper. Calling it again, or after Stop, does nothing.
func (s *Supervisor) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return nil
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	reaper := NewReaper(s.logger, s.registry)
	go func() {
		defer close(s.done)
		reaper.Run(ctx)
	}()
	return nil
}

// Stop halts the reaper and tears down every session before returning. It is
// safe without a prior Start and on repeated calls.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			s.logger.Warn("reaper did not stop in time", zap.Error(ctx.Err()))
		}
	}

	active := s.registry.Len()
	s.registry.drain(ctx)
	s.logger.Info("all sessions drained", zap.Int("sessions", active))
	return nil
}
