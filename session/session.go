package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/isdmx/sandboxd/sandbox"
)

// Session is the registry record for one workspace.
type Session struct {
	workspaceID string
	createdAt   time.Time
	lastUsed    atomic.Int64
	degraded    atomic.Bool

	// lock is a single-slot semaphore so waiters can give up with their context.
	lock chan struct{}

	// Guarded by lock.
	env     sandbox.Environment
	closed  bool
	counted bool // reported to the Recorder as created
}

// Info is a point-in-time view of a session.
type Info struct {
	WorkspaceID string    `json:"workspace_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
	Degraded    bool      `json:"degraded"`
}

func newSession(workspaceID string, now time.Time) *Session {
	s := &Session{
		workspaceID: workspaceID,
		createdAt:   now.UTC(),
		lock:        make(chan struct{}, 1),
	}
	s.touch(now)
	return s
}

// WorkspaceID returns the workspace the session belongs to.
func (s *Session) WorkspaceID() string {
	return s.workspaceID
}

// Degraded reports whether the session runs on the fallback path.
func (s *Session) Degraded() bool {
	return s.degraded.Load()
}

func (s *Session) mode() string {
	if s.Degraded() {
		return ModeDegraded
	}
	return ModeIsolated
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) tryAcquire() bool {
	select {
	case s.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) release() {
	<-s.lock
}

func (s *Session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

// lastUsedAt is reported in UTC, like createdAt.
func (s *Session) lastUsedAt() time.Time {
	return time.Unix(0, s.lastUsed.Load()).UTC()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.lastUsedAt())
}

func (s *Session) info() Info {
	return Info{
		WorkspaceID: s.workspaceID,
		CreatedAt:   s.createdAt,
		LastUsed:    s.lastUsedAt(),
		Degraded:    s.Degraded(),
	}
}
