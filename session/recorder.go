package session

import "time"

// Session modes.
const (
	ModeIsolated = "isolated"
	ModeDegraded = "degraded"
)

// Reasons a session is closed.
const (
	ReasonIdle      = "idle"
	ReasonDestroyed = "destroyed"
	ReasonFault     = "fault"
	ReasonShutdown  = "shutdown"
)

// Execution outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeFault     = "fault"
)

// Recorder observes session and execution events. Implementations must be
// safe for concurrent use.
type Recorder interface {
	SessionCreated(mode string)
	SessionClosed(reason string)
	ExecutionFinished(mode, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SessionCreated(string)                           {}
func (nopRecorder) SessionClosed(string)                            {}
func (nopRecorder) ExecutionFinished(string, string, time.Duration) {}
