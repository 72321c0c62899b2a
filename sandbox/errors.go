package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error classes. Only ExecutionResult.Success=false plus error text ever reaches
// callers; these exist so internal faults can be logged and counted by kind.
var (
	ErrProvisioningFailed = errors.New("environment provisioning failed")
	ErrExecutionTimeout   = errors.New("execution timed out")
	ErrExecutionRuntime   = errors.New("executed code failed")
	ErrTeardown           = errors.New("environment teardown failed")
	ErrFallbackExecution  = errors.New("fallback execution failed")
	ErrEnvironmentBroken  = errors.New("environment is no longer usable")
)

// Error kinds as reported in logs and metrics.
const (
	KindNone         = "none"
	KindProvisioning = "provisioning"
	KindTimeout      = "timeout"
	KindCancelled    = "cancelled"
	KindRuntime      = "runtime"
	KindTeardown     = "teardown"
	KindFallback     = "fallback"
	KindBroken       = "broken"
	KindUnknown      = "unknown"
)

// Classify maps an error onto one of the Kind constants.
func Classify(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrProvisioningFailed):
		return KindProvisioning
	case errors.Is(err, ErrExecutionRuntime):
		return KindRuntime
	case errors.Is(err, ErrTeardown):
		return KindTeardown
	case errors.Is(err, ErrFallbackExecution):
		return KindFallback
	case errors.Is(err, ErrEnvironmentBroken):
		return KindBroken
	default:
		return KindUnknown
	}
}

// TimeoutMessage is the fixed error text reported when an execution exceeds its bound.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Execution timed out after %s", timeout)
}
