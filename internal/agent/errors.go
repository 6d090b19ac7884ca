// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
)

// ErrorCode is a string type used for structured error reporting in action results.
type ErrorCode string

const (
	ErrCodeUnknownAction      ErrorCode = "UNKNOWN_ACTION"
	ErrCodeInvalidParameters  ErrorCode = "INVALID_PARAMETERS"
	ErrCodeExecutionFailure   ErrorCode = "EXECUTION_FAILURE"
	ErrCodeCompletionRejected ErrorCode = "COMPLETION_REJECTED"
	ErrCodeQueryFailed        ErrorCode = "QUERY_FAILED"
)

// Reason names why a run ended.
type Reason string

const (
	ReasonCompleted           Reason = "completed"
	ReasonLoopDetected        Reason = "loop_detected"
	ReasonBudgetExceeded      Reason = "budget_exceeded"
	ReasonOracleFailure       Reason = "oracle_failure"
	ReasonIterationLimit      Reason = "iteration_limit"
	ReasonStopped             Reason = "stopped"
	ReasonCollaboratorFailure Reason = "collaborator_failure"
)

var (
	ErrStopped         = errors.New("run stopped")
	ErrOracleFailure   = errors.New("decision oracle failure")
	ErrLoopDetected    = errors.New("action loop detected")
	ErrIterationLimit  = errors.New("iteration limit reached")
	ErrAlreadyRunning  = errors.New("controller is already running a task")
	ErrEmptyTask       = errors.New("task must not be empty")
	ErrUnknownDecision = errors.New("decision names an action outside the catalog")
)

// RunError reports a run that ended without completing its task.
type RunError struct {
	Reason Reason
	Err    error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// actionError formats a failure string carrying an error code.
func actionError(code ErrorCode, format string, args ...interface{}) string {
	return fmt.Sprintf("%s: %s", code, fmt.Sprintf(format, args...))
}
