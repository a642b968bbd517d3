package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrExecution         = errors.New("execution failed")
	ErrConnection        = errors.New("connection unavailable")
	ErrTimeout           = errors.New("timed out")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNoOpportunity     = errors.New("no qualifying opportunity")
)

// StateError carries the agent status that rejected an operation.
// errors.Is(err, ErrInvalidState) holds for every StateError.
type StateError struct {
	AgentID string
	Op      string
	Status  AgentStatus
	Active  bool
}

func (e *StateError) Error() string {
	return fmt.Sprintf("agent %s: %s not allowed (status=%s active=%t)", e.AgentID, e.Op, e.Status, e.Active)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// NotFoundf wraps ErrNotFound with a formatted subject.
func NotFoundf(format string, a ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, a...), ErrNotFound)
}

// ExecutionFailed wraps a submission failure so callers can match ErrExecution.
func ExecutionFailed(cause error) error {
	if cause == nil {
		return ErrExecution
	}
	if errors.Is(cause, ErrExecution) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrExecution, cause)
}
