package orchestrator

import (
	"errors"
	"fmt"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// ErrSessionNotFound is returned when no checkpoint exists for a session ID.
var ErrSessionNotFound = blackboard.ErrNotFound

// CollaboratorError reports that an agent call failed. The step was not
// applied and the session stays resumable from its last checkpoint.
type CollaboratorError struct {
	Step blackboard.Step
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator for step %s failed: %v", e.Step, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// InvariantViolation reports a state the engine cannot route. It is fatal:
// the session is marked failed and never retried.
type InvariantViolation struct {
	SessionID string
	Reason    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in session %s: %s", e.SessionID, e.Reason)
}

// PersistenceError reports that the checkpoint store could not be read or written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsSessionNotFound returns true if err means the session does not exist.
func IsSessionNotFound(err error) bool {
	return blackboard.IsNotFound(err)
}

// IsCollaboratorError returns true if err wraps a CollaboratorError.
func IsCollaboratorError(err error) bool {
	var target *CollaboratorError
	return errors.As(err, &target)
}

// IsInvariantViolation returns true if err wraps an InvariantViolation.
func IsInvariantViolation(err error) bool {
	var target *InvariantViolation
	return errors.As(err, &target)
}

// IsPersistenceError returns true if err wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
