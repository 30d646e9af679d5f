package task

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-facing validation failures. These never cause
// task mutation and never append an event.
var (
	ErrNotFound            = errors.New("not found")
	ErrCircularDependency  = errors.New("circular dependency")
	ErrDuplicateDependency = errors.New("duplicate dependency")
	ErrStatusConflict      = errors.New("status changed concurrently")
)

// InvalidTransitionError reports a status change that is not in the
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// InvalidStateError reports an operation that is not permitted in the task's
// current status (e.g., clarify on a task that is not needs_clarification).
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not permitted in status %q", e.Op, e.Status)
}

// MissingFieldError reports a dependency spec missing a variant-required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// CollaboratorError wraps a failure from an external collaborator (analyzer,
// issue creation). The task is moved to failed with the original message
// before this error is returned to the caller.
type CollaboratorError struct {
	Op  string // "analyze", "create_issue"
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
