package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine. Callers match them with
// errors.Is; the typed errors below unwrap to them.
var (
	// ErrDataInsufficient means a snapshot lacks the volume to decide on.
	// It is a soft condition: the result is simply absent.
	ErrDataInsufficient = errors.New("insufficient data")
	// ErrConfiguration means configuration is malformed or out of range.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrStateConflict means a transition is not allowed from the current state.
	ErrStateConflict = errors.New("state conflict")
	// ErrPersistence means storage failed; the operation did not happen.
	ErrPersistence = errors.New("persistence unavailable")
	// ErrEvaluatorDataGap means post-change data is not available yet.
	ErrEvaluatorDataGap = errors.New("evaluator data gap")
	ErrNotFound         = errors.New("not found")
	// ErrInvalidInput means an operator request is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// StateConflictError describes a forbidden transition.
type StateConflictError struct {
	Subject string
	Current string
	Action  string
	Reason  string
}

func (e *StateConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s %s in state %s: %s", e.Action, e.Subject, e.Current, e.Reason)
	}
	return fmt.Sprintf("cannot %s %s in state %s", e.Action, e.Subject, e.Current)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// Conflict builds a StateConflictError.
func Conflict(action, subject, current, reason string) error {
	return &StateConflictError{Action: action, Subject: subject, Current: current, Reason: reason}
}

// PersistenceError wraps a storage failure during op.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persistence wraps err as a PersistenceError, passing nil, not-found and
// conflicts through unchanged.
func Persistence(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStateConflict) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
