package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session store and history manager.
var (
	// ErrSessionNotFound indicates no context exists for the session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy indicates another turn holds the session's lease.
	ErrSessionBusy = errors.New("session busy")

	// ErrLeaseExpired indicates a Put was attempted with a lease that has
	// already been reclaimed.
	ErrLeaseExpired = errors.New("session lease expired")

	// ErrSessionClosed indicates the session is completed or abandoned and
	// accepts no further turns.
	ErrSessionClosed = errors.New("session closed")
)

// IntegrityError reports a defect in the engine or a step graph: an unknown
// step id, a graph violation, or a result breaking the mode-exclusivity
// invariant. These are never recoverable per-turn errors; they abort the
// turn before any state is persisted.
type IntegrityError struct {
	Op       string
	Modality Modality
	Step     StepID
	Detail   string
}

func (e *IntegrityError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("integrity violation in %s (modality=%s step=%s): %s", e.Op, e.Modality, e.Step, e.Detail)
	}
	return fmt.Sprintf("integrity violation in %s: %s", e.Op, e.Detail)
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// StoreError wraps a transient infrastructure failure from the session
// store. Callers apply their own retry/backoff; the engine never retries
// infrastructure failures itself.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an infrastructure failure the caller
// may retry.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
