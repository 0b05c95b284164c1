package session

import (
	"errors"
	"fmt"
)

// Common errors returned by session operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, session.ErrNoStudents) {
//	    // nothing to save
//	}
var (
	// ErrNoStudents is returned when the filtered student snapshot is empty.
	ErrNoStudents = errors.New("no students to save")

	// ErrNoDetails is returned when a session has no details and none can
	// be built from its class context.
	ErrNoDetails = errors.New("session details are required")

	// ErrNoOwner is returned when a mutation needs an owner identity and
	// none is available.
	ErrNoOwner = errors.New("no owner identity")

	// ErrNotFound marks a lookup of an unknown session id. Lookups return a
	// nil session rather than this error; it exists for callers such as the
	// CLI that need to report the condition.
	ErrNotFound = errors.New("session not found")
)

// ValidationError rejects a save before anything is written.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError reports a local store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RemoteSyncError reports a failure talking to the remote service.
// SessionID is empty for owner-wide operations.
type RemoteSyncError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *RemoteSyncError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *RemoteSyncError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is likely to succeed on a later
// call: local store failures (the store reopens on demand) and remote
// failures (the next sweep retries).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StorageError
	var re *RemoteSyncError
	return errors.As(err, &se) || errors.As(err, &re)
}

// IsValidation returns true if err rejects the input itself.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
