/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Component packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Caller errors - Unauthenticated, invalid key, invalid amount
  2. Store errors - Not found, already exists, unavailable
  3. Audit errors - Event log writes that failed after a committed reward

NOT AN ERROR:
  "Already granted" is a successful no-op. It is reported through the
  boolean results (wasFirstOpen, wasFirstGrant, FirstTime), never as an
  error value.

USAGE:
  if errors.Is(err, generic.ErrStoreUnavailable) {
      // Transient. The whole logical call is safe to retry later.
  }

SEE ALSO:
  - store.go: Which primitive returns which sentinel
  - rewards/types.go: Where audit errors surface as warnings
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthenticated is returned when the caller has no resolvable user.
	// Nothing is written.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound is returned by Get, UpdateFields and Increment for a missing document.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by CreateIfAbsent and Append when the key is taken.
	// For state flips this is the expected outcome of every caller but one.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrStoreUnavailable marks transient I/O failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEventLogWrite marks a failed audit append. Never rolls back a reward.
	ErrEventLogWrite = errors.New("event log write failed")

	// ErrInvalidAmount is returned for negative XP credits.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidKey is returned for empty screen or achievement keys.
	ErrInvalidKey = errors.New("invalid key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StoreError wraps a backend failure with the operation and key.
// It matches both ErrStoreUnavailable and the underlying driver error.
type StoreError struct {
	Op  string
	Key DocKey
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable wraps err as a StoreError. Nil stays nil.
func Unavailable(op string, key DocKey, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

// AuditError describes a side effect that failed after the state flip
// was committed: an XP credit or an event log append.
type AuditError struct {
	UserID UserID
	Step   string // "credit" or "event"
	Cause  string // event type the side effect belonged to
	Amount int64
	Err    error
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("%s for %s (%s, %d) failed: %v", e.Step, e.UserID, e.Cause, e.Amount, e.Err)
}

func (e *AuditError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrUnauthenticated)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
