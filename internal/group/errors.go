package group

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds per the error taxonomy (spec §7). Callers use
// errors.Is for the fixed kinds and errors.As for ErrConflict to read the
// retry-after hint.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotMember       = errors.New("not a member")
	ErrNotInGroup      = errors.New("not in a group")
	ErrNotFound        = errors.New("group not found")
	ErrInfrastructure  = errors.New("infrastructure failure")
)

// ConflictError represents a transient, retryable mutation conflict —
// either the mutation lock was contended or the authoritative snapshot was
// stale at rehydrate time.
type ConflictError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s (retry after %s)", e.Reason, e.RetryAfter)
}

// Is allows errors.Is(err, ErrConflict) to match any *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ErrConflict is the sentinel matched by errors.Is against any *ConflictError.
var ErrConflict = errors.New("conflict")

// NewConflictError builds a ConflictError with the given reason and hint.
func NewConflictError(reason string, retryAfter time.Duration) *ConflictError {
	return &ConflictError{Reason: reason, RetryAfter: retryAfter}
}
