package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition covers both an illegal state change and an actor
// lacking the required capability; callers cannot distinguish the two and the
// record is left unchanged either way.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError rejects a malformed or disallowed submission before any
// record is created.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// RateLimitError means the actor is over quota. It is recoverable: the caller
// may retry once a pending request resolves or the window elapses.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration // zero when retry depends on pending requests resolving
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("pending change limit of %d reached, retry after %s", e.Limit, e.RetryAfter)
	}
	return fmt.Sprintf("pending change limit of %d reached", e.Limit)
}

// ApplyError wraps a failed entity mutation. The surrounding transaction
// rolls back, so the record keeps its pre-apply status and can be retried or
// denied.
type ApplyError struct {
	Op  string
	Err error
}

func (e *ApplyError) Error() string { return fmt.Sprintf("apply %s: %v", e.Op, e.Err) }
func (e *ApplyError) Unwrap() error { return e.Err }

// RevertReason classifies permanent revert failures.
type RevertReason string

const (
	RevertTargetGone      RevertReason = "target gone"
	RevertAlreadyReverted RevertReason = "already reverted"
)

// RevertError is non-retryable and surfaced to the moderator as a permanent
// failure for that specific revert attempt.
type RevertError struct {
	Reason RevertReason
}

func (e *RevertError) Error() string { return fmt.Sprintf("cannot revert: %s", e.Reason) }
