// Package fault defines the error kinds callers branch on. Every error that
// crosses a component boundary wraps exactly one of these sentinels, so
// retry-versus-reject decisions use errors.Is and never message text.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth: the token endpoint rejected the credential. Fatal until an
	// operator re-authorizes; never retried automatically.
	ErrAuth = errors.New("auth: credential rejected")
	// ErrUpstream: network failure, timeout or 5xx from upstream. Retryable.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrValidation: caller input is malformed or incomplete.
	ErrValidation = errors.New("validation")
	// ErrRejected: upstream answered 4xx to a well-formed call.
	ErrRejected = errors.New("upstream rejected request")
	// ErrConflict: upstream reported the resource already exists.
	ErrConflict = errors.New("upstream conflict")
)

// Validation builds an ErrValidation with a caller-facing message.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Upstream wraps cause as an ErrUpstream raised by op.
func Upstream(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrUpstream)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, cause)
}

// Auth wraps cause as an ErrAuth raised by op.
func Auth(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrAuth)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrAuth, cause)
}

// Rejected wraps an upstream 4xx answer.
func Rejected(op string, status int, body string) error {
	return fmt.Errorf("%s: %w: status %d: %s", op, ErrRejected, status, body)
}

// Conflict wraps an upstream 409 answer.
func Conflict(op string) error {
	return fmt.Errorf("%s: %w", op, ErrConflict)
}

// Retryable reports whether err is worth queueing for a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstream)
}
