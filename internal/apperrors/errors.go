// Package apperrors defines the sentinel errors shared by the stores, the
// orchestrator and the HTTP layer. Callers classify failures with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input that violates a domain constraint, such as a
	// coordinate outside the range the geo index accepts.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidArgument marks a malformed query argument (unknown distance
	// unit, negative radius).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a task or location id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrUpstream wraps failures of a backing store: unreachable, timed out or
	// returning an unexpected reply.
	ErrUpstream = errors.New("upstream failure")

	// ErrPublish marks a failed event publication. It is logged, never surfaced.
	ErrPublish = errors.New("publish failed")
)

// Wrap adds context to err. It returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Upstream tags err as a backing-store failure while keeping the original
// error in the chain.
func Upstream(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

// IsClientError reports whether err was caused by caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidArgument)
}
