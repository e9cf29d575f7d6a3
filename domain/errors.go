package domain

import (
	"errors"
)

// Error taxonomy for the session core. Recoverable errors are reported only
// to the originating connection; upstream and storage failures are surfaced
// session-wide and leave state unchanged.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrAlreadyCompleted  = errors.New("session already completed")
	ErrMalformedCommand  = errors.New("malformed command")
	ErrCommandBlocked    = errors.New("command batch blocked by policy")
	ErrUpstreamTimeout   = errors.New("upstream call timed out")
	ErrUpstreamFailure   = errors.New("upstream call failed")
	ErrStorageFailure    = errors.New("storage unavailable")
)

// IsRecoverable reports whether an error should be delivered only to the
// originating connection rather than to the whole session.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrMalformedCommand) ||
		errors.Is(err, ErrCommandBlocked)
}
